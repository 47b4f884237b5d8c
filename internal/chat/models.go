package chat

import (
	"time"

	"github.com/suPer8Hu/gopherchat/internal/models"
)

// Conversation binds an unordered user pair to exactly one record. The pair
// is stored normalized (UserLo < UserHi) so the unique index covers both
// directions of first contact.
type Conversation struct {
	ID     string `gorm:"primaryKey;size:26" json:"id"` // ULID
	UserLo uint64 `gorm:"not null;index:uniq_conv_pair,unique,priority:1" json:"-"`
	UserHi uint64 `gorm:"not null;index:uniq_conv_pair,unique,priority:2" json:"-"`

	LastMessageID *uint64    `gorm:"index" json:"last_message_id"`
	LastMessageAt *time.Time `gorm:"index" json:"last_message_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Conversation) TableName() string { return "conversations" }

// Counterpart returns the participant that is not the given user.
func (c *Conversation) Counterpart(userID uint64) uint64 {
	if c.UserLo == userID {
		return c.UserHi
	}
	return c.UserLo
}

// NormalizePair orders two user ids so {A,B} and {B,A} map to the same key.
func NormalizePair(a, b uint64) (lo, hi uint64) {
	if a < b {
		return a, b
	}
	return b, a
}

// Message is append-only except for the read-state pair, which transitions
// false->true exactly once.
type Message struct {
	ID             uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	ConversationID string `gorm:"size:26;not null;index" json:"conversation_id"`
	SenderID       uint64 `gorm:"not null;index" json:"sender_id"`
	ReceiverID     uint64 `gorm:"not null;index:idx_msg_receiver_read,priority:1" json:"receiver_id"`
	Content        string `gorm:"type:text;not null" json:"content"`

	// Timestamp is the sole ordering key within a conversation; the
	// autoincrement id breaks ties.
	Timestamp time.Time  `gorm:"not null;index" json:"timestamp"`
	IsRead    bool       `gorm:"not null;default:false;index:idx_msg_receiver_read,priority:2" json:"is_read"`
	ReadAt    *time.Time `json:"read_at"`
}

func (Message) TableName() string { return "messages" }

// MessageView is the canonical message payload with sender and receiver
// expanded to minimal profiles. The live channel and the HTTP surface both
// emit this shape so every session observes an identical record.
type MessageView struct {
	ID             uint64         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Sender         models.Profile `json:"sender"`
	Receiver       models.Profile `json:"receiver"`
	Content        string         `json:"content"`
	Timestamp      time.Time      `json:"timestamp"`
	IsRead         bool           `json:"is_read"`
	ReadAt         *time.Time     `json:"read_at,omitempty"`
}

// CounterpartView carries the directory fields the conversation list shows.
type CounterpartView struct {
	models.Profile
	IsOnline bool       `json:"is_online"`
	LastSeen *time.Time `json:"last_seen"`
}

type RecentConversation struct {
	User        CounterpartView `json:"user"`
	LastMessage Message         `json:"last_message"`
	UnreadCount int64           `json:"unread_count"`
}
