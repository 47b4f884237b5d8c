package chat

import (
	"context"
	"errors"
	"time"

	"github.com/suPer8Hu/gopherchat/internal/common"
	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// FindConversationBetween is the pure read variant: it never creates.
func (r *Repo) FindConversationBetween(ctx context.Context, userA, userB uint64) (*Conversation, error) {
	lo, hi := NormalizePair(userA, userB)
	var conv Conversation
	if err := r.db.WithContext(ctx).
		Where("user_lo = ? AND user_hi = ?", lo, hi).
		First(&conv).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

// ResolveOrCreateConversation returns the one conversation for the pair,
// creating it on first contact. A lost creation race falls back to the
// lookup, so concurrent first-time calls from both directions still yield
// a single record.
func (r *Repo) ResolveOrCreateConversation(ctx context.Context, userA, userB uint64) (*Conversation, error) {
	conv, err := r.FindConversationBetween(ctx, userA, userB)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	lo, hi := NormalizePair(userA, userB)
	created := &Conversation{ID: id, UserLo: lo, UserHi: hi}

	createErr := r.db.WithContext(ctx).Create(created).Error
	if createErr == nil {
		return created, nil
	}

	// Unique index conflict: someone else created it first.
	existing, findErr := r.FindConversationBetween(ctx, userA, userB)
	if findErr == nil {
		return existing, nil
	}
	if errors.Is(findErr, gorm.ErrRecordNotFound) {
		return nil, createErr
	}
	return nil, findErr
}

func (r *Repo) GetConversationByID(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	if err := r.db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

// AppendMessage persists the message and refreshes the owning conversation's
// last-message summary in the same transaction. The summary only moves
// forward: an append carrying a timestamp at or before the current
// last_message_at leaves it untouched.
func (r *Repo) AppendMessage(ctx context.Context, m *Message) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		return tx.Model(&Conversation{}).
			Where("id = ? AND (last_message_at IS NULL OR last_message_at < ?)",
				m.ConversationID, m.Timestamp).
			Updates(map[string]any{
				"last_message_id": m.ID,
				"last_message_at": m.Timestamp,
			}).Error
	})
}

func (r *Repo) GetMessageByID(ctx context.Context, id uint64) (*Message, error) {
	var m Message
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// MarkRead flips every unread message from counterpart to reader. Only the
// reader's own inbound messages are touched, and a second call with nothing
// newly arrived updates zero rows.
func (r *Repo) MarkRead(ctx context.Context, reader, counterpart uint64) (int64, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&Message{}).
		Where("receiver_id = ? AND sender_id = ? AND is_read = ?", reader, counterpart, false).
		Updates(map[string]any{
			"is_read": true,
			"read_at": now,
		})
	return res.RowsAffected, res.Error
}

func (r *Repo) CountUnread(ctx context.Context, userID uint64) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Message{}).
		Where("receiver_id = ? AND is_read = ?", userID, false).
		Count(&n).Error
	return n, err
}

func (r *Repo) CountUnreadInConversation(ctx context.Context, conversationID string, userID uint64) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Message{}).
		Where("conversation_id = ? AND receiver_id = ? AND is_read = ?", conversationID, userID, false).
		Count(&n).Error
	return n, err
}

// ListMessagesPage returns one page of the pair's messages, newest first.
// Page 1 is the most recent page; the caller reverses to chronological
// order before handing the slice out.
func (r *Repo) ListMessagesPage(ctx context.Context, userA, userB uint64, page, pageSize int) ([]Message, error) {
	var msgs []Message
	err := r.db.WithContext(ctx).
		Where("(sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)",
			userA, userB, userB, userA).
		Order("timestamp DESC, id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&msgs).Error
	return msgs, err
}

// ListRecentConversations returns the user's conversations that have at
// least one message, most recently active first. Registry entries without
// messages are excluded.
func (r *Repo) ListRecentConversations(ctx context.Context, userID uint64) ([]Conversation, error) {
	var convs []Conversation
	err := r.db.WithContext(ctx).
		Where("(user_lo = ? OR user_hi = ?) AND last_message_id IS NOT NULL", userID, userID).
		Order("last_message_at DESC").
		Find(&convs).Error
	return convs, err
}
