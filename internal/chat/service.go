package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/suPer8Hu/gopherchat/internal/models"
	"gorm.io/gorm"
)

const maxContentLen = 1000

// UserFinder is the directory lookup the service needs to validate
// receivers and expand message payloads. Implemented by directory.Service.
type UserFinder interface {
	FindByID(ctx context.Context, id uint64) (*models.User, error)
}

// Service is the single shared entry point for message mutations; both the
// HTTP handlers and the live event dispatcher funnel through it so the two
// paths cannot diverge on registry or store invariants.
type Service struct {
	repo     *Repo
	users    UserFinder
	pageSize int
}

func NewService(repo *Repo, users UserFinder, pageSize int) *Service {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 50
	}
	return &Service{repo: repo, users: users, pageSize: pageSize}
}

func (s *Service) lookupUser(ctx context.Context, id uint64) (*models.User, error) {
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return u, nil
}

// Send validates, resolves the pair's conversation, appends the message and
// returns it with both participants expanded. Nothing is persisted when
// validation fails.
func (s *Service) Send(ctx context.Context, senderID, receiverID uint64, content string) (*MessageView, error) {
	if senderID == receiverID {
		return nil, ErrSelfConversation
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > maxContentLen {
		return nil, ErrContentTooLong
	}

	sender, err := s.lookupUser(ctx, senderID)
	if err != nil {
		return nil, err
	}
	receiver, err := s.lookupUser(ctx, receiverID)
	if err != nil {
		return nil, err
	}

	conv, err := s.repo.ResolveOrCreateConversation(ctx, senderID, receiverID)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		ConversationID: conv.ID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Content:        content,
		Timestamp:      time.Now(),
	}
	if err := s.repo.AppendMessage(ctx, msg); err != nil {
		return nil, err
	}

	view := newView(msg, sender.Profile(), receiver.Profile())
	return &view, nil
}

// History returns one chronological page of the pair's messages. Fetching
// history is the read-receipt trigger: every unread message from other to
// user is marked read as a documented side effect of this call.
func (s *Service) History(ctx context.Context, userID, otherID uint64, page, pageSize int) ([]MessageView, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = s.pageSize
	}

	user, err := s.lookupUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	other, err := s.lookupUser(ctx, otherID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.repo.ListMessagesPage(ctx, userID, otherID, page, pageSize)
	if err != nil {
		return nil, err
	}

	if _, err := s.repo.MarkRead(ctx, userID, otherID); err != nil {
		return nil, err
	}

	profiles := map[uint64]models.Profile{
		user.ID:  user.Profile(),
		other.ID: other.Profile(),
	}

	// Query order is newest-first; reverse the page to oldest-first.
	views := make([]MessageView, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		views = append(views, newView(&m, profiles[m.SenderID], profiles[m.ReceiverID]))
	}
	return views, nil
}

// MarkConversationRead applies the same read transition as History without
// fetching any messages.
func (s *Service) MarkConversationRead(ctx context.Context, userID, otherID uint64) (int64, error) {
	return s.repo.MarkRead(ctx, userID, otherID)
}

func (s *Service) UnreadCount(ctx context.Context, userID uint64) (int64, error) {
	return s.repo.CountUnread(ctx, userID)
}

// RecentConversations lists the user's conversations with a last message,
// most recently active first, each with the counterpart's directory view
// and the unread count scoped to that conversation.
func (s *Service) RecentConversations(ctx context.Context, userID uint64) ([]RecentConversation, error) {
	convs, err := s.repo.ListRecentConversations(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]RecentConversation, 0, len(convs))
	for _, conv := range convs {
		other, err := s.lookupUser(ctx, conv.Counterpart(userID))
		if err != nil {
			return nil, err
		}
		last, err := s.repo.GetMessageByID(ctx, *conv.LastMessageID)
		if err != nil {
			return nil, err
		}
		unread, err := s.repo.CountUnreadInConversation(ctx, conv.ID, userID)
		if err != nil {
			return nil, err
		}
		out = append(out, RecentConversation{
			User: CounterpartView{
				Profile:  other.Profile(),
				IsOnline: other.IsOnline,
				LastSeen: other.LastSeen,
			},
			LastMessage: *last,
			UnreadCount: unread,
		})
	}
	return out, nil
}

func newView(m *Message, sender, receiver models.Profile) MessageView {
	return MessageView{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         sender,
		Receiver:       receiver,
		Content:        m.Content,
		Timestamp:      m.Timestamp,
		IsRead:         m.IsRead,
		ReadAt:         m.ReadAt,
	}
}
