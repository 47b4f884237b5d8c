package chat

import "errors"

var (
	ErrSelfConversation = errors.New("cannot start a conversation with yourself")
	ErrEmptyContent     = errors.New("message content is empty")
	ErrContentTooLong   = errors.New("message content exceeds 1000 characters")
	ErrUserNotFound     = errors.New("user not found")
)
