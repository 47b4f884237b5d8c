package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/suPer8Hu/gopherchat/internal/chat"
)

// Inbound event names.
const (
	EventSendMessage = "send-message"
	EventTyping      = "typing"
	EventStopTyping  = "stop-typing"
)

// Outbound event names.
const (
	EventNewMessage  = "new-message"
	EventMessageSent = "message-sent"
	EventError       = "error"
)

type inboundFrame struct {
	Type       string `json:"type"`
	ReceiverID uint64 `json:"receiver_id"`
	Content    string `json:"content,omitempty"`
	IsTyping   bool   `json:"is_typing,omitempty"`
}

type messageFrame struct {
	Type    string            `json:"type"`
	Message *chat.MessageView `json:"message"`
}

type typingFrame struct {
	Type     string `json:"type"`
	SenderID uint64 `json:"sender_id"`
	IsTyping bool   `json:"is_typing"`
}

type errorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// MessageSender is the slice of chat.Service the dispatcher needs.
type MessageSender interface {
	Send(ctx context.Context, senderID, receiverID uint64, content string) (*chat.MessageView, error)
}

// Dispatcher is the live-event state machine. Each connection's read loop
// calls HandleFrame one frame at a time, so a single session never
// interleaves its own mutations; unrelated connections proceed
// independently. Emission strictly follows the store write: a failed append
// produces only an error frame to the originating session.
type Dispatcher struct {
	router *Router
	typing *TypingState
	svc    MessageSender
}

func NewDispatcher(router *Router, typing *TypingState, svc MessageSender) *Dispatcher {
	return &Dispatcher{router: router, typing: typing, svc: svc}
}

func (d *Dispatcher) HandleFrame(ctx context.Context, sess Session, data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		d.replyError(sess, "invalid payload")
		return
	}

	switch frame.Type {
	case EventSendMessage:
		d.handleSend(ctx, sess, frame)
	case EventTyping:
		d.handleTyping(sess, frame.ReceiverID, frame.IsTyping)
	case EventStopTyping:
		d.handleStopTyping(sess, frame.ReceiverID)
	default:
		d.replyError(sess, "unknown event type")
	}
}

// HandleDisconnect tears down the session's presence and, when it was the
// user's last session, any typing state the user was the subject of.
func (d *Dispatcher) HandleDisconnect(ctx context.Context, sess Session) {
	if last := d.router.Unregister(ctx, sess); last {
		d.typing.ClearFrom(sess.UserID())
	}
}

func (d *Dispatcher) handleSend(ctx context.Context, sess Session, frame inboundFrame) {
	view, err := d.svc.Send(ctx, sess.UserID(), frame.ReceiverID, frame.Content)
	if err != nil {
		d.replyError(sess, sendErrorMessage(err))
		return
	}

	d.Deliver(view)

	ack, err := json.Marshal(messageFrame{Type: EventMessageSent, Message: view})
	if err != nil {
		log.Printf("realtime: encode ack user=%d err=%v", sess.UserID(), err)
		return
	}
	_ = sess.Send(ack)
}

// Deliver fans an already-persisted message out to every live session of
// the recipient. Zero deliveries means the recipient is offline; the
// message is durable and surfaces on their next history fetch. The HTTP
// send path calls this too; there the HTTP response is the acknowledgment.
func (d *Dispatcher) Deliver(view *chat.MessageView) int {
	payload, err := json.Marshal(messageFrame{Type: EventNewMessage, Message: view})
	if err != nil {
		log.Printf("realtime: encode message id=%d err=%v", view.ID, err)
		return 0
	}
	return d.router.NotifyUser(view.Receiver.ID, payload)
}

func (d *Dispatcher) handleTyping(sess Session, receiverID uint64, isTyping bool) {
	if receiverID == 0 || receiverID == sess.UserID() {
		return
	}
	d.typing.Set(sess.UserID(), receiverID, isTyping)

	payload, err := json.Marshal(typingFrame{Type: EventTyping, SenderID: sess.UserID(), IsTyping: isTyping})
	if err != nil {
		return
	}
	d.router.NotifyUser(receiverID, payload)
}

func (d *Dispatcher) handleStopTyping(sess Session, receiverID uint64) {
	if receiverID == 0 || receiverID == sess.UserID() {
		return
	}
	d.typing.Set(sess.UserID(), receiverID, false)

	payload, err := json.Marshal(typingFrame{Type: EventStopTyping, SenderID: sess.UserID()})
	if err != nil {
		return
	}
	d.router.NotifyUser(receiverID, payload)
}

func (d *Dispatcher) replyError(sess Session, msg string) {
	payload, err := json.Marshal(errorFrame{Type: EventError, Message: msg})
	if err != nil {
		return
	}
	_ = sess.Send(payload)
}

func sendErrorMessage(err error) string {
	switch {
	case errors.Is(err, chat.ErrSelfConversation),
		errors.Is(err, chat.ErrEmptyContent),
		errors.Is(err, chat.ErrContentTooLong),
		errors.Is(err, chat.ErrUserNotFound):
		return err.Error()
	default:
		return "failed to send message"
	}
}
