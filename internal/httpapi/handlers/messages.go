package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/common"
)

// GetMessages returns one chronological page of history with the given
// user. Fetching history marks that user's messages to the caller as read;
// clients rely on this as the read-receipt trigger.
func (h *Handler) GetMessages(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	otherID, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10005, "invalid user id")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	msgs, err := h.ChatSvc.History(c.Request.Context(), uid, otherID, page, limit)
	if err != nil {
		if errors.Is(err, chat.ErrUserNotFound) {
			common.Fail(c, http.StatusNotFound, 40401, "user not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to load messages")
		return
	}

	common.OK(c, msgs)
}

type sendMessageReq struct {
	ReceiverID uint64 `json:"receiver_id" binding:"required"`
	Content    string `json:"content" binding:"required"`
}

func (h *Handler) SendMessage(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "receiver_id and content required")
		return
	}

	view, err := h.ChatSvc.Send(c.Request.Context(), uid, req.ReceiverID, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrUserNotFound):
			common.Fail(c, http.StatusNotFound, 40402, "receiver not found")
		case errors.Is(err, chat.ErrSelfConversation),
			errors.Is(err, chat.ErrEmptyContent),
			errors.Is(err, chat.ErrContentTooLong):
			common.Fail(c, http.StatusBadRequest, 10006, err.Error())
		default:
			common.Fail(c, http.StatusInternalServerError, 50001, "failed to send message")
		}
		return
	}

	// The HTTP path shares delivery with the live channel: recipients with
	// open sessions see the message without polling.
	h.Dispatcher.Deliver(view)

	common.OK(c, view)
}

func (h *Handler) UnreadCount(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	n, err := h.ChatSvc.UnreadCount(c.Request.Context(), uid)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to count unread")
		return
	}

	common.OK(c, gin.H{"unread_count": n})
}

func (h *Handler) MarkRead(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	otherID, err := strconv.ParseUint(c.Param("user_id"), 10, 64)
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10005, "invalid user id")
		return
	}

	updated, err := h.ChatSvc.MarkConversationRead(c.Request.Context(), uid, otherID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50004, "failed to mark messages read")
		return
	}

	common.OK(c, gin.H{"updated": updated})
}

func (h *Handler) RecentConversations(c *gin.Context) {
	uid, ok := userIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	convs, err := h.ChatSvc.RecentConversations(c.Request.Context(), uid)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50005, "failed to load conversations")
		return
	}

	common.OK(c, convs)
}
