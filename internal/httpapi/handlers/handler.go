package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/gopherchat/internal/chat"
	"github.com/suPer8Hu/gopherchat/internal/common"
	"github.com/suPer8Hu/gopherchat/internal/config"
	"github.com/suPer8Hu/gopherchat/internal/directory"
	"github.com/suPer8Hu/gopherchat/internal/realtime"
	"gorm.io/gorm"
)

type Handler struct {
	DB        *gorm.DB
	Cfg       config.Config
	Directory *directory.Service
	ChatSvc   *chat.Service

	Router     *realtime.Router
	Dispatcher *realtime.Dispatcher
}

func NewHandler(db *gorm.DB, cfg config.Config, dir *directory.Service, router *realtime.Router) *Handler {
	repo := chat.NewRepo(db)
	chatSvc := chat.NewService(repo, dir, cfg.HistoryPageSize)
	return &Handler{
		DB:         db,
		Cfg:        cfg,
		Directory:  dir,
		ChatSvc:    chatSvc,
		Router:     router,
		Dispatcher: realtime.NewDispatcher(router, realtime.NewTypingState(), chatSvc),
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"status": "ok"})
}
