package httpapi

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/gopherchat/internal/common"
	"github.com/suPer8Hu/gopherchat/internal/config"
	"github.com/suPer8Hu/gopherchat/internal/directory"
	"github.com/suPer8Hu/gopherchat/internal/httpapi/handlers"
	"github.com/suPer8Hu/gopherchat/internal/httpapi/middleware"
	"github.com/suPer8Hu/gopherchat/internal/realtime"
	"gorm.io/gorm"
)

func NewRouter(db *gorm.DB, cfg config.Config, dir *directory.Service, router *realtime.Router) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.ClientOrigin},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders:     []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		AllowCredentials: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(db, cfg, dir, router)

	r.GET("/ping", h.Ping)

	r.POST("/users", h.CreateUser)
	r.POST("/login", h.Login)

	// Live channel: the credential travels in the handshake query, not a
	// header, so this stays outside the auth group.
	r.GET("/ws", h.ServeWS)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.GET("/me", h.Me)
	authGroup.GET("/users", h.ListUsers)
	authGroup.GET("/users/:id", h.GetUserByID)

	authGroup.GET("/messages/unread/count", h.UnreadCount)
	authGroup.GET("/messages/:user_id", h.GetMessages)
	authGroup.POST("/messages", h.SendMessage)
	authGroup.PUT("/messages/:user_id/read", h.MarkRead)
	authGroup.GET("/conversations/recent", h.RecentConversations)

	return r
}
