package handlers

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/suPer8Hu/gopherchat/internal/auth"
	"github.com/suPer8Hu/gopherchat/internal/common"
	"github.com/suPer8Hu/gopherchat/internal/realtime"
)

const wsReadTimeout = 60 * time.Second

// originAllowed admits browser handshakes only from the configured client
// origin. Non-browser clients send no Origin header and are admitted on
// the token alone.
func originAllowed(origin, allowed string) bool {
	if origin == "" {
		return true
	}
	return strings.EqualFold(origin, allowed)
}

func (h *Handler) wsUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), h.Cfg.ClientOrigin)
		},
	}
}

// ServeWS is the live-channel handshake. The credential is verified before
// any registration happens: a bad token is refused with 401 and the
// connection never reaches the router.
func (h *Handler) ServeWS(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		common.Fail(c, http.StatusUnauthorized, 40100, "missing token")
		return
	}
	uid, err := auth.ParseJWT(token, h.Cfg.JWTSecret)
	if err != nil {
		common.Fail(c, http.StatusUnauthorized, 40101, "invalid or expired token")
		return
	}

	upgrader := h.wsUpgrader()
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the response.
		return
	}

	conn := realtime.NewConnection(uid, ws)
	conn.Start()
	h.Router.Register(c.Request.Context(), conn)
	defer func() {
		h.Dispatcher.HandleDisconnect(c.Request.Context(), conn)
		conn.Close(websocket.CloseNormalClosure, "session closed")
	}()

	ws.SetReadLimit(1 << 16)
	_ = ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	// Frames from one connection are handled one at a time, in arrival
	// order; only the read loop calls into the dispatcher.
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				log.Printf("ws: read user=%d err=%v", uid, err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
		h.Dispatcher.HandleFrame(c.Request.Context(), conn, data)
	}
}
