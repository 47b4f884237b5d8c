package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/gopherchat/internal/auth"
	"github.com/suPer8Hu/gopherchat/internal/common"
)

const UserIDKey = "user_id"

// AuthRequired verifies the Bearer token and stores the user id in the
// request context.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
			common.Fail(c, http.StatusUnauthorized, 40100, "missing bearer token")
			c.Abort()
			return
		}

		uid, err := auth.ParseJWT(parts[1], secret)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40101, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(UserIDKey, uid)
		c.Next()
	}
}
