package middlewares

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/reservations_backend/config"
	"github.com/mmdatafocus/reservations_backend/utils"
)

// Session is the value stored under "Token:<token>" when an operator logs in
// through the back-office. Older sessions hold only the username.
type Session struct {
	UserId   int    `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func parseSession(raw string) Session {
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil || s.Username == "" {
		return Session{Username: raw}
	}
	return s
}

func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Request.Header.Get("token")
		if token == "" {
			c.Next()
			return
		}
		raw, exists, err := config.GetRedisValue(c.Request.Context(), "Token:"+token)
		if err != nil || !exists {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		session := parseSession(raw)

		ctx := utils.SetUsernameInContext(c.Request.Context(), session.Username)
		ctx = utils.SetUserIdInContext(ctx, session.UserId)
		ctx = utils.SetRoleInContext(ctx, session.Role)
		ctx = utils.SetIsAdminInContext(ctx, session.Role == utils.RoleAdmin)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
