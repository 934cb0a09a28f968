package middlewares

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/reservations_backend/utils"
)

const cronAuthenticated = "cronAuthenticated"

func bearerToken(c *gin.Context) string {
	auth := strings.TrimSpace(c.Request.Header.Get("Authorization"))
	if len(auth) < len("Bearer ") || !strings.EqualFold(auth[:len("Bearer ")], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(auth[len("Bearer "):])
}

// CronMiddleware recognises the scheduler's shared secret. Requests that present
// it skip JWT validation and are attributed to "cron".
func CronMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if secret != "" && token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1 {
			c.Set(cronAuthenticated, true)
			c.Request = c.Request.WithContext(utils.SetTriggeredByInContext(c.Request.Context(), "cron"))
		}
		c.Next()
	}
}

func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetBool(cronAuthenticated) {
			c.Next()
			return
		}
		token := bearerToken(c)
		if token == "" {
			c.Next()
			return
		}

		validate, err := utils.JwtValidate(token)
		if err != nil || !validate.Valid {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		customClaim, _ := validate.Claims.(*utils.JwtCustomClaim)
		if customClaim == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		ctx := utils.SetUserIdInContext(c.Request.Context(), customClaim.ID)
		ctx = utils.SetUsernameInContext(ctx, customClaim.Username)
		ctx = utils.SetRoleInContext(ctx, customClaim.Role)
		ctx = utils.SetIsAdminInContext(ctx, customClaim.Role == utils.RoleAdmin)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// AdminOnly rejects anyone who is not an authenticated admin operator.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if isAdmin, _ := utils.GetIsAdminFromContext(ctx); !isAdmin {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if _, ok := utils.GetTriggeredByFromContext(ctx); !ok {
			username, _ := utils.GetUsernameFromContext(ctx)
			c.Request = c.Request.WithContext(utils.SetTriggeredByInContext(ctx, "admin:"+username))
		}
		c.Next()
	}
}

// CronOrAdmin admits the scheduler secret or an admin operator.
func CronOrAdmin() gin.HandlerFunc {
	admin := AdminOnly()
	return func(c *gin.Context) {
		if c.GetBool(cronAuthenticated) {
			c.Next()
			return
		}
		admin(c)
	}
}
