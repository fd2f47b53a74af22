package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	authorizationHeader = "Authorization"
	bearerPrefix        = "Bearer "
)

// RequireAccessToken verifies an access token and injects identity into request context.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if raw == "" || !strings.HasPrefix(raw, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "missing bearer token"})
			return
		}

		claims, err := m.Verify(strings.TrimPrefix(raw, bearerPrefix), TokenTypeAccess, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token"})
			return
		}

		ctx := WithIdentity(c.Request.Context(), claims.UserID)
		c.Request = c.Request.WithContext(ctx)
		c.Set("user_id", claims.UserID)

		c.Next()
	}
}
