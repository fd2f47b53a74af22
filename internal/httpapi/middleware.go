package httpapi

import (
	"callhub/internal/audit"

	"github.com/gin-gonic/gin"
)

// ClientIP stores the resolved client address on the request context for the audit trail.
func ClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(audit.WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}
