package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/solaivr/giftline/internal/security"
)

// InternalKeyHeader carries the shared key for service-to-service calls.
const InternalKeyHeader = "X-Internal-Key"

// InternalKeyMiddleware requires the configured internal key on the request.
// An empty key disables the check.
func InternalKeyMiddleware(key string) gin.HandlerFunc {
	key = strings.TrimSpace(key)
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}

		provided := strings.TrimSpace(c.GetHeader(InternalKeyHeader))
		if provided == "" {
			if token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
				provided = strings.TrimSpace(token)
			}
		}

		switch {
		case provided == "":
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing internal key"})
		case !security.SecretEqual(key, provided):
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid internal key"})
		default:
			c.Next()
		}
	}
}
