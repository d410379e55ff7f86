package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ownerCtxKey is the Gin context key holding the authenticated owner id.
const ownerCtxKey = "owner_id"

// APIKeyMiddleware maps X-API-Key to the owner recorded on every event the
// caller submits.
func APIKeyMiddleware(keys map[string]string) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := strings.TrimSpace(c.GetHeader("X-API-Key"))
		ownerID, ok := keys[apiKey]
		if !ok || apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(ownerCtxKey, ownerID)
		c.Next()
	}
}

// OwnerID returns the authenticated owner id, or "" outside the middleware.
func OwnerID(c *gin.Context) string {
	v, _ := c.Get(ownerCtxKey)
	s, _ := v.(string)
	return s
}
