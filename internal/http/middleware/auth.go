package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/agentpay/escrow-engine/internal/service"
)

// ContextUserIDKey holds the authenticated caller identity in gin.Context.
const ContextUserIDKey = "userID"

// AuthMiddleware validates the bearer token and stores the caller identity.
// The token names the identity; what that identity may do is decided per
// operation by the authorization gate.
func AuthMiddleware(tokens *service.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}

		raw := strings.TrimPrefix(auth, "Bearer ")
		userID, err := tokens.Parse(raw)
		if err != nil || userID == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ContextUserIDKey, userID)
		c.Next()
	}
}

// CallerID extracts the authenticated identity set by AuthMiddleware.
func CallerID(c *gin.Context) uuid.UUID {
	value, ok := c.Get(ContextUserIDKey)
	if !ok {
		return uuid.Nil
	}
	id, ok := value.(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return id
}
