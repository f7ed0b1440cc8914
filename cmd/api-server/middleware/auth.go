package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lgulliver/chunkd/pkg/auth"
	"github.com/lgulliver/chunkd/pkg/config"
)

const userIDKey = "user_id"

// OptionalAuthMiddleware establishes requester identity from a Bearer token
// when one is presented. Requests without credentials proceed anonymously;
// a presented but invalid token is rejected. Authorization policy beyond
// identity lives with the token issuer.
func OptionalAuthMiddleware(cfg *config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.Next()
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		userID, err := auth.ParseToken(cfg.JWTSecret, token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// GetUserID extracts the authenticated user from gin context; uuid.Nil means
// anonymous
func GetUserID(c *gin.Context) uuid.UUID {
	value, exists := c.Get(userIDKey)
	if !exists {
		return uuid.Nil
	}
	userID, ok := value.(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return userID
}
