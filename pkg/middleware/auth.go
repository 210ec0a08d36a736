package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/weiawesome/chat-relay/pkg/response"
)

const (
	UsernameKey   = "username"
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "
)

// TokenVerifier resolves a bearer token to a username.
type TokenVerifier interface {
	VerifyUsername(token string) (string, error)
}

// AuthMiddleware validates bearer tokens with a TokenVerifier.
type AuthMiddleware struct {
	verifier TokenVerifier
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(v TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: v}
}

// RequireAuth returns a Gin middleware that validates bearer tokens.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(AuthHeaderKey)
		if authHeader == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}

		token, ok := strings.CutPrefix(authHeader, BearerPrefix)
		if !ok || token == "" {
			response.Unauthorized(c, "invalid authorization format")
			c.Abort()
			return
		}

		username, err := m.verifier.VerifyUsername(token)
		if err != nil {
			response.Unauthorized(c, err.Error())
			c.Abort()
			return
		}

		c.Set(UsernameKey, username)
		c.Next()
	}
}

// GetUsername extracts username from Gin context.
func GetUsername(c *gin.Context) string {
	return c.GetString(UsernameKey)
}
