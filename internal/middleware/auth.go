package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/quote-api/pkg/auth"
	"github.com/jwalitptl/quote-api/pkg/httputil"
)

const (
	ContextSubject = "subject"
	ContextRole    = "role"
)

type AuthMiddleware struct {
	jwt auth.JWTService
}

func NewAuthMiddleware(jwt auth.JWTService) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwt}
}

// Authenticate verifies the bearer token and stores its subject and role in the context
func (m *AuthMiddleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httputil.NewErrorResponse("missing authorization header"))
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httputil.NewErrorResponse("invalid authorization format"))
			return
		}

		claims, err := m.jwt.ValidateToken(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httputil.NewErrorResponse("invalid token"))
			return
		}

		c.Set(ContextSubject, claims.Subject)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// RequireRole must run after Authenticate
func (m *AuthMiddleware) RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextRole) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, httputil.NewErrorResponse("permission denied"))
			return
		}
		c.Next()
	}
}

// APIKey guards a route with a shared secret header. An empty key lets every request through.
func APIKey(header, key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}
		if subtle.ConstantTimeCompare([]byte(c.GetHeader(header)), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httputil.Response{Success: false, Error: "invalid api key"})
			return
		}
		c.Next()
	}
}
