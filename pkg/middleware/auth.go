package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/weiawesome/campaign-live/pkg/response"
)

const (
	UserIDKey     = "user_id"
	UsernameKey   = "username"
	AuthHeaderKey = "Authorization"
	TokenHeader   = "X-Auth-Token"
	BearerPrefix  = "Bearer "
)

// Principal is the caller resolved from a credential.
type Principal struct {
	UserID   string
	Username string
}

// TokenVerifier resolves a raw credential into a principal.
type TokenVerifier interface {
	VerifyToken(c *gin.Context, token string) (Principal, error)
}

// StatusError lets a verifier pick the HTTP status of a rejection.
type StatusError interface {
	error
	HTTPStatus() int
}

// AuthMiddleware guards REST routes with the same credential rules as the
// websocket upgrade.
type AuthMiddleware struct {
	verifier TokenVerifier
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(verifier TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier}
}

// ExtractToken returns the credential carried by the request, checking the
// X-Auth-Token header, then the bearer Authorization header, then the
// token query parameter.
func ExtractToken(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get(TokenHeader)); token != "" {
		return token
	}
	if authHeader := r.Header.Get(AuthHeaderKey); strings.HasPrefix(authHeader, BearerPrefix) {
		if token := strings.TrimSpace(strings.TrimPrefix(authHeader, BearerPrefix)); token != "" {
			return token
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// RequireAuth returns a Gin middleware that rejects unauthenticated calls.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c.Request)
		if token == "" {
			response.Unauthorized(c, "missing credential")
			c.Abort()
			return
		}

		principal, err := m.verifier.VerifyToken(c, token)
		if err != nil {
			var se StatusError
			if errors.As(err, &se) && se.HTTPStatus() == http.StatusServiceUnavailable {
				response.ServiceUnavailable(c, "authentication temporarily unavailable")
			} else {
				response.Unauthorized(c, "invalid credential")
			}
			c.Abort()
			return
		}

		c.Set(UserIDKey, principal.UserID)
		c.Set(UsernameKey, principal.Username)

		c.Next()
	}
}

// GetUserID extracts user ID from Gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// GetUsername extracts username from Gin context.
func GetUsername(c *gin.Context) string {
	return c.GetString(UsernameKey)
}
