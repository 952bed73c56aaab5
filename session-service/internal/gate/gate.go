// Package gate turns the credential on an incoming connection into a
// verified identity, before any session state exists.
package gate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weiawesome/campaign-live/pkg/jwt"
	"github.com/weiawesome/campaign-live/pkg/middleware"
	"github.com/weiawesome/campaign-live/session-service/internal/domain"
	"github.com/weiawesome/campaign-live/session-service/internal/repository"
)

// FailureKind categorises a refused connection attempt.
type FailureKind string

const (
	NoCredential        FailureKind = "NoCredential"
	CredentialExpired   FailureKind = "CredentialExpired"
	CredentialMalformed FailureKind = "CredentialMalformed"
	UserNotFound        FailureKind = "UserNotFound"
	UpstreamError       FailureKind = "UpstreamError"
)

// Failure is returned for every refused credential.
type Failure struct {
	Kind FailureKind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %v", f.Kind, f.Err)
	}
	return string(f.Kind)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// HTTPStatus is 503 for upstream trouble and 401 for everything else.
func (f *Failure) HTTPStatus() int {
	if f.Kind == UpstreamError {
		return http.StatusServiceUnavailable
	}
	return http.StatusUnauthorized
}

// Message is the client-safe description of the failure.
func (f *Failure) Message() string {
	switch f.Kind {
	case NoCredential:
		return "missing credential"
	case CredentialExpired:
		return "credential expired"
	case CredentialMalformed:
		return "invalid credential"
	case UserNotFound:
		return "unknown user"
	default:
		return "authentication temporarily unavailable"
	}
}

// KindOf extracts the failure kind from err, or "" if err is not a Failure.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// TokenVerifier checks a bearer token's signature and lifetime.
type TokenVerifier interface {
	ValidateToken(token string) (*jwt.Claims, error)
}

type Gate struct {
	tokens  TokenVerifier
	users   repository.UserDirectory
	timeout time.Duration
}

func New(tokens TokenVerifier, users repository.UserDirectory, timeout time.Duration) *Gate {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Gate{tokens: tokens, users: users, timeout: timeout}
}

// Authenticate reads the request's credential (X-Auth-Token header, then
// bearer Authorization header, then token query parameter) and resolves it.
func (g *Gate) Authenticate(ctx context.Context, r *http.Request) (domain.Identity, error) {
	return g.Verify(ctx, middleware.ExtractToken(r))
}

// Verify resolves a raw token to an identity.
func (g *Gate) Verify(ctx context.Context, token string) (domain.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Identity{}, &Failure{Kind: NoCredential}
	}

	claims, err := g.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrExpiredToken) {
			return domain.Identity{}, &Failure{Kind: CredentialExpired, Err: err}
		}
		return domain.Identity{}, &Failure{Kind: CredentialMalformed, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	user, err := g.users.GetUser(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return domain.Identity{}, &Failure{Kind: UserNotFound, Err: err}
		}
		return domain.Identity{}, &Failure{Kind: UpstreamError, Err: err}
	}

	identity := domain.Identity{UserID: user.UserID, Username: user.Username}
	if identity.Username == "" {
		identity.Username = claims.Username
	}
	return identity, nil
}

// VerifyToken lets the gate guard REST routes through pkg/middleware.
func (g *Gate) VerifyToken(c *gin.Context, token string) (middleware.Principal, error) {
	id, err := g.Verify(c.Request.Context(), token)
	if err != nil {
		return middleware.Principal{}, err
	}
	return middleware.Principal{UserID: id.UserID, Username: id.Username}, nil
}
