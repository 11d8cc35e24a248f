package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies bearer tokens for backend requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// RefreshFunc obtains a fresh token from the host app's auth layer.
type RefreshFunc func(ctx context.Context) (string, error)

// JWTSource caches a JWT and refreshes it proactively once the exp claim is
// within the skew window. The token is not verified here; the backend does
// that. Safe for concurrent use.
type JWTSource struct {
	refresh RefreshFunc
	skew    time.Duration
	now     func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewJWTSource wraps refresh with expiry-aware caching. A skew of zero or
// below defaults to 30 seconds.
func NewJWTSource(refresh RefreshFunc, skew time.Duration) *JWTSource {
	if skew <= 0 {
		skew = 30 * time.Second
	}
	return &JWTSource{
		refresh: refresh,
		skew:    skew,
		now:     time.Now,
	}
}

func (s *JWTSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && (s.expires.IsZero() || s.now().Add(s.skew).Before(s.expires)) {
		return s.token, nil
	}

	token, err := s.refresh(ctx)
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}

	// Tokens without a parseable exp claim are cached until the process
	// restarts; the backend still rejects them if stale.
	var claims jwt.RegisteredClaims
	expires := time.Time{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err == nil && claims.ExpiresAt != nil {
		expires = claims.ExpiresAt.Time
	}

	s.token = token
	s.expires = expires
	return token, nil
}
