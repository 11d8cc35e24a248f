package remote

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedJWT(tb testing.TB, exp time.Time) string {
	tb.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   "coach-1",
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		tb.Fatalf("sign token: %v", err)
	}
	return token
}

func TestStaticToken(t *testing.T) {
	tok, err := StaticToken("abc").Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok != "abc" {
		t.Errorf("Token() = %q, want abc", tok)
	}
}

func TestJWTSource_CachesUntilExpiryWindow(t *testing.T) {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	exp := base.Add(10 * time.Minute)

	refreshes := 0
	src := NewJWTSource(func(ctx context.Context) (string, error) {
		refreshes++
		return signedJWT(t, exp), nil
	}, 30*time.Second)

	now := base
	src.now = func() time.Time { return now }
	ctx := context.Background()

	first, err := src.Token(ctx)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if refreshes != 1 {
		t.Fatalf("refreshes = %d, want 1", refreshes)
	}

	// Well before expiry the cached token is reused.
	now = base.Add(5 * time.Minute)
	second, err := src.Token(ctx)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if second != first {
		t.Error("expected cached token before the expiry window")
	}
	if refreshes != 1 {
		t.Errorf("refreshes = %d, want still 1", refreshes)
	}

	// Inside the skew window the token refreshes proactively.
	now = exp.Add(-10 * time.Second)
	if _, err := src.Token(ctx); err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if refreshes != 2 {
		t.Errorf("refreshes = %d, want 2 inside the skew window", refreshes)
	}
}

func TestJWTSource_OpaqueTokenCached(t *testing.T) {
	refreshes := 0
	src := NewJWTSource(func(ctx context.Context) (string, error) {
		refreshes++
		return "opaque-session-token", nil
	}, time.Minute)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		tok, err := src.Token(ctx)
		if err != nil {
			t.Fatalf("Token() error = %v", err)
		}
		if tok != "opaque-session-token" {
			t.Errorf("Token() = %q, want opaque-session-token", tok)
		}
	}
	if refreshes != 1 {
		t.Errorf("refreshes = %d, want 1 for a token without exp", refreshes)
	}
}

func TestJWTSource_RefreshError(t *testing.T) {
	authDown := errors.New("auth service down")
	src := NewJWTSource(func(ctx context.Context) (string, error) {
		return "", authDown
	}, time.Minute)

	_, err := src.Token(context.Background())
	if !errors.Is(err, authDown) {
		t.Errorf("Token() error = %v, want wrapped %v", err, authDown)
	}
}

func TestNewJWTSource_SkewDefault(t *testing.T) {
	src := NewJWTSource(func(ctx context.Context) (string, error) { return "", nil }, 0)
	if src.skew != 30*time.Second {
		t.Errorf("skew = %v, want 30s default", src.skew)
	}
}
