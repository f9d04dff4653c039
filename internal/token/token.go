// Package token manages the OAuth2 access/refresh token pair: validation
// against the provider, expiry-window tracking, and refresh-token renewal.
// The full three-legged authorization flow is out of scope — when no refresh
// value is available the caller must re-authenticate interactively.
package token

import (
	"errors"
	"time"
)

// DefaultWindow is the provider's access-token validity window when the
// refresh response omits expires_in.
const DefaultWindow = 60 * time.Minute

// Sentinel errors. Both are fatal AuthError-class failures: they require
// interactive re-authentication and are never retried.
var (
	ErrNoRefreshToken  = errors.New("token: no refresh token available (re-authentication required)")
	ErrRefreshRejected = errors.New("token: refresh token rejected by provider (re-authentication required)")
	ErrNoToken         = errors.New("token: no token in store (re-authentication required)")
)

// State describes where the current token sits in its lifecycle.
type State string

// Lifecycle states. Refreshing is transient, entered only from Valid or
// ExpiringSoon while a renewal exchange is in flight.
const (
	StateUnknown      State = "unknown"
	StateValid        State = "valid"
	StateExpiringSoon State = "expiring_soon"
	StateExpired      State = "expired"
	StateInvalid      State = "invalid"
	StateRefreshing   State = "refreshing"
)

// Token is an immutable access/refresh pair snapshot. Tokens are superseded
// whole on refresh, never mutated in place, so AccessValue and ExpiresAt can
// never be observed mismatched.
type Token struct {
	AccessValue  string
	RefreshValue string
	AcquiredAt   time.Time
	ExpiresAt    time.Time
	Window       time.Duration
}

// NewToken builds a token acquired now. When expiresIn is zero the expiry is
// derived from the window, preserving the invariant that ExpiresAt is always
// AcquiredAt + window when the provider supplied nothing.
func NewToken(access, refresh string, acquiredAt time.Time, expiresIn, window time.Duration) *Token {
	if window <= 0 {
		window = DefaultWindow
	}

	if expiresIn <= 0 {
		expiresIn = window
	}

	return &Token{
		AccessValue:  access,
		RefreshValue: refresh,
		AcquiredAt:   acquiredAt,
		ExpiresAt:    acquiredAt.Add(expiresIn),
		Window:       window,
	}
}

// Remaining returns the validity left at the given instant. Zero or negative
// means expired.
func (t *Token) Remaining(now time.Time) time.Duration {
	return t.ExpiresAt.Sub(now)
}

// Expired reports whether the token is unusable at the given instant.
// The interval is closed at the lower bound: ExpiresAt == now is expired.
func (t *Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
