// Package session orchestrates login, refresh and logout: the externally
// visible authentication state machine.
package session

import (
	"time"

	"github.com/authgate/authgate/internal/domain/ratelimit"
)

// TokenPair is what a successful login or refresh returns: a short-lived
// access token and a longer-lived, single-use refresh token.
type TokenPair struct {
	// AccessToken authorizes API calls until AccessExpiresAt.
	AccessToken string
	// RefreshToken obtains the next pair. Single use: exchanging it
	// invalidates it.
	RefreshToken string
	// TokenType is the authorization scheme, always "Bearer".
	TokenType string
	// AccessExpiresAt is when the access token expires (UTC).
	AccessExpiresAt time.Time
	// RefreshExpiresAt is when the refresh token expires (UTC).
	RefreshExpiresAt time.Time
}

// Default token lifetimes. Configuration, not hard constants, but the
// ratio is an invariant: refresh tokens must never be shorter-lived than
// access tokens.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Config holds session manager parameters.
type Config struct {
	// AccessTTL is the access token lifetime. Default: 15 minutes.
	AccessTTL time.Duration
	// RefreshTTL is the refresh token lifetime. Default: 7 days.
	// Must be >= AccessTTL.
	RefreshTTL time.Duration
	// LoginIPQuota rate-limits login attempts per source IP.
	LoginIPQuota ratelimit.Config
	// LoginIdentityQuota rate-limits login attempts per identity.
	LoginIdentityQuota ratelimit.Config
	// RefreshQuota rate-limits refresh exchanges per subject.
	// A zero limit disables the check.
	RefreshQuota ratelimit.Config
}

// withDefaults fills zero fields with package defaults.
func (c Config) withDefaults() Config {
	if c.AccessTTL <= 0 {
		c.AccessTTL = DefaultAccessTTL
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = DefaultRefreshTTL
	}
	if c.LoginIPQuota.Limit <= 0 {
		c.LoginIPQuota = ratelimit.Config{Limit: 30, Window: time.Minute}
	}
	if c.LoginIdentityQuota.Limit <= 0 {
		c.LoginIdentityQuota = ratelimit.Config{Limit: 10, Window: time.Minute}
	}
	return c
}
