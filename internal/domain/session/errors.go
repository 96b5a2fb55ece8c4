package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is returned for any credential failure. It is
	// deliberately identity-agnostic: it never reveals whether the
	// identity exists, is disabled, or had a wrong secret.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrLocked is returned while a subject is locked out.
	ErrLocked = errors.New("subject locked")

	// ErrRateLimited is returned when a request exceeds its quota.
	ErrRateLimited = errors.New("too many requests")

	// ErrTokenReused is returned when a spent refresh token is presented
	// again. This is a strong signal of token theft: the whole token
	// chain is revoked as a side effect.
	ErrTokenReused = errors.New("refresh token reuse detected")

	// ErrSessionRevoked is returned when the token's chain has been
	// revoked by logout or reuse detection.
	ErrSessionRevoked = errors.New("session revoked")
)

// LockedError carries retry metadata for an active lockout.
type LockedError struct {
	// Until is when the lock expires.
	Until time.Time
	// RetryAfter is the remaining lock duration.
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrLocked.Error(), e.RetryAfter.Round(time.Second))
}

func (e *LockedError) Unwrap() error { return ErrLocked }

// RateLimitedError carries backoff metadata for a denied request.
type RateLimitedError struct {
	// Scope is the rate limit scope that tripped.
	Scope string
	// ResetAt is when capacity fully replenishes.
	ResetAt time.Time
	// RetryAfter is the suggested client backoff.
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited.Error(), e.RetryAfter.Round(time.Second))
}

func (e *RateLimitedError) Unwrap() error { return ErrRateLimited }
