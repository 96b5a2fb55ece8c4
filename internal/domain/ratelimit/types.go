// Package ratelimit provides sliding-window rate limiting over a keyed
// counter store.
package ratelimit

import "time"

// Config defines the rate limiting parameters for one scope.
type Config struct {
	// Limit is the number of allowed events per window.
	Limit int

	// Window is the time window for the limit.
	Window time.Duration
}

// Result contains the outcome of a rate limit check.
type Result struct {
	// Allowed indicates whether the request is allowed.
	Allowed bool

	// Remaining is the number of requests left in the sliding window.
	Remaining int

	// ResetAt is when capacity fully replenishes. Callers use it for
	// client backoff guidance; the limiter itself never blocks or sleeps.
	ResetAt time.Time
}
