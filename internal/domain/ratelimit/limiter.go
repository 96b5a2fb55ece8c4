package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/authgate/authgate/internal/domain/counter"
)

// Limiter implements sliding-window rate limiting.
//
// It tracks a current fixed window and the previous window's count; the
// effective count is previousCount*overlapFraction + currentCount, where
// overlapFraction is the fraction of the previous window still inside the
// sliding horizon. This avoids the burst-at-boundary flaw of naive fixed
// windows while being cheaper than a full log of timestamps.
//
// Counters live in a counter.Store under bucketed keys, so window resets
// are idempotent and per-key mutations are linearized by the store.
type Limiter struct {
	store counter.Store
	now   func() time.Time
}

// NewLimiter creates a Limiter over the given counter store.
func NewLimiter(store counter.Store) *Limiter {
	return &Limiter{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// bucketKey returns the counter key for one fixed window of a scope+subject.
func bucketKey(scope, subject string, idx int64) string {
	return counter.FormatKey(fmt.Sprintf("rl:%s", scope), fmt.Sprintf("%s:%d", subject, idx))
}

// Allow checks whether one more event is allowed for (scope, subject) under
// cfg, and records it if so. Denied events are not recorded. The limiter
// never blocks; when the result is not allowed, ResetAt tells the caller
// when capacity fully replenishes.
func (l *Limiter) Allow(ctx context.Context, scope, subject string, cfg Config) (Result, error) {
	if cfg.Limit <= 0 {
		cfg.Limit = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	now := l.now()
	win := cfg.Window
	idx := now.UnixNano() / int64(win)
	winStart := time.Unix(0, idx*int64(win)).UTC()
	overlap := 1 - float64(now.Sub(winStart))/float64(win)

	// The previous bucket is read outside the current bucket's critical
	// section. Slightly stale carry-over is acceptable for rate limiting.
	var prev int64
	if e, ok, err := l.store.Get(ctx, bucketKey(scope, subject, idx-1)); err != nil {
		return Result{}, fmt.Errorf("rate limit read: %w", err)
	} else if ok {
		prev = e.Count
	}
	carried := int64(float64(prev) * overlap)

	allowed := false
	var current int64
	// Buckets expire after two windows: one as current, one as previous.
	_, err := l.store.Update(ctx, bucketKey(scope, subject, idx), 2*win, func(e counter.Entry) counter.Entry {
		if carried+e.Count < int64(cfg.Limit) {
			allowed = true
			e.Count++
		}
		e.WindowStart = winStart.Unix()
		current = e.Count
		return e
	})
	if err != nil {
		return Result{}, fmt.Errorf("rate limit update: %w", err)
	}

	remaining := int64(cfg.Limit) - carried - current
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:   allowed,
		Remaining: int(remaining),
		ResetAt:   winStart.Add(2 * win),
	}, nil
}
