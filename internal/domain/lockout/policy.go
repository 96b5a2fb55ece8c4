// Package lockout implements failed-attempt counting with temporal locks.
//
// Two independent tracks are kept: one keyed by identity and one keyed by
// source IP. An attacker rotating IPs is still slowed by the identity
// track, and credential stuffing across many identities from one IP is
// still slowed by the IP track.
package lockout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/authgate/authgate/internal/domain/counter"
)

// Track selects which failure counter a subject key belongs to.
type Track string

const (
	// TrackIdentity counts failures per login identity.
	TrackIdentity Track = "id"
	// TrackIP counts failures per source address.
	TrackIP Track = "ip"
)

// Default policy parameters. All are configuration, not mandates.
const (
	DefaultThreshold    = 5
	DefaultWindow       = 60 * time.Second
	DefaultBaseDuration = 60 * time.Second
	DefaultMaxDuration  = time.Hour
)

// Config holds lockout policy parameters.
type Config struct {
	// Threshold is the number of failures within Window that triggers a lock.
	Threshold int
	// Window is the failure-counting window.
	Window time.Duration
	// BaseDuration is the first lock's duration. Each completed lockout
	// doubles the next one (exponential escalation), capped at MaxDuration.
	BaseDuration time.Duration
	// MaxDuration caps the escalated lock duration.
	MaxDuration time.Duration
}

// withDefaults fills zero fields with the package defaults.
func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.BaseDuration <= 0 {
		c.BaseDuration = DefaultBaseDuration
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultMaxDuration
	}
	return c
}

// Policy tracks failed authentication attempts and locks subjects out.
// All per-key mutations go through the counter store's single linearized
// mutation path, so concurrent failures are never lost.
type Policy struct {
	store  counter.Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewPolicy creates a lockout policy over the given counter store.
func NewPolicy(store counter.Store, cfg Config, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Policy{
		store:  store,
		cfg:    cfg.withDefaults(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// key returns the counter key for a track and subject.
func key(track Track, subject string) string {
	return counter.FormatKey(fmt.Sprintf("lock:%s", string(track)), subject)
}

// entryTTL bounds memory: entries expire once both the counting window and
// the longest possible lock are over.
func (p *Policy) entryTTL() time.Duration {
	ttl := 2 * p.cfg.Window
	if p.cfg.MaxDuration > ttl {
		ttl = 2 * p.cfg.MaxDuration
	}
	return ttl
}

// IsLocked reports whether the subject is currently locked on the given
// track, and until when.
func (p *Policy) IsLocked(ctx context.Context, track Track, subject string) (bool, time.Time, error) {
	e, ok, err := p.store.Get(ctx, key(track, subject))
	if err != nil {
		return false, time.Time{}, fmt.Errorf("lockout read: %w", err)
	}
	if !ok || e.LockedUntil == 0 {
		return false, time.Time{}, nil
	}
	until := time.Unix(e.LockedUntil, 0).UTC()
	if !p.now().Before(until) {
		return false, time.Time{}, nil
	}
	return true, until, nil
}

// RecordFailure counts one failed attempt for the subject on the given
// track. When the failure count reaches the threshold within the window, a
// lock is set and its expiry returned; the lock duration doubles with each
// completed lockout, capped at MaxDuration. Locked-until never moves
// backwards while failures continue.
//
// Bookkeeping is conservative: the failure is recorded even if the caller
// is cancelled afterwards; there is no rollback path.
func (p *Policy) RecordFailure(ctx context.Context, track Track, subject string) (*time.Time, error) {
	now := p.now()

	e, err := p.store.Update(ctx, key(track, subject), p.entryTTL(), func(e counter.Entry) counter.Entry {
		// A fresh window starts when the previous one has fully elapsed.
		if e.WindowStart == 0 || now.Sub(time.Unix(e.WindowStart, 0)) >= p.cfg.Window {
			e.WindowStart = now.Unix()
			e.Count = 0
		}
		e.Count++

		if e.Count >= int64(p.cfg.Threshold) {
			lockFor := p.lockDuration(e.Strikes)
			until := now.Add(lockFor).Unix()
			// Monotone under consecutive failures.
			if until > e.LockedUntil {
				if e.LockedUntil != 0 && e.LockedUntil <= now.Unix() {
					// The previous lock fully elapsed yet failures resumed:
					// that lockout is completed, escalate the next one.
					e.Strikes++
					until = now.Add(p.lockDuration(e.Strikes)).Unix()
				}
				e.LockedUntil = until
			}
		}
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("lockout update: %w", err)
	}

	if e.LockedUntil == 0 {
		return nil, nil
	}
	until := time.Unix(e.LockedUntil, 0).UTC()
	if !now.Before(until) {
		// A stale lock from an earlier episode; not an active lock.
		return nil, nil
	}
	if e.Count == int64(p.cfg.Threshold) {
		p.logger.Warn("subject locked out",
			"track", string(track),
			"failures", e.Count,
			"locked_until", until,
			"strikes", e.Strikes)
	}
	return &until, nil
}

// RecordSuccess clears the failure counter and any lock for the subject on
// the given track only. The session manager calls this for the identity
// track; a successful login must never reset the IP track.
func (p *Policy) RecordSuccess(ctx context.Context, track Track, subject string) error {
	if err := p.store.Delete(ctx, key(track, subject)); err != nil {
		return fmt.Errorf("lockout clear: %w", err)
	}
	return nil
}

// lockDuration returns the escalated lock duration for the given number of
// previously completed lockouts.
func (p *Policy) lockDuration(strikes int64) time.Duration {
	d := p.cfg.BaseDuration
	for i := int64(0); i < strikes; i++ {
		d *= 2
		if d >= p.cfg.MaxDuration {
			return p.cfg.MaxDuration
		}
	}
	if d > p.cfg.MaxDuration {
		d = p.cfg.MaxDuration
	}
	return d
}
