// Package counter defines the keyed counter store shared by rate limiting
// and lockout tracking.
package counter

import (
	"context"
	"fmt"
	"time"
)

// Entry is the stored state for one counter key.
// The zero value is a fresh, unlocked counter.
type Entry struct {
	// Count is the number of events recorded. Never negative.
	Count int64
	// WindowStart is the unix timestamp of the current window's start.
	WindowStart int64
	// LockedUntil is the unix timestamp the key is locked until (0 = not locked).
	LockedUntil int64
	// Strikes counts completed lockouts, driving escalation.
	Strikes int64
}

// Store is a keyed counter store with atomic read-modify-write and expiry.
//
// Update is the single mutation path: all changes to one key's entry are
// linearized (no lost updates under concurrent callers), while different
// keys proceed fully in parallel. Implementations must support expiry so
// stale keys do not accumulate; approximate expiry is acceptable.
//
// The in-process implementation is a sharded map with per-shard locks; a
// persistent implementation backed by a linearizable store is preferred for
// lockout state in multi-instance deployments, where under-counting
// failures would be a security regression.
type Store interface {
	// Update applies fn to the key's current entry (zero value if absent)
	// and stores the result with the given TTL. Returns the stored entry.
	Update(ctx context.Context, key string, ttl time.Duration, fn func(Entry) Entry) (Entry, error)

	// Get returns the key's entry and whether it exists (and is unexpired).
	Get(ctx context.Context, key string) (Entry, bool, error)

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}

// FormatKey returns a structured counter key: "{scope}:{subject}".
// Examples:
//   - FormatKey("rl:login", "192.0.2.1") -> "rl:login:192.0.2.1"
//   - FormatKey("lock:id", "alice") -> "lock:id:alice"
func FormatKey(scope, subject string) string {
	return fmt.Sprintf("%s:%s", scope, subject)
}
