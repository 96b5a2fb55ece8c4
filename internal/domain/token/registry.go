package token

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// retiringKey pairs a retiring key with the moment it left active duty,
// which anchors the revocation grace period.
type retiringKey struct {
	key       SigningKey
	retiredAt time.Time
}

// keySet is an immutable snapshot of the verifiable keys.
// Exactly one key is active; any number may be retiring.
type keySet struct {
	active   SigningKey
	retiring []retiringKey
}

// Registry holds the current and previous signing keys and supports
// rotation without invalidating in-flight tokens.
//
// Reads (Active, Verifiable) go through an atomic snapshot pointer and are
// lock-free; writes (Rotate, Revoke, Sweep) are serialized by a mutex and
// publish a fresh copy-on-write snapshot, so rotation is atomic from the
// caller's perspective and there is no window with zero active keys.
type Registry struct {
	mu   sync.Mutex
	snap atomic.Pointer[keySet]
	now  func() time.Time
}

// NewRegistry creates a Registry from the given keys. Exactly one key must
// have status active; retiring keys are kept verifiable; revoked keys are
// dropped. An empty or active-less key set is a configuration fault and
// should be treated as fatal at startup.
func NewRegistry(keys []SigningKey) (*Registry, error) {
	r := &Registry{now: func() time.Time { return time.Now().UTC() }}

	var set keySet
	activeFound := false
	for _, k := range keys {
		if len(k.Secret) == 0 {
			return nil, fmt.Errorf("key %q: empty secret", k.ID)
		}
		switch k.Status {
		case KeyActive:
			if activeFound {
				return nil, fmt.Errorf("key %q: more than one active key", k.ID)
			}
			activeFound = true
			set.active = k
		case KeyRetiring:
			rk := k
			set.retiring = append(set.retiring, retiringKey{key: rk, retiredAt: r.now()})
		case KeyRevoked:
			// dropped
		default:
			return nil, fmt.Errorf("key %q: unknown status %q", k.ID, k.Status)
		}
	}
	if !activeFound {
		return nil, ErrNoActiveKey
	}

	r.snap.Store(&set)
	return r, nil
}

// Active returns the single key used for signing new tokens.
func (r *Registry) Active() SigningKey {
	return r.snap.Load().active
}

// Verifiable returns the keys acceptable for verification: the active key
// first, then retiring keys, newest first.
func (r *Registry) Verifiable() []SigningKey {
	set := r.snap.Load()
	keys := make([]SigningKey, 0, 1+len(set.retiring))
	keys = append(keys, set.active)
	for i := len(set.retiring) - 1; i >= 0; i-- {
		keys = append(keys, set.retiring[i].key)
	}
	return keys
}

// Rotate makes newKey the active key and demotes the previously active key
// to retiring. The swap is atomic: readers observe either the old snapshot
// or the new one, never an intermediate state.
func (r *Registry) Rotate(newKey SigningKey) error {
	if len(newKey.Secret) == 0 {
		return fmt.Errorf("rotate: key %q: empty secret", newKey.ID)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.snap.Load()
	if newKey.ID == old.active.ID {
		return fmt.Errorf("rotate: key %q is already active", newKey.ID)
	}
	for _, rk := range old.retiring {
		if rk.key.ID == newKey.ID {
			return fmt.Errorf("rotate: key %q is retiring", newKey.ID)
		}
	}

	demoted := old.active
	demoted.Status = KeyRetiring
	newKey.Status = KeyActive

	next := &keySet{
		active:   newKey,
		retiring: append(append([]retiringKey(nil), old.retiring...), retiringKey{key: demoted, retiredAt: r.now()}),
	}
	r.snap.Store(next)
	return nil
}

// Revoke removes a retiring key from the verifiable set immediately.
// The active key cannot be revoked; rotate first.
func (r *Registry) Revoke(keyID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.snap.Load()
	if keyID == old.active.ID {
		return fmt.Errorf("revoke: key %q is active", keyID)
	}

	next := &keySet{active: old.active}
	found := false
	for _, rk := range old.retiring {
		if rk.key.ID == keyID {
			found = true
			continue
		}
		next.retiring = append(next.retiring, rk)
	}
	if !found {
		return fmt.Errorf("revoke: key %q not found", keyID)
	}
	r.snap.Store(next)
	return nil
}

// Sweep revokes retiring keys whose grace period has elapsed and returns
// how many were removed. The grace period should be no shorter than the
// longest-lived token's max lifetime; the caller owns the scheduling.
func (r *Registry) Sweep(grace time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	old := r.snap.Load()
	next := &keySet{active: old.active}
	removed := 0
	for _, rk := range old.retiring {
		if now.Sub(rk.retiredAt) >= grace {
			removed++
			continue
		}
		next.retiring = append(next.retiring, rk)
	}
	if removed > 0 {
		r.snap.Store(next)
	}
	return removed
}
