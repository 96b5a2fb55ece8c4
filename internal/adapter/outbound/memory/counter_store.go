// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/authgate/authgate/internal/domain/counter"
)

// Number of shards in the counter store. A power of two so shard selection
// is a mask, not a modulo.
const counterShards = 64

// DefaultCleanupInterval is how often expired entries are swept.
const DefaultCleanupInterval = 5 * time.Minute

// counterEntry wraps a stored entry with its expiry.
type counterEntry struct {
	entry     counter.Entry
	expiresAt time.Time
}

// counterShard is one lock domain of the store.
type counterShard struct {
	mu      sync.Mutex
	entries map[string]counterEntry
}

// CounterStore implements counter.Store with a sharded map.
//
// Each key hashes (xxhash) to one of 64 shards with its own mutex, so
// mutations on one key are linearized while unrelated keys proceed in
// parallel; there is no global lock. Includes background cleanup to
// prevent unbounded memory growth.
type CounterStore struct {
	shards          [counterShards]*counterShard
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
}

// NewCounterStore creates a sharded in-memory counter store with the
// default cleanup interval.
func NewCounterStore() *CounterStore {
	return NewCounterStoreWithConfig(DefaultCleanupInterval)
}

// NewCounterStoreWithConfig creates a counter store with a custom cleanup
// interval.
func NewCounterStoreWithConfig(cleanupInterval time.Duration) *CounterStore {
	s := &CounterStore{
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
	}
	for i := range s.shards {
		s.shards[i] = &counterShard{entries: make(map[string]counterEntry)}
	}
	return s
}

// shardFor selects the shard owning a key.
func (s *CounterStore) shardFor(key string) *counterShard {
	return s.shards[xxhash.Sum64String(key)&(counterShards-1)]
}

// Update applies fn to the key's entry under the shard lock and stores the
// result with the given TTL. Expired entries read as the zero value, so
// window resets are idempotent. Counts are clamped at zero.
func (s *CounterStore) Update(_ context.Context, key string, ttl time.Duration, fn func(counter.Entry) counter.Entry) (counter.Entry, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	now := time.Now()
	var cur counter.Entry
	if ce, ok := sh.entries[key]; ok && now.Before(ce.expiresAt) {
		cur = ce.entry
	}

	next := fn(cur)
	if next.Count < 0 {
		next.Count = 0
	}
	sh.entries[key] = counterEntry{entry: next, expiresAt: now.Add(ttl)}
	return next, nil
}

// Get returns the key's entry and whether it exists and is unexpired.
func (s *CounterStore) Get(_ context.Context, key string) (counter.Entry, bool, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	ce, ok := sh.entries[key]
	if !ok || !time.Now().Before(ce.expiresAt) {
		return counter.Entry{}, false, nil
	}
	return ce.entry, true, nil
}

// Delete removes the key. Absent keys are not an error.
func (s *CounterStore) Delete(_ context.Context, key string) error {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.entries, key)
	return nil
}

// StartCleanup starts the background cleanup goroutine.
// It stops when ctx is cancelled or Stop() is called.
func (s *CounterStore) StartCleanup(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.cleanup()
			}
		}
	}()
}

// cleanup removes expired entries shard by shard.
func (s *CounterStore) cleanup() {
	now := time.Now()
	cleaned := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, ce := range sh.entries {
			if !now.Before(ce.expiresAt) {
				delete(sh.entries, key)
				cleaned++
			}
		}
		sh.mu.Unlock()
	}
	if cleaned > 0 {
		slog.Debug("counter store cleanup completed", "cleaned_keys", cleaned)
	}
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *CounterStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Size returns the current number of tracked keys, expired or not.
// Useful for testing and monitoring memory usage.
func (s *CounterStore) Size() int {
	total := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		total += len(sh.entries)
		sh.mu.Unlock()
	}
	return total
}

// Compile-time interface verification.
var _ counter.Store = (*CounterStore)(nil)
