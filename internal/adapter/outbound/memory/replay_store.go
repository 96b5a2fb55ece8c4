package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/authgate/authgate/internal/domain/session"
)

// ReplayStore implements session.ReplayStore with in-memory maps.
// Thread-safe for concurrent access. Entries expire at the owning token's
// natural expiry; background cleanup keeps memory bounded.
type ReplayStore struct {
	mu              sync.Mutex
	spent           map[string]time.Time // jti -> record expiry
	chains          map[string]time.Time // chainID -> revocation expiry
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
}

// NewReplayStore creates an in-memory replay store with the default
// cleanup interval.
func NewReplayStore() *ReplayStore {
	return NewReplayStoreWithConfig(DefaultCleanupInterval)
}

// NewReplayStoreWithConfig creates a replay store with a custom cleanup
// interval.
func NewReplayStoreWithConfig(cleanupInterval time.Duration) *ReplayStore {
	return &ReplayStore{
		spent:           make(map[string]time.Time),
		chains:          make(map[string]time.Time),
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
	}
}

// MarkSpent records a jti as spent and reports whether it already was.
// The check and the write happen under one lock, so exactly one of any
// set of concurrent callers observes alreadySpent=false.
func (s *ReplayStore) MarkSpent(_ context.Context, jti string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if until, ok := s.spent[jti]; ok && now.Before(until) {
		return true, nil
	}
	s.spent[jti] = now.Add(ttl)
	return false, nil
}

// RevokeChain marks a chain as revoked. Idempotent; a later call with a
// longer TTL extends the record.
func (s *ReplayStore) RevokeChain(_ context.Context, chainID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	until := time.Now().Add(ttl)
	if existing, ok := s.chains[chainID]; !ok || until.After(existing) {
		s.chains[chainID] = until
	}
	return nil
}

// IsChainRevoked reports whether a chain has an active revocation record.
func (s *ReplayStore) IsChainRevoked(_ context.Context, chainID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.chains[chainID]
	return ok && time.Now().Before(until), nil
}

// StartCleanup starts the background cleanup goroutine.
// It stops when ctx is cancelled or Stop() is called.
func (s *ReplayStore) StartCleanup(ctx context.Context) {
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

// cleanup drops expired jti and chain records.
func (s *ReplayStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cleaned := 0
	for jti, until := range s.spent {
		if !now.Before(until) {
			delete(s.spent, jti)
			cleaned++
		}
	}
	for chain, until := range s.chains {
		if !now.Before(until) {
			delete(s.chains, chain)
			cleaned++
		}
	}
	if cleaned > 0 {
		slog.Debug("replay store cleanup completed", "cleaned_records", cleaned)
	}
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *ReplayStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Size returns the number of live spent-jti and chain records.
func (s *ReplayStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.spent) + len(s.chains)
}

// Compile-time interface verification.
var _ session.ReplayStore = (*ReplayStore)(nil)
