// Package sqlite provides a persistent implementation of the counter and
// replay ports backed by an embedded SQLite database.
//
// The in-memory adapters lose all abuse-tracking state on restart, which
// would let an attacker reset their failure counters by waiting for a
// deploy. This store survives restarts at the cost of a disk round trip
// per mutation.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/authgate/authgate/internal/domain/counter"
	"github.com/authgate/authgate/internal/domain/session"
)

// DefaultCleanupInterval is how often expired rows are purged.
const DefaultCleanupInterval = 5 * time.Minute

const schema = `
CREATE TABLE IF NOT EXISTS counters (
	key          TEXT PRIMARY KEY,
	count        INTEGER NOT NULL DEFAULT 0,
	window_start INTEGER NOT NULL DEFAULT 0,
	locked_until INTEGER NOT NULL DEFAULT 0,
	strikes      INTEGER NOT NULL DEFAULT 0,
	expires_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_counters_expires ON counters (expires_at);

CREATE TABLE IF NOT EXISTS spent_tokens (
	jti        TEXT PRIMARY KEY,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_spent_tokens_expires ON spent_tokens (expires_at);

CREATE TABLE IF NOT EXISTS revoked_chains (
	chain_id   TEXT PRIMARY KEY,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_revoked_chains_expires ON revoked_chains (expires_at);
`

// Store implements counter.Store and session.ReplayStore on one SQLite
// database. The connection pool is capped at a single connection, so every
// read-modify-write transaction is serialized; per-key mutations are
// therefore linearized the same way the in-memory shards linearize them.
type Store struct {
	db              *sql.DB
	logger          *slog.Logger
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
}

// Open opens (creating if necessary) the database at path and applies the
// schema. Use ":memory:" for an ephemeral database in tests.
func Open(path string, logger *slog.Logger) (*Store, error) {
	return OpenWithConfig(path, logger, DefaultCleanupInterval)
}

// OpenWithConfig opens the database with a custom cleanup interval.
func OpenWithConfig(path string, logger *slog.Logger, cleanupInterval time.Duration) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection keeps transactions serialized and avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{
		db:              db,
		logger:          logger,
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
	}, nil
}

// nowMillis is the expiry clock. Millisecond resolution keeps short TTLs
// exact without the bulk of nanosecond columns.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// Update applies fn to the key's entry inside a transaction and stores the
// result with the given TTL. Expired rows read as the zero value. Counts
// are clamped at zero.
func (s *Store) Update(ctx context.Context, key string, ttl time.Duration, fn func(counter.Entry) counter.Entry) (counter.Entry, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return counter.Entry{}, fmt.Errorf("begin counter tx: %w", err)
	}
	defer tx.Rollback()

	now := nowMillis()
	var cur counter.Entry
	err = tx.QueryRowContext(ctx, `
		SELECT count, window_start, locked_until, strikes
		FROM counters
		WHERE key = ? AND expires_at > ?
	`, key, now).Scan(&cur.Count, &cur.WindowStart, &cur.LockedUntil, &cur.Strikes)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return counter.Entry{}, fmt.Errorf("read counter: %w", err)
	}

	next := fn(cur)
	if next.Count < 0 {
		next.Count = 0
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO counters (key, count, window_start, locked_until, strikes, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			count        = excluded.count,
			window_start = excluded.window_start,
			locked_until = excluded.locked_until,
			strikes      = excluded.strikes,
			expires_at   = excluded.expires_at
	`, key, next.Count, next.WindowStart, next.LockedUntil, next.Strikes, now+ttl.Milliseconds())
	if err != nil {
		return counter.Entry{}, fmt.Errorf("write counter: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return counter.Entry{}, fmt.Errorf("commit counter tx: %w", err)
	}
	return next, nil
}

// Get returns the key's entry and whether it exists and is unexpired.
func (s *Store) Get(ctx context.Context, key string) (counter.Entry, bool, error) {
	var e counter.Entry
	err := s.db.QueryRowContext(ctx, `
		SELECT count, window_start, locked_until, strikes
		FROM counters
		WHERE key = ? AND expires_at > ?
	`, key, nowMillis()).Scan(&e.Count, &e.WindowStart, &e.LockedUntil, &e.Strikes)
	if errors.Is(err, sql.ErrNoRows) {
		return counter.Entry{}, false, nil
	}
	if err != nil {
		return counter.Entry{}, false, fmt.Errorf("read counter: %w", err)
	}
	return e, true, nil
}

// Delete removes the key. Absent keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM counters WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete counter: %w", err)
	}
	return nil
}

// MarkSpent records a jti as spent and reports whether it already was. The
// upsert only replaces an expired record, so exactly one of any set of
// concurrent callers observes alreadySpent=false.
func (s *Store) MarkSpent(ctx context.Context, jti string, ttl time.Duration) (bool, error) {
	now := nowMillis()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO spent_tokens (jti, expires_at)
		VALUES (?, ?)
		ON CONFLICT (jti) DO UPDATE SET expires_at = excluded.expires_at
		WHERE spent_tokens.expires_at <= ?
	`, jti, now+ttl.Milliseconds(), now)
	if err != nil {
		return false, fmt.Errorf("mark token spent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark token spent rows affected: %w", err)
	}
	return affected == 0, nil
}

// RevokeChain marks a chain as revoked. Idempotent; a later call with a
// longer TTL extends the record.
func (s *Store) RevokeChain(ctx context.Context, chainID string, ttl time.Duration) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_chains (chain_id, expires_at)
		VALUES (?, ?)
		ON CONFLICT (chain_id) DO UPDATE SET expires_at = excluded.expires_at
		WHERE excluded.expires_at > revoked_chains.expires_at
	`, chainID, nowMillis()+ttl.Milliseconds())
	if err != nil {
		return fmt.Errorf("revoke chain: %w", err)
	}
	return nil
}

// IsChainRevoked reports whether a chain has an active revocation record.
func (s *Store) IsChainRevoked(ctx context.Context, chainID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM revoked_chains WHERE chain_id = ? AND expires_at > ?
	`, chainID, nowMillis()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read chain revocation: %w", err)
	}
	return true, nil
}

// StartCleanup starts the background purge goroutine.
// It stops when ctx is cancelled or Stop() is called.
func (s *Store) StartCleanup(ctx context.Context) {
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
				if err := s.cleanup(ctx); err != nil {
					s.logger.Error("sqlite store cleanup failed", "error", err)
				}
			}
		}
	}()
}

// cleanup purges expired rows from all three tables.
func (s *Store) cleanup(ctx context.Context) error {
	now := nowMillis()
	cleaned := int64(0)
	for _, table := range []string{"counters", "spent_tokens", "revoked_chains"} {
		res, err := s.db.ExecContext(ctx, `DELETE FROM `+table+` WHERE expires_at <= ?`, now)
		if err != nil {
			return fmt.Errorf("purge %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("purge %s rows affected: %w", table, err)
		}
		cleaned += n
	}
	if cleaned > 0 {
		s.logger.Debug("sqlite store cleanup completed", "cleaned_rows", cleaned)
	}
	return nil
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *Store) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Close stops the cleanup goroutine and closes the database.
func (s *Store) Close() error {
	s.Stop()
	return s.db.Close()
}

// Size returns the number of live rows across all tables.
// Useful for testing and monitoring growth.
func (s *Store) Size(ctx context.Context) (int, error) {
	var total int
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM counters) +
			(SELECT COUNT(*) FROM spent_tokens) +
			(SELECT COUNT(*) FROM revoked_chains)
	`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count rows: %w", err)
	}
	return total, nil
}

// Compile-time interface verification.
var (
	_ counter.Store       = (*Store)(nil)
	_ session.ReplayStore = (*Store)(nil)
)
