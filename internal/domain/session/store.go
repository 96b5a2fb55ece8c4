package session

import (
	"context"
	"time"
)

// ReplayStore records spent refresh token ids and revoked token chains.
// This interface is defined in the domain to avoid circular imports.
// Implementations: in-memory (dev/test), SQLite (persistent).
type ReplayStore interface {
	// MarkSpent records a jti as spent until its natural expiry and
	// reports whether it was already spent. The test-and-set must be
	// atomic: under concurrent exchanges of the same token, exactly one
	// caller observes alreadySpent=false.
	MarkSpent(ctx context.Context, jti string, ttl time.Duration) (alreadySpent bool, err error)

	// RevokeChain marks a token chain as revoked for the given duration.
	// Revocation is idempotent.
	RevokeChain(ctx context.Context, chainID string, ttl time.Duration) error

	// IsChainRevoked reports whether a chain has been revoked.
	IsChainRevoked(ctx context.Context, chainID string) (bool, error)
}
