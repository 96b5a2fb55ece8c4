package auth

import (
	"context"
	"errors"
)

// ErrPrincipalNotFound is returned when no principal matches an identity.
// Callers must not surface this distinction to clients; the session manager
// collapses it into a generic invalid-credentials error.
var ErrPrincipalNotFound = errors.New("principal not found")

// CredentialStore provides principal lookup for authentication.
// This interface is defined in the domain to avoid circular imports.
// Implementations: in-memory (dev/test), database-backed (prod).
type CredentialStore interface {
	// FindByIdentity retrieves a principal by its login identity.
	// Returns ErrPrincipalNotFound if no such principal exists.
	FindByIdentity(ctx context.Context, identity string) (*Principal, error)
}
