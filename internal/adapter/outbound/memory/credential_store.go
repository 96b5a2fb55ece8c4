package memory

import (
	"context"
	"sync"

	"github.com/authgate/authgate/internal/domain/auth"
)

// CredentialStore implements auth.CredentialStore with an in-memory map.
// Thread-safe for concurrent access. For development/testing only;
// production deployments back this interface with a database.
type CredentialStore struct {
	principals map[string]*auth.Principal // identity -> principal
	mu         sync.RWMutex
}

// NewCredentialStore creates an empty in-memory credential store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		principals: make(map[string]*auth.Principal),
	}
}

// FindByIdentity retrieves a principal by login identity.
// Returns auth.ErrPrincipalNotFound if no such principal exists.
func (s *CredentialStore) FindByIdentity(_ context.Context, identity string) (*auth.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.principals[identity]
	if !ok {
		return nil, auth.ErrPrincipalNotFound
	}

	// Return a copy to prevent mutation
	pCopy := *p
	pCopy.Roles = make([]auth.Role, len(p.Roles))
	copy(pCopy.Roles, p.Roles)
	return &pCopy, nil
}

// Add stores a principal (for seeding and tests).
func (s *CredentialStore) Add(p *auth.Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to prevent external mutation
	pCopy := *p
	pCopy.Roles = make([]auth.Role, len(p.Roles))
	copy(pCopy.Roles, p.Roles)
	s.principals[p.Identity] = &pCopy
}

// Remove deletes a principal by identity.
func (s *CredentialStore) Remove(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.principals, identity)
}

// Compile-time interface verification.
var _ auth.CredentialStore = (*CredentialStore)(nil)
