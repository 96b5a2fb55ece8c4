// Package token implements signed access and refresh tokens and the
// signing key lifecycle (active, retiring, revoked).
package token

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/authgate/authgate/internal/domain/auth"
)

// Kind distinguishes access tokens from refresh tokens.
type Kind string

const (
	// KindAccess is a short-lived credential authorizing API calls.
	KindAccess Kind = "access"
	// KindRefresh is a longer-lived credential used solely to obtain new pairs.
	KindRefresh Kind = "refresh"
)

// IsValid returns true if the kind is a known token kind.
func (k Kind) IsValid() bool {
	return k == KindAccess || k == KindRefresh
}

// Claims are the verified contents of a token. Claims are immutable once
// issued; a new Claims value is minted on every issuance or rotation.
type Claims struct {
	// Subject is the principal ID the token was issued to.
	Subject string
	// Roles are the principal's roles at issuance time.
	Roles []auth.Role
	// Kind is the token kind (access or refresh).
	Kind Kind
	// ID is the unique token identifier (jti), used for reuse detection.
	ID string
	// ChainID is shared by all tokens descended from one original login.
	// Revoking a chain invalidates every refresh token carrying it.
	ChainID string
	// IssuedAt is when the token was issued (UTC).
	IssuedAt time.Time
	// ExpiresAt is when the token expires (UTC).
	ExpiresAt time.Time
	// KeyID is the id of the signing key used (set on issue and verify).
	KeyID string
}

// KeyStatus is the lifecycle state of a signing key.
type KeyStatus string

const (
	// KeyActive is the single key used for signing new tokens.
	KeyActive KeyStatus = "active"
	// KeyRetiring is no longer used for signing but still verifies
	// in-flight tokens during the grace period.
	KeyRetiring KeyStatus = "retiring"
	// KeyRevoked no longer signs or verifies anything.
	KeyRevoked KeyStatus = "revoked"
)

// SigningKey holds HMAC key material and its lifecycle state.
type SigningKey struct {
	// ID is the key identifier carried in the token header (kid).
	ID string
	// Secret is the raw HMAC key material.
	Secret []byte
	// CreatedAt is when the key was created (UTC).
	CreatedAt time.Time
	// Status is the key's lifecycle state.
	Status KeyStatus
}

// GenerateSigningKey creates a new active signing key with 32 bytes of
// CSPRNG material and a random id.
func GenerateSigningKey() (SigningKey, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return SigningKey{}, fmt.Errorf("generate key material: %w", err)
	}
	return SigningKey{
		ID:        uuid.New().String(),
		Secret:    secret,
		CreatedAt: time.Now().UTC(),
		Status:    KeyActive,
	}, nil
}
