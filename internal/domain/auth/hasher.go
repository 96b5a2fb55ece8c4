package auth

import (
	"fmt"

	"github.com/alexedwards/argon2id"
)

// Hasher hashes secrets and compares candidates against stored hashes.
// The hash algorithm itself is an external capability; this core only
// requires that comparison is resistant to timing attacks.
type Hasher interface {
	// Hash returns the PHC-format hash of a secret.
	Hash(secret string) (string, error)

	// Compare reports whether candidate matches the stored hash.
	// A malformed stored hash is an error, not a mismatch.
	Compare(storedHash, candidate string) (bool, error)
}

// argon2idParams defines OWASP minimum parameters for Argon2id.
// Memory: 47 MiB, Iterations: 1, Parallelism: 1
var argon2idParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// Argon2idHasher implements Hasher with Argon2id in PHC format.
// Format: $argon2id$v=19$m=47104,t=1,p=1$<salt>$<hash>
type Argon2idHasher struct{}

// NewArgon2idHasher creates a Hasher using OWASP minimum Argon2id parameters.
func NewArgon2idHasher() *Argon2idHasher {
	return &Argon2idHasher{}
}

// Hash returns an Argon2id hash of the secret with a random salt.
func (h *Argon2idHasher) Hash(secret string) (string, error) {
	return argon2id.CreateHash(secret, argon2idParams)
}

// Compare verifies a candidate secret against a stored Argon2id hash.
func (h *Argon2idHasher) Compare(storedHash, candidate string) (bool, error) {
	return safeArgon2idCompare(candidate, storedHash)
}

// safeArgon2idCompare wraps argon2id.ComparePasswordAndHash with panic recovery.
// The underlying argon2 library panics on malformed hashes with invalid
// parameters (e.g., t=0 rounds, p=0 parallelism). This function catches those
// panics and converts them to errors instead, ensuring Compare never panics.
func safeArgon2idCompare(candidate, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(candidate, storedHash)
}

// Compile-time interface verification.
var _ Hasher = (*Argon2idHasher)(nil)
