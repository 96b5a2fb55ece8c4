// Package csrf implements stateless double-submit CSRF tokens.
//
// A token is a CSPRNG nonce bound to the session id via HMAC, so
// verification requires knowledge of the server-side secret rather than a
// database round trip. Tokens are scoped to one session id and need no
// server-side storage or revocation.
package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// DefaultTTL is the default CSRF token lifetime.
const DefaultTTL = 4 * time.Hour

const nonceLen = 16

// ErrShortSecret is returned when the validator secret is too short to be
// a usable HMAC key.
var ErrShortSecret = errors.New("csrf secret must be at least 32 bytes")

// Validator issues and verifies double-submit CSRF tokens.
type Validator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewValidator creates a Validator with the given HMAC secret and token
// lifetime. A zero ttl selects DefaultTTL.
func NewValidator(secret []byte, ttl time.Duration) (*Validator, error) {
	if len(secret) < 32 {
		return nil, ErrShortSecret
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &Validator{
		secret: secret,
		ttl:    ttl,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Issue returns a new token bound to the session id.
// Wire format: base64url(nonce || expiry || HMAC(session || nonce || expiry)).
func (v *Validator) Issue(sessionID string) (string, error) {
	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate csrf nonce: %w", err)
	}

	expiry := make([]byte, 8)
	binary.BigEndian.PutUint64(expiry, uint64(v.now().Add(v.ttl).Unix()))

	mac := v.sign(sessionID, nonce, expiry)

	token := make([]byte, 0, nonceLen+8+sha256.Size)
	token = append(token, nonce...)
	token = append(token, expiry...)
	token = append(token, mac...)
	return base64.RawURLEncoding.EncodeToString(token), nil
}

// Verify reports whether the supplied token was issued for the session id
// and has not expired. The comparison is constant-time.
func (v *Validator) Verify(sessionID, suppliedToken string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(suppliedToken)
	if err != nil || len(raw) != nonceLen+8+sha256.Size {
		return false
	}

	nonce := raw[:nonceLen]
	expiry := raw[nonceLen : nonceLen+8]
	mac := raw[nonceLen+8:]

	if !hmac.Equal(mac, v.sign(sessionID, nonce, expiry)) {
		return false
	}

	expiresAt := time.Unix(int64(binary.BigEndian.Uint64(expiry)), 0)
	return v.now().Before(expiresAt)
}

// sign computes HMAC-SHA256 over (session id, nonce, expiry).
func (v *Validator) sign(sessionID string, nonce, expiry []byte) []byte {
	h := hmac.New(sha256.New, v.secret)
	h.Write([]byte(sessionID))
	h.Write(nonce)
	h.Write(expiry)
	return h.Sum(nil)
}
