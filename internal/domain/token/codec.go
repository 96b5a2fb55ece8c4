package token

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/authgate/authgate/internal/domain/auth"
)

// DefaultClockSkew is the default leeway applied to expiry checks.
const DefaultClockSkew = 30 * time.Second

// wireClaims is the JSON shape of the token payload. Consumers treat the
// token as opaque; this struct exists only for the codec.
type wireClaims struct {
	Roles   []string `json:"roles,omitempty"`
	Kind    string   `json:"kind"`
	ChainID string   `json:"cid"`
	jwt.RegisteredClaims
}

// Codec signs and verifies compact three-segment tokens
// (header.payload.signature, base64url) using HMAC-SHA256.
type Codec struct {
	skew time.Duration
}

// NewCodec creates a Codec with the given clock-skew tolerance.
// A zero skew selects DefaultClockSkew.
func NewCodec(skew time.Duration) *Codec {
	if skew == 0 {
		skew = DefaultClockSkew
	}
	return &Codec{skew: skew}
}

// Issue serializes and signs claims with the given key. The key id is
// carried in the token header so verifiers can select the right key
// without trial verification.
func (c *Codec) Issue(claims Claims, key SigningKey) (string, error) {
	if !claims.Kind.IsValid() {
		return "", fmt.Errorf("issue token: invalid kind %q", claims.Kind)
	}
	if len(key.Secret) == 0 {
		return "", fmt.Errorf("issue token: %w", ErrKeyUnavailable)
	}

	roles := make([]string, len(claims.Roles))
	for i, r := range claims.Roles {
		roles[i] = string(r)
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, wireClaims{
		Roles:   roles,
		Kind:    string(claims.Kind),
		ChainID: claims.ChainID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.Subject,
			ID:        claims.ID,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
		},
	})
	t.Header["kid"] = key.ID

	signed, err := t.SignedString(key.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify checks the token signature and expiry against the given key set
// and returns the claims. Keys are matched by the kid header; the HMAC
// comparison inside verification is constant-time.
//
// Errors: ErrMalformedToken for structural problems, ErrKeyUnavailable if
// the kid matches no verifiable key, ErrInvalidSignature on signature
// mismatch, ErrTokenExpired past expiry (beyond the skew tolerance).
func (c *Codec) Verify(raw string, keys []SigningKey) (*Claims, error) {
	return c.verify(raw, keys, false)
}

// VerifyIgnoringExpiry is Verify without the expiry check. Used for logout,
// where an expired refresh token should still revoke its chain.
func (c *Codec) VerifyIgnoringExpiry(raw string, keys []SigningKey) (*Claims, error) {
	return c.verify(raw, keys, true)
}

func (c *Codec) verify(raw string, keys []SigningKey, ignoreExpiry bool) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(c.skew),
	}
	if ignoreExpiry {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	parsed, err := jwt.ParseWithClaims(raw, &wireClaims{}, func(t *jwt.Token) (any, error) {
		kid, ok := t.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, ErrMalformedToken
		}
		for _, k := range keys {
			// Key ids are not secret, but compare in constant time anyway
			// so lookup latency carries no structure.
			if subtle.ConstantTimeCompare([]byte(k.ID), []byte(kid)) == 1 {
				return k.Secret, nil
			}
		}
		return nil, ErrKeyUnavailable
	}, opts...)
	if err != nil {
		return nil, mapJWTError(err)
	}

	wc, ok := parsed.Claims.(*wireClaims)
	if !ok {
		return nil, ErrMalformedToken
	}
	return fromWire(parsed, wc)
}

// fromWire converts verified wire claims back to domain claims.
func fromWire(parsed *jwt.Token, wc *wireClaims) (*Claims, error) {
	kind := Kind(wc.Kind)
	if !kind.IsValid() {
		return nil, ErrMalformedToken
	}
	if wc.Subject == "" || wc.ID == "" || wc.IssuedAt == nil || wc.ExpiresAt == nil {
		return nil, ErrMalformedToken
	}

	roles := make([]auth.Role, len(wc.Roles))
	for i, r := range wc.Roles {
		roles[i] = auth.Role(r)
	}

	kid, _ := parsed.Header["kid"].(string)
	return &Claims{
		Subject:   wc.Subject,
		Roles:     roles,
		Kind:      kind,
		ID:        wc.ID,
		ChainID:   wc.ChainID,
		IssuedAt:  wc.IssuedAt.Time.UTC(),
		ExpiresAt: wc.ExpiresAt.Time.UTC(),
		KeyID:     kid,
	}, nil
}

// mapJWTError translates library errors into the domain taxonomy.
func mapJWTError(err error) error {
	switch {
	case errors.Is(err, ErrKeyUnavailable):
		return ErrKeyUnavailable
	case errors.Is(err, ErrMalformedToken), errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformedToken
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSignature
	default:
		return fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
}
