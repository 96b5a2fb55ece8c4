package token

import "errors"

// Sentinel errors for token verification.
var (
	// ErrMalformedToken is returned for structural errors (wrong segment
	// count, bad encoding, missing kid).
	ErrMalformedToken = errors.New("malformed token")

	// ErrInvalidSignature is returned when no verifiable key produces a
	// matching signature.
	ErrInvalidSignature = errors.New("invalid token signature")

	// ErrTokenExpired is returned when the token is past its expiry,
	// beyond the configured clock-skew tolerance.
	ErrTokenExpired = errors.New("token expired")

	// ErrKeyUnavailable is returned when the token names a key id that is
	// neither active nor retiring. This is an operational fault: fatal to
	// the request, never to the process.
	ErrKeyUnavailable = errors.New("no verifiable key for token")

	// ErrNoActiveKey is returned when a key set contains no active key.
	// Rotation must guarantee non-empty key sets, so this is only ever a
	// startup-time condition.
	ErrNoActiveKey = errors.New("key set has no active key")
)
