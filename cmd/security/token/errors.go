package token

import "errors"

// Public, stable errors for callers.
var (
	ErrHMACKeyMissing  = errors.New("token HMAC key missing")
	ErrHMACKeyTooShort = errors.New("token HMAC key too short")

	// ErrInvalidKey is returned when PEM/hex key material cannot be parsed or has an unsupported type.
	ErrInvalidKey = errors.New("invalid key")
)
