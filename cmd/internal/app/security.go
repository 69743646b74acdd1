package app

import (
	"errors"
	"fmt"

	"bookshelf/cmd/security/token"
)

// minHMACKeyBytes is the shortest accepted refresh hashing key.
const minHMACKeyBytes = 32

// ValidateSecurityConfig enforces the refresh hashing policy at startup and returns
// the hasher to use. A key that is set but too short is always fatal; a missing key is
// fatal only when RequireTokenHMAC is on.
func ValidateSecurityConfig(cfg Config) (token.Hasher, error) {
	h, err := token.HasherFromEnv(minHMACKeyBytes, cfg.RequireTokenHMAC)
	switch {
	case errors.Is(err, token.ErrHMACKeyMissing):
		return token.Hasher{}, fmt.Errorf("security policy: BOOKSHELF_REQUIRE_TOKEN_HMAC=true but %s is missing", token.HMACEnvKey)
	case errors.Is(err, token.ErrHMACKeyTooShort):
		return token.Hasher{}, fmt.Errorf("security policy: %s is too short (min %d bytes)", token.HMACEnvKey, minHMACKeyBytes)
	case err != nil:
		return token.Hasher{}, err
	}
	if cfg.RequireTokenHMAC && !h.Keyed() {
		return token.Hasher{}, errors.New("security policy: refresh token hasher is not keyed")
	}
	return h, nil
}
