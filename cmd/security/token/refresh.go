package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	MinRefreshBytes     = 32
	MaxRefreshBytes     = 64
	DefaultRefreshBytes = 32

	// MaxRefreshTokenLen bounds presented refresh tokens before hashing.
	MaxRefreshTokenLen = 4096
)

// GenerateRefreshSecret returns a new raw refresh secret and its stored hash.
// Only raw is ever sent to the client; only hash is ever persisted.
func GenerateRefreshSecret(nBytes int, h Hasher) (raw string, hash string, err error) {
	if nBytes == 0 {
		nBytes = DefaultRefreshBytes
	}
	if nBytes < MinRefreshBytes || nBytes > MaxRefreshBytes {
		return "", "", fmt.Errorf("refresh secret size %d out of range [%d..%d]", nBytes, MinRefreshBytes, MaxRefreshBytes)
	}

	b := make([]byte, nBytes)
	if _, err = rand.Read(b); err != nil {
		return "", "", err
	}

	// URL-safe, no padding.
	raw = base64.RawURLEncoding.EncodeToString(b)
	return raw, h.Hash(raw), nil
}

// NormalizePresented trims a client-supplied refresh token and reports whether it is
// worth hashing at all.
func NormalizePresented(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(raw) > MaxRefreshTokenLen {
		return "", false
	}
	return raw, true
}
