package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const phcVersion = argon2.Version

var b64 = base64.RawStdEncoding

// Hash validates pw and returns its PHC-encoded Argon2id hash.
func (c Config) Hash(pw string) (string, error) {
	if err := c.Validate(pw); err != nil {
		return "", err
	}
	return c.hash(pw)
}

func (c Config) hash(pw string) (string, error) {
	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("password salt: %w", err)
	}
	p := c.Params
	key := argon2.IDKey([]byte(pw), salt, p.Iterations, p.MemoryKiB, p.Parallelism, p.KeyLength)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		phcVersion, p.MemoryKiB, p.Iterations, p.Parallelism,
		b64.EncodeToString(salt), b64.EncodeToString(key)), nil
}

// Verify reports whether pw matches encoded. A malformed hash, or one whose cost is far
// above this Config, is ErrInvalidHash.
func (c Config) Verify(encoded, pw string) (bool, error) {
	h, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	if !c.acceptable(h.params) {
		return false, ErrInvalidHash
	}
	got := argon2.IDKey([]byte(pw), h.salt, h.params.Iterations, h.params.MemoryKiB, h.params.Parallelism,
		uint32(len(h.key))) // #nosec G115 -- bounded by acceptable()
	return subtle.ConstantTimeCompare(got, h.key) == 1, nil
}

// NeedsRehash reports whether encoded was produced with parameters other than the
// current ones. Callers rehash after a successful login.
func (c Config) NeedsRehash(encoded string) bool {
	h, err := parsePHC(encoded)
	if err != nil {
		return true
	}
	return h.params != c.Params
}

// DummyVerifier burns the same CPU as a real Verify so unknown accounts are not
// distinguishable by timing.
type DummyVerifier struct {
	cfg     Config
	encoded string
}

// NewDummyVerifier hashes a throwaway secret with cfg.
func NewDummyVerifier(cfg Config) (*DummyVerifier, error) {
	enc, err := cfg.hash("bookshelf-timing-equalizer")
	if err != nil {
		return nil, err
	}
	return &DummyVerifier{cfg: cfg, encoded: enc}, nil
}

// Verify always reports false.
func (d *DummyVerifier) Verify(pw string) {
	if d == nil {
		return
	}
	_, _ = d.cfg.Verify(d.encoded, pw)
}

func (c Config) acceptable(got Argon2idParams) bool {
	lim := c.Params
	return got.MemoryKiB <= lim.MemoryKiB*2 &&
		got.Iterations <= lim.Iterations*2 &&
		uint32(got.Parallelism) <= uint32(lim.Parallelism)*2 &&
		got.SaltLength >= 8 && got.SaltLength <= 64 &&
		got.KeyLength >= 16 && got.KeyLength <= 128
}

type phcHash struct {
	params Argon2idParams
	salt   []byte
	key    []byte
}

// parsePHC accepts exactly $argon2id$v=19$m=<n>,t=<n>,p=<n>$<salt>$<key>.
func parsePHC(encoded string) (phcHash, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return phcHash{}, ErrInvalidHash
	}
	if parts[2] != "v="+strconv.Itoa(phcVersion) {
		return phcHash{}, ErrInvalidHash
	}

	var mem, iter, par uint64
	fields := strings.Split(parts[3], ",")
	if len(fields) != 3 {
		return phcHash{}, ErrInvalidHash
	}
	for i, want := range []struct {
		name string
		dst  *uint64
		max  uint64
	}{{"m", &mem, 1<<32 - 1}, {"t", &iter, 1<<32 - 1}, {"p", &par, 255}} {
		name, val, ok := strings.Cut(fields[i], "=")
		if !ok || name != want.name {
			return phcHash{}, ErrInvalidHash
		}
		n, err := strconv.ParseUint(val, 10, 64)
		if err != nil || n == 0 || n > want.max {
			return phcHash{}, ErrInvalidHash
		}
		*want.dst = n
	}

	salt, err := b64.DecodeString(parts[4])
	if err != nil {
		return phcHash{}, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[5])
	if err != nil {
		return phcHash{}, ErrInvalidHash
	}

	return phcHash{
		params: Argon2idParams{
			MemoryKiB:   uint32(mem),  // #nosec G115 -- checked above
			Iterations:  uint32(iter), // #nosec G115 -- checked above
			Parallelism: uint8(par),   // #nosec G115 -- checked above
			SaltLength:  uint32(len(salt)),
			KeyLength:   uint32(len(key)),
		},
		salt: salt,
		key:  key,
	}, nil
}
