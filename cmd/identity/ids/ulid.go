// Package ids generates account identifiers.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a ULID for now. Ids created within the same millisecond sort in creation
// order.
func New(now time.Time) string {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// Valid reports whether s is a canonical ULID.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
