package session

import (
	"errors"
	"fmt"
	"strings"

	"bookshelf/cmd/internal/auth/autherr"
)

var (
	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")

	// ErrNotFound is the store-level miss. The service never returns it directly.
	ErrNotFound = errors.New("session row not found")
)

// RevokeAllError reports a logout-all that could not revoke every active session.
// Failed lists the session ids that may still be active; it is nil when the set
// of sessions could not even be listed.
type RevokeAllError struct {
	UserID string
	Failed []string
	Err    error
}

func (e *RevokeAllError) Error() string {
	if len(e.Failed) == 0 {
		return fmt.Sprintf("revoke all sessions for user %s: %v", e.UserID, e.Err)
	}
	return fmt.Sprintf("revoke all sessions for user %s: %d not revoked (%s): %v",
		e.UserID, len(e.Failed), strings.Join(e.Failed, ","), e.Err)
}

func (e *RevokeAllError) Unwrap() error { return e.Err }

func notFound(op string) error {
	return autherr.New(autherr.SessionNotFound, op, "session not active")
}
