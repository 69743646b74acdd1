// Package autherr defines the closed set of authentication failure kinds shared by
// the token issuer, the session manager, the HTTP gateway and the client coordinator.
//
// Every auth failure that crosses a package boundary is an *Error carrying exactly one Kind.
// Callers classify with errors.Is against the Err* sentinels or with KindOf.
package autherr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind enumerates auth failure classes. The zero value is not a valid kind.
type Kind uint8

const (
	KindUnknown Kind = iota

	// InvalidToken: malformed, expired or mis-signed access token.
	InvalidToken
	// SessionNotFound: refresh credential unmatched, expired or revoked.
	SessionNotFound
	// Forbidden: valid identity, insufficient role.
	Forbidden
	// Signing: key material missing or unusable.
	Signing
	// RateLimited: refresh attempted too often for one session.
	RateLimited
)

var kindNames = [...]string{
	KindUnknown:     "unknown",
	InvalidToken:    "invalid_token",
	SessionNotFound: "session_not_found",
	Forbidden:       "forbidden",
	Signing:         "signing",
	RateLimited:     "rate_limited",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// HTTPStatus maps a kind to the status code served at the HTTP boundary.
func (k Kind) HTTPStatus() int {
	switch k {
	case InvalidToken, SessionNotFound:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is the single structured auth error type.
// Msg is safe to show to clients; Err (if any) is for logs only.
type Error struct {
	Kind Kind
	Op   string
	Msg  string

	// RetryAfter is only meaningful for RateLimited.
	RetryAfter time.Duration

	Err error
}

func (e *Error) Error() string {
	var s string
	if e.Op != "" {
		s = e.Op + ": "
	}
	s += e.Kind.String()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so that errors.Is(err, autherr.ErrInvalidToken) matches
// any *Error of that kind regardless of Op/Msg.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == "" && t.Err == nil
}

// Sentinels for errors.Is. Never return these directly; wrap via New.
var (
	ErrInvalidToken    = &Error{Kind: InvalidToken}
	ErrSessionNotFound = &Error{Kind: SessionNotFound}
	ErrForbidden       = &Error{Kind: Forbidden}
	ErrSigning         = &Error{Kind: Signing}
	ErrRateLimited     = &Error{Kind: RateLimited}
)

// New builds an *Error.
func New(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap builds an *Error around a cause.
func Wrap(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// RateLimitedFor builds a RateLimited error with retry metadata.
func RateLimitedFor(op string, retryAfter time.Duration) *Error {
	return &Error{Kind: RateLimited, Op: op, Msg: "too many refresh attempts", RetryAfter: retryAfter}
}

// KindOf returns the kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// RetryAfter returns the retry hint carried by a RateLimited error.
func RetryAfter(err error) (time.Duration, bool) {
	var ae *Error
	if errors.As(err, &ae) && ae.Kind == RateLimited {
		return ae.RetryAfter, true
	}
	return 0, false
}
