package httpx

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"bookshelf/cmd/internal/auth/autherr"
)

// Error codes used on the wire.
const (
	CodeUnauthorized     = "unauthorized"
	CodeSessionNotActive = "session_not_active"
	CodeForbidden        = "forbidden"
	CodeRateLimited      = "rate_limited"
	CodeServerError      = "server_error"
	CodeInvalidRequest   = "invalid_request"
	CodeValidation       = "validation_failed"
	CodeNotFound         = "not_found"
	CodeConflict         = "conflict"
)

// WriteAuthError maps an auth failure to its status and wire code. It reports false when
// err carries no auth kind, leaving the response untouched.
func WriteAuthError(w http.ResponseWriter, err error) bool {
	var ae *autherr.Error
	if !errors.As(err, &ae) {
		return false
	}

	status := ae.Kind.HTTPStatus()
	switch ae.Kind {
	case autherr.InvalidToken:
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		WriteError(w, status, CodeUnauthorized, "authentication required")
	case autherr.SessionNotFound:
		WriteError(w, status, CodeSessionNotActive, "session is not active")
	case autherr.Forbidden:
		WriteError(w, status, CodeForbidden, "insufficient role")
	case autherr.RateLimited:
		if ae.RetryAfter > 0 {
			secs := int64(math.Ceil(ae.RetryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		}
		WriteError(w, status, CodeRateLimited, "too many requests")
	default:
		WriteError(w, http.StatusInternalServerError, CodeServerError, "internal error")
	}
	return true
}
