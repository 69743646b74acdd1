// Package gateway authenticates requests from their bearer access token and checks roles.
//
// Verification is stateless: a revoked session stays usable until its access token expires.
// Nothing here reads the session store.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"bookshelf/cmd/internal/auth/autherr"
	"bookshelf/cmd/internal/httpx"
	"bookshelf/cmd/security/token"
)

// Identity is the authenticated caller attached to a request.
type Identity struct {
	UserID    string
	SessionID string
	Roles     []string
	ExpiresAt time.Time
}

// Verifier is the subset of token.AccessIssuer the gateway needs.
type Verifier interface {
	Verify(tok string, now time.Time) (token.AccessClaims, error)
}

type identityKey struct{}

// WithIdentity returns ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the identity set by RequireAuth.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// Option configures RequireAuth.
type Option func(*gatewayOpts)

type gatewayOpts struct {
	now func() time.Time
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *gatewayOpts) {
		if now != nil {
			o.now = now
		}
	}
}

// RequireAuth rejects requests without a valid bearer access token with 401 and
// attaches the caller's Identity otherwise.
func RequireAuth(v Verifier, log *slog.Logger, opts ...Option) func(http.Handler) http.Handler {
	o := gatewayOpts{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if log == nil {
		log = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := BearerToken(r)
			if raw == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				httpx.WriteError(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "missing bearer token")
				return
			}

			claims, err := v.Verify(raw, o.now().UTC())
			if err != nil {
				log.Debug("auth.gateway.reject", "kind", autherr.KindOf(err).String(), "path", r.URL.Path)
				if !httpx.WriteAuthError(w, err) {
					httpx.WriteError(w, http.StatusUnauthorized, httpx.CodeUnauthorized, "authentication required")
				}
				return
			}

			id := Identity{
				UserID:    claims.UserID,
				SessionID: claims.SessionID,
				Roles:     claims.Roles,
				ExpiresAt: claims.ExpiresAt,
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// BearerToken extracts the token from "Authorization: Bearer <token>". The scheme is
// matched case-insensitively.
func BearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, tok, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}
