package gateway

import (
	"context"
	"net/http"

	"bookshelf/cmd/internal/auth/autherr"
	"bookshelf/cmd/internal/httpx"
)

// Role names.
const (
	RoleReader = "reader"
	RoleAdmin  = "admin"
)

// HasAnyRole reports whether id holds at least one of required. An empty required set
// admits any authenticated identity.
func HasAnyRole(id Identity, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	for _, want := range required {
		for _, have := range id.Roles {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Authorize is HasAnyRole as an error: nil or an autherr.Forbidden.
func Authorize(id Identity, required ...string) error {
	if HasAnyRole(id, required...) {
		return nil
	}
	return autherr.New(autherr.Forbidden, "gateway.Authorize", "insufficient role")
}

// AuthorizeContext authorizes the identity carried by ctx. A context without one is
// InvalidToken, not Forbidden.
func AuthorizeContext(ctx context.Context, required ...string) error {
	id, ok := IdentityFrom(ctx)
	if !ok {
		return autherr.New(autherr.InvalidToken, "gateway.Authorize", "no identity")
	}
	return Authorize(id, required...)
}

// RequireRole must be mounted after RequireAuth. It answers 403 when the caller holds
// none of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := AuthorizeContext(r.Context(), roles...); err != nil {
				httpx.WriteAuthError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
