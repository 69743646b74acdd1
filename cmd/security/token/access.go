package token

import (
	"strings"
	"time"

	"bookshelf/cmd/internal/auth/autherr"
)

// Access token formats.
const (
	FormatPaseto = "paseto"
	FormatJWT    = "jwt"
)

// Subject is what an access token asserts about its bearer.
type Subject struct {
	UserID    string
	SessionID string
	Roles     []string
}

// AccessClaims is the verified content of an access token.
type AccessClaims struct {
	UserID    string
	SessionID string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
}

// AccessIssuer mints and verifies access tokens.
//
// Verify must fail with an autherr.InvalidToken error for every malformed, expired,
// mis-signed or foreign token, without saying which check failed.
type AccessIssuer interface {
	Issue(sub Subject, now time.Time) (tok string, exp time.Time, err error)
	Verify(tok string, now time.Time) (AccessClaims, error)
	Format() string
}

// IssuerConfig holds the settings common to all formats.
type IssuerConfig struct {
	Issuer    string
	Audience  string
	TTL       time.Duration
	ClockSkew time.Duration
}

func (c IssuerConfig) withDefaults() IssuerConfig {
	if strings.TrimSpace(c.Issuer) == "" {
		c.Issuer = "bookshelf"
	}
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.ClockSkew < 0 {
		c.ClockSkew = 0
	}
	return c
}

func invalidToken(op string) error {
	return autherr.New(autherr.InvalidToken, op, "invalid token")
}

func validSubject(sub Subject) bool {
	return strings.TrimSpace(sub.UserID) != "" && strings.TrimSpace(sub.SessionID) != ""
}

// checkTimes applies the shared time rules: the token must not be expired at now
// (strictly), and must not be issued further in the future than the allowed skew.
func checkTimes(iat, nbf, exp, now time.Time, skew time.Duration) bool {
	if exp.IsZero() || !now.Before(exp) {
		return false
	}
	limit := now.Add(skew)
	if !iat.IsZero() && iat.After(limit) {
		return false
	}
	if !nbf.IsZero() && nbf.After(limit) {
		return false
	}
	return true
}

func copyRoles(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}
