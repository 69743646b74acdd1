// Package session is the bookshelf session manager.
//
// A session binds a user, a device and the hash of the current refresh token.
// Sessions move ACTIVE -> ACTIVE on every rotation and end in REVOKED, which is terminal.
//
// Rotation is a single compare-and-swap at the storage layer keyed on the old hash:
// of N concurrent callers presenting the same refresh token exactly one wins and the
// rest see autherr.SessionNotFound. Expiry is enforced at read time.
//
// Access tokens are minted by cmd/security/token; this package only selects and
// configures the issuer (see NewAccessIssuer).
package session
