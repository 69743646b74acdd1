// Package identity owns user accounts: credentials, roles and their persistence.
//
// Sessions are not stored here; see cmd/internal/auth/session.
package identity
