// Package token is the bookshelf token issuer.
//
// It owns three concerns and nothing else:
//   - access tokens: short-lived, signed, verified without any store lookup
//     (PASETO v4.public by default, JWT RS256/ES256/EdDSA as an alternative)
//   - refresh secrets: high-entropy opaque strings handed to the client once
//   - refresh hashing: SHA-256, or HMAC-SHA256 when a server key is configured
//
// Key material is loaded once at startup into immutable values. Nothing in this
// package reads the environment after construction.
//
// Environment (read by HasherFromEnv only):
//   - BOOKSHELF_TOKEN_HMAC_KEY: enables HMAC mode for refresh hashing.
package token
