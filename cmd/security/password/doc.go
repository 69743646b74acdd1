// Package password hashes and verifies account passwords with Argon2id.
//
// Hashes use the PHC string format ($argon2id$v=19$m=..,t=..,p=..$salt$key). Encoded
// hashes read back from storage are untrusted: Verify refuses parameters far above the
// configured cost.
package password
