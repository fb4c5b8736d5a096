// Package jwt issues and verifies the two token kinds: short-lived access
// tokens and longer-lived refresh tokens. Each kind has its own signing key
// and a `type` claim, so neither can stand in for the other. Every
// verification consults a [RevocationChecker] before touching the signature
// and fails closed with [ErrInvalid].
package jwt
