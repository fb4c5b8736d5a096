// Package session tracks the active login sessions of each user.
//
// # Storage layout
//
// Each session is one record under <prefix>:s:<sessionID>, stored in a
// compact versioned binary encoding with a TTL equal to its remaining
// lifetime. A per-user index set under <prefix>:u:<userID> lists the
// session IDs of that user. Record and index are always written and
// removed together so a revoked session is never listed afterwards.
//
// # Architecture boundaries
//
// This package does not issue or verify tokens. It only stores the digest
// of the refresh token bound to a session; the caller decides when a
// session is created, rotated or revoked.
package session
