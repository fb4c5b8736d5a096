// Package middleware exposes net/http adapters over authcore.Engine.
//
// # Guards
//
//   - [RequireAccess] verifies the bearer access token.
//   - [RequireVerifiedEmail] additionally demands a verified email claim.
//   - [TrackActivity] keeps the session's last-active time current.
//   - [ClientContext] records the caller's IP and user agent for sessions
//     and audit events.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Make authorization decisions beyond pass/reject.
package middleware
