// Package authcore is a credential, token and session-security engine:
// password registration and login, short-lived JWT access tokens,
// rotating refresh tokens bound to server-side sessions, token revocation,
// login throttling with lockout, TOTP two-factor authentication with
// backup codes, and email verification codes.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config]
// and value types (TokenPair, SessionInfo, MetricsSnapshot and so on). The
// component packages (password, jwt, revocation, session, throttle, totp,
// otp) are usable on their own; the engine composes them.
//
// Users are persisted by a caller-supplied [UserStore]. Shared security
// state (revocation list, sessions, throttle counters, verification codes)
// lives in Redis when one is configured and falls back to an in-process
// store while Redis is unreachable.
//
// # What this package must NOT do
//
//   - Expose Redis clients or storage encodings in its public API.
//   - Return storage errors to callers; they surface as [ErrUnavailable].
//   - Reveal whether an email is registered from Login or
//     RequestEmailVerification.
package authcore
