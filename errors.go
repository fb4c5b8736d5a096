package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials covers an unknown email, a wrong password and a
	// wrong second-factor code alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is matched by every [*LockedError].
	ErrAccountLocked = errors.New("account locked")
	// ErrTokenInvalid covers malformed, expired, wrong-type, revoked and
	// rotated-away tokens.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrAlreadyRegistered is returned by Register for a taken email.
	ErrAlreadyRegistered = errors.New("email already registered")
	// ErrVerificationInvalid is the single result of every failed email
	// verification, whatever the cause.
	ErrVerificationInvalid = errors.New("verification invalid or expired")
	// ErrTooManyAttempts is matched by every [*RetryError].
	ErrTooManyAttempts = errors.New("too many attempts")
	// ErrTwoFactorNotEnabled is returned when a flow needs 2FA (or a pending
	// setup) that the account does not have.
	ErrTwoFactorNotEnabled = errors.New("two-factor authentication not enabled")
	// ErrTwoFactorAlreadyEnabled is returned by EnableTwoFactor on an
	// account that already completed setup.
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication already enabled")
	// ErrTwoFactorRequired is returned by Login when the password was
	// correct but no second factor was supplied.
	ErrTwoFactorRequired = errors.New("two-factor code required")
	// ErrEmailNotVerified is returned by Login when verified email is
	// required and the password was correct.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrPasswordPolicy is returned by Register for a password outside the
	// configured length bounds.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrInvalidEmail is returned by Register for an unusable address.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrSessionNotFound is returned by RevokeSession.
	ErrSessionNotFound = errors.New("session not found")
	// ErrServiceDegraded is logged when the shared store is unreachable and
	// a local fallback served the call. It is never returned.
	ErrServiceDegraded = errors.New("shared store degraded")
	// ErrUnavailable is returned when the user store fails. The cause is
	// logged, not returned.
	ErrUnavailable = errors.New("authentication backend unavailable")
	// ErrEngineNotReady is returned by methods on a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not ready")

	// ErrUserNotFound is returned by UserStore lookups.
	ErrUserNotFound = errors.New("user not found")
	// ErrDuplicateEmail is returned by UserStore.InsertUser.
	ErrDuplicateEmail = errors.New("duplicate email")
)

// LockedError reports a login lockout and how long it lasts.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *LockedError) Is(target error) bool { return target == ErrAccountLocked }

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (e *LockedError) RetryAfterSeconds() int {
	return ceilSeconds(e.RetryAfter)
}

// RetryError reports a throttled request and when it may be retried.
type RetryError struct {
	RetryAfter time.Duration
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("too many attempts, retry after %s", e.RetryAfter.Round(time.Second))
}

func (e *RetryError) Is(target error) bool { return target == ErrTooManyAttempts }

// RetryAfterSeconds rounds RetryAfter up to whole seconds.
func (e *RetryError) RetryAfterSeconds() int {
	return ceilSeconds(e.RetryAfter)
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
