package authcore

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/otp"
	"go.uber.org/zap"
)

// startVerification issues a code and link for user and hands them to the
// notifier. Delivery failures are logged only.
func (e *Engine) startVerification(ctx context.Context, user *UserRecord) (*VerificationState, error) {
	issued, err := e.verifier.Request(ctx, user.ID)
	if err != nil {
		var throttled *otp.ThrottledError
		if errors.As(err, &throttled) {
			e.metricInc(MetricEmailVerificationThrottled)
			return nil, &RetryError{RetryAfter: throttled.RetryAfter}
		}
		return nil, err
	}
	e.metricInc(MetricEmailVerificationRequest)

	link := e.verificationLink(issued.Token)
	// delivery outlives the request that triggered it
	if err := e.notifier.SendVerificationMessage(context.WithoutCancel(ctx), user.Email, issued.Code, link); err != nil {
		e.logger.Warn("verification delivery failed",
			zap.String("user_id", user.ID),
			zap.String("destination", maskEmail(user.Email)),
			zap.Error(err),
		)
	}
	e.emitAudit(ctx, auditEventEmailVerificationSent, true, user.ID, "", nil, nil)

	return &VerificationState{
		MaskedDestination: maskEmail(user.Email),
		ExpiresAt:         issued.ExpiresAt,
		ResendAvailableAt: issued.ResendAvailableAt,
	}, nil
}

func (e *Engine) verificationLink(token string) string {
	base := e.config.EmailVerification.LinkBaseURL
	if base == "" {
		return token
	}
	u, err := url.Parse(base)
	if err != nil {
		return token
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// RequestEmailVerification sends a fresh code and link to email. The
// result looks the same whether or not the address belongs to an
// unverified account. The resend throttle is applied per address to every
// address, known or not, so a [*RetryError] reveals nothing either.
func (e *Engine) RequestEmailVerification(ctx context.Context, email string) (*VerificationState, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	email = normalizeEmail(email)
	now := time.Now()
	decoy := &VerificationState{
		MaskedDestination: maskEmail(email),
		ExpiresAt:         now.Add(e.config.EmailVerification.CodeTTL),
		ResendAvailableAt: now.Add(e.config.EmailVerification.ResendInterval),
	}

	if wait, ok := e.admitVerificationRequest(ctx, email); !ok {
		e.metricInc(MetricEmailVerificationThrottled)
		return nil, &RetryError{RetryAfter: wait}
	}

	user, err := e.users.FindUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			e.logger.Error("verification lookup failed", zap.Error(err))
		}
		return decoy, nil
	}
	if user == nil || user.EmailVerified || !user.Active {
		return decoy, nil
	}

	state, err := e.startVerification(ctx, user)
	if err != nil {
		var retry *RetryError
		if errors.As(err, &retry) {
			// the account still has a code in flight, from Register for
			// instance; unknown addresses get no error here either
			e.emitAudit(ctx, auditEventEmailVerificationFailed, false, user.ID, "", err, nil)
			return decoy, nil
		}
		e.logger.Error("verification request failed", zap.String("user_id", user.ID), zap.Error(err))
		return decoy, nil
	}
	return state, nil
}

// admitVerificationRequest takes the per-address resend marker. It reports
// the remaining wait when the marker is already held. Store failures admit
// the request; the verifier still throttles per account.
func (e *Engine) admitVerificationRequest(ctx context.Context, email string) (time.Duration, bool) {
	key := e.config.EmailVerification.Prefix + ":re:" + internal.TokenDigest(e.config.Security.Pepper, email)
	fresh, err := e.store.SetNX(ctx, key, []byte{1}, e.config.EmailVerification.ResendInterval)
	if err != nil {
		e.logger.Warn("verification request gate failed", zap.Error(err))
		return 0, true
	}
	if fresh {
		return 0, true
	}
	wait, err := e.store.PTTL(ctx, key)
	if err != nil || wait <= 0 {
		wait = time.Second
	}
	return wait, false
}

// ConfirmEmail checks code against the newest verification request of
// userID and marks the email verified. Every failure is
// [ErrVerificationInvalid].
func (e *Engine) ConfirmEmail(ctx context.Context, userID, code string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}
	if err := e.verifier.Confirm(ctx, userID, code); err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		e.emitAudit(ctx, auditEventEmailVerificationFailed, false, userID, "", ErrVerificationInvalid, nil)
		return ErrVerificationInvalid
	}
	return e.markVerified(ctx, userID)
}

// ConfirmEmailLink consumes a magic-link token and returns the verified
// user's ID.
func (e *Engine) ConfirmEmailLink(ctx context.Context, token string) (string, error) {
	if e == nil || e.users == nil {
		return "", ErrEngineNotReady
	}
	userID, err := e.verifier.ConfirmByLink(ctx, token)
	if err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		e.emitAudit(ctx, auditEventEmailVerificationFailed, false, "", "", ErrVerificationInvalid, nil)
		return "", ErrVerificationInvalid
	}
	if err := e.markVerified(ctx, userID); err != nil {
		return "", err
	}
	return userID, nil
}

func (e *Engine) markVerified(ctx context.Context, userID string) error {
	verified := true
	// the code is already consumed; the flag must land
	if err := e.users.UpdateUser(context.WithoutCancel(ctx), userID, UserPatch{EmailVerified: &verified}); err != nil {
		return e.unavailable("mark email verified", err)
	}
	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEventEmailVerificationDone, true, userID, "", nil, nil)
	return nil
}
