package authcore

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Login authenticates email and password, plus a TOTP or backup code for
// accounts with 2FA, and opens a new session.
//
// An unknown email, a wrong password, an inactive account and a wrong
// second factor all return [ErrInvalidCredentials]. Failures count toward
// the lockout; once locked, every attempt returns a [*LockedError] until
// the lock expires, even with the right password. Wrong TOTP codes also
// feed the per-account TOTP lock, which surfaces here as a *LockedError.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	email := normalizeEmail(req.Email)

	if d := e.throttle.Check(ctx, email); !d.Allowed {
		return nil, e.loginLocked(ctx, "", d.RetryAfter)
	}

	user, err := e.users.FindUserByEmail(ctx, email)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, e.unavailable("find user", err)
	}
	if user == nil || err != nil {
		e.hasher.VerifyDummy(req.Password)
		return nil, e.loginFailed(ctx, email, "")
	}

	if !e.hasher.Verify(req.Password, user.PasswordHash) || !user.Active {
		return nil, e.loginFailed(ctx, email, user.ID)
	}

	if e.config.EmailVerification.RequireForLogin && user.Provider == ProviderPassword && !user.EmailVerified {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, "", ErrEmailNotVerified, nil)
		return nil, ErrEmailNotVerified
	}

	result := &LoginResult{
		UserID:           user.ID,
		EmailVerified:    user.EmailVerified,
		TwoFactorEnabled: user.TwoFactor.Enabled,
	}

	if user.TwoFactor.Enabled {
		if err := e.checkSecondFactor(ctx, user, req, result); err != nil {
			var retry *RetryError
			switch {
			case errors.As(err, &retry):
				e.throttle.RecordFailure(ctx, email)
				return nil, e.loginLocked(ctx, user.ID, retry.RetryAfter)
			case errors.Is(err, ErrInvalidCredentials):
				return nil, e.loginFailed(ctx, email, user.ID)
			}
			return nil, err
		}
	}

	e.throttle.Clear(ctx, email)
	e.upgradeHash(ctx, user, req.Password)

	tokens, sid, err := e.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}
	result.SessionID = sid
	result.Tokens = *tokens

	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, sid, nil, nil)
	return result, nil
}

// checkSecondFactor verifies the TOTP or backup code in req. Either works
// exactly once: a backup code is consumed atomically on the user record and
// a TOTP time step cannot be accepted twice.
func (e *Engine) checkSecondFactor(ctx context.Context, user *UserRecord, req LoginRequest, result *LoginResult) error {
	switch {
	case req.TOTPCode != "":
		return e.verifyTOTP(ctx, user, req.TOTPCode)

	case req.BackupCode != "":
		ok, digest := e.totp.VerifyBackupCode(req.BackupCode, user.TwoFactor.BackupCodeDigests)
		if ok {
			consumed, err := e.users.ConsumeBackupCode(context.WithoutCancel(ctx), user.ID, digest)
			if err != nil {
				return e.unavailable("consume backup code", err)
			}
			ok = consumed
		}
		if !ok {
			e.metricInc(MetricBackupCodeFailed)
			e.emitAudit(ctx, auditEventTwoFactorFailure, false, user.ID, "", ErrInvalidCredentials, func() map[string]string {
				return map[string]string{"method": "backup_code"}
			})
			return ErrInvalidCredentials
		}
		result.UsedBackupCode = true
		result.BackupCodesRemain = max(len(user.TwoFactor.BackupCodeDigests)-1, 0)
		e.metricInc(MetricBackupCodeUsed)
		e.emitAudit(ctx, auditEventBackupCodeUsed, true, user.ID, "", nil, nil)
		return nil

	default:
		e.metricInc(MetricTwoFactorRequired)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, "", ErrTwoFactorRequired, nil)
		return ErrTwoFactorRequired
	}
}

// loginFailed records one failure for email. It returns a *LockedError
// when this failure triggered the lock.
func (e *Engine) loginFailed(ctx context.Context, email, userID string) error {
	d := e.throttle.RecordFailure(ctx, email)
	if !d.Allowed {
		return e.loginLocked(ctx, userID, d.RetryAfter)
	}
	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, "", ErrInvalidCredentials, nil)
	return ErrInvalidCredentials
}

func (e *Engine) loginLocked(ctx context.Context, userID string, retryAfter time.Duration) error {
	err := &LockedError{RetryAfter: retryAfter}
	e.metricInc(MetricLoginLocked)
	e.emitAudit(ctx, auditEventLoginLocked, false, userID, "", err, nil)
	return err
}

// upgradeHash re-hashes the password when the stored digest is outdated.
// Failures are logged; the login itself already succeeded.
func (e *Engine) upgradeHash(ctx context.Context, user *UserRecord, plain string) {
	if !e.config.Password.UpgradeOnLogin || !e.hasher.NeedsRehash(user.PasswordHash) {
		return
	}
	digest, err := e.hasher.HashSecret(plain)
	if err != nil {
		e.logger.Warn("password rehash failed", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	if err := e.users.UpdateUser(ctx, user.ID, UserPatch{PasswordHash: &digest}); err != nil {
		e.logger.Warn("password rehash not stored", zap.String("user_id", user.ID), zap.Error(err))
	}
}
