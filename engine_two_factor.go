package authcore

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// EnableTwoFactor starts TOTP setup after re-checking the password. The
// new secret and backup codes are stored as pending; 2FA is not enforced
// until [Engine.VerifyTwoFactorSetup] succeeds. Calling it again while
// setup is pending replaces the pending secret.
func (e *Engine) EnableTwoFactor(ctx context.Context, userID, password string) (*TwoFactorSetup, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	user, err := e.lookupByID(ctx, userID, ErrInvalidCredentials)
	if err != nil {
		return nil, err
	}
	if user.TwoFactor.Enabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}
	if !e.hasher.Verify(password, user.PasswordHash) {
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, userID, "", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	secret, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	codes, err := e.totp.GenerateBackupCodes()
	if err != nil {
		return nil, err
	}
	uri := e.totp.ProvisioningURI(secret.Base32, user.Email)
	png, err := e.totp.QRCode(uri, e.config.TOTP.QRCodeSize)
	if err != nil {
		// the URI alone is enough to finish setup
		e.logger.Warn("totp qr code failed", zap.String("user_id", userID), zap.Error(err))
	}

	pending := TwoFactor{
		SecretBase32:      secret.Base32,
		BackupCodeDigests: e.totp.HashBackupCodes(codes),
		SetupPending:      true,
	}
	if err := e.users.UpdateUser(ctx, userID, UserPatch{TwoFactor: &pending}); err != nil {
		return nil, e.unavailable("store pending totp", err)
	}

	e.emitAudit(ctx, auditEventTwoFactorSetup, true, userID, "", nil, nil)
	return &TwoFactorSetup{
		SecretBase32:    secret.Base32,
		ProvisioningURI: uri,
		QRCodePNG:       png,
		BackupCodes:     codes,
	}, nil
}

// VerifyTwoFactorSetup completes setup with a code from the authenticator.
// A wrong code leaves 2FA disabled and the setup pending.
func (e *Engine) VerifyTwoFactorSetup(ctx context.Context, userID, code string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}
	user, err := e.lookupByID(ctx, userID, ErrTwoFactorNotEnabled)
	if err != nil {
		return err
	}
	if user.TwoFactor.Enabled {
		return ErrTwoFactorAlreadyEnabled
	}
	if !user.TwoFactor.SetupPending || user.TwoFactor.SecretBase32 == "" {
		return ErrTwoFactorNotEnabled
	}
	if err := e.verifyTOTP(ctx, user, code); err != nil {
		return err
	}

	enabled := user.TwoFactor
	enabled.Enabled = true
	enabled.SetupPending = false
	if err := e.users.UpdateUser(ctx, userID, UserPatch{TwoFactor: &enabled}); err != nil {
		return e.unavailable("enable totp", err)
	}

	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, userID, "", nil, nil)
	return nil
}

// DisableTwoFactor clears the secret and backup codes. It needs both the
// password and a current TOTP code. A wrong password does not use up the
// code.
func (e *Engine) DisableTwoFactor(ctx context.Context, userID, password, code string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}
	user, err := e.lookupByID(ctx, userID, ErrTwoFactorNotEnabled)
	if err != nil {
		return err
	}
	if !user.TwoFactor.Enabled {
		return ErrTwoFactorNotEnabled
	}
	if !e.hasher.Verify(password, user.PasswordHash) {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, userID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}
	if err := e.verifyTOTP(ctx, user, code); err != nil {
		return err
	}

	if err := e.users.UpdateUser(ctx, userID, UserPatch{TwoFactor: &TwoFactor{}}); err != nil {
		return e.unavailable("disable totp", err)
	}

	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, auditEventTwoFactorDisabled, true, userID, "", nil, nil)
	return nil
}

// RegenerateBackupCodes replaces every backup code after checking a
// current TOTP code. The old codes stop working at once.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, code string) ([]string, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	user, err := e.lookupByID(ctx, userID, ErrTwoFactorNotEnabled)
	if err != nil {
		return nil, err
	}
	if !user.TwoFactor.Enabled {
		return nil, ErrTwoFactorNotEnabled
	}
	if err := e.verifyTOTP(ctx, user, code); err != nil {
		return nil, err
	}

	codes, err := e.totp.GenerateBackupCodes()
	if err != nil {
		return nil, err
	}
	next := user.TwoFactor
	next.BackupCodeDigests = e.totp.HashBackupCodes(codes)
	if err := e.users.UpdateUser(ctx, userID, UserPatch{TwoFactor: &next}); err != nil {
		return nil, e.unavailable("store backup codes", err)
	}

	e.metricInc(MetricBackupCodeRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, userID, "", nil, nil)
	return codes, nil
}

// verifyTOTP checks code against the user's secret. Wrong codes count toward
// a per-user lock shared by every flow that takes a TOTP code, and a time
// step that was already accepted once is refused.
//
// It returns nil, [ErrInvalidCredentials], a [*RetryError] while the lock
// holds, or [ErrUnavailable].
func (e *Engine) verifyTOTP(ctx context.Context, user *UserRecord, code string) error {
	if d := e.totpThrottle.Check(ctx, user.ID); !d.Allowed {
		err := &RetryError{RetryAfter: d.RetryAfter}
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, user.ID, "", err, nil)
		return err
	}

	ok, counter := e.totp.VerifyCounter(user.TwoFactor.SecretBase32, code, time.Now())
	if ok {
		fresh, err := e.users.AdvanceTOTPCounter(context.WithoutCancel(ctx), user.ID, counter)
		if err != nil {
			return e.unavailable("advance totp counter", err)
		}
		ok = fresh
	}
	if !ok {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, user.ID, "", ErrInvalidCredentials, nil)
		if d := e.totpThrottle.RecordFailure(ctx, user.ID); !d.Allowed {
			e.logger.Warn("totp locked", zap.String("user_id", user.ID))
			return &RetryError{RetryAfter: d.RetryAfter}
		}
		return ErrInvalidCredentials
	}

	e.totpThrottle.Clear(ctx, user.ID)
	return nil
}
