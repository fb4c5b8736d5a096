package authcore

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventRegisterSuccess         = "register_success"
	auditEventRegisterFailure         = "register_failure"
	auditEventLoginSuccess            = "login_success"
	auditEventLoginFailure            = "login_failure"
	auditEventLoginLocked             = "login_locked"
	auditEventRefreshSuccess          = "refresh_success"
	auditEventRefreshInvalid          = "refresh_invalid"
	auditEventRefreshReuseDetected    = "refresh_reuse_detected"
	auditEventLogout                  = "logout"
	auditEventLogoutAll               = "logout_all"
	auditEventSessionRevoked          = "session_revoked"
	auditEventTwoFactorSetup          = "two_factor_setup_requested"
	auditEventTwoFactorEnabled        = "two_factor_enabled"
	auditEventTwoFactorDisabled       = "two_factor_disabled"
	auditEventTwoFactorFailure        = "two_factor_failure"
	auditEventBackupCodeUsed          = "backup_code_used"
	auditEventBackupCodesGenerated    = "backup_codes_generated"
	auditEventEmailVerificationSent   = "email_verification_request"
	auditEventEmailVerificationDone   = "email_verification_confirm"
	auditEventEmailVerificationFailed = "email_verification_failure"
)

// AuditErrorCode is the stable, secret-free error label written to audit
// events.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrRefreshReuse       AuditErrorCode = "refresh_reuse"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrVerification       AuditErrorCode = "verification_invalid"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrTwoFactorRequired  AuditErrorCode = "two_factor_required"
	auditErrTwoFactorState     AuditErrorCode = "two_factor_state"
	auditErrEmailNotVerified   AuditErrorCode = "email_not_verified"
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientFromContext(ctx).IP,
		UserAgent: clientFromContext(ctx).UserAgent,
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, errRefreshReuse):
		return auditErrRefreshReuse
	case errors.Is(err, ErrTokenInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrAlreadyRegistered):
		return auditErrDuplicate
	case errors.Is(err, ErrPasswordPolicy), errors.Is(err, ErrInvalidEmail):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrVerificationInvalid):
		return auditErrVerification
	case errors.Is(err, ErrTooManyAttempts):
		return auditErrRateLimited
	case errors.Is(err, ErrTwoFactorRequired):
		return auditErrTwoFactorRequired
	case errors.Is(err, ErrTwoFactorNotEnabled), errors.Is(err, ErrTwoFactorAlreadyEnabled):
		return auditErrTwoFactorState
	case errors.Is(err, ErrEmailNotVerified):
		return auditErrEmailNotVerified
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
