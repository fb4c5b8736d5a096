package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/password"
	"go.uber.org/zap"
)

// Register creates a password account, starts email verification and
// signs the new user in. The returned tokens work before the email is
// verified.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	email := normalizeEmail(req.Email)
	if !validEmail(email) {
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrInvalidEmail, nil)
		return nil, ErrInvalidEmail
	}

	existing, err := e.users.FindUserByEmail(ctx, email)
	switch {
	case err == nil && existing != nil:
		e.metricInc(MetricRegisterDuplicate)
		e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrAlreadyRegistered, nil)
		return nil, ErrAlreadyRegistered
	case err != nil && !errors.Is(err, ErrUserNotFound):
		return nil, e.unavailable("find user", err)
	}

	digest, err := e.hasher.Hash(req.Password)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) || errors.Is(err, password.ErrTooLong) {
			e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrPasswordPolicy, nil)
			return nil, ErrPasswordPolicy
		}
		return nil, err
	}

	userID, err := e.users.InsertUser(ctx, NewUser{
		Email:        email,
		PasswordHash: digest,
		Provider:     ProviderPassword,
		Active:       true,
	})
	if err != nil {
		// lost a race with a concurrent registration
		if errors.Is(err, ErrDuplicateEmail) {
			e.metricInc(MetricRegisterDuplicate)
			e.emitAudit(ctx, auditEventRegisterFailure, false, "", "", ErrAlreadyRegistered, nil)
			return nil, ErrAlreadyRegistered
		}
		return nil, e.unavailable("insert user", err)
	}

	user := &UserRecord{
		ID:       userID,
		Email:    email,
		Provider: ProviderPassword,
		Active:   true,
	}

	// verification problems never fail the registration; a new request
	// can be made later
	verification, err := e.startVerification(ctx, user)
	if err != nil {
		e.logger.Warn("verification request after registration failed", zap.String("user_id", userID), zap.Error(err))
		verification = nil
	}

	tokens, sid, err := e.issueTokens(ctx, user)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegisterSuccess, true, userID, sid, nil, nil)

	return &RegisterResult{
		UserID:        userID,
		SessionID:     sid,
		Tokens:        *tokens,
		EmailVerified: false,
		Verification:  verification,
	}, nil
}
