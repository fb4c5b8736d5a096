package authcore

import (
	"context"
	"time"
)

// VerifyAccess checks an access token: revocation first, then signature,
// expiry and type. Every failure is [ErrTokenInvalid].
func (e *Engine) VerifyAccess(ctx context.Context, accessToken string) (*AccessInfo, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricValidateLatency, time.Since(start))
	}()

	if !looksLikeJWT(accessToken) {
		return nil, ErrTokenInvalid
	}
	claims, err := e.tokens.VerifyAccess(ctx, accessToken)
	if err != nil {
		return nil, ErrTokenInvalid
	}
	return &AccessInfo{
		UserID:        claims.UserID(),
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		SessionID:     claims.SessionID,
		TokenID:       claims.ID,
		ExpiresAt:     claims.Expiry(),
	}, nil
}

// VerifyRefresh checks a refresh token without rotating it.
func (e *Engine) VerifyRefresh(ctx context.Context, refreshToken string) (string, error) {
	if e == nil || e.tokens == nil {
		return "", ErrEngineNotReady
	}
	if !looksLikeJWT(refreshToken) {
		return "", ErrTokenInvalid
	}
	claims, err := e.tokens.VerifyRefresh(ctx, refreshToken)
	if err != nil {
		return "", ErrTokenInvalid
	}
	return claims.UserID(), nil
}
