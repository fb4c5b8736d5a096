package authcore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/session"
	"go.uber.org/zap"
)

// Logout ends the session bound to refreshToken. Both tokens are revoked
// until their natural expiry. accessToken may be empty. A valid access token
// is revoked even when refreshToken is rejected, so a client left with only a
// stale refresh token can still kill its bearer credential.
func (e *Engine) Logout(ctx context.Context, accessToken, refreshToken string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}
	var accessUser string
	if looksLikeJWT(accessToken) {
		if ac, err := e.tokens.VerifyAccess(ctx, accessToken); err == nil {
			e.revocation.Revoke(ctx, accessToken, ac.Expiry())
			e.metricInc(MetricTokenRevoked)
			accessUser = ac.UserID()
		}
	}

	var claims *jwt.Claims
	var err error
	if looksLikeJWT(refreshToken) {
		claims, err = e.tokens.VerifyRefresh(ctx, refreshToken)
	} else {
		err = ErrTokenInvalid
	}
	if err != nil {
		e.emitAudit(ctx, auditEventLogout, false, accessUser, "", ErrTokenInvalid, nil)
		return ErrTokenInvalid
	}
	userID := claims.UserID()
	if accessUser != "" && accessUser != userID {
		e.logger.Warn("logout with tokens of different users",
			zap.String("user_id", userID), zap.String("access_user_id", accessUser))
	}

	e.revocation.Revoke(ctx, refreshToken, claims.Expiry())
	e.metricInc(MetricTokenRevoked)

	// the tokens are dead already; the rest is cleanup and must not be
	// abandoned halfway
	ctx = context.WithoutCancel(ctx)
	digest := e.revocation.Digest(refreshToken)
	if err := e.users.RemoveRefreshDigest(ctx, userID, digest); err != nil {
		e.logger.Warn("refresh digest removal failed", zap.String("user_id", userID), zap.Error(err))
	}

	var sid string
	if sess, err := e.sessions.FindByRefreshHash(ctx, userID, digest); err == nil {
		sid = sess.ID
		if _, err := e.sessions.Revoke(ctx, userID, sess.ID); err != nil {
			e.logger.Warn("session revoke failed", zap.String("user_id", userID), zap.Error(err))
		} else {
			e.metricInc(MetricSessionRevoked)
		}
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, userID, sid, nil, nil)
	return nil
}

// LogoutAll ends every session of the user owning accessToken, revokes each
// session's refresh token and the access token itself. It returns the
// number of sessions ended.
func (e *Engine) LogoutAll(ctx context.Context, accessToken string) (int, error) {
	if e == nil || e.users == nil {
		return 0, ErrEngineNotReady
	}
	claims, err := e.tokens.VerifyAccess(ctx, accessToken)
	if err != nil {
		e.emitAudit(ctx, auditEventLogoutAll, false, "", "", ErrTokenInvalid, nil)
		return 0, ErrTokenInvalid
	}
	userID := claims.UserID()
	ctx = context.WithoutCancel(ctx)

	count, err := e.revokeEverything(ctx, userID)
	e.revocation.Revoke(ctx, accessToken, claims.Expiry())
	e.metricInc(MetricTokenRevoked)
	if err != nil {
		e.emitAudit(ctx, auditEventLogoutAll, false, userID, "", err, nil)
		return count, err
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{"sessions": strconv.Itoa(count)}
	})
	return count, nil
}

// revokeEverything clears the user's refresh digests, deletes all sessions
// and blacklists each session's refresh token by digest.
func (e *Engine) revokeEverything(ctx context.Context, userID string) (int, error) {
	var failed error
	if err := e.users.ClearRefreshDigests(ctx, userID); err != nil {
		failed = e.unavailable("clear refresh digests", err)
	}
	// partial results still get blacklisted below
	revoked, err := e.sessions.RevokeAll(ctx, userID)
	if err != nil {
		failed = e.unavailable("revoke sessions", err)
	}
	for _, sess := range revoked {
		e.revocation.RevokeDigest(ctx, sess.RefreshTokenHash, sess.ExpiresAt)
		e.metricInc(MetricSessionRevoked)
		e.metricInc(MetricTokenRevoked)
	}
	return len(revoked), failed
}

// RevokeSession ends one session of userID and blacklists its refresh
// token.
func (e *Engine) RevokeSession(ctx context.Context, userID, sessionID string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}
	if _, err := internal.ParseSessionID(sessionID); err != nil {
		return ErrSessionNotFound
	}
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil || sess.UserID != userID {
		return ErrSessionNotFound
	}
	ctx = context.WithoutCancel(ctx)
	existed, err := e.sessions.Revoke(ctx, userID, sessionID)
	if err != nil {
		return e.unavailable("revoke session", err)
	}
	if !existed {
		return ErrSessionNotFound
	}
	e.revocation.RevokeDigest(ctx, sess.RefreshTokenHash, sess.ExpiresAt)
	if err := e.users.RemoveRefreshDigest(ctx, userID, sess.RefreshTokenHash); err != nil && !errors.Is(err, ErrUserNotFound) {
		e.logger.Warn("refresh digest removal failed", zap.String("user_id", userID), zap.Error(err))
	}
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionRevoked, true, userID, sessionID, nil, nil)
	return nil
}

// TouchSession records activity on the session an access token belongs to.
// Writes closer together than Session.TouchInterval are skipped. It returns
// [ErrSessionNotFound] when the session is gone or not owned by userID.
func (e *Engine) TouchSession(ctx context.Context, userID, sessionID string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}
	if _, err := internal.ParseSessionID(sessionID); err != nil {
		return ErrSessionNotFound
	}
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil || sess.UserID != userID {
		return ErrSessionNotFound
	}
	if time.Since(sess.LastActiveAt) < e.config.Session.TouchInterval {
		return nil
	}
	if err := e.sessions.Touch(ctx, sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ErrSessionNotFound
		}
		return e.unavailable("touch session", err)
	}
	return nil
}

// ListSessions returns the live sessions of userID, most recently active
// first.
func (e *Engine) ListSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	sessions, err := e.sessions.ListByUser(ctx, userID)
	if err != nil {
		return nil, e.unavailable("list sessions", err)
	}
	out := make([]SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, SessionInfo{
			ID:           s.ID,
			Browser:      s.Device.Browser,
			OS:           s.Device.OS,
			DeviceKind:   s.Device.Kind,
			IPAddress:    s.IPAddress,
			CreatedAt:    s.CreatedAt,
			LastActiveAt: s.LastActiveAt,
			ExpiresAt:    s.ExpiresAt,
		})
	}
	return out, nil
}
