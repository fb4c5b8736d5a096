package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/session"
	"go.uber.org/zap"
)

var errRefreshReuse = errors.New("refresh token reuse")

// Refresh exchanges a refresh token for a new pair.
//
// The stored digest is swapped atomically, so of two concurrent calls with
// the same token at most one succeeds and the user always keeps a valid
// digest. The old token is not blacklisted; it stops working because its
// digest is gone. With Security.RevokeOnRefreshReuse set, presenting such
// a token revokes every session of the user.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	if !looksLikeJWT(refreshToken) {
		return nil, e.refreshFailed(ctx, "", nil)
	}

	claims, err := e.tokens.VerifyRefresh(ctx, refreshToken)
	if err != nil {
		return nil, e.refreshFailed(ctx, "", err)
	}
	user, err := e.lookupByID(ctx, claims.UserID(), ErrTokenInvalid)
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			return nil, e.refreshFailed(ctx, claims.UserID(), err)
		}
		return nil, err
	}
	if !user.Active {
		return nil, e.refreshFailed(ctx, user.ID, nil)
	}

	oldDigest := e.revocation.Digest(refreshToken)
	prev, sid := e.sessionFor(ctx, user.ID, oldDigest)

	sub := jwt.Subject{UserID: user.ID, Email: user.Email, EmailVerified: user.EmailVerified, SessionID: sid}
	access, err := e.tokens.IssueAccess(sub, 0)
	if err != nil {
		return nil, err
	}
	refresh, err := e.tokens.IssueRefresh(sub)
	if err != nil {
		return nil, err
	}
	newDigest := e.revocation.Digest(refresh.Value)

	swapped, err := e.users.ReplaceRefreshDigest(ctx, user.ID, oldDigest, newDigest)
	if err != nil {
		return nil, e.unavailable("rotate refresh digest", err)
	}
	if !swapped {
		e.refreshReused(ctx, user.ID)
		return nil, ErrTokenInvalid
	}

	sid = e.rotateSession(ctx, user.ID, prev, sid, oldDigest, newDigest, refresh)

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, user.ID, sid, nil, nil)

	return &RefreshResult{
		UserID:    user.ID,
		SessionID: sid,
		Tokens: TokenPair{
			AccessToken:      access.Value,
			RefreshToken:     refresh.Value,
			AccessExpiresAt:  access.ExpiresAt,
			RefreshExpiresAt: refresh.ExpiresAt,
		},
	}, nil
}

// sessionFor returns the session bound to digest and its id. A session that
// expired or was lost with the shared store comes back nil with a fresh id
// for its replacement.
func (e *Engine) sessionFor(ctx context.Context, userID, digest string) (*session.Session, string) {
	sess, err := e.sessions.FindByRefreshHash(ctx, userID, digest)
	if err == nil {
		return sess, sess.ID
	}
	if !errors.Is(err, session.ErrNotFound) {
		e.logger.Warn("session lookup failed", zap.String("user_id", userID), zap.Error(err))
	}
	return nil, newSessionID()
}

// rotateSession moves prev onto newDigest. When there is no session to move
// one is created under sid so the new refresh token stays revocable through
// it. It returns the id of the session now bound to newDigest.
func (e *Engine) rotateSession(ctx context.Context, userID string, prev *session.Session, sid, oldDigest, newDigest string, refresh jwt.Token) string {
	if prev != nil {
		_, err := e.sessions.Rotate(ctx, prev.ID, oldDigest, newDigest, refresh.ExpiresAt)
		if err == nil {
			return prev.ID
		}
		if !errors.Is(err, session.ErrNotFound) && !errors.Is(err, session.ErrRefreshHashMismatch) {
			e.logger.Warn("session rotate failed", zap.String("user_id", userID), zap.Error(err))
		}
		// revoked or expired meanwhile; never bring the old id back
		sid = newSessionID()
	}

	created, err := e.sessions.Create(ctx, session.CreateParams{
		ID:               sid,
		UserID:           userID,
		RefreshTokenHash: newDigest,
		UserAgent:        clientFromContext(ctx).UserAgent,
		IP:               clientFromContext(ctx).IP,
		ExpiresAt:        refresh.ExpiresAt,
	})
	if err != nil {
		e.logger.Error("session recreate failed", zap.String("user_id", userID), zap.Error(err))
		return ""
	}
	e.metricInc(MetricSessionCreated)
	return created
}

func (e *Engine) refreshReused(ctx context.Context, userID string) {
	e.metricInc(MetricRefreshReuseDetected)
	e.emitAudit(ctx, auditEventRefreshReuseDetected, false, userID, "", errRefreshReuse, nil)
	if !e.config.Security.RevokeOnRefreshReuse {
		return
	}
	e.logger.Warn("refresh token reuse, revoking all sessions", zap.String("user_id", userID))
	if _, err := e.revokeEverything(ctx, userID); err != nil {
		e.logger.Error("reuse revocation incomplete", zap.String("user_id", userID), zap.Error(err))
	}
}

func (e *Engine) refreshFailed(ctx context.Context, userID string, cause error) error {
	if cause != nil {
		e.logger.Debug("refresh rejected", zap.Error(cause))
	}
	e.metricInc(MetricRefreshFailure)
	e.emitAudit(ctx, auditEventRefreshInvalid, false, userID, "", ErrTokenInvalid, nil)
	return ErrTokenInvalid
}
