package authcore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal"
	internalaudit "github.com/MrEthical07/authcore/internal/audit"
	"github.com/MrEthical07/authcore/internal/kv"
	"github.com/MrEthical07/authcore/jwt"
	"github.com/MrEthical07/authcore/otp"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/revocation"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/throttle"
	"github.com/MrEthical07/authcore/totp"
	"go.uber.org/zap"
)

// Engine runs every authentication flow. It is safe for concurrent use;
// all shared state lives in the keyed store and the UserStore.
type Engine struct {
	config   Config
	logger   *zap.Logger
	users    UserStore
	notifier Notifier

	store kv.Store
	local *kv.Memory

	hasher     *password.Hasher
	tokens     *jwt.Manager
	revocation *revocation.Store
	sessions   *session.Registry
	throttle   *throttle.Throttle
	totp       *totp.Manager
	// wrong TOTP codes per user id, across every flow that takes one
	totpThrottle *throttle.Throttle
	verifier     *otp.Verifier

	audit   *internalaudit.Dispatcher
	metrics *Metrics
}

// Close drains pending audit events and stops the local store sweeper.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	if e.local != nil {
		e.local.Close()
	}
}

// AuditDropped reports audit events dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns the current metric values.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// issueTokens signs a new pair for user, records its refresh digest and
// opens a session bound to it. Digests pushed out by Session.MaxPerUser
// are revoked along with their sessions.
func (e *Engine) issueTokens(ctx context.Context, user *UserRecord) (*TokenPair, string, error) {
	sub := jwt.Subject{UserID: user.ID, Email: user.Email, EmailVerified: user.EmailVerified, SessionID: newSessionID()}
	access, err := e.tokens.IssueAccess(sub, 0)
	if err != nil {
		return nil, "", err
	}
	refresh, err := e.tokens.IssueRefresh(sub)
	if err != nil {
		return nil, "", err
	}
	digest := e.revocation.Digest(refresh.Value)

	evicted, err := e.users.AddRefreshDigest(ctx, user.ID, digest, e.config.Session.MaxPerUser)
	if err != nil {
		return nil, "", e.unavailable("store refresh digest", err)
	}
	if len(evicted) > 0 {
		e.evictSessions(ctx, user.ID, evicted)
	}
	sid, err := e.sessions.Create(ctx, session.CreateParams{
		ID:               sub.SessionID,
		UserID:           user.ID,
		RefreshTokenHash: digest,
		UserAgent:        clientFromContext(ctx).UserAgent,
		IP:               clientFromContext(ctx).IP,
		ExpiresAt:        refresh.ExpiresAt,
	})
	if err != nil {
		// an unbound refresh token must not stay usable
		if rmErr := e.users.RemoveRefreshDigest(context.WithoutCancel(ctx), user.ID, digest); rmErr != nil {
			e.logger.Error("refresh digest rollback failed", zap.String("user_id", user.ID), zap.Error(rmErr))
		}
		return nil, "", e.unavailable("create session", err)
	}
	e.metricInc(MetricSessionCreated)

	return &TokenPair{
		AccessToken:      access.Value,
		RefreshToken:     refresh.Value,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, sid, nil
}

// newSessionID picks the id of a session before it exists so access tokens
// can carry it. An empty id lets the registry pick one.
func newSessionID() string {
	sid, err := internal.NewSessionID()
	if err != nil {
		return ""
	}
	return sid.String()
}

// evictSessions ends the sessions whose digests fell off the user record.
// The digests are blacklisted for a full refresh lifetime so the evicted
// tokens read as revoked, not as rotated-away reuse.
func (e *Engine) evictSessions(ctx context.Context, userID string, digests []string) {
	ctx = context.WithoutCancel(ctx)
	until := time.Now().Add(e.config.JWT.RefreshTTL)
	for _, d := range digests {
		e.revocation.RevokeDigest(ctx, d, until)
		e.metricInc(MetricTokenRevoked)

		sess, err := e.sessions.FindByRefreshHash(ctx, userID, d)
		if err != nil {
			continue
		}
		if _, err := e.sessions.Revoke(ctx, userID, sess.ID); err != nil {
			e.logger.Warn("evicted session revoke failed", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		e.metricInc(MetricSessionRevoked)
		e.emitAudit(ctx, auditEventSessionRevoked, true, userID, sess.ID, nil, func() map[string]string {
			return map[string]string{"reason": "session_limit"}
		})
	}
}

// unavailable logs a backend failure and returns the opaque error callers
// see.
func (e *Engine) unavailable(op string, err error) error {
	if errors.Is(err, kv.ErrUnavailable) {
		e.logger.Error("shared store failed", zap.String("op", op), zap.Error(errors.Join(ErrServiceDegraded, err)))
	} else {
		e.logger.Error("backend failed", zap.String("op", op), zap.Error(err))
	}
	return ErrUnavailable
}

// lookupByID maps user store errors onto the engine taxonomy. notFound is
// what callers see when the user is missing.
func (e *Engine) lookupByID(ctx context.Context, id string, notFound error) (*UserRecord, error) {
	user, err := e.users.FindUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, notFound
		}
		return nil, e.unavailable("find user", err)
	}
	if user == nil {
		return nil, notFound
	}
	return user, nil
}

func normalizeEmail(email string) string {
	return throttle.Normalize(email)
}

// validEmail is a shape check only; ownership is proven by verification.
func validEmail(email string) bool {
	if len(email) < 3 || len(email) > 254 || strings.ContainsAny(email, " \t\r\n") {
		return false
	}
	at := strings.LastIndexByte(email, '@')
	return at > 0 && at < len(email)-1 && strings.IndexByte(email[at+1:], '.') > 0
}

// maskEmail keeps the first character of the local part and the domain:
// "alice@example.com" becomes "a****@example.com".
func maskEmail(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	local := email[:at]
	return local[:1] + strings.Repeat("*", max(len(local)-1, 3)) + email[at:]
}

func looksLikeJWT(token string) bool {
	if len(token) > 8192 || strings.Count(token, ".") != 2 {
		return false
	}
	for _, part := range strings.Split(token, ".") {
		if part == "" {
			return false
		}
	}
	return true
}
