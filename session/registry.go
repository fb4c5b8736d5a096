package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/kv"
)

const defaultPrefix = "ass"

var (
	// ErrNotFound is returned when a session does not exist or expired.
	ErrNotFound = errors.New("session: not found")
	// ErrRefreshHashMismatch is returned by Rotate when the stored refresh
	// digest is not the one presented.
	ErrRefreshHashMismatch = errors.New("session: refresh hash mismatch")
	// ErrInvalidParams is returned by Create for missing or expired input.
	ErrInvalidParams = errors.New("session: invalid parameters")
)

// Registry stores sessions in a [kv.Store].
type Registry struct {
	store  kv.Store
	prefix string
	now    func() time.Time
}

// NewRegistry creates a Registry. An empty prefix selects the default
// key namespace.
func NewRegistry(store kv.Store, prefix string) *Registry {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Registry{store: store, prefix: prefix, now: time.Now}
}

func (r *Registry) key(sessionID string) string {
	return r.prefix + ":s:" + sessionID
}

func (r *Registry) userKey(userID string) string {
	return r.prefix + ":u:" + userID
}

// Create records a new session and returns its ID.
func (r *Registry) Create(ctx context.Context, p CreateParams) (string, error) {
	now := r.now()
	ttl := p.ExpiresAt.Sub(now)
	if p.UserID == "" || p.RefreshTokenHash == "" || ttl <= 0 {
		return "", ErrInvalidParams
	}

	id := p.ID
	if id == "" {
		sid, err := internal.NewSessionID()
		if err != nil {
			return "", err
		}
		id = sid.String()
	} else if _, err := internal.ParseSessionID(id); err != nil {
		return "", ErrInvalidParams
	}

	sess := &Session{
		ID:                id,
		UserID:            p.UserID,
		RefreshTokenHash:  p.RefreshTokenHash,
		DeviceFingerprint: internal.Fingerprint(p.UserAgent, p.IP),
		Device:            ParseDevice(p.UserAgent),
		IPAddress:         p.IP,
		CreatedAt:         now,
		LastActiveAt:      now,
		ExpiresAt:         p.ExpiresAt,
	}
	data, err := Encode(sess)
	if err != nil {
		return "", err
	}

	if err := r.store.SetAndIndex(ctx, r.key(sess.ID), data, ttl, r.userKey(sess.UserID), sess.ID); err != nil {
		return "", fmt.Errorf("session: create: %w", err)
	}
	return sess.ID, nil
}

// Get returns a live session.
func (r *Registry) Get(ctx context.Context, sessionID string) (*Session, error) {
	data, err := r.store.Get(ctx, r.key(sessionID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("session: get: %w", err)
	}
	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if !r.now().Before(sess.ExpiresAt) {
		return nil, ErrNotFound
	}
	return sess, nil
}

// ListByUser returns the live sessions of userID, most recently active
// first. Index members whose record is gone are pruned.
func (r *Registry) ListByUser(ctx context.Context, userID string) ([]Session, error) {
	ids, err := r.store.Members(ctx, r.userKey(userID))
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}

	sessions := make([]Session, 0, len(ids))
	var dangling []string
	for _, id := range ids {
		sess, err := r.Get(ctx, id)
		switch {
		case err == nil:
			if sess.UserID != userID {
				dangling = append(dangling, id)
				continue
			}
			sessions = append(sessions, *sess)
		case errors.Is(err, ErrNotFound):
			dangling = append(dangling, id)
		case errors.Is(err, ErrCorrupt), errors.Is(err, ErrUnsupportedVersion):
			if _, delErr := r.store.DeleteAndUnindex(ctx, r.key(id), r.userKey(userID), id); delErr != nil {
				return nil, fmt.Errorf("session: list: %w", delErr)
			}
		default:
			return nil, err
		}
	}

	if len(dangling) > 0 {
		if err := r.store.Unindex(ctx, r.userKey(userID), dangling...); err != nil {
			return nil, fmt.Errorf("session: list: %w", err)
		}
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].LastActiveAt.After(sessions[j].LastActiveAt)
	})
	return sessions, nil
}

// Touch moves LastActiveAt to now without changing the expiry.
func (r *Registry) Touch(ctx context.Context, sessionID string) error {
	sess, err := r.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	sess.LastActiveAt = r.now()
	return r.update(ctx, sess)
}

// Rotate replaces the refresh digest of a session and extends it to
// expiresAt. oldHash must match the stored digest.
func (r *Registry) Rotate(ctx context.Context, sessionID, oldHash, newHash string, expiresAt time.Time) (*Session, error) {
	sess, err := r.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !internal.ConstantTimeEqual(sess.RefreshTokenHash, oldHash) {
		return nil, ErrRefreshHashMismatch
	}
	sess.RefreshTokenHash = newHash
	sess.LastActiveAt = r.now()
	sess.ExpiresAt = expiresAt
	if err := r.update(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (r *Registry) update(ctx context.Context, sess *Session) error {
	ttl := sess.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return ErrNotFound
	}
	data, err := Encode(sess)
	if err != nil {
		return err
	}
	// a session revoked since it was read must stay revoked
	ok, err := r.store.UpdateIndexed(ctx, r.key(sess.ID), data, ttl, r.userKey(sess.UserID), sess.ID)
	if err != nil {
		return fmt.Errorf("session: update: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// FindByRefreshHash returns the session of userID bound to a refresh
// digest.
func (r *Registry) FindByRefreshHash(ctx context.Context, userID, hash string) (*Session, error) {
	sessions, err := r.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range sessions {
		if internal.ConstantTimeEqual(sessions[i].RefreshTokenHash, hash) {
			return &sessions[i], nil
		}
	}
	return nil, ErrNotFound
}

// Revoke deletes one session of userID. It reports whether the session
// existed.
func (r *Registry) Revoke(ctx context.Context, userID, sessionID string) (bool, error) {
	sess, err := r.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			_ = r.store.Unindex(ctx, r.userKey(userID), sessionID)
			return false, nil
		}
		return false, err
	}
	if sess.UserID != userID {
		return false, nil
	}
	existed, err := r.store.DeleteAndUnindex(ctx, r.key(sessionID), r.userKey(userID), sessionID)
	if err != nil {
		return false, fmt.Errorf("session: revoke: %w", err)
	}
	return existed, nil
}

// RevokeAll deletes every session of userID and returns the records that
// were removed.
func (r *Registry) RevokeAll(ctx context.Context, userID string) ([]Session, error) {
	sessions, err := r.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	revoked := make([]Session, 0, len(sessions))
	for _, sess := range sessions {
		existed, err := r.store.DeleteAndUnindex(ctx, r.key(sess.ID), r.userKey(userID), sess.ID)
		if err != nil {
			return revoked, fmt.Errorf("session: revoke all: %w", err)
		}
		if existed {
			revoked = append(revoked, sess)
		}
	}
	return revoked, nil
}
