// Package revocation blacklists tokens until their natural expiry.
//
// Entries are keyed by a peppered HMAC digest of the token so that raw
// tokens never reach the shared store. The same digest is used for
// persisted refresh tokens, which lets callers revoke a token they only
// know by digest.
package revocation

import (
	"context"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/kv"
	"go.uber.org/zap"
)

const defaultPrefix = "arv"

// Config controls key naming and the digest pepper.
type Config struct {
	Prefix string
	Pepper []byte
}

// Store records revoked tokens with a TTL equal to their remaining
// lifetime.
type Store struct {
	kv     kv.Store
	prefix string
	pepper []byte
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Store on top of a keyed store. Pass a *kv.Failover to get
// shared-store semantics with local fallback.
func New(store kv.Store, cfg Config, logger *zap.Logger) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = defaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		kv:     store,
		prefix: cfg.Prefix,
		pepper: cfg.Pepper,
		logger: logger,
		now:    time.Now,
	}
}

// Digest returns the key digest for token.
func (s *Store) Digest(token string) string {
	return internal.TokenDigest(s.pepper, token)
}

func (s *Store) key(digest string) string {
	return s.prefix + ":" + digest
}

// Revoke blacklists token until expiresAt. Tokens that already expired are
// ignored. Store failures are logged, never returned: a failover store
// records the entry locally instead.
func (s *Store) Revoke(ctx context.Context, token string, expiresAt time.Time) {
	s.RevokeDigest(ctx, s.Digest(token), expiresAt)
}

// RevokeDigest is Revoke for a token known only by its digest.
func (s *Store) RevokeDigest(ctx context.Context, digest string, expiresAt time.Time) {
	ttl := expiresAt.Sub(s.now())
	if ttl <= 0 || digest == "" {
		return
	}
	if err := s.kv.Set(context.WithoutCancel(ctx), s.key(digest), []byte{1}, ttl); err != nil {
		s.logger.Error("revocation write failed", zap.Error(err))
	}
}

// IsRevoked reports whether token was revoked and has not yet expired.
// Read errors are logged and count as not revoked.
func (s *Store) IsRevoked(ctx context.Context, token string) bool {
	return s.IsDigestRevoked(ctx, s.Digest(token))
}

// IsDigestRevoked is IsRevoked by digest.
func (s *Store) IsDigestRevoked(ctx context.Context, digest string) bool {
	revoked, err := s.kv.Exists(ctx, s.key(digest))
	if err != nil {
		s.logger.Error("revocation read failed", zap.Error(err))
		return false
	}
	return revoked
}
