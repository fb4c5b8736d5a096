// Package otp issues and confirms email verification codes and magic
// links.
//
// A request produces a short numeric code and an unguessable link token.
// Either one confirms the address once. Codes are bound to the newest
// request of a user, expire after CodeTTL and stop working after
// MaxAttempts guesses. Every failed confirmation returns the same
// [ErrInvalidOrExpired] so callers cannot tell why it failed.
package otp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authcore/internal"
	"github.com/MrEthical07/authcore/internal/kv"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrInvalidOrExpired is the single failure of Confirm and ConfirmByLink.
	ErrInvalidOrExpired = errors.New("otp: invalid or expired verification")
	// ErrResendThrottled matches a *ThrottledError.
	ErrResendThrottled = errors.New("otp: resend throttled")
)

// ThrottledError is returned by Request while the resend interval of the
// previous request has not elapsed.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("otp: resend available in %s", e.RetryAfter.Round(time.Second))
}

func (e *ThrottledError) Is(target error) bool { return target == ErrResendThrottled }

// Hasher hashes and verifies codes. *password.Hasher implements it.
type Hasher interface {
	HashSecret(secret string) (string, error)
	Verify(secret, encoded string) bool
}

// Config controls code lifetime and limits.
type Config struct {
	CodeTTL        time.Duration
	ResendInterval time.Duration
	MaxAttempts    int
	Digits         int
	Prefix         string
	// Pepper keys the digest of link tokens.
	Pepper []byte
}

// DefaultConfig returns 6 digit codes valid for 10 minutes, one resend per
// minute and 5 attempts.
func DefaultConfig() Config {
	return Config{
		CodeTTL:        10 * time.Minute,
		ResendInterval: time.Minute,
		MaxAttempts:    5,
		Digits:         6,
		Prefix:         "aev",
	}
}

// Issued carries the plaintext secrets of a new request. They are meant
// for delivery only.
type Issued struct {
	Code              string
	Token             string
	ExpiresAt         time.Time
	ResendAvailableAt time.Time
}

// Verifier stores verification requests in a [kv.Store].
type Verifier struct {
	store  kv.Store
	hasher Hasher
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewVerifier creates a Verifier. Zero fields in cfg take defaults.
func NewVerifier(store kv.Store, hasher Hasher, cfg Config, logger *zap.Logger) *Verifier {
	def := DefaultConfig()
	if cfg.CodeTTL <= 0 {
		cfg.CodeTTL = def.CodeTTL
	}
	if cfg.ResendInterval <= 0 {
		cfg.ResendInterval = def.ResendInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Digits == 0 {
		cfg.Digits = def.Digits
	}
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{store: store, hasher: hasher, cfg: cfg, logger: logger, now: time.Now}
}

func (v *Verifier) resendKey(userID string) string  { return v.cfg.Prefix + ":r:" + userID }
func (v *Verifier) currentKey(userID string) string { return v.cfg.Prefix + ":c:" + userID }
func (v *Verifier) indexKey(userID string) string   { return v.cfg.Prefix + ":u:" + userID }
func (v *Verifier) recordKey(id string) string      { return v.cfg.Prefix + ":rec:" + id }
func (v *Verifier) attemptsKey(id string) string    { return v.cfg.Prefix + ":a:" + id }
func (v *Verifier) consumedKey(id string) string    { return v.cfg.Prefix + ":x:" + id }
func (v *Verifier) tokenKey(digest string) string   { return v.cfg.Prefix + ":t:" + digest }

// Request issues a new code and link token for userID.
func (v *Verifier) Request(ctx context.Context, userID string) (*Issued, error) {
	if userID == "" {
		return nil, errors.New("otp: empty user id")
	}
	now := v.now()

	fresh, err := v.store.SetNX(ctx, v.resendKey(userID), []byte{1}, v.cfg.ResendInterval)
	if err != nil {
		return nil, fmt.Errorf("otp: request: %w", err)
	}
	if !fresh {
		wait, err := v.store.PTTL(ctx, v.resendKey(userID))
		if err != nil || wait <= 0 {
			wait = time.Second
		}
		return nil, &ThrottledError{RetryAfter: wait}
	}

	issued, err := v.issue(ctx, userID, now)
	if err != nil {
		// let the caller retry right away
		_, _ = v.store.Del(context.WithoutCancel(ctx), v.resendKey(userID))
		return nil, err
	}
	return issued, nil
}

func (v *Verifier) issue(ctx context.Context, userID string, now time.Time) (*Issued, error) {
	code, err := internal.NewOTP(v.cfg.Digits)
	if err != nil {
		return nil, err
	}
	codeHash, err := v.hasher.HashSecret(code)
	if err != nil {
		return nil, err
	}
	token := uuid.NewString()

	rec := &Record{
		ID:                uuid.NewString(),
		UserID:            userID,
		CodeHash:          codeHash,
		TokenDigest:       internal.TokenDigest(v.cfg.Pepper, token),
		CreatedAt:         now,
		ExpiresAt:         now.Add(v.cfg.CodeTTL),
		ResendAvailableAt: now.Add(v.cfg.ResendInterval),
	}

	ttl := v.cfg.CodeTTL
	if err := v.store.SetAndIndex(ctx, v.recordKey(rec.ID), encodeRecord(rec), ttl, v.indexKey(userID), rec.ID); err != nil {
		return nil, fmt.Errorf("otp: request: %w", err)
	}
	if err := v.store.Set(ctx, v.tokenKey(rec.TokenDigest), []byte(rec.ID), ttl); err != nil {
		return nil, fmt.Errorf("otp: request: %w", err)
	}
	if err := v.store.Set(ctx, v.currentKey(userID), []byte(rec.ID), ttl); err != nil {
		return nil, fmt.Errorf("otp: request: %w", err)
	}

	return &Issued{
		Code:              code,
		Token:             token,
		ExpiresAt:         rec.ExpiresAt,
		ResendAvailableAt: rec.ResendAvailableAt,
	}, nil
}

// Confirm checks code against the newest request of userID.
func (v *Verifier) Confirm(ctx context.Context, userID, code string) error {
	id, err := v.store.Get(ctx, v.currentKey(userID))
	if err != nil {
		return v.lookupFailed(err)
	}
	rec, err := v.load(ctx, string(id))
	if err != nil || rec.UserID != userID {
		return ErrInvalidOrExpired
	}
	if !v.spendAttempt(ctx, rec) {
		return ErrInvalidOrExpired
	}
	if len(code) != v.cfg.Digits || !internal.IsDigits(code) || !v.hasher.Verify(code, rec.CodeHash) {
		return ErrInvalidOrExpired
	}
	return v.consume(ctx, rec)
}

// ConfirmByLink checks a magic-link token and returns the user it was
// issued to.
func (v *Verifier) ConfirmByLink(ctx context.Context, token string) (string, error) {
	if _, err := uuid.Parse(token); err != nil {
		return "", ErrInvalidOrExpired
	}
	digest := internal.TokenDigest(v.cfg.Pepper, token)
	id, err := v.store.Get(ctx, v.tokenKey(digest))
	if err != nil {
		return "", v.lookupFailed(err)
	}
	rec, err := v.load(ctx, string(id))
	if err != nil || !internal.ConstantTimeEqual(rec.TokenDigest, digest) {
		return "", ErrInvalidOrExpired
	}
	if !v.spendAttempt(ctx, rec) {
		return "", ErrInvalidOrExpired
	}
	if err := v.consume(ctx, rec); err != nil {
		return "", err
	}
	return rec.UserID, nil
}

func (v *Verifier) lookupFailed(err error) error {
	if !errors.Is(err, kv.ErrNotFound) {
		v.logger.Error("verification lookup failed", zap.Error(err))
	}
	return ErrInvalidOrExpired
}

func (v *Verifier) load(ctx context.Context, id string) (*Record, error) {
	data, err := v.store.Get(ctx, v.recordKey(id))
	if err != nil {
		return nil, err
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}
	if !v.now().Before(rec.ExpiresAt) {
		return nil, ErrInvalidOrExpired
	}
	return rec, nil
}

// spendAttempt counts one confirmation attempt against rec and reports
// whether it is still within the limit.
func (v *Verifier) spendAttempt(ctx context.Context, rec *Record) bool {
	ttl := rec.ExpiresAt.Sub(v.now())
	if ttl <= 0 {
		return false
	}
	n, err := v.store.IncrWithTTL(context.WithoutCancel(ctx), v.attemptsKey(rec.ID), ttl)
	if err != nil {
		v.logger.Error("verification attempt count failed", zap.Error(err))
		return false
	}
	return n <= int64(v.cfg.MaxAttempts)
}

func (v *Verifier) consume(ctx context.Context, rec *Record) error {
	ctx = context.WithoutCancel(ctx)
	ttl := rec.ExpiresAt.Sub(v.now())
	if ttl <= 0 {
		return ErrInvalidOrExpired
	}
	first, err := v.store.SetNX(ctx, v.consumedKey(rec.ID), []byte{1}, ttl)
	if err != nil {
		v.logger.Error("verification consume failed", zap.Error(err))
		return ErrInvalidOrExpired
	}
	if !first {
		return ErrInvalidOrExpired
	}
	v.purge(ctx, rec.UserID)
	return nil
}

// purge deletes every outstanding request of userID.
func (v *Verifier) purge(ctx context.Context, userID string) {
	ids, err := v.store.Members(ctx, v.indexKey(userID))
	if err != nil {
		v.logger.Warn("verification purge failed", zap.Error(err))
		return
	}
	keys := []string{v.currentKey(userID)}
	for _, id := range ids {
		if data, err := v.store.Get(ctx, v.recordKey(id)); err == nil {
			if rec, err := decodeRecord(data); err == nil {
				keys = append(keys, v.tokenKey(rec.TokenDigest))
			}
		}
		if _, err := v.store.DeleteAndUnindex(ctx, v.recordKey(id), v.indexKey(userID), id); err != nil {
			v.logger.Warn("verification purge failed", zap.Error(err))
		}
		keys = append(keys, v.attemptsKey(id))
	}
	if _, err := v.store.Del(ctx, keys...); err != nil {
		v.logger.Warn("verification purge failed", zap.Error(err))
	}
}
