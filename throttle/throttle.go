// Package throttle slows down password guessing per login identifier.
//
// Failures are recorded in a sliding window. Once MaxFailures land inside
// the window the identifier is locked for LockDuration and the window is
// reset. A successful login clears both.
package throttle

import (
	"context"
	"strings"
	"time"

	"github.com/MrEthical07/authcore/internal/kv"
	"go.uber.org/zap"
)

// Config holds the throttle policy.
type Config struct {
	MaxFailures  int
	Window       time.Duration
	LockDuration time.Duration
	Prefix       string
}

// DefaultConfig returns 5 failures in 15 minutes, locked for 5 minutes.
func DefaultConfig() Config {
	return Config{
		MaxFailures:  5,
		Window:       15 * time.Minute,
		LockDuration: 5 * time.Minute,
		Prefix:       "alt",
	}
}

// Decision is the outcome of a throttle check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Throttle tracks login failures in a [kv.Store].
type Throttle struct {
	store  kv.Store
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Throttle. Zero fields in cfg take their defaults.
func New(store kv.Store, cfg Config, logger *zap.Logger) *Throttle {
	def := DefaultConfig()
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = def.LockDuration
	}
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Throttle{store: store, cfg: cfg, logger: logger, now: time.Now}
}

// Normalize returns the canonical form of a login identifier.
func Normalize(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

func (t *Throttle) windowKey(id string) string {
	return t.cfg.Prefix + ":w:" + id
}

func (t *Throttle) lockKey(id string) string {
	return t.cfg.Prefix + ":l:" + id
}

// Check reports whether id may attempt a login now. Store errors are
// logged and allow the attempt.
func (t *Throttle) Check(ctx context.Context, id string) Decision {
	id = Normalize(id)
	remaining, err := t.store.PTTL(ctx, t.lockKey(id))
	if err != nil {
		t.logger.Error("throttle lock read failed", zap.Error(err))
		return Decision{Allowed: true}
	}
	if remaining > 0 {
		return Decision{RetryAfter: remaining}
	}
	return Decision{Allowed: true}
}

// RecordFailure counts one failed attempt for id. The returned decision
// is not allowed when this failure triggered (or hit) a lock.
func (t *Throttle) RecordFailure(ctx context.Context, id string) Decision {
	// the count must land even if the caller gave up on the request
	ctx = context.WithoutCancel(ctx)
	id = Normalize(id)

	if d := t.Check(ctx, id); !d.Allowed {
		return d
	}

	count, err := t.store.SlidingWindowAdd(ctx, t.windowKey(id), t.now(), t.cfg.Window)
	if err != nil {
		t.logger.Error("throttle window write failed", zap.Error(err))
		return Decision{Allowed: true}
	}
	if count < int64(t.cfg.MaxFailures) {
		return Decision{Allowed: true}
	}

	if err := t.store.Set(ctx, t.lockKey(id), []byte{1}, t.cfg.LockDuration); err != nil {
		t.logger.Error("throttle lock write failed", zap.Error(err))
	}
	if _, err := t.store.Del(ctx, t.windowKey(id)); err != nil {
		t.logger.Warn("throttle window reset failed", zap.Error(err))
	}
	return Decision{RetryAfter: t.cfg.LockDuration}
}

// Clear forgets every failure and lock recorded for id.
func (t *Throttle) Clear(ctx context.Context, id string) {
	id = Normalize(id)
	if _, err := t.store.Del(context.WithoutCancel(ctx), t.windowKey(id), t.lockKey(id)); err != nil {
		t.logger.Warn("throttle clear failed", zap.Error(err))
	}
}
