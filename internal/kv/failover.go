package kv

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Failover routes every operation to primary and, when primary reports
// [ErrUnavailable], serves it from fallback instead. Reads also consult
// fallback so that state written during an outage stays visible on this
// instance after the primary recovers.
type Failover struct {
	primary  Store
	fallback Store
	logger   *zap.Logger
	name     string

	degraded   atomic.Bool
	onDegraded func(op string)
}

// FailoverOption customizes a Failover store.
type FailoverOption func(*Failover)

// WithLogger sets the logger used to report degradation.
func WithLogger(l *zap.Logger) FailoverOption {
	return func(f *Failover) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithDegradedHook registers fn to be called once per operation that had to
// be served by the fallback.
func WithDegradedHook(fn func(op string)) FailoverOption {
	return func(f *Failover) { f.onDegraded = fn }
}

// NewFailover wraps primary with fallback. name labels log lines.
func NewFailover(name string, primary, fallback Store, opts ...FailoverOption) *Failover {
	f := &Failover{
		primary:  primary,
		fallback: fallback,
		logger:   zap.NewNop(),
		name:     name,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Degraded reports whether the last primary call failed.
func (f *Failover) Degraded() bool {
	return f.degraded.Load()
}

func (f *Failover) fail(op string, err error) bool {
	if !errors.Is(err, ErrUnavailable) {
		return false
	}
	if f.degraded.CompareAndSwap(false, true) {
		f.logger.Warn("shared store unavailable, using local fallback",
			zap.String("store", f.name),
			zap.String("op", op),
			zap.Error(err),
		)
	}
	if f.onDegraded != nil {
		f.onDegraded(op)
	}
	return true
}

func (f *Failover) ok() {
	if f.degraded.CompareAndSwap(true, false) {
		f.logger.Info("shared store recovered", zap.String("store", f.name))
	}
}

func (f *Failover) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := f.primary.Get(ctx, key)
	switch {
	case err == nil:
		f.ok()
		return v, nil
	case errors.Is(err, ErrNotFound):
		f.ok()
		return f.fallback.Get(ctx, key)
	case f.fail("get", err):
		return f.fallback.Get(ctx, key)
	default:
		return nil, err
	}
}

func (f *Failover) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := f.primary.Set(ctx, key, value, ttl)
	if err == nil {
		f.ok()
		return nil
	}
	if f.fail("set", err) {
		return f.fallback.Set(ctx, key, value, ttl)
	}
	return err
}

func (f *Failover) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	set, err := f.primary.SetNX(ctx, key, value, ttl)
	if err == nil {
		f.ok()
		if !set {
			return false, nil
		}
		// a marker placed locally during an outage still wins
		if exists, _ := f.fallback.Exists(ctx, key); exists {
			return false, nil
		}
		return true, nil
	}
	if f.fail("setnx", err) {
		return f.fallback.SetNX(ctx, key, value, ttl)
	}
	return false, err
}

func (f *Failover) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := f.primary.Exists(ctx, key)
	if err == nil {
		f.ok()
		if exists {
			return true, nil
		}
		return f.fallback.Exists(ctx, key)
	}
	if f.fail("exists", err) {
		return f.fallback.Exists(ctx, key)
	}
	return false, err
}

func (f *Failover) Del(ctx context.Context, keys ...string) (int64, error) {
	local, _ := f.fallback.Del(ctx, keys...)
	n, err := f.primary.Del(ctx, keys...)
	if err == nil {
		f.ok()
		return n + local, nil
	}
	if f.fail("del", err) {
		return local, nil
	}
	return 0, err
}

func (f *Failover) PTTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := f.primary.PTTL(ctx, key)
	if err == nil {
		f.ok()
		if d > 0 {
			return d, nil
		}
		return f.fallback.PTTL(ctx, key)
	}
	if f.fail("pttl", err) {
		return f.fallback.PTTL(ctx, key)
	}
	return 0, err
}

func (f *Failover) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	n, err := f.primary.IncrWithTTL(ctx, key, ttl)
	if err == nil {
		f.ok()
		return n, nil
	}
	if f.fail("incr", err) {
		return f.fallback.IncrWithTTL(ctx, key, ttl)
	}
	return 0, err
}

func (f *Failover) SlidingWindowAdd(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error) {
	n, err := f.primary.SlidingWindowAdd(ctx, key, now, window)
	if err == nil {
		f.ok()
		return n, nil
	}
	if f.fail("window", err) {
		return f.fallback.SlidingWindowAdd(ctx, key, now, window)
	}
	return 0, err
}

func (f *Failover) SetAndIndex(ctx context.Context, key string, value []byte, ttl time.Duration, indexKey, member string) error {
	err := f.primary.SetAndIndex(ctx, key, value, ttl, indexKey, member)
	if err == nil {
		f.ok()
		return nil
	}
	if f.fail("set_index", err) {
		return f.fallback.SetAndIndex(ctx, key, value, ttl, indexKey, member)
	}
	return err
}

func (f *Failover) DeleteAndUnindex(ctx context.Context, key, indexKey, member string) (bool, error) {
	local, _ := f.fallback.DeleteAndUnindex(ctx, key, indexKey, member)
	existed, err := f.primary.DeleteAndUnindex(ctx, key, indexKey, member)
	if err == nil {
		f.ok()
		return existed || local, nil
	}
	if f.fail("del_index", err) {
		return local, nil
	}
	return false, err
}

func (f *Failover) UpdateIndexed(ctx context.Context, key string, value []byte, ttl time.Duration, indexKey, member string) (bool, error) {
	updated, err := f.primary.UpdateIndexed(ctx, key, value, ttl, indexKey, member)
	if err == nil {
		f.ok()
		if updated {
			return true, nil
		}
		// the record may have been written locally during an outage
		return f.fallback.UpdateIndexed(ctx, key, value, ttl, indexKey, member)
	}
	if f.fail("update_index", err) {
		return f.fallback.UpdateIndexed(ctx, key, value, ttl, indexKey, member)
	}
	return false, err
}

func (f *Failover) Members(ctx context.Context, indexKey string) ([]string, error) {
	local, _ := f.fallback.Members(ctx, indexKey)
	members, err := f.primary.Members(ctx, indexKey)
	if err != nil {
		if f.fail("members", err) {
			return local, nil
		}
		return nil, err
	}
	f.ok()
	if len(local) == 0 {
		return members, nil
	}
	seen := make(map[string]struct{}, len(members)+len(local))
	out := make([]string, 0, len(members)+len(local))
	for _, m := range append(members, local...) {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		out = append(out, m)
	}
	return out, nil
}

func (f *Failover) Unindex(ctx context.Context, indexKey string, members ...string) error {
	_ = f.fallback.Unindex(ctx, indexKey, members...)
	err := f.primary.Unindex(ctx, indexKey, members...)
	if err == nil {
		f.ok()
		return nil
	}
	if f.fail("unindex", err) {
		return nil
	}
	return err
}

// Ping checks the primary only. A failure is reported but not recorded as a
// degraded operation.
func (f *Failover) Ping(ctx context.Context) error {
	return f.primary.Ping(ctx)
}
