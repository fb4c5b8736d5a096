// Package kv is the shared keyed-state layer behind revocation, sessions,
// login throttling and email verification.
//
// Three strategies implement [Store]: a Redis strategy for multi-instance
// deployments, an in-process Memory strategy with TTL expiry, and a
// Failover strategy that routes to the primary and transparently falls back
// to a local strategy when the primary is unreachable.
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key does not exist or expired.
	ErrNotFound = errors.New("kv: key not found")
	// ErrUnavailable wraps connectivity failures of a backing store.
	ErrUnavailable = errors.New("kv: store unavailable")
)

// Store is the minimal set of keyed operations the security components need.
//
// All TTL-carrying writes replace any previous TTL on the key. A non-positive
// TTL on Set/SetNX/SetAndIndex means the key never expires.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	// PTTL returns the remaining lifetime of key, or 0 when the key is
	// missing or has no expiry.
	PTTL(ctx context.Context, key string) (time.Duration, error)

	// IncrWithTTL increments a counter, setting ttl only when the counter is
	// created.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// SlidingWindowAdd records one event at now, drops events older than
	// window and returns the number of events left in the window.
	SlidingWindowAdd(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error)

	// SetAndIndex writes key and adds member to the set at indexKey in one
	// atomic step.
	SetAndIndex(ctx context.Context, key string, value []byte, ttl time.Duration, indexKey, member string) error
	// DeleteAndUnindex deletes key and removes member from indexKey in one
	// atomic step. It reports whether key existed.
	DeleteAndUnindex(ctx context.Context, key, indexKey, member string) (bool, error)
	// UpdateIndexed overwrites key only if it still exists, keeps member in
	// indexKey and extends indexKey to live at least ttl. It reports whether
	// key existed.
	UpdateIndexed(ctx context.Context, key string, value []byte, ttl time.Duration, indexKey, member string) (bool, error)
	Members(ctx context.Context, indexKey string) ([]string, error)
	Unindex(ctx context.Context, indexKey string, members ...string) error

	Ping(ctx context.Context) error
}
