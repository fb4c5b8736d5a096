package kv

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memEntry struct {
	value     []byte
	members   map[string]struct{}
	window    []int64
	expiresAt time.Time
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory is the in-process strategy. Expired entries are invisible to
// readers immediately and physically removed by a background sweeper.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemory creates a Memory store. When sweepInterval is positive a
// goroutine purges expired entries until Close is called.
func NewMemory(sweepInterval time.Duration) *Memory {
	m := &Memory{
		entries: make(map[string]*memEntry),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if sweepInterval > 0 {
		go m.sweep(sweepInterval)
	}
	return m
}

// SetClock replaces the time source. Intended for tests.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Close stops the sweeper.
func (m *Memory) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Memory) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.purge()
		case <-m.stop:
			return
		}
	}
}

func (m *Memory) purge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
		}
	}
}

// Len reports the number of live entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	n := 0
	for _, e := range m.entries {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// lookup returns the live entry for key. Callers hold m.mu.
func (m *Memory) lookup(key string, now time.Time) *memEntry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if e.expired(now) {
		delete(m.entries, key)
		return nil
	}
	return e
}

func expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key, m.now())
	if e == nil || e.value == nil {
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, value, ttl, m.now())
	return nil
}

func (m *Memory) setLocked(key string, value []byte, ttl time.Duration, now time.Time) {
	v := make([]byte, len(value))
	copy(v, value)
	m.entries[key] = &memEntry{value: v, expiresAt: expiry(now, ttl)}
}

func (m *Memory) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if m.lookup(key, now) != nil {
		return false, nil
	}
	m.setLocked(key, value, ttl, now)
	return true, nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookup(key, m.now()) != nil, nil
}

func (m *Memory) Del(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var n int64
	for _, k := range keys {
		if m.lookup(k, now) != nil {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

func (m *Memory) PTTL(_ context.Context, key string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	e := m.lookup(key, now)
	if e == nil || e.expiresAt.IsZero() {
		return 0, nil
	}
	return e.expiresAt.Sub(now), nil
}

func (m *Memory) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	e := m.lookup(key, now)
	if e == nil {
		m.entries[key] = &memEntry{value: []byte("1"), expiresAt: expiry(now, ttl)}
		return 1, nil
	}
	count, err := strconv.ParseInt(string(e.value), 10, 64)
	if err != nil {
		count = 0
	}
	count++
	e.value = []byte(strconv.FormatInt(count, 10))
	return count, nil
}

func (m *Memory) SlidingWindowAdd(_ context.Context, key string, at time.Time, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	e := m.lookup(key, now)
	if e == nil {
		e = &memEntry{}
		m.entries[key] = e
	}
	cutoff := at.Add(-window).UnixMilli()
	kept := e.window[:0]
	for _, ts := range e.window {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}
	e.window = append(kept, at.UnixMilli())
	e.expiresAt = expiry(now, window)
	return int64(len(e.window)), nil
}

func (m *Memory) SetAndIndex(_ context.Context, key string, value []byte, ttl time.Duration, indexKey, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.setLocked(key, value, ttl, now)
	idx := m.lookup(indexKey, now)
	if idx == nil {
		idx = &memEntry{members: make(map[string]struct{})}
		m.entries[indexKey] = idx
	}
	if idx.members == nil {
		idx.members = make(map[string]struct{})
	}
	idx.members[member] = struct{}{}
	if ttl > 0 {
		idx.expiresAt = expiry(now, ttl)
	}
	return nil
}

func (m *Memory) DeleteAndUnindex(_ context.Context, key, indexKey, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	existed := m.lookup(key, now) != nil
	delete(m.entries, key)
	if idx := m.lookup(indexKey, now); idx != nil {
		delete(idx.members, member)
	}
	return existed, nil
}

func (m *Memory) UpdateIndexed(_ context.Context, key string, value []byte, ttl time.Duration, indexKey, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if m.lookup(key, now) == nil {
		return false, nil
	}
	m.setLocked(key, value, ttl, now)
	idx := m.lookup(indexKey, now)
	if idx == nil {
		idx = &memEntry{expiresAt: expiry(now, ttl)}
		m.entries[indexKey] = idx
	}
	if idx.members == nil {
		idx.members = make(map[string]struct{})
	}
	idx.members[member] = struct{}{}
	if until := expiry(now, ttl); !idx.expiresAt.IsZero() && idx.expiresAt.Before(until) {
		idx.expiresAt = until
	}
	return true, nil
}

func (m *Memory) Members(_ context.Context, indexKey string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.lookup(indexKey, m.now())
	if idx == nil {
		return nil, nil
	}
	out := make([]string, 0, len(idx.members))
	for member := range idx.members {
		out = append(out, member)
	}
	return out, nil
}

func (m *Memory) Unindex(_ context.Context, indexKey string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx := m.lookup(indexKey, m.now()); idx != nil {
		for _, member := range members {
			delete(idx.members, member)
		}
	}
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }
