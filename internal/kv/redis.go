package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var incrWithTTLLua = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// KEYS[1] = window key
// ARGV[1] = now (unix ms), ARGV[2] = window (ms), ARGV[3] = unique member
var slidingWindowLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
redis.call("ZADD", KEYS[1], now, ARGV[3])
redis.call("PEXPIRE", KEYS[1], window)
return redis.call("ZCARD", KEYS[1])
`)

var deleteAndUnindexLua = redis.NewScript(`
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
if existed == 1 then
  redis.call("DEL", KEYS[1])
end
return existed
`)

// KEYS[1] = record, KEYS[2] = index
// ARGV[1] = value, ARGV[2] = ttl (ms), ARGV[3] = member
var updateIndexedLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
local ttl = tonumber(ARGV[2])
if ttl > 0 then
  redis.call("SET", KEYS[1], ARGV[1], "PX", ttl)
else
  redis.call("SET", KEYS[1], ARGV[1])
end
redis.call("SADD", KEYS[2], ARGV[3])
local current = redis.call("PTTL", KEYS[2])
if ttl > 0 and current >= 0 and current < ttl then
  redis.call("PEXPIRE", KEYS[2], ttl)
end
return 1
`)

// Redis is the shared-store strategy backed by a go-redis client.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis wraps client as a [Store].
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, unavailable(err)
	}
	return data, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (r *Redis) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}
	ok, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}

func (r *Redis) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return n > 0, nil
}

func (r *Redis) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

func (r *Redis) PTTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := r.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	// -1 (no expiry) and -2 (missing) come back as raw negative durations.
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

func (r *Redis) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := incrWithTTLLua.Run(ctx, r.client, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return count, nil
}

func (r *Redis) SlidingWindowAdd(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error) {
	count, err := slidingWindowLua.Run(
		ctx,
		r.client,
		[]string{key},
		now.UnixMilli(),
		window.Milliseconds(),
		uuid.NewString(),
	).Int64()
	if err != nil {
		return 0, unavailable(err)
	}
	return count, nil
}

func (r *Redis) SetAndIndex(ctx context.Context, key string, value []byte, ttl time.Duration, indexKey, member string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, value, max(ttl, 0))
		pipe.SAdd(ctx, indexKey, member)
		if ttl > 0 {
			// the newest member decides how long the index lives
			pipe.PExpire(ctx, indexKey, ttl)
		}
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (r *Redis) DeleteAndUnindex(ctx context.Context, key, indexKey, member string) (bool, error) {
	existed, err := deleteAndUnindexLua.Run(ctx, r.client, []string{key, indexKey}, member).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	return existed == 1, nil
}

func (r *Redis) UpdateIndexed(ctx context.Context, key string, value []byte, ttl time.Duration, indexKey, member string) (bool, error) {
	updated, err := updateIndexedLua.Run(
		ctx,
		r.client,
		[]string{key, indexKey},
		value,
		ttl.Milliseconds(),
		member,
	).Int64()
	if err != nil {
		return false, unavailable(err)
	}
	return updated == 1, nil
}

func (r *Redis) Members(ctx context.Context, indexKey string) ([]string, error) {
	members, err := r.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, unavailable(err)
	}
	return members, nil
}

func (r *Redis) Unindex(ctx context.Context, indexKey string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := r.client.SRem(ctx, indexKey, args...).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
