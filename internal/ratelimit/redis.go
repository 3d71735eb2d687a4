package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// The script refuses to increment once the limit is reached, so a denied
// call never moves the counter. New keys expire at the absolute reset time.
var incrementBelowScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current >= tonumber(ARGV[1]) then
  return {current, redis.call("PTTL", KEYS[1]), 0}
end
current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIREAT", KEYS[1], ARGV[2])
end
return {current, redis.call("PTTL", KEYS[1]), 1}
`)

// RedisStore shares counters between instances through Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	trimmedPrefix := strings.TrimSpace(prefix)
	if trimmedPrefix == "" {
		trimmedPrefix = "chrono:rate_limit"
	}
	trimmedPrefix = strings.TrimSuffix(trimmedPrefix, ":")

	return &RedisStore{client: client, prefix: trimmedPrefix}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}

func (s *RedisStore) Get(ctx context.Context, key string, now time.Time) (Counter, bool, error) {
	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, s.key(key))
	ttlCmd := pipe.PTTL(ctx, s.key(key))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return Counter{}, false, err
	}

	count, err := getCmd.Int64()
	if err == redis.Nil {
		return Counter{}, false, nil
	}
	if err != nil {
		return Counter{}, false, err
	}
	ttl := ttlCmd.Val()
	if ttl <= 0 {
		return Counter{}, false, nil
	}
	return Counter{Count: count, ResetAt: now.Add(ttl)}, true, nil
}

func (s *RedisStore) IncrementBelow(ctx context.Context, key string, limit int64, resetAt, now time.Time) (Counter, bool, error) {
	raw, err := incrementBelowScript.Run(ctx, s.client, []string{s.key(key)}, limit, resetAt.UnixMilli()).Result()
	if err != nil {
		return Counter{}, false, err
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 3 {
		return Counter{}, false, fmt.Errorf("unexpected redis limiter response shape: %T", raw)
	}
	count, ok := values[0].(int64)
	if !ok {
		return Counter{}, false, fmt.Errorf("unexpected redis limiter count type: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok {
		return Counter{}, false, fmt.Errorf("unexpected redis limiter ttl type: %T", values[1])
	}
	allowed, _ := values[2].(int64)

	counterReset := resetAt
	if ttlMs > 0 {
		counterReset = now.Add(time.Duration(ttlMs) * time.Millisecond)
	}
	return Counter{Count: count, ResetAt: counterReset}, allowed == 1, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*RedisStore)(nil)
)
