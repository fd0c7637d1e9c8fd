package admission

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// admitScript prunes the window and records the request only if it fits,
// all in one round-trip.
// Scores are unix milliseconds. Returns {allowed, count, oldest_score}.
var admitScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local limit = tonumber(ARGV[3])
	local member = ARGV[4]
	local ttl = tonumber(ARGV[5])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. ARGV[2])
	local count = redis.call('ZCARD', key)
	local oldest = -1
	local head = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	if #head > 0 then
		oldest = tonumber(head[2])
	end

	if count >= limit then
		return {0, count, oldest}
	end

	redis.call('ZADD', key, now, member)
	redis.call('PEXPIRE', key, ttl)
	return {1, count + 1, oldest}
`)

// RedisStore keeps windows in redis sorted sets so several server instances
// share one quota per identity.
type RedisStore struct {
	Client redis.UniversalClient
	Prefix string
}

// NewRedisStore returns a store using client with keys under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "docrewrite:admission:"
	}
	return &RedisStore{Client: client, Prefix: prefix}
}

// Admit implements WindowStore.
func (s *RedisStore) Admit(ctx context.Context, identity string, now time.Time, win time.Duration, limit int) (Decision, error) {
	nowMs := now.UnixMilli()
	cutoff := now.Add(-win).UnixMilli()
	member := strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString()

	result, err := admitScript.Run(ctx, s.Client, []string{s.key(identity)},
		nowMs, cutoff, limit, member, win.Milliseconds()).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("admission check: %w", err)
	}

	res, ok := result.([]any)
	if !ok || len(res) < 3 {
		return Decision{}, fmt.Errorf("admission check: unexpected reply %v", result)
	}
	allowed, _ := res[0].(int64)
	count, _ := res[1].(int64)
	oldest, _ := res[2].(int64)

	decision := Decision{Allowed: allowed == 1, Count: int(count)}
	if !decision.Allowed && oldest >= 0 {
		retry := time.UnixMilli(oldest).Add(win).Sub(now)
		if retry > 0 {
			decision.RetryAfter = retry
		}
	}
	return decision, nil
}

// Count implements WindowStore.
func (s *RedisStore) Count(ctx context.Context, identity string, now time.Time, win time.Duration) (int, error) {
	cutoff := strconv.FormatInt(now.Add(-win).UnixMilli(), 10)
	n, err := s.Client.ZCount(ctx, s.key(identity), cutoff, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("admission status: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) key(identity string) string {
	return s.Prefix + identity
}
