package ratelimiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// consumeScript refills and consumes atomically. Times are unix milliseconds.
// KEYS[1] bucket; ARGV: capacity, refill rate, interval ms, tokens, now ms, ttl ms.
var consumeScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local rate = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local want = tonumber(ARGV[4])
local now = tonumber(ARGV[5])

local state = redis.call("HMGET", KEYS[1], "tokens", "last")
local tokens = tonumber(state[1])
local last = tonumber(state[2])
if tokens == nil then
	tokens = capacity
	last = now
end

local elapsed = math.floor((now - last) / interval)
if elapsed > 0 then
	elapsed = math.min(elapsed, math.floor(capacity / rate) + 1)
	tokens = math.min(tokens + elapsed * rate, capacity)
	last = now
end

local remaining = tokens - want
if remaining >= 0 then
	tokens = remaining
end
redis.call("HSET", KEYS[1], "tokens", tokens, "last", last)
redis.call("PEXPIRE", KEYS[1], ARGV[6])
return {remaining, last}
`)

// RedisStore shares buckets between instances.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) ConsumeTokens(ctx context.Context, key string, tokens int, config Config) (int, time.Time, error) {
	interval := config.RefillInterval.Milliseconds()
	ttl := interval * int64(config.Capacity/config.RefillRate+1)
	res, err := consumeScript.Run(ctx, s.client, []string{s.prefix + key},
		config.Capacity, config.RefillRate, interval, tokens, s.now().UnixMilli(), ttl,
	).Int64Slice()
	if err != nil {
		return 0, time.Time{}, errors.Join(ErrStoreUnavailable, err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("%w: unexpected script reply %v", ErrStoreUnavailable, res)
	}
	return int(res[0]), time.UnixMilli(res[1]).Add(config.RefillInterval), nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return errors.Join(ErrStoreUnavailable, err)
	}
	return nil
}
