package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// takeTokenScript runs the whole read-refill-take sequence inside Redis so
// that two concurrent checks for the same key can never both spend the last
// token. State is "<tokens>,<last_refill_unix>"; an absent key is a full
// bucket. Denial leaves the state untouched so refill accrual is not
// stalled by rejected traffic.
var takeTokenScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])
local tokens = capacity
local last = now
local data = redis.call("GET", KEYS[1])
if data then
  local sep = string.find(data, ",", 1, true)
  tokens = tonumber(string.sub(data, 1, sep - 1))
  last = tonumber(string.sub(data, sep + 1))
  if refill > 0 then
    local refilled = math.floor((now - last) * refill)
    if refilled > 0 then
      tokens = math.min(capacity, tokens + refilled)
      last = now
    end
  end
end
if tokens <= 0 then
  return {0, 0}
end
tokens = tokens - 1
if ttl > 0 then
  redis.call("SET", KEYS[1], tokens .. "," .. last, "EX", ttl)
else
  redis.call("SET", KEYS[1], tokens .. "," .. last)
end
return {1, tokens}
`)

// RedisLimiter implements a token bucket limiter backed by Redis.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter constructs a RedisLimiter.
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: strings.TrimSpace(prefix)}
}

// Allow takes one token from the bucket for key.
func (l *RedisLimiter) Allow(ctx context.Context, key string, bucket Bucket, now time.Time) (Result, error) {
	if l == nil || l.client == nil {
		return Result{}, ErrStoreUnavailable
	}
	if errValidate := bucket.Validate(); errValidate != nil {
		return Result{}, errValidate
	}
	nowSeconds := float64(now.UnixMicro()) / 1e6
	ttlSeconds := int64(bucket.TTL() / time.Second)
	res, errEval := takeTokenScript.Run(ctx, l.client, []string{l.buildKey(key)},
		bucket.Capacity, bucket.RefillPerSec, nowSeconds, ttlSeconds).Result()
	if errEval != nil {
		return Result{}, errEval
	}
	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return Result{}, errors.New("rate limit redis: unexpected response shape")
	}
	allowed, okAllowed := values[0].(int64)
	remaining, okRemaining := values[1].(int64)
	if !okAllowed || !okRemaining {
		return Result{}, errors.New("rate limit redis: unexpected response type")
	}
	return Result{Allowed: allowed == 1, Remaining: int(remaining)}, nil
}

func (l *RedisLimiter) buildKey(key string) string {
	if l.prefix == "" {
		return "rate:" + key
	}
	return l.prefix + ":rate:" + key
}
