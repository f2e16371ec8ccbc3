package counter

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var cappedIncrScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current >= tonumber(ARGV[1]) then
  return {current, 0}
end
current = redis.call("INCR", KEYS[1])
if current == 1 and tonumber(ARGV[2]) > 0 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
return {current, 1}
`)

var floorDecrScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
if current <= 0 then
  return 0
end
return redis.call("DECR", KEYS[1])
`)

// RedisStore implements Store on a shared Redis instance.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: strings.TrimSpace(prefix)}
}

func (s *RedisStore) buildKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

// IncrCapped atomically increments key unless limit is reached.
func (s *RedisStore) IncrCapped(ctx context.Context, key string, limit int64, ttl time.Duration) (int64, bool, error) {
	if s == nil || s.client == nil {
		return 0, false, errors.New("counter redis: not initialized")
	}
	ttlSeconds := int64(ttl / time.Second)
	res, errEval := cappedIncrScript.Run(ctx, s.client, []string{s.buildKey(key)}, limit, ttlSeconds).Result()
	if errEval != nil {
		return 0, false, errEval
	}
	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return 0, false, errors.New("counter redis: unexpected response shape")
	}
	count, okCount := toInt64(values[0])
	applied, okApplied := toInt64(values[1])
	if !okCount || !okApplied {
		return 0, false, errors.New("counter redis: unexpected response type")
	}
	return count, applied == 1, nil
}

// Decr decrements key by one, flooring at zero.
func (s *RedisStore) Decr(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return errors.New("counter redis: not initialized")
	}
	return floorDecrScript.Run(ctx, s.client, []string{s.buildKey(key)}).Err()
}

// Get returns the value for key and whether it exists.
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.client == nil {
		return "", false, errors.New("counter redis: not initialized")
	}
	value, errGet := s.client.Get(ctx, s.buildKey(key)).Result()
	if errors.Is(errGet, redis.Nil) {
		return "", false, nil
	}
	if errGet != nil {
		return "", false, errGet
	}
	return value, true, nil
}

// SetWithTTL stores value under key with an expiry.
func (s *RedisStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if s == nil || s.client == nil {
		return errors.New("counter redis: not initialized")
	}
	return s.client.Set(ctx, s.buildKey(key), value, ttl).Err()
}

func toInt64(v interface{}) (int64, bool) {
	switch value := v.(type) {
	case int64:
		return value, true
	case int:
		return int64(value), true
	case uint64:
		return int64(value), true
	default:
		return 0, false
	}
}
