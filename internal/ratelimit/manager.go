package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisBreakerDuration = 30 * time.Second

// Manager enforces the per-sender admission budget. With a Redis client it
// delegates to the shared-store limiter and fails closed when the store is
// unreachable; without one it runs the in-process limiter.
type Manager struct {
	bucket       Bucket
	redisLimiter *RedisLimiter
	memory       *MemoryLimiter
	nowFn        func() time.Time

	mu           sync.Mutex
	breakerUntil time.Time
}

// NewManager constructs a Manager. Invalid bucket parameters are rejected
// here so they can never surface at request time. client may be nil for
// single-instance deployments.
func NewManager(bucket Bucket, client *redis.Client, prefix string, nowFn func() time.Time) (*Manager, error) {
	if errValidate := bucket.Validate(); errValidate != nil {
		return nil, errValidate
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	m := &Manager{bucket: bucket, nowFn: nowFn}
	if client != nil {
		m.redisLimiter = NewRedisLimiter(client, prefix)
	} else {
		m.memory = NewMemoryLimiter()
	}
	return m, nil
}

// Allow checks whether one more request from key may proceed. An empty key
// is always allowed; events without an attributable sender are not rate
// limited. When Redis is configured and unreachable the check is denied
// with ErrStoreUnavailable.
func (m *Manager) Allow(ctx context.Context, key string) (Result, error) {
	if key == "" {
		return Result{Allowed: true}, nil
	}
	now := m.nowFn()

	if m.redisLimiter == nil {
		return m.memory.Allow(ctx, key, m.bucket, now)
	}

	if m.isBreakerActive(now) {
		return Result{Allowed: false}, ErrStoreUnavailable
	}
	result, errAllow := m.redisLimiter.Allow(ctx, key, m.bucket, now)
	if errAllow != nil {
		m.tripBreaker(errAllow, now)
		return Result{Allowed: false}, ErrStoreUnavailable
	}
	return result, nil
}

func (m *Manager) isBreakerActive(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.breakerUntil.IsZero() {
		return false
	}
	if now.Before(m.breakerUntil) {
		return true
	}
	m.breakerUntil = time.Time{}
	return false
}

func (m *Manager) tripBreaker(err error, now time.Time) {
	if err == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.breakerUntil.IsZero() && now.Before(m.breakerUntil) {
		return
	}
	m.breakerUntil = now.Add(redisBreakerDuration)
	log.WithError(err).Warn("rate limit: redis unavailable, denying checks until retry")
}
