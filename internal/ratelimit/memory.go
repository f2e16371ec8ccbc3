package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const memorySweepEvery = time.Minute

type memoryEntry struct {
	lim      *rate.Limiter
	bucket   Bucket
	lastSeen time.Time
}

// MemoryLimiter implements an in-process token bucket limiter with one
// rate.Limiter per key. It is only a correct admission control when a
// single instance serves the traffic; multi-instance deployments must use
// the Redis limiter.
type MemoryLimiter struct {
	mu        sync.Mutex
	entries   map[string]*memoryEntry
	lastSweep time.Time
}

// NewMemoryLimiter constructs a MemoryLimiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{entries: make(map[string]*memoryEntry)}
}

// Allow takes one token from the bucket for key.
func (l *MemoryLimiter) Allow(_ context.Context, key string, bucket Bucket, now time.Time) (Result, error) {
	if errValidate := bucket.Validate(); errValidate != nil {
		return Result{}, errValidate
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)

	entry := l.entries[key]
	if entry == nil || entry.bucket != bucket {
		refill := bucket.RefillPerSec
		if refill < 0 {
			refill = 0
		}
		lim := rate.NewLimiter(rate.Limit(refill), bucket.Capacity)
		entry = &memoryEntry{lim: lim, bucket: bucket}
		l.entries[key] = entry
	}
	entry.lastSeen = now

	if !entry.lim.AllowN(now, 1) {
		return Result{Allowed: false, Remaining: 0}, nil
	}
	remaining := int(math.Floor(entry.lim.TokensAt(now)))
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Remaining: remaining}, nil
}

// sweep drops entries idle past their bucket TTL, matching the shared
// store's expiry semantics. Caller holds the lock.
func (l *MemoryLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < memorySweepEvery {
		return
	}
	l.lastSweep = now
	for key, entry := range l.entries {
		ttl := entry.bucket.TTL()
		if ttl > 0 && now.Sub(entry.lastSeen) > ttl {
			delete(l.entries, key)
		}
	}
}
