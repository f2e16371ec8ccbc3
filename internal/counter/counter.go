package counter

import (
	"context"
	"time"
)

// Store is the shared counter store used for cross-instance state: capped
// per-day counters and small cached values. Implementations must make
// IncrCapped atomic; a check-then-increment pair is not an acceptable
// substitute.
type Store interface {
	// IncrCapped atomically increments key unless the current value has
	// reached limit. It returns the value after the call and whether the
	// increment was applied. The TTL is set when the key is created.
	IncrCapped(ctx context.Context, key string, limit int64, ttl time.Duration) (int64, bool, error)
	// Decr decrements key by one, flooring at zero.
	Decr(ctx context.Context, key string) error
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// SetWithTTL stores value under key with an expiry.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
}
