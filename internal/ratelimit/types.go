package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrStoreUnavailable indicates the shared counter store could not be
// reached. Checks fail closed on this error: callers must treat it as a
// denial, not an admission.
var ErrStoreUnavailable = errors.New("rate limit: counter store unavailable")

// Result describes the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
}

// Limiter provides token bucket checks for a keyed bucket.
type Limiter interface {
	Allow(ctx context.Context, key string, bucket Bucket, now time.Time) (Result, error)
}

// Bucket holds token bucket parameters. RefillPerSec at or below zero
// models a strict one-time quota that never refills.
type Bucket struct {
	Capacity     int
	RefillPerSec float64
}

// Validate rejects parameters that can never admit a request.
func (b Bucket) Validate() error {
	if b.Capacity <= 0 {
		return fmt.Errorf("rate limit: invalid capacity %d", b.Capacity)
	}
	return nil
}

// TTL returns the state expiry after which an idle bucket is equivalent
// to a full one. Buckets that never refill never expire.
func (b Bucket) TTL() time.Duration {
	if b.RefillPerSec <= 0 {
		return 0
	}
	seconds := int(math.Ceil(float64(b.Capacity)/b.RefillPerSec)) + 1
	return time.Duration(seconds) * time.Second
}

// SenderKey builds the bucket key for an attributable sender.
func SenderKey(userID int64) string {
	if userID == 0 {
		return ""
	}
	return fmt.Sprintf("u:%d", userID)
}
