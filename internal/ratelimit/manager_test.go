package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestNewManager_RejectsInvalidBucket(t *testing.T) {
	if _, err := NewManager(Bucket{Capacity: 0, RefillPerSec: 1}, nil, "", nil); err == nil {
		t.Fatalf("expected construction error for zero capacity")
	}
}

func TestManagerAllow_EmptyKeySkipsLimit(t *testing.T) {
	m, err := NewManager(Bucket{Capacity: 1, RefillPerSec: 1}, nil, "", nil)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	for i := 0; i < 5; i++ {
		result, errAllow := m.Allow(context.Background(), "")
		if errAllow != nil || !result.Allowed {
			t.Fatalf("expected empty key always allowed, got allowed=%v err=%v", result.Allowed, errAllow)
		}
	}
}

func TestManagerAllow_MemoryBackend(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m, err := NewManager(Bucket{Capacity: 2, RefillPerSec: 0}, nil, "", func() time.Time { return now })
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if result, _ := m.Allow(ctx, "u:7"); !result.Allowed {
			t.Fatalf("expected request %d allowed", i+1)
		}
	}
	if result, _ := m.Allow(ctx, "u:7"); result.Allowed {
		t.Fatalf("expected third request denied")
	}
}

func TestManagerAllow_FailsClosedWhenRedisUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m, err := NewManager(Bucket{Capacity: 5, RefillPerSec: 5}, client, "test", func() time.Time { return now })
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	result, errAllow := m.Allow(context.Background(), "u:1")
	if result.Allowed {
		t.Fatalf("expected denial when store is unreachable")
	}
	if !errors.Is(errAllow, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", errAllow)
	}

	// Breaker is tripped: the next check is denied without a round trip.
	result, errAllow = m.Allow(context.Background(), "u:1")
	if result.Allowed || !errors.Is(errAllow, ErrStoreUnavailable) {
		t.Fatalf("expected breaker denial, got allowed=%v err=%v", result.Allowed, errAllow)
	}
}

func TestBucketTTL(t *testing.T) {
	cases := []struct {
		bucket Bucket
		want   time.Duration
	}{
		{Bucket{Capacity: 30, RefillPerSec: 30}, 2 * time.Second},
		{Bucket{Capacity: 10, RefillPerSec: 3}, 5 * time.Second},
		{Bucket{Capacity: 10, RefillPerSec: 0}, 0},
	}
	for _, tc := range cases {
		if got := tc.bucket.TTL(); got != tc.want {
			t.Fatalf("TTL(%+v) = %s, want %s", tc.bucket, got, tc.want)
		}
	}
}
