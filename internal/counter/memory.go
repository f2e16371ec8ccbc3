package counter

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memoryValue struct {
	value     string
	count     int64
	expiresAt time.Time
}

// MemoryStore implements Store with an in-process map. It serves
// single-instance deployments without Redis; counters do not survive
// restarts and are not shared across instances.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]*memoryValue
	nowFn  func() time.Time
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]*memoryValue), nowFn: time.Now}
}

func (s *MemoryStore) entry(key string, now time.Time) *memoryValue {
	entry, ok := s.values[key]
	if ok && (entry.expiresAt.IsZero() || now.Before(entry.expiresAt)) {
		return entry
	}
	return nil
}

// IncrCapped atomically increments key unless limit is reached.
func (s *MemoryStore) IncrCapped(_ context.Context, key string, limit int64, ttl time.Duration) (int64, bool, error) {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.entry(key, now)
	if entry == nil {
		entry = &memoryValue{}
		if ttl > 0 {
			entry.expiresAt = now.Add(ttl)
		}
		s.values[key] = entry
	}
	if entry.count >= limit {
		return entry.count, false, nil
	}
	entry.count++
	entry.value = strconv.FormatInt(entry.count, 10)
	return entry.count, true, nil
}

// Decr decrements key by one, flooring at zero.
func (s *MemoryStore) Decr(_ context.Context, key string) error {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.entry(key, now)
	if entry == nil || entry.count <= 0 {
		return nil
	}
	entry.count--
	entry.value = strconv.FormatInt(entry.count, 10)
	return nil
}

// Get returns the value for key and whether it exists.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.entry(key, now)
	if entry == nil {
		delete(s.values, key)
		return "", false, nil
	}
	return entry.value, true, nil
}

// SetWithTTL stores value under key with an expiry.
func (s *MemoryStore) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	now := s.nowFn()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &memoryValue{value: value}
	if parsed, errParse := strconv.ParseInt(value, 10, 64); errParse == nil {
		entry.count = parsed
	}
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}
	s.values[key] = entry
	return nil
}
