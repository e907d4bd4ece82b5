// In-memory CounterStore.
//
// Used when REDIS_ADDR is unset (single-process dev deployments) and by
// package tests. Semantics mirror the Redis store: counters expire at
// their period boundary, markers honor their TTL, and window sets prune
// lazily. Process-local only; it is never the system of record for a
// horizontally scaled deployment.
package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements CounterStore with process-local maps. Safe for
// concurrent use.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]memCounter
	markers  map[string]time.Time // key -> expiry
	windows  map[string][]int64   // key -> sorted entry timestamps (ns)

	// now is a test seam; defaults to time.Now.
	now func() time.Time
}

type memCounter struct {
	value    int64
	expireAt time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]memCounter),
		markers:  make(map[string]time.Time),
		windows:  make(map[string][]int64),
		now:      time.Now,
	}
}

// SetClock overrides the store's clock; tests use this to cross period
// boundaries without sleeping.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// IncrBy implements CounterStore.
func (s *MemoryStore) IncrBy(_ context.Context, key string, delta int64, expireAt time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters[key]
	if !c.expireAt.IsZero() && !s.now().Before(c.expireAt) {
		c = memCounter{}
	}
	c.value += delta
	c.expireAt = expireAt
	s.counters[key] = c
	return c.value, nil
}

// GetCounters implements CounterStore; expired or missing keys read zero.
func (s *MemoryStore) GetCounters(_ context.Context, keys []string) ([]Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	out := make([]Counter, len(keys))
	for i, key := range keys {
		out[i] = Counter{Key: key}
		if c, ok := s.counters[key]; ok {
			if c.expireAt.IsZero() || now.Before(c.expireAt) {
				out[i].Value = c.value
			} else {
				delete(s.counters, key)
			}
		}
	}
	return out, nil
}

// SetMarker implements CounterStore.
func (s *MemoryStore) SetMarker(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if exp, ok := s.markers[key]; ok && now.Before(exp) {
		return false, nil
	}
	s.markers[key] = now.Add(ttl)
	return true, nil
}

// WindowCount implements CounterStore.
func (s *MemoryStore) WindowCount(_ context.Context, key string, now time.Time, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.pruneLocked(key, now, window)
	return int64(len(entries)), nil
}

// WindowAdd implements CounterStore.
func (s *MemoryStore) WindowAdd(_ context.Context, key string, now time.Time, window time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.pruneLocked(key, now, window)
	s.windows[key] = append(entries, now.UnixNano())
	return nil
}

// pruneLocked drops entries older than now-window. Caller holds s.mu.
func (s *MemoryStore) pruneLocked(key string, now time.Time, window time.Duration) []int64 {
	cutoff := now.Add(-window).UnixNano()
	entries := s.windows[key]
	i := 0
	for i < len(entries) && entries[i] <= cutoff {
		i++
	}
	if i > 0 {
		entries = entries[i:]
		s.windows[key] = entries
	}
	return entries
}

// Ping implements CounterStore; the in-memory store is always reachable.
func (s *MemoryStore) Ping(context.Context) error { return nil }
