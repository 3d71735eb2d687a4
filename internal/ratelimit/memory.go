package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps counters in process memory. Counters are not shared
// between instances.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]Counter
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]Counter)}
}

func (s *MemoryStore) Get(_ context.Context, key string, now time.Time) (Counter, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || !now.Before(c.ResetAt) {
		return Counter{}, false, nil
	}
	return c, true, nil
}

func (s *MemoryStore) IncrementBelow(_ context.Context, key string, limit int64, resetAt, now time.Time) (Counter, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || !now.Before(c.ResetAt) {
		c = Counter{ResetAt: resetAt}
	}
	if c.Count >= limit {
		s.counters[key] = c
		return c, false, nil
	}
	c.Count++
	s.counters[key] = c
	return c, true, nil
}

// Prune drops expired counters and returns how many were removed.
func (s *MemoryStore) Prune(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, c := range s.counters {
		if !now.Before(c.ResetAt) {
			delete(s.counters, key)
			removed++
		}
	}
	return removed
}

// RunJanitor prunes expired counters every interval until ctx is done.
func (s *MemoryStore) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Prune(now)
		}
	}
}
