package jobid

import (
	"context"
	"errors"
	"sync"
)

// MemoryStore implements CounterStore with in-process storage. This is for
// development and tests; production uses the database-backed DBStore.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewMemoryStore returns an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counters: make(map[string]int64)}
}

// Add implements CounterStore.
func (s *MemoryStore) Add(_ context.Context, prefix string, offset int64) (int64, error) {
	if offset < 1 {
		return 0, errors.New("jobid: offset must be >= 1")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[prefix] += offset
	return s.counters[prefix], nil
}

// Current implements CounterStore.
func (s *MemoryStore) Current(_ context.Context, prefix string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[prefix], nil
}

// Seed implements CounterStore.
func (s *MemoryStore) Seed(_ context.Context, prefix string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[prefix] = value
	return nil
}
