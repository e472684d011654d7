package otp

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	hash      []byte
	expiresAt time.Time
}

type memoryCounter struct {
	n         int
	expiresAt time.Time
}

// MemoryStore keeps challenges in process memory. It suits a single
// instance and tests.
type MemoryStore struct {
	mu       sync.Mutex
	entries  map[string]*memoryEntry
	counters map[string]*memoryCounter
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries:  make(map[string]*memoryEntry),
		counters: make(map[string]*memoryCounter),
		now:      time.Now,
	}
}

func (s *MemoryStore) live(key string) (*memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil, false
	}
	return e, true
}

func (s *MemoryStore) attempts(key string) int {
	c, ok := s.counters[key]
	if !ok {
		return 0
	}
	if !s.now().Before(c.expiresAt) {
		delete(s.counters, key)
		return 0
	}
	return c.n
}

func (s *MemoryStore) Put(_ context.Context, key string, hash []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &memoryEntry{hash: hash, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok {
		return nil, ErrExpired
	}
	return &Challenge{Hash: e.hash, Attempts: s.attempts(key)}, nil
}

func (s *MemoryStore) Attempts(_ context.Context, key string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts(key), nil
}

func (s *MemoryStore) IncrAttempts(_ context.Context, key string, window time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key); !ok {
		return 0, ErrExpired
	}
	n := s.attempts(key) + 1
	if n == 1 {
		s.counters[key] = &memoryCounter{n: n, expiresAt: s.now().Add(window)}
	} else {
		s.counters[key].n = n
	}
	return n, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	delete(s.counters, key)
	return nil
}
