package cache

import (
	"context"
	"fmt"
	"sync"
)

const memoryLayer = "memory"

// MemoryStore is an in-process Store. Expired entries are dropped lazily on
// read and by Sweep.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

// Get returns a copy of the entry for key.
func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		CacheMisses.WithLabelValues(memoryLayer).Inc()
		return nil, ErrCacheMiss
	}
	if entry.IsExpired() {
		s.mu.Lock()
		if cur, ok := s.entries[key]; ok && cur == entry {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		CacheMisses.WithLabelValues(memoryLayer).Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(memoryLayer).Inc()
	cp := *entry
	cp.Data = append([]byte(nil), entry.Data...)
	return &cp, nil
}

// Set stores a copy of entry.
func (s *MemoryStore) Set(_ context.Context, key string, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if entry.TTL() <= 0 {
		return nil
	}

	cp := *entry
	cp.Data = append([]byte(nil), entry.Data...)

	s.mu.Lock()
	s.entries[key] = &cp
	s.mu.Unlock()

	CacheSize.WithLabelValues(memoryLayer).Add(float64(len(cp.Data)))
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep removes expired entries and returns how many were dropped.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, entry := range s.entries {
		if entry.IsExpired() {
			delete(s.entries, key)
			n++
		}
	}
	return n
}
