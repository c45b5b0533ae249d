package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in a process-local map. Expired entries are
// dropped lazily on read; writes past the capacity evict the oldest
// stored entry first.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[Key]*Entry
	maxEntries int
}

// NewMemoryStore creates an in-memory store holding at most maxEntries
// live entries. A non-positive limit means unbounded.
func NewMemoryStore(maxEntries int) *MemoryStore {
	return &MemoryStore{
		entries:    make(map[Key]*Entry),
		maxEntries: maxEntries,
	}
}

// Get returns the entry for key, removing it when expired.
func (s *MemoryStore) Get(_ context.Context, key Key) (*Entry, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, nil
	}

	if entry.Expired(time.Now()) {
		s.mu.Lock()
		// Re-check under the write lock, a concurrent Put may have
		// replaced the entry since the read lock was dropped.
		if current, still := s.entries[key]; still && current.Expired(time.Now()) {
			delete(s.entries, key)
		}
		s.mu.Unlock()

		return nil, nil
	}

	return entry, nil
}

// Put stores entry under key, evicting expired then oldest entries when
// the store is at capacity.
func (s *MemoryStore) Put(_ context.Context, key Key, entry *Entry, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		if _, exists := s.entries[key]; !exists {
			s.evictLocked()
		}
	}

	s.entries[key] = entry

	return nil
}

// Delete removes key if present.
func (s *MemoryStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()

	return nil
}

// Len counts live entries, skipping any that have expired but not yet
// been collected.
func (s *MemoryStore) Len(_ context.Context) (int, error) {
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, entry := range s.entries {
		if !entry.Expired(now) {
			count++
		}
	}

	return count, nil
}

// Close is a no-op for the memory backend.
func (s *MemoryStore) Close() error {
	return nil
}

// evictLocked frees one slot. Expired entries go first; otherwise the
// entry with the oldest StoredAt is dropped. Caller holds the write lock.
func (s *MemoryStore) evictLocked() {
	now := time.Now()

	for key, entry := range s.entries {
		if entry.Expired(now) {
			delete(s.entries, key)

			return
		}
	}

	var oldestKey Key
	var oldestAt time.Time
	for key, entry := range s.entries {
		if oldestAt.IsZero() || entry.StoredAt.Before(oldestAt) {
			oldestKey = key
			oldestAt = entry.StoredAt
		}
	}

	if oldestKey != "" {
		delete(s.entries, oldestKey)
	}
}
