package cache

import (
	"sync"
	"time"
)

// LocalStore is a process-local map with absolute per-entry expiry.
// MaxEntries is a soft bound: writes past it trigger a sweep of expired
// entries, and the map may stay above the bound when nothing has expired.
type LocalStore struct {
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]Entry
}

// NewLocalStore returns an empty store bounded by maxEntries.
func NewLocalStore(maxEntries int, now func() time.Time) *LocalStore {
	if now == nil {
		now = time.Now
	}
	return &LocalStore{
		maxEntries: maxEntries,
		now:        now,
		entries:    make(map[string]Entry),
	}
}

// Get returns a copy of the entry for key, dropping it if it has expired.
func (s *LocalStore) Get(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	if !s.now().Before(e.ExpiresAt) {
		delete(s.entries, key)
		return Entry{}, false
	}
	return e.Clone(), true
}

// Set stores a copy of e under key. e.ExpiresAt must already be set.
func (s *LocalStore) Set(key string, e Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = e.Clone()
	if s.maxEntries > 0 && len(s.entries) > s.maxEntries {
		s.sweepLocked()
	}
}

// Sweep removes expired entries and returns how many were removed.
func (s *LocalStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

func (s *LocalStore) sweepLocked() int {
	now := s.now()
	removed := 0
	for k, e := range s.entries {
		if !now.Before(e.ExpiresAt) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Clear removes every entry and returns how many there were.
func (s *LocalStore) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.entries)
	clear(s.entries)
	return n
}

// Len returns the number of stored entries, expired ones included.
func (s *LocalStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
