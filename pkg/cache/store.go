package cache

import (
	"sync"
	"time"
)

// Entry is one cached collection.
type Entry struct {
	// Key is the namespaced cache key (e.g. "collection:songs").
	Key string

	// Value is the encoded collection. Never nil for a stored entry.
	Value []byte

	// StoredAt is when the entry was written.
	StoredAt time.Time

	// Seq is the read sequence that produced the value.
	Seq uint64
}

// Store is a key-value store of latest known collection values.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the entry for key. A missing or unreadable entry
	// reports false.
	Get(key string) (Entry, bool)

	// Set writes the entry unless the stored entry has a higher Seq.
	// It reports whether the write was applied.
	Set(entry Entry) bool

	// Delete removes the entry for key. Deleting a missing key is a no-op.
	Delete(key string)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Get returns the entry for key.
func (s *MemoryStore) Get(key string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	if !ok || e.Value == nil {
		return Entry{}, false
	}
	return e, true
}

// Set writes the entry unless a newer one is stored.
func (s *MemoryStore) Set(entry Entry) bool {
	if entry.Value == nil {
		entry.Value = []byte{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.entries[entry.Key]; ok && cur.Seq > entry.Seq {
		return false
	}
	s.entries[entry.Key] = entry
	return true
}

// Delete removes the entry for key.
func (s *MemoryStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Compile-time interface satisfaction check.
var _ Store = (*MemoryStore)(nil)
