/*
Copyright © 2026 Acey Labs.

Released under MIT license.
*/

package kvstore

import "sync"

// MemoryStore is an in-memory Store implementation.
// It is used in tests and wherever persistence is disabled but a Store is
// still required. Records do not survive process restarts.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemoryStore creates a new in-memory key-value store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte)}
}

// Load implements the Store interface.
func (s *MemoryStore) Load(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	// Callers may retain the returned slice, copy to keep records immutable.
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// Save implements the Store interface.
func (s *MemoryStore) Save(key string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	s.mu.Lock()
	s.records[key] = cp
	s.mu.Unlock()
	return nil
}

// Remove implements the Store interface.
func (s *MemoryStore) Remove(key string) error {
	s.mu.Lock()
	delete(s.records, key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
