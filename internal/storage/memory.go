package storage

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of KV.
// It is intended for tests and single-process use; it does not survive restarts.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get retrieves a value by key.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", false, ErrClosed
	}
	v, ok := s.values[key]
	return v, ok, nil
}

// SetMany writes all entries under one lock.
func (s *MemoryStore) SetMany(_ context.Context, entries map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	for k, v := range entries {
		s.values[k] = v
	}
	return nil
}

// Delete removes keys under one lock.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	for _, k := range keys {
		delete(s.values, k)
	}
	return nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
