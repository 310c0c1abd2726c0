package store

import (
	"context"
	"errors"
	"sync"
)

// ErrWriteFailed is returned by Memory when write failures are being simulated.
var ErrWriteFailed = errors.New("simulated storage exhaustion")

// Memory is an in-memory implementation of Store.
// It does not survive restarts; it is intended for tests and as a session-only fallback.
type Memory struct {
	mu         sync.RWMutex
	values     map[string]string
	failWrites bool
	writes     int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

// Get retrieves a value by key.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]
	return v, ok, nil
}

// Set writes a value.
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrites {
		return ErrWriteFailed
	}
	m.values[key] = value
	m.writes++
	return nil
}

// SetMany writes all pairs under one lock.
func (m *Memory) SetMany(_ context.Context, values map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrites {
		return ErrWriteFailed
	}
	for k, v := range values {
		m.values[k] = v
	}
	m.writes++
	return nil
}

// Remove deletes keys.
func (m *Memory) Remove(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrites {
		return ErrWriteFailed
	}
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

// FailWrites makes subsequent writes fail (or succeed again when fail is false).
func (m *Memory) FailWrites(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrites = fail
}

// Len returns the number of stored keys.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// Writes returns how many successful write calls were made.
func (m *Memory) Writes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes
}

var _ Store = (*Memory)(nil)
