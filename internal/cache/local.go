package cache

import (
	"context"
	"sync"
)

// Local is a string key/value store scoped to one browsing session. Guest carts
// and pending-sync copies of owned carts live here.
type Local interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// GuestCartKey returns the key holding a guest cart for a session token.
func GuestCartKey(token string) string {
	return "cart:guest:" + token
}

// PendingCartKey returns the key holding an owned cart whose remote write failed.
func PendingCartKey(principalID string) string {
	return "cart:pending:" + principalID
}

// Memory is an in-process Local implementation.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory constructs an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{values: map[string]string{}}
}

// Get returns the value stored under key.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

// Set stores value under key.
func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[key] = value
	return nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
