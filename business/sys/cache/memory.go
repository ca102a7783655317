package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value   string
	expires time.Time
}

// Memory implements the Cache interface over process memory with lazy
// expiration. It exists for tests and single-node tooling.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemory constructs an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

func (m *Memory) live(key string) (entry, bool) {
	e, exists := m.entries[key]
	if !exists {
		return entry{}, false
	}

	if !e.expires.IsZero() && m.now().After(e.expires) {
		delete(m.entries, key)
		return entry{}, false
	}

	return e, true
}

// SetIfAbsent atomically creates the key when it does not exist.
func (m *Memory) SetIfAbsent(_ context.Context, key string, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.live(key); exists {
		return false, nil
	}

	m.entries[key] = entry{value: value, expires: m.now().Add(ttl)}
	return true, nil
}

// Get retrieves the value for the key, reporting whether it was present.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.live(key)
	if !exists {
		return "", false, nil
	}

	return e.value, true, nil
}

// Set stores the value under the key with the specified TTL.
func (m *Memory) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = entry{value: value, expires: m.now().Add(ttl)}
	return nil
}

// Del removes the key.
func (m *Memory) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}
