package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryProvider is an in-process Provider with per-key TTLs. Expired keys
// are evicted lazily on access.
type MemoryProvider struct {
	mu   sync.Mutex
	data map[string]entry
	now  func() time.Time
}

// NewMemoryProvider returns an empty cache.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{data: make(map[string]entry), now: time.Now}
}

func (m *MemoryProvider) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.lookup(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), e.value...), nil
}

func (m *MemoryProvider) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = m.entry(value, ttl)
	return nil
}

func (m *MemoryProvider) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.data[key] = m.entry(value, ttl)
	return true, nil
}

func (m *MemoryProvider) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Close drops every entry.
func (m *MemoryProvider) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]entry)
	return nil
}

// lookup must be called with mu held.
func (m *MemoryProvider) lookup(key string) (entry, bool) {
	e, ok := m.data[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(m.now()) {
		delete(m.data, key)
		return entry{}, false
	}
	return e, true
}

func (m *MemoryProvider) entry(value []byte, ttl time.Duration) entry {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	return e
}
