package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryItem struct {
	entry    *Entry
	deadline time.Time
}

func (it *memoryItem) expired(now time.Time) bool {
	return !it.deadline.IsZero() && now.After(it.deadline)
}

// MemoryStore is an in-process Store with lazy expiry-on-access. Suitable
// for single-process deployments and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]*memoryItem

	// now is replaceable in tests.
	now func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]*memoryItem),
		now:   time.Now,
	}
}

// Get implements Store. Expired entries are purged on access.
func (m *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[key]
	if !ok {
		return nil, nil
	}
	if it.expired(m.now()) {
		delete(m.items, key)
		return nil, nil
	}
	return it.entry.clone(), nil
}

// SetWithTTL implements Store. ttl <= 0 means the entry does not expire.
func (m *MemoryStore) SetWithTTL(_ context.Context, key string, entry *Entry, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it := &memoryItem{entry: entry.clone()}
	if ttl > 0 {
		it.deadline = m.now().Add(ttl)
	}
	m.items[key] = it
	return nil
}

// ScanPrefix implements Store.
func (m *MemoryStore) ScanPrefix(_ context.Context, prefix string) (map[string]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	result := make(map[string]*Entry)
	for key, it := range m.items {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if it.expired(now) {
			delete(m.items, key)
			continue
		}
		result[key] = it.entry.clone()
	}
	return result, nil
}

// DeletePattern implements Store.
func (m *MemoryStore) DeletePattern(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.items {
		if strings.HasPrefix(key, prefix) {
			delete(m.items, key)
		}
	}
	return nil
}

// Size implements Store. Expired entries are purged first.
func (m *MemoryStore) Size(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, it := range m.items {
		if it.expired(now) {
			delete(m.items, key)
		}
	}
	return len(m.items), nil
}

// Entries implements Store.
func (m *MemoryStore) Entries(ctx context.Context) (map[string]*Entry, error) {
	return m.ScanPrefix(ctx, "")
}
