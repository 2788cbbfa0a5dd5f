// Package abuse implements the call-level rate limiter, per-call retry counters, and the
// admin login lockout on top of a keyed counter store with per-key expiry.
package abuse

import (
	"context"
	"sync"
	"time"
)

// CounterStore is a keyed counter with a fixed window that starts at a key's first increment.
type CounterStore interface {
	// Incr increments key and returns the new count. A missing or expired key starts at 1
	// with a fresh window of length window.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	// Get returns the current count, or 0 when the key is missing or expired.
	Get(ctx context.Context, key string) (int64, error)
	// Delete removes keys.
	Delete(ctx context.Context, keys ...string) error
}

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryCounterStore keeps counters in process. State is lost on restart and is not shared
// between instances.
type MemoryCounterStore struct {
	mu        sync.Mutex
	entries   map[string]memoryEntry
	now       func() time.Time
	lastSweep time.Time
}

// NewMemoryCounterStore constructs an empty in-process counter store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (m *MemoryCounterStore) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.cleanupExpiredLocked(now)

	entry, ok := m.entries[key]
	if !ok || now.After(entry.expiresAt) {
		entry = memoryEntry{expiresAt: now.Add(window)}
	}
	entry.count++
	m.entries[key] = entry
	return entry.count, nil
}

func (m *MemoryCounterStore) Get(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return 0, nil
	}
	if m.now().After(entry.expiresAt) {
		delete(m.entries, key)
		return 0, nil
	}
	return entry.count, nil
}

func (m *MemoryCounterStore) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

// cleanupExpiredLocked drops expired entries at most once a minute.
func (m *MemoryCounterStore) cleanupExpiredLocked(now time.Time) {
	if now.Sub(m.lastSweep) < time.Minute {
		return
	}
	m.lastSweep = now
	for key, entry := range m.entries {
		if now.After(entry.expiresAt) {
			delete(m.entries, key)
		}
	}
}
