package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	version   int64
	expiresAt time.Time // zero means never
}

// Memory is an in-process Backend with the same version and TTL
// semantics as SQLite. It backs tests and single-node deployments that
// do not need durability.
type Memory struct {
	mu   sync.Mutex
	data map[string]memoryEntry
	now  func() time.Time
}

// MemoryOption adjusts a memory backend.
type MemoryOption func(*Memory)

// WithMemoryClock overrides the expiry clock for tests.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates an empty in-memory backend.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		data: make(map[string]memoryEntry),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// expired reports whether an entry is past its deadline. Callers hold mu.
func (m *Memory) expired(e memoryEntry) bool {
	return !e.expiresAt.IsZero() && !e.expiresAt.After(m.now())
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.data[key]
	if !exists {
		return nil, 0, false, nil
	}
	if m.expired(e) {
		delete(m.data, key)
		return nil, 0, false, nil
	}

	value := make([]byte, len(e.value))
	copy(value, e.value)
	return value, e.version, true, nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	version := int64(1)
	if e, exists := m.data[key]; exists && !m.expired(e) {
		version = e.version + 1
	}
	m.data[key] = memoryEntry{
		value:     append([]byte(nil), value...),
		version:   version,
		expiresAt: m.deadline(ttl),
	}
	return nil
}

func (m *Memory) PutIfVersion(_ context.Context, key string, value []byte, ttl time.Duration, expect int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.data[key]
	if exists && m.expired(e) {
		delete(m.data, key)
		exists = false
	}

	if expect == 0 {
		if exists {
			return fmt.Errorf("put-if-version %q at 0: %w", key, ErrVersionConflict)
		}
		m.data[key] = memoryEntry{
			value:     append([]byte(nil), value...),
			version:   1,
			expiresAt: m.deadline(ttl),
		}
		return nil
	}

	if !exists || e.version != expect {
		return fmt.Errorf("put-if-version %q at %d: %w", key, expect, ErrVersionConflict)
	}
	m.data[key] = memoryEntry{
		value:     append([]byte(nil), value...),
		version:   e.version + 1,
		expiresAt: m.deadline(ttl),
	}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *Memory) Sweep(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, e := range m.data {
		if m.expired(e) {
			delete(m.data, key)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Usage(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var total int64
	for key, e := range m.data {
		total += int64(len(key) + len(e.value))
	}
	return total, nil
}

func (m *Memory) Close() error {
	return nil
}

func (m *Memory) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}
