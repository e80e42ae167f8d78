package cache

import (
	"context"
	"maps"
	"sync"
)

// Memory is a process-local Client. It backs memory:// addresses and tests,
// which can inject failures with FailGet and FailSet.
type Memory struct {
	mu      sync.Mutex
	entries map[string]string
	sets    int
	closes  int

	// FailGet, when set, is consulted before every Get.
	FailGet func(key string) error
	// FailSet, when set, is consulted before every Set.
	FailSet func(key, value string) error
}

// NewMemory returns an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]string)}
}

// Get implements Client.Get.
func (m *Memory) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailGet != nil {
		if err := m.FailGet(key); err != nil {
			return "", false, err
		}
	}

	v, ok := m.entries[key]
	return v, ok, nil
}

// Set implements Client.Set.
func (m *Memory) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailSet != nil {
		if err := m.FailSet(key, value); err != nil {
			return err
		}
	}

	m.entries[key] = value
	m.sets++
	return nil
}

// Close implements Client.Close. The entries survive, so a Memory handed
// out again by a Dialer behaves like a server that outlived a connection.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

// CloseCount returns how many times Close was called.
func (m *Memory) CloseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// Snapshot returns a copy of all entries.
func (m *Memory) Snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.entries)
}

// SetCount returns how many successful Set calls were made.
func (m *Memory) SetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}
