package medium

import (
	"slices"
	"sync"
)

// Memory is a process-local Medium. It survives a store runtime being
// rebuilt, which makes it the stand-in for durable storage in tests and on
// hosts without a writable disk.
type Memory struct {
	mu      sync.RWMutex
	entries map[string][]byte
}

// NewMemory returns an empty Memory.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

// Load implements Medium.
func (m *Memory) Load(namespace string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.entries[namespace]
	if !ok {
		return nil, ErrNotExist
	}
	return slices.Clone(data), nil
}

// Store implements Medium.
func (m *Memory) Store(namespace string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[namespace] = slices.Clone(data)
	return nil
}

// Remove implements Medium.
func (m *Memory) Remove(namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, namespace)
	return nil
}

// Len returns the number of stored namespaces.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
