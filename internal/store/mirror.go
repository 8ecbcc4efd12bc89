package store

import (
	"maps"
	"slices"
	"sync"
)

// mirror is the in-memory copy of every namespace root seen by the runtime.
// It is authoritative: the durable medium may lag behind it, never lead.
type mirror struct {
	mu    sync.RWMutex
	roots map[string]any
}

func newMirror() *mirror {
	return &mirror{roots: make(map[string]any)}
}

// get returns the cached root of a namespace.
func (m *mirror) get(namespace string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	root, ok := m.roots[namespace]
	return root, ok
}

// set replaces the cached root of a namespace.
func (m *mirror) set(namespace string, root any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roots[namespace] = root
}

// invalidate evicts a namespace.
func (m *mirror) invalidate(namespace string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.roots, namespace)
}

// namespaces returns the cached namespace names, sorted.
func (m *mirror) namespaces() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.roots))
}
