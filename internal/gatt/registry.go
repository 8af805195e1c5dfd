package gatt

import (
	"slices"
	"sync"
)

// Registry is the set of connected peers. Safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	conns map[ConnHandle]struct{}
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[ConnHandle]struct{})}
}

// Add inserts c and reports whether it was new.
func (r *Registry) Add(c ConnHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c]; ok {
		return false
	}
	r.conns[c] = struct{}{}
	return true
}

// Remove deletes c and reports whether it was present.
func (r *Registry) Remove(c ConnHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c]; !ok {
		return false
	}
	delete(r.conns, c)
	return true
}

func (r *Registry) Has(c ConnHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[c]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// Snapshot returns the connected handles in ascending order.
func (r *Registry) Snapshot() []ConnHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConnHandle, 0, len(r.conns))
	for c := range r.conns {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}
