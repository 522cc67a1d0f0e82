package session

import (
	"sync"

	"github.com/google/uuid"
)

// Registry owns every live session runtime, keyed by integration id. All
// mutation goes through its lock so concurrent start/disconnect calls for
// the same id cannot leave a half-registered entry behind.
type Registry struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*runtime
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[uuid.UUID]*runtime),
	}
}

// put registers a runtime, returning the entry it displaced (if any) so the
// caller can tear it down. Starting a session always displaces first.
func (r *Registry) put(id uuid.UUID, rt *runtime) *runtime {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.entries[id]
	r.entries[id] = rt
	return old
}

// pop removes and returns the runtime for id, or nil.
func (r *Registry) pop(id uuid.UUID) *runtime {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt := r.entries[id]
	delete(r.entries, id)
	return rt
}

// popIf removes the entry for id only while rt is still the registered
// runtime. A runtime retiring itself must not deregister a replacement that
// a concurrent start already put in its place.
func (r *Registry) popIf(id uuid.UUID, rt *runtime) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entries[id] != rt {
		return false
	}
	delete(r.entries, id)
	return true
}

// get returns the runtime for id, or nil. The caller must not mutate the
// session through it; use the runtime's own lock for reads.
func (r *Registry) get(id uuid.UUID) *runtime {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[id]
}

// drain removes and returns every runtime. Used at shutdown.
func (r *Registry) drain() []*runtime {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]*runtime, 0, len(r.entries))
	for id, rt := range r.entries {
		all = append(all, rt)
		delete(r.entries, id)
	}
	return all
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
