package module

import (
	"sort"
	"sync"

	"github.com/fedmem/federated-memory/internal/apperr"
)

// Registry is the process-wide module catalog. Modules register during
// startup; afterwards the registry is read-only.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]*Module
	ids     []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: map[string]*Module{}}
}

// Register adds a module. Duplicate ids are a startup configuration error.
func (r *Registry) Register(m *Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modules[m.ID()]; exists {
		return apperr.Newf(apperr.KindInvalidArgument, "module %q already registered", m.ID())
	}
	r.modules[m.ID()] = m
	r.ids = append(r.ids, m.ID())
	sort.Strings(r.ids)
	return nil
}

// Get returns the module or NotFound.
func (r *Registry) Get(id string) (*Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[id]
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "module %q not registered", id)
	}
	return m, nil
}

// IDs returns the registered module ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.ids...)
}

// List returns the modules in id order.
func (r *Registry) List() []*Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Module, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.modules[id])
	}
	return out
}
