package provider

import (
	"fmt"
	"sync"
)

// Registry is the ordered set of provider handles. Registration order is the
// fallback order and the racing tie-break order.
type Registry struct {
	mu      sync.RWMutex
	handles []*Handle
	byName  map[string]*Handle
}

// NewRegistry creates a registry from handles, in order.
func NewRegistry(handles ...*Handle) (*Registry, error) {
	r := &Registry{}
	if err := r.Replace(handles); err != nil {
		return nil, err
	}
	return r, nil
}

// Register appends p to the end of the registry.
func (r *Registry) Register(p Provider, opts ...HandleOption) (*Handle, error) {
	h := NewHandle(p, opts...)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byName == nil {
		r.byName = make(map[string]*Handle)
	}
	if _, dup := r.byName[h.Name()]; dup {
		return nil, fmt.Errorf("registry: duplicate provider %q", h.Name())
	}
	r.handles = append(r.handles, h)
	r.byName[h.Name()] = h
	return h, nil
}

// Replace swaps the whole provider set, e.g. after a settings change.
// In-flight calls keep the handles they already hold.
func (r *Registry) Replace(handles []*Handle) error {
	byName := make(map[string]*Handle, len(handles))
	for _, h := range handles {
		if _, dup := byName[h.Name()]; dup {
			return fmt.Errorf("registry: duplicate provider %q", h.Name())
		}
		byName[h.Name()] = h
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles = append([]*Handle(nil), handles...)
	r.byName = byName
	return nil
}

// Get returns the handle registered under name.
func (r *Registry) Get(name string) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return h, nil
}

// Handles returns a snapshot of the registered handles in order.
func (r *Registry) Handles() []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Handle(nil), r.handles...)
}

// Others returns every handle except the one named, in registry order.
func (r *Registry) Others(name string) []*Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		if h.Name() != name {
			out = append(out, h)
		}
	}
	return out
}

// Names returns the provider names in registry order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.handles))
	for i, h := range r.handles {
		names[i] = h.Name()
	}
	return names
}

// ProviderModels returns the models known for the named provider.
func (r *Registry) ProviderModels(name string) ([]string, error) {
	h, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	return h.Models(), nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}
