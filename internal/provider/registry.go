package provider

import (
	"fmt"
	"sync"
)

// BuilderFunc constructs an adapter handle. It runs at most once per provider
// family; the routing decision (direct key vs device-flow proxy) happens here,
// at construction time.
type BuilderFunc func() (Adapter, error)

// Registry lazily constructs and caches one adapter per provider family.
// Construction is idempotent: concurrent first callers block on the mutex
// around the check-then-create sequence and share a single handle.
type Registry struct {
	mu       sync.Mutex
	adapters map[string]Adapter
	builders map[string]BuilderFunc
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		builders: make(map[string]BuilderFunc),
	}
}

// Register wires a builder for a provider family. Called by the composition
// root before the registry is shared.
func (r *Registry) Register(name string, build BuilderFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = build
}

// Adapter returns the cached handle for the provider family, constructing it
// on first use.
func (r *Registry) Adapter(name string) (Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a, ok := r.adapters[name]; ok {
		return a, nil
	}

	build, ok := r.builders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}

	a, err := build()
	if err != nil {
		return nil, fmt.Errorf("initialise provider %q: %w", name, err)
	}
	r.adapters[name] = a
	return a, nil
}
