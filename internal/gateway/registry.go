package gateway

import (
	"fmt"
)

type Factory func() Adapter

// Builder collects factories during startup. Build turns it into an
// immutable Registry.
type Builder struct {
	factories map[ProviderID]Factory
	order     []ProviderID
}

func NewBuilder() *Builder {
	return &Builder{factories: map[ProviderID]Factory{}}
}

func (b *Builder) Register(id ProviderID, f Factory) error {
	if !id.Valid() {
		return fmt.Errorf("register %q: unknown provider", id)
	}
	if _, dup := b.factories[id]; dup {
		return fmt.Errorf("register %q: already registered", id)
	}
	b.factories[id] = f
	b.order = append(b.order, id)
	return nil
}

// Build instantiates every registered adapter and initializes the enabled
// ones. A disabled provider stays registered but reports unavailable.
func (b *Builder) Build(cfgs map[ProviderID]Config) (*Registry, error) {
	r := &Registry{adapters: make(map[ProviderID]Adapter, len(b.order))}
	for _, id := range b.order {
		a := b.factories[id]()
		if a.ID() != id {
			return nil, fmt.Errorf("factory for %q built %q", id, a.ID())
		}
		if cfg, ok := cfgs[id]; ok && cfg.Enabled {
			if err := a.Initialize(cfg); err != nil {
				return nil, fmt.Errorf("initialize %s: %w", id, err)
			}
		}
		r.adapters[id] = a
		r.order = append(r.order, id)
	}
	return r, nil
}

// Registry is read-only after Build and safe for concurrent use.
type Registry struct {
	adapters map[ProviderID]Adapter
	order    []ProviderID
}

// Get returns the adapter for id; ok is false for unknown or unregistered ids.
func (r *Registry) Get(id ProviderID) (Adapter, bool) {
	a, ok := r.adapters[id]
	return a, ok
}

// Lookup is Get for a raw id coming from a request.
func (r *Registry) Lookup(id string) (Adapter, bool) {
	return r.Get(ProviderID(id))
}

// All returns adapters in registration order.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.adapters[id])
	}
	return out
}
