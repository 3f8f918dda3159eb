package adapter

import (
	"fmt"

	"github.com/diamondlog/syncd/internal/schema"
)

// Registry holds one adapter per kind.
type Registry struct {
	byKind map[schema.Kind]Adapter
}

// NewRegistry returns a registry with the adapters of every kind.
func NewRegistry(lookup Lookup, files FileResolver) *Registry {
	return NewRegistryOf(
		NewProfile(lookup),
		NewSeason(lookup),
		NewGame(lookup),
		NewPractice(lookup),
		NewVideoClip(lookup, files),
		NewPlayResult(lookup),
		NewStatistics(lookup),
	)
}

// NewRegistryOf returns a registry of the given adapters. Registering two
// adapters for the same kind panics.
func NewRegistryOf(adapters ...Adapter) *Registry {
	r := &Registry{byKind: make(map[schema.Kind]Adapter, len(adapters))}
	for _, a := range adapters {
		if _, exists := r.byKind[a.Kind()]; exists {
			panic(fmt.Sprintf("adapter: registered twice for kind %s", a.Kind()))
		}
		r.byKind[a.Kind()] = a
	}
	return r
}

// For returns the adapter of kind.
func (r *Registry) For(kind schema.Kind) (Adapter, bool) {
	a, ok := r.byKind[kind]
	return a, ok
}

// All returns the registered adapters in sync order.
func (r *Registry) All() []Adapter {
	out := make([]Adapter, 0, len(r.byKind))
	for _, kind := range schema.SyncOrder {
		if a, ok := r.byKind[kind]; ok {
			out = append(out, a)
		}
	}
	return out
}
