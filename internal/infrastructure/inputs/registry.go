package inputs

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

// GlobalRegistry holds the source types compiled into the binary. Input
// packages register themselves in init.
var GlobalRegistry = NewRegistry()

// Registry holds registered input factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

// Register adds a factory for a source type.
func (r *Registry) Register(factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[factory.Name()] = factory
}

// Create validates spec against its type and builds the input.
func (r *Registry) Create(spec Spec, buffer Buffer, logger zerolog.Logger) (MessageInput, error) {
	r.mu.RLock()
	factory, ok := r.factories[spec.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown source type: %s", spec.Type)
	}
	cfg := spec.ConfigWithName()
	if err := cfg.Validate(factory.ConfigSpec()); err != nil {
		return nil, err
	}
	return factory.Create(cfg, buffer, logger.With().Str("source_type", spec.Type).Logger())
}

// ListRegistered returns all registered type names, sorted.
func (r *Registry) ListRegistered() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetTypeInfo returns the config spec for the given type. ok is false if the type is not registered.
func (r *Registry) GetTypeInfo(name string) (info TypeInfo, ok bool) {
	r.mu.RLock()
	factory, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return TypeInfo{}, false
	}
	return factory.ConfigSpec(), true
}

// AllTypesInfo returns config specs for all registered types, sorted by type.
func (r *Registry) AllTypesInfo() []TypeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TypeInfo, 0, len(r.factories))
	for _, factory := range r.factories {
		out = append(out, factory.ConfigSpec())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
