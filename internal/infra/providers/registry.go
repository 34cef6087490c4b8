package providers

import (
	"strings"

	"planetq-generation/internal/domain/ports/adapter"
)

var _ adapter.ProviderRegistry = (*Registry)(nil)

// Registry resolves provider adapters by name. Built once at startup.
type Registry struct {
	byName map[string]adapter.GenerationProvider
}

func NewRegistry(ps ...adapter.GenerationProvider) *Registry {
	r := &Registry{byName: make(map[string]adapter.GenerationProvider, len(ps))}
	for _, p := range ps {
		r.byName[strings.ToLower(p.Name())] = p
	}
	return r
}

func (r *Registry) Get(name string) (adapter.GenerationProvider, bool) {
	p, ok := r.byName[strings.ToLower(name)]
	return p, ok
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for n := range r.byName {
		names = append(names, n)
	}
	return names
}
