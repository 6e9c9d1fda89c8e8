// Package fieldgen holds the named generators that derive extra message
// fields from validated request parameters.
package fieldgen

import (
	"sort"
	"sync"

	"msggrabber/internal/authorize"
)

// Registry maps generator names to functions. It is filled at startup and
// only read while serving.
type Registry struct {
	mu   sync.RWMutex
	gens map[string]authorize.Generator
}

func NewRegistry() *Registry {
	return &Registry{gens: map[string]authorize.Generator{}}
}

// Register adds or replaces a generator.
func (r *Registry) Register(name string, gen authorize.Generator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gens[name] = gen
}

func (r *Registry) Lookup(name string) (authorize.Generator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gen, ok := r.gens[name]
	return gen, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Names returns the registered names in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.gens))
	for name := range r.gens {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default returns a registry with the built-in generators.
func Default() *Registry {
	r := NewRegistry()
	r.Register(OTPExpiry, GenerateOTPExpiry)
	r.Register(OTPCode, GenerateOTPCode)
	return r
}
