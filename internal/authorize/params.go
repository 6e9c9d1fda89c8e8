package authorize

import (
	"sort"

	"msggrabber/internal/config"
)

// Params is the normalized mapping produced by Authorize. A key mapped to
// nil is a declared parameter that was absent and had no default.
type Params map[string]*string

// Get returns the value for key, or "" when absent or null.
func (p Params) Get(key string) string {
	if v := p[key]; v != nil {
		return *v
	}
	return ""
}

// Lookup reports whether key holds a non-null value.
func (p Params) Lookup(key string) (string, bool) {
	v := p[key]
	if v == nil {
		return "", false
	}
	return *v, true
}

func (p Params) Set(key, value string) {
	p[key] = &value
}

func (p Params) SetNull(key string) {
	p[key] = nil
}

// Keys returns the stored keys in lexical order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Generator derives a field value from the parameters collected so far.
type Generator func(params Params, field config.FieldSpec) (string, error)

// Registry resolves generator names.
type Registry interface {
	Lookup(name string) (Generator, bool)
}
