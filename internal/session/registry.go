package session

import (
	"sort"

	"github.com/itsmostafa/rerequire/internal/resolve"
)

// Binding pairs a module key with the global its exports are bound to.
type Binding struct {
	Key    resolve.Key
	Global string
}

// Registry maps module keys to global names, at most one global per key.
// Global names are not checked: two modules bound to the same name overwrite
// each other, last reload wins. The registry is owned by the session loop.
type Registry struct {
	bindings map[resolve.Key]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[resolve.Key]string)}
}

// TryBind records key -> global unless key is already bound. Rejection
// leaves the registry untouched.
func (r *Registry) TryBind(key resolve.Key, global string) bool {
	if _, ok := r.bindings[key]; ok {
		return false
	}
	r.bindings[key] = global
	return true
}

// Lookup returns the global bound to key.
func (r *Registry) Lookup(key resolve.Key) (string, bool) {
	global, ok := r.bindings[key]
	return global, ok
}

// Release removes key's binding.
func (r *Registry) Release(key resolve.Key) bool {
	if _, ok := r.bindings[key]; !ok {
		return false
	}
	delete(r.bindings, key)
	return true
}

// Len returns the number of bindings.
func (r *Registry) Len() int {
	return len(r.bindings)
}

// Bindings returns a snapshot sorted by key.
func (r *Registry) Bindings() []Binding {
	out := make([]Binding, 0, len(r.bindings))
	for key, global := range r.bindings {
		out = append(out, Binding{Key: key, Global: global})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
