package asm

import (
	"sort"
	"strings"
)

// Registry maps macro names to their definitions. Lookup resolves a call by
// fully-qualified name first, then walks the caller's lexical scope chain
// outward (a call to `foo` from namespace a.b tries a.b.foo, a.foo, foo).
type Registry struct {
	macros map[MacroName]*Macro
}

func NewRegistry() *Registry {
	return &Registry{macros: make(map[MacroName]*Macro)}
}

// Define registers a macro. It returns the previous definition if the same
// name and arity was already taken.
func (r *Registry) Define(m *Macro) *Macro {
	if prev, ok := r.macros[m.Name]; ok {
		return prev
	}
	r.macros[m.Name] = m
	return nil
}

// scopeChain lists the candidate full names for a call, innermost first.
func scopeChain(name, namespace string) []string {
	chain := []string{}
	for namespace != "" {
		chain = append(chain, namespace+"."+name)
		if i := strings.LastIndexByte(namespace, '.'); i >= 0 {
			namespace = namespace[:i]
		} else {
			namespace = ""
		}
	}
	return append(chain, name)
}

// Lookup resolves a call site to a definition, or nil.
func (r *Registry) Lookup(name MacroName, namespace string) *Macro {
	for _, full := range scopeChain(name.Name, namespace) {
		if m, ok := r.macros[MacroName{Name: full, Params: name.Params}]; ok {
			return m
		}
	}
	return nil
}

// Arities returns the sorted arity list defined for a base name anywhere on
// the caller's scope chain; used for arity-mismatch diagnostics.
func (r *Registry) Arities(name, namespace string) []int {
	set := map[int]bool{}
	for _, full := range scopeChain(name, namespace) {
		for key := range r.macros {
			if key.Name == full && !set[key.Params] {
				set[key.Params] = true
			}
		}
	}
	arities := make([]int, 0, len(set))
	for n := range set {
		arities = append(arities, n)
	}
	sort.Ints(arities)
	return arities
}

// Len reports the number of registered macros.
func (r *Registry) Len() int { return len(r.macros) }
