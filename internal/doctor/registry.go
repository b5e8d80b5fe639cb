// Package doctor holds the fixed roster of bookable doctors.
package doctor

import "strings"

// Registry is an immutable set of doctor names, built once at startup.
type Registry struct {
	names []string
	set   map[string]struct{}
}

// NewRegistry builds a registry from the configured roster. Blank and
// duplicate names are dropped; order of first appearance is kept.
func NewRegistry(names []string) *Registry {
	r := &Registry{set: make(map[string]struct{}, len(names))}
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := r.set[n]; ok {
			continue
		}
		r.set[n] = struct{}{}
		r.names = append(r.names, n)
	}
	return r
}

// IsValid reports whether name is an exact member of the roster.
func (r *Registry) IsValid(name string) bool {
	_, ok := r.set[name]
	return ok
}

// Names returns a copy of the roster.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}
