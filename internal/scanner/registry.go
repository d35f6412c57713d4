package scanner

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds named scanners for selection by config.
type Registry struct {
	scanners map[string]Scanner
	mu       sync.RWMutex
}

// NewRegistry returns an empty registry. Call Register to add scanners.
func NewRegistry() *Registry {
	return &Registry{scanners: make(map[string]Scanner)}
}

// Register adds a scanner under its own name.
func (r *Registry) Register(s Scanner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scanners[s.Name()] = s
}

// Get returns the scanner by name, or an error if not found.
func (r *Registry) Get(name string) (Scanner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scanners[name]
	if !ok {
		return nil, fmt.Errorf("scanner %q not found", name)
	}
	return s, nil
}

// All returns the registered scanners ordered by name, so the engine runs
// them in a stable order regardless of registration order.
func (r *Registry) All() []Scanner {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.scanners))
	for n := range r.scanners {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]Scanner, len(names))
	for i, n := range names {
		out[i] = r.scanners[n]
	}
	return out
}

// List returns all registered scanner names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.scanners))
	for n := range r.scanners {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
