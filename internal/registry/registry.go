package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/specialistvlad/jobgrid/internal/work"
)

// Module is the interface that all built-in modules implement to be registered.
type Module interface {
	Register(r *Registry)
}

// Registry holds the work functions available to one application instance.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]work.Func
}

// New creates a registry and registers the given modules into it.
func New(modules ...Module) *Registry {
	r := &Registry{funcs: make(map[string]work.Func)}
	for _, m := range modules {
		m.Register(r)
	}
	return r
}

// Register adds a work function under name. Registering a name twice is a
// programming error and panics.
func (r *Registry) Register(name string, fn work.Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[name]; exists {
		panic(fmt.Sprintf("work function with name '%s' already registered", name))
	}
	if fn == nil {
		panic(fmt.Sprintf("work function '%s' is nil", name))
	}
	slog.Debug("Registering work function.", "name", name)
	r.funcs[name] = fn
}

// Lookup returns the function registered under name.
func (r *Registry) Lookup(name string) (work.Func, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", work.ErrUnknownFunction, name)
	}
	return fn, nil
}

// Names returns the registered function names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
