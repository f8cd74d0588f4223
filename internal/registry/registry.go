// Package registry resolves adapters by name or capability. Adapters are
// built lazily on first lookup and cached.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/yorozuya-cybersecurity/yoroguard/internal/services"
)

// ErrNotFound is returned for names that were never registered.
var ErrNotFound = errors.New("service not registered")

// Factory builds an adapter from its settings.
type Factory func(settings services.Settings) (services.Adapter, error)

type entry struct {
	name     string
	factory  Factory
	settings services.Settings

	once    sync.Once
	adapter services.Adapter
	err     error
}

func (e *entry) get() (services.Adapter, error) {
	e.once.Do(func() {
		e.adapter, e.err = e.factory(e.settings)
		if e.err == nil && e.adapter == nil {
			e.err = fmt.Errorf("factory for %s returned no adapter", e.name)
		}
	})
	return e.adapter, e.err
}

// Registry is populated once at startup and read afterwards.
type Registry struct {
	entries map[string]*entry
	order   []string
}

func New() *Registry {
	return &Registry{entries: map[string]*entry{}}
}

// Register adds name and any aliases, all resolving to the same instance.
// Re-registering a name replaces it.
func (r *Registry) Register(name string, factory Factory, settings services.Settings, aliases ...string) {
	e := &entry{name: name, factory: factory, settings: settings}
	if _, exists := r.entries[name]; !exists {
		r.order = append(r.order, name)
	}
	r.entries[name] = e
	for _, a := range aliases {
		r.entries[a] = e
	}
}

func (r *Registry) Has(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// Get returns the adapter for a name or alias.
func (r *Registry) Get(name string) (services.Adapter, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	a, err := e.get()
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", name, err)
	}
	return a, nil
}

// Names lists primary names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Aliases maps every alias to its primary name.
func (r *Registry) Aliases() map[string]string {
	out := map[string]string{}
	for key, e := range r.entries {
		if key != e.name {
			out[key] = e.name
		}
	}
	return out
}

// All returns every adapter that could be built, in registration order.
func (r *Registry) All() []services.Adapter {
	var out []services.Adapter
	for _, name := range r.order {
		if a, err := r.entries[name].get(); err == nil {
			out = append(out, a)
		}
	}
	return out
}

// FilterByCapability returns the adapters advertising c.
func (r *Registry) FilterByCapability(c services.Capability) []services.Adapter {
	var out []services.Adapter
	for _, a := range r.All() {
		if services.HasCapability(a, c) {
			out = append(out, a)
		}
	}
	return out
}

// Capabilities lists the distinct capabilities across all adapters.
func (r *Registry) Capabilities() []services.Capability {
	seen := map[services.Capability]bool{}
	for _, a := range r.All() {
		for _, c := range a.Capabilities() {
			seen[c] = true
		}
	}
	out := make([]services.Capability, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
