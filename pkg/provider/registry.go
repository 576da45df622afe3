package provider

import (
	"sort"
	"strings"
	"sync"

	"github.com/harunnryd/vocalink/pkg/errorsx"
)

// Registry resolves providers by name. Names are matched case-insensitively
// after trimming.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// DefaultRegistry knows every built-in provider.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewOpenAI())
	r.Register(NewOutspeed())
	return r
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[normalize(string(p.Kind()))] = p
}

func (r *Registry) Lookup(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[normalize(name)]
	if !ok {
		return nil, errorsx.Newf(errorsx.ReasonConfigUnknownProvider, "provider not registered: %q", name)
	}
	return p, nil
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
