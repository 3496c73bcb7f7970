package exchange

import (
	"fmt"
	"strings"
	"sync"
)

// Registry maps named exchange accounts to gateways. Agents reference an
// account by name; an empty name falls back to the default handle when one
// is registered.
type Registry struct {
	mu       sync.RWMutex
	handles  map[string]Gateway
	fallback Gateway
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]Gateway)}
}

func (r *Registry) Register(name string, gw Gateway, isDefault bool) {
	name = strings.TrimSpace(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if name != "" {
		r.handles[name] = gw
	}
	if isDefault || r.fallback == nil {
		r.fallback = gw
	}
}

// Resolve returns the gateway for the named account, or the default handle
// when name is empty. A named account that is not registered is an error:
// silently trading on the wrong account is worse than failing the decision.
func (r *Registry) Resolve(name string) (Gateway, error) {
	name = strings.TrimSpace(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		if r.fallback == nil {
			return nil, fmt.Errorf("no default execution account registered")
		}
		return r.fallback, nil
	}
	gw, ok := r.handles[name]
	if !ok {
		return nil, fmt.Errorf("execution account %q not registered", name)
	}
	return gw, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handles))
	for name := range r.handles {
		names = append(names, name)
	}
	return names
}
