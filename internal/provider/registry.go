package provider

import (
	"strings"
	"sync"
)

// Registry maps provider names to adapters and tracks the primary selection.
// Registration happens once at startup; Primary re-checks configuration on
// every call because credentials can appear or vanish at runtime.
type Registry struct {
	mu        sync.RWMutex
	order     []string
	byName    map[string]Provider
	primary   Provider
	preferred func() string
}

// NewRegistry creates an empty registry. preferred resolves the configured
// primary-provider name at call time (it reads live config, not a snapshot).
func NewRegistry(preferred func() string) *Registry {
	if preferred == nil {
		preferred = func() string { return "" }
	}
	return &Registry{
		byName:    make(map[string]Provider),
		preferred: preferred,
	}
}

// Register adds an adapter under its name. The first configured adapter
// registered becomes the cached primary.
func (r *Registry) Register(p Provider) {
	name := strings.ToLower(strings.TrimSpace(p.Name()))
	if name == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; !exists {
		r.order = append(r.order, name)
	}
	r.byName[name] = p
	if r.primary == nil && p.Configured() {
		r.primary = p
	}
}

func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns the registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Primary returns the default adapter: the cached primary while it stays
// configured, else the configured preference, else the first configured
// adapter in registration order. Cache replacement is the only mutation; a
// failed resolution leaves the cache untouched.
func (r *Registry) Primary() (Provider, error) {
	r.mu.RLock()
	cached := r.primary
	r.mu.RUnlock()

	if cached != nil && cached.Configured() {
		return cached, nil
	}

	if name := strings.ToLower(strings.TrimSpace(r.preferred())); name != "" {
		if p, ok := r.Get(name); ok && p.Configured() {
			r.cachePrimary(p)
			return p, nil
		}
	}

	r.mu.RLock()
	order := make([]string, len(r.order))
	copy(order, r.order)
	r.mu.RUnlock()

	for _, name := range order {
		if p, ok := r.Get(name); ok && p.Configured() {
			r.cachePrimary(p)
			return p, nil
		}
	}

	return nil, ErrNoProviderConfigured
}

func (r *Registry) cachePrimary(p Provider) {
	r.mu.Lock()
	r.primary = p
	r.mu.Unlock()
}
