package llm

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ClientConfig is the provider-independent configuration handed to
// factories. Provider packages map it onto their own Config types.
type ClientConfig struct {
	// APIKey authenticates against the provider.
	APIKey string

	// Model overrides the provider's default model when non-empty.
	Model string

	// BaseURL overrides the provider's default endpoint when non-empty.
	BaseURL string
}

// Factory constructs a provider from client configuration.
type Factory func(cfg ClientConfig) (Provider, error)

// Registry maps provider names to factories.
//
// Registries are plain values owned by whoever constructs them; there is
// no package-global default. The memory facade builds one with the
// built-in providers and callers may register additional implementations
// before constructing a client.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces the factory for name. Names are matched
// case-insensitively.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = factory
}

// New constructs the named provider. Unknown names report the registered
// alternatives.
func (r *Registry) New(name string, cfg ClientConfig) (Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported llm provider %q (registered: %s)",
			name, strings.Join(r.Providers(), ", "))
	}
	return factory(cfg)
}

// Providers returns the registered provider names, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
