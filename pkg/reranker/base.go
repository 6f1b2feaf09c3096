// Package reranker defines the interface for relevance rerankers.
//
// A reranker re-scores a candidate list against the original query with a
// cross-encoder model. It runs after retrieval fusion, so implementations
// only ever see a few dozen documents per call.
package reranker

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Result is one reranked document.
type Result struct {
	// Index is the document's position in the input slice.
	Index int
	// Score is the model's relevance score, higher is better.
	Score float64
}

// Provider is the interface all rerankers must implement.
type Provider interface {
	// Rerank scores documents against the query and returns the top
	// topN results ordered by descending relevance. topN <= 0 means
	// all documents.
	//
	// Args:
	//   - ctx: Context for the request
	//   - query: The search query
	//   - documents: Candidate texts to score
	//   - topN: Maximum number of results to return
	//
	// Returns:
	//   - []Result: Scored documents, best first
	//   - error: Error if the request fails
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error)

	// Close releases resources held by the provider.
	Close() error
}

// ClientConfig is the common configuration for reranker providers.
type ClientConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Factory creates a Provider from a config.
type Factory func(cfg *ClientConfig) (Provider, error)

// Registry maps provider names to factories. Lookups are
// case-insensitive.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name, replacing any previous entry.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = factory
}

// New creates a provider by name.
func (r *Registry) New(name string, cfg *ClientConfig) (Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown reranker provider %q (registered: %s)",
			name, strings.Join(r.providerNames(), ", "))
	}
	return factory(cfg)
}

// Providers returns the registered provider names, sorted.
func (r *Registry) Providers() []string {
	return r.providerNames()
}

func (r *Registry) providerNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
