// Package embedder provides interfaces for text embedding providers.
//
// It defines the Provider interface that all embedding implementations must
// satisfy, enabling text-to-vector conversion for similarity search, plus
// the SparseProvider interface for lexical-weight embeddings used by the
// sparse retrieval channel.
package embedder

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Action tells the provider what the embedding will be used for. Models
// with asymmetric query/document encodings use it to pick the right mode;
// other providers ignore it.
type Action string

// Embedding actions.
const (
	ActionAdd    Action = "add"
	ActionSearch Action = "search"
	ActionUpdate Action = "update"
)

// Provider defines the interface for embedding providers.
//
// All embedding implementations (OpenAI, Qwen, etc.) must implement this interface.
type Provider interface {
	// Embed converts a text string into a vector embedding.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - text: The input text to embed
	//   - action: What the embedding will be used for (add, search, update)
	//
	// Returns the embedding vector and any error.
	Embed(ctx context.Context, text string, action Action) ([]float64, error)

	// EmbedBatch converts multiple text strings into vector embeddings.
	//
	// This method is more efficient than calling Embed multiple times,
	// as it can batch process requests.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - texts: Slice of input texts to embed
	//   - action: What the embeddings will be used for
	//
	// Returns a slice of embedding vectors, index-aligned with texts, and any error.
	EmbedBatch(ctx context.Context, texts []string, action Action) ([][]float64, error)

	// Dimensions returns the dimension of embedding vectors produced by this provider.
	//
	// For example, OpenAI's text-embedding-ada-002 produces 1536-dimensional vectors.
	Dimensions() int

	// Close closes the provider and releases resources.
	Close() error
}

// SparseProvider produces sparse lexical embeddings: token id to weight
// maps consumed by the sparse retrieval channel.
type SparseProvider interface {
	// EmbedSparse converts text into a sparse token-weight map.
	EmbedSparse(ctx context.Context, text string) (map[int32]float64, error)

	// Close closes the provider and releases resources.
	Close() error
}

// ClientConfig is the provider-independent configuration handed to
// factories.
type ClientConfig struct {
	// APIKey authenticates against the provider.
	APIKey string

	// Model overrides the provider's default embedding model.
	Model string

	// BaseURL overrides the provider's default endpoint.
	BaseURL string

	// Dimensions overrides the provider's default vector width, for models
	// that support shortened embeddings.
	Dimensions int
}

// Factory constructs a dense embedding provider from client configuration.
type Factory func(cfg ClientConfig) (Provider, error)

// SparseFactory constructs a sparse embedding provider.
type SparseFactory func(cfg ClientConfig) (SparseProvider, error)

// Registry maps provider names to factories for both dense and sparse
// embedders. Registries are plain values owned by their constructor; the
// memory facade builds one with the built-in providers.
type Registry struct {
	mu     sync.RWMutex
	dense  map[string]Factory
	sparse map[string]SparseFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		dense:  make(map[string]Factory),
		sparse: make(map[string]SparseFactory),
	}
}

// Register adds or replaces the dense factory for name.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dense[strings.ToLower(name)] = factory
}

// RegisterSparse adds or replaces the sparse factory for name.
func (r *Registry) RegisterSparse(name string, factory SparseFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sparse[strings.ToLower(name)] = factory
}

// New constructs the named dense provider.
func (r *Registry) New(name string, cfg ClientConfig) (Provider, error) {
	r.mu.RLock()
	factory, ok := r.dense[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported embedder provider %q (registered: %s)",
			name, strings.Join(r.Providers(), ", "))
	}
	return factory(cfg)
}

// NewSparse constructs the named sparse provider.
func (r *Registry) NewSparse(name string, cfg ClientConfig) (SparseProvider, error) {
	r.mu.RLock()
	factory, ok := r.sparse[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported sparse embedder provider %q", name)
	}
	return factory(cfg)
}

// Providers returns the registered dense provider names, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.dense))
	for name := range r.dense {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
