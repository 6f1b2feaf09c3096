// Package storage provides interfaces and types for vector storage backends.
//
// It defines the VectorStore interface that all storage implementations must
// satisfy, along with the memory record model, the hybrid search contract,
// and the backend registry.
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ob-labs/powermem-go/pkg/filter"
)

// Default reciprocal rank fusion channel weights. Backends fall back to
// these when the configured weight is zero.
const (
	DefaultVectorWeight = 1.0
	DefaultFTSWeight    = 0.6
	DefaultSparseWeight = 0.4
)

// Retrieval channel names used in FusionInfo ranks.
const (
	ChannelDense  = "dense"
	ChannelFTS    = "fts"
	ChannelSparse = "sparse"
)

// Memory represents a memory record stored in the vector store.
//
// This type is defined in the storage package to avoid circular dependencies
// with the core package. It mirrors the core.Memory structure.
type Memory struct {
	// ID is the unique identifier of the memory (snowflake, caller-allocated).
	ID int64

	// UserID identifies the user who owns this memory.
	UserID string

	// AgentID identifies the agent associated with this memory.
	AgentID string

	// RunID identifies the session or run this memory belongs to.
	RunID string

	// ActorID identifies the message author within a conversation.
	ActorID string

	// Hash is the 16-hex-char content fingerprint used for exact dedup.
	Hash string

	// Content is the text content of the memory.
	Content string

	// Embedding is the dense vector embedding for similarity search.
	Embedding []float64

	// Sparse is the sparse token-weight embedding (for hybrid search).
	Sparse map[int32]float64

	// Metadata contains additional structured information, including the
	// retention block under the "retention" key.
	Metadata map[string]interface{}

	// CreatedAt is when the memory was created (UTC).
	CreatedAt time.Time

	// UpdatedAt is when the memory was last updated (UTC).
	UpdatedAt time.Time

	// Score is the fused relevance score from search operations.
	Score float64

	// FusionInfo carries per-channel ranks for search hits.
	FusionInfo *FusionInfo
}

// FusionInfo records which retrieval channels surfaced a hit and at what
// rank. Ranks are 1-based; zero means the channel did not return the hit.
type FusionInfo struct {
	DenseRank  int `json:"dense_rank,omitempty"`
	FTSRank    int `json:"fts_rank,omitempty"`
	SparseRank int `json:"sparse_rank,omitempty"`
}

// Doc returns the record as a filter document: scope columns at the top
// level, metadata nested under "metadata". Used with filter.Match.
func (m *Memory) Doc() map[string]interface{} {
	return map[string]interface{}{
		"id":         m.ID,
		"user_id":    m.UserID,
		"agent_id":   m.AgentID,
		"run_id":     m.RunID,
		"actor_id":   m.ActorID,
		"hash":       m.Hash,
		"content":    m.Content,
		"created_at": m.CreatedAt,
		"updated_at": m.UpdatedAt,
		"metadata":   m.Metadata,
	}
}

// Clone returns a deep-enough copy for routing and migration paths that
// mutate metadata before re-inserting.
func (m *Memory) Clone() *Memory {
	clone := *m
	if m.Embedding != nil {
		clone.Embedding = append([]float64(nil), m.Embedding...)
	}
	if m.Sparse != nil {
		clone.Sparse = make(map[int32]float64, len(m.Sparse))
		for k, v := range m.Sparse {
			clone.Sparse[k] = v
		}
	}
	if m.Metadata != nil {
		clone.Metadata = make(map[string]interface{}, len(m.Metadata))
		for k, v := range m.Metadata {
			clone.Metadata[k] = v
		}
	}
	if m.FusionInfo != nil {
		info := *m.FusionInfo
		clone.FusionInfo = &info
	}
	return &clone
}

// VectorIndexType defines the type of vector index for efficient similarity search.
type VectorIndexType string

const (
	// IndexTypeHNSW uses Hierarchical Navigable Small World graph.
	IndexTypeHNSW VectorIndexType = "HNSW"

	// IndexTypeIVFFlat uses Inverted File Index with flat vectors.
	IndexTypeIVFFlat VectorIndexType = "IVF_FLAT"

	// IndexTypeIVFPQ uses Inverted File Index with Product Quantization.
	IndexTypeIVFPQ VectorIndexType = "IVF_PQ"
)

// MetricType defines the distance metric for vector similarity.
type MetricType string

const (
	// MetricCosine uses cosine similarity.
	MetricCosine MetricType = "cosine"

	// MetricL2 uses Euclidean distance (L2 norm).
	MetricL2 MetricType = "l2"

	// MetricIP uses inner product (dot product).
	MetricIP MetricType = "ip"
)

// HNSWParams contains parameters for HNSW index configuration.
type HNSWParams struct {
	// M is the maximum number of connections for each node.
	M int

	// EfConstruction is the search depth during index construction.
	EfConstruction int

	// EfSearch is the search depth during queries.
	EfSearch int
}

// IVFParams contains parameters for IVF (Inverted File) index configuration.
type IVFParams struct {
	// Nlist is the number of clusters (centroids).
	Nlist int

	// Nprobe is the number of clusters to search during queries.
	Nprobe int
}

// VectorIndexConfig contains configuration for creating a vector index.
type VectorIndexConfig struct {
	// IndexName is the name of the index.
	IndexName string

	// VectorField is the name of the vector field to index.
	VectorField string

	// IndexType is the type of index to create.
	IndexType VectorIndexType

	// MetricType is the distance metric to use.
	MetricType MetricType

	// HNSWParams contains HNSW-specific parameters (if IndexType is HNSW).
	HNSWParams *HNSWParams

	// IVFParams contains IVF-specific parameters (if IndexType is IVF_FLAT or IVF_PQ).
	IVFParams *IVFParams
}

// SearchQuery describes one hybrid search against a store.
//
// Dense is required. Text enables the lexical channel on backends that
// support it; Sparse enables the sparse channel. Backends drop channels
// they cannot run and renormalize fusion weights over the rest.
type SearchQuery struct {
	// Dense is the query embedding.
	Dense []float64

	// Text is the original query text for the full-text channel.
	Text string

	// Sparse is the sparse query embedding.
	Sparse map[int32]float64

	// Limit is the maximum number of hits to return.
	Limit int

	// Filter restricts candidates; applied with stable order preserved.
	Filter filter.Expr
}

// MemoryUpdate describes a partial update. Nil fields keep their stored
// value; a non-nil Metadata replaces the whole map. Content updates
// recompute the stored fingerprint.
type MemoryUpdate struct {
	Content   *string
	Embedding []float64
	Sparse    map[int32]float64
	Metadata  map[string]interface{}
}

// ListOptions contains filtering and pagination for List.
type ListOptions struct {
	// Filter restricts results; nil lists everything.
	Filter filter.Expr

	// Limit caps the number of results (0 means backend default of 100).
	Limit int

	// Offset skips results for pagination.
	Offset int
}

// CollectionInfo describes a bound collection.
type CollectionInfo struct {
	// Name is the collection (table) name.
	Name string

	// Backend is the backend identifier.
	Backend string

	// Dims is the dense embedding width.
	Dims int

	// Metric is the configured distance metric.
	Metric MetricType

	// Count is the number of stored records.
	Count int64
}

// Capabilities describes which retrieval channels and filter operators a
// backend supports. The router and search planner consult it to decide
// which channels to run and when to degrade.
type Capabilities struct {
	// Name is the backend identifier ("oceanbase", "postgres", "sqlite").
	Name string

	// FTS reports whether the backend runs a lexical full-text channel.
	FTS bool

	// Sparse reports whether the backend scores sparse embeddings.
	Sparse bool

	// FullFilters reports whether the backend compiles the complete
	// filter algebra. Equality-only backends reject range and pattern
	// operators instead of silently dropping them.
	FullFilters bool
}

// VectorStore defines the interface for vector storage backends.
//
// All storage implementations (OceanBase, PostgreSQL, SQLite) must
// implement this interface. Implementations bind one collection at
// construction time.
type VectorStore interface {
	// CreateCol creates the bound collection if it does not exist.
	// Idempotent.
	CreateCol(ctx context.Context) error

	// Insert inserts a batch of memories atomically. IDs must be
	// pre-allocated by the caller; an empty Hash is derived from Content.
	Insert(ctx context.Context, memories []*Memory) error

	// Search performs hybrid retrieval per the fusion contract.
	//
	// Parameters:
	//   - ctx: Context for cancellation
	//   - query: Dense vector plus optional text/sparse channels, limit, filter
	//
	// Returns at most query.Limit hits ordered by fused score (highest
	// first), each carrying Score and FusionInfo.
	Search(ctx context.Context, query *SearchQuery) ([]*Memory, error)

	// Get retrieves a memory by ID. Returns memerr.ErrNotFound if absent.
	Get(ctx context.Context, id int64) (*Memory, error)

	// Update applies a partial update and returns the updated record.
	// Returns memerr.ErrNotFound if absent.
	Update(ctx context.Context, id int64, update *MemoryUpdate) (*Memory, error)

	// Delete deletes a memory by ID. Returns memerr.ErrNotFound if absent.
	Delete(ctx context.Context, id int64) error

	// List retrieves memories matching the filter, newest first
	// (updated_at, then id, descending), with pagination.
	List(ctx context.Context, opts *ListOptions) ([]*Memory, error)

	// Count returns the number of memories matching the filter.
	Count(ctx context.Context, f filter.Expr) (int64, error)

	// DeleteAll deletes every memory matching the filter. A nil filter is
	// rejected; use Reset to truncate.
	DeleteAll(ctx context.Context, f filter.Expr) error

	// DeleteCol drops the bound collection.
	DeleteCol(ctx context.Context) error

	// ColInfo describes the bound collection.
	ColInfo(ctx context.Context) (*CollectionInfo, error)

	// Reset drops and recreates the bound collection.
	Reset(ctx context.Context) error

	// CreateIndex creates a vector index for improved search performance.
	CreateIndex(ctx context.Context, config *VectorIndexConfig) error

	// Capabilities reports the backend's channel and filter support.
	Capabilities() Capabilities

	// Close closes the store and releases resources.
	Close() error
}

// Factory creates a VectorStore from a provider-specific configuration map.
type Factory func(cfg map[string]interface{}) (VectorStore, error)

// Registry maps backend names to factories. Lookups are case-insensitive.
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

// New creates a store by backend name.
func (r *Registry) New(name string, cfg map[string]interface{}) (VectorStore, error) {
	r.mu.RLock()
	factory, ok := r.factories[strings.ToLower(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown vector store provider %q (registered: %s)",
			name, strings.Join(r.providerNames(), ", "))
	}
	return factory(cfg)
}

// Providers returns the registered backend names, sorted.
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
