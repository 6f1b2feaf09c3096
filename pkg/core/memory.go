// Package core provides the main PowerMem client and memory management functionality.
package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/ob-labs/powermem-go/pkg/embedder"
	"github.com/ob-labs/powermem-go/pkg/filter"
	"github.com/ob-labs/powermem-go/pkg/intelligence"
	"github.com/ob-labs/powermem-go/pkg/llm"
	"github.com/ob-labs/powermem-go/pkg/memerr"
	"github.com/ob-labs/powermem-go/pkg/memid"
	"github.com/ob-labs/powermem-go/pkg/reranker"
	"github.com/ob-labs/powermem-go/pkg/storage"
	"github.com/ob-labs/powermem-go/pkg/substore"
	"github.com/ob-labs/powermem-go/pkg/telemetry"
)

const tracerName = "github.com/ob-labs/powermem-go/pkg/core"

// Client is the main PowerMem client providing memory management operations.
//
// It wires the configured LLM, embedders, reranker and vector stores into
// the ingest and retrieval pipelines. A Client is safe for concurrent use;
// every operation takes a context and respects cancellation.
//
// Example:
//
//	config, _ := core.LoadConfigFromEnv()
//	client, err := core.NewClient(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	result, err := client.Add(ctx, "User likes Python",
//	    core.WithUserID("user_001"))
type Client struct {
	config *Config

	llm      llm.Provider
	embedder embedder.Provider
	sparse   embedder.SparseProvider
	reranker reranker.Provider

	router *substore.Router
	status *substore.StatusStore

	ids       *memid.Generator
	intel     *intelligence.Config
	retention *intelligence.RetentionManager
	writeback *intelligence.WritebackWorker
	extractor *intelligence.FactExtractor
	decider   *intelligence.DecisionMaker
	scorer    *intelligence.ImportanceEvaluator

	metrics *telemetry.Metrics
	tracer  trace.Tracer
}

// ClientOption overrides a constructed dependency, primarily for tests and
// embedders of the library that bring their own provider implementations.
type ClientOption func(*clientOverrides)

type clientOverrides struct {
	llm       llm.Provider
	embedder  embedder.Provider
	sparse    embedder.SparseProvider
	reranker  reranker.Provider
	mainStore storage.VectorStore
	subStores map[string]storage.VectorStore
}

// WithLLMProvider replaces the configured LLM provider.
func WithLLMProvider(p llm.Provider) ClientOption {
	return func(o *clientOverrides) { o.llm = p }
}

// WithEmbedderProvider replaces the configured dense embedding provider.
// The provider is still wrapped by the request batcher.
func WithEmbedderProvider(p embedder.Provider) ClientOption {
	return func(o *clientOverrides) { o.embedder = p }
}

// WithSparseProvider replaces the configured sparse embedding provider.
func WithSparseProvider(p embedder.SparseProvider) ClientOption {
	return func(o *clientOverrides) { o.sparse = p }
}

// WithRerankerProvider replaces the configured reranker.
func WithRerankerProvider(p reranker.Provider) ClientOption {
	return func(o *clientOverrides) { o.reranker = p }
}

// WithMainStore replaces the configured main vector store.
func WithMainStore(s storage.VectorStore) ClientOption {
	return func(o *clientOverrides) { o.mainStore = s }
}

// WithSubStoreBackend replaces the backing store of the named sub-store.
func WithSubStoreBackend(name string, s storage.VectorStore) ClientOption {
	return func(o *clientOverrides) {
		if o.subStores == nil {
			o.subStores = make(map[string]storage.VectorStore)
		}
		o.subStores[name] = s
	}
}

// NewClient creates a new PowerMem client from configuration.
//
// Construction validates the configuration, builds the provider stack from
// the built-in registries, binds the main store and every configured
// sub-store (creating collections as needed), restores persisted sub-store
// lifecycle state, and starts the retention write-back worker.
//
// Returns an error wrapping ErrInvalidConfig when the configuration cannot
// produce a working client.
func NewClient(cfg *Config, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		return nil, NewMemoryError("NewClient", fmt.Errorf("%w: config is required", ErrInvalidConfig))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o clientOverrides
	for _, opt := range opts {
		opt(&o)
	}

	c := &Client{
		config:  cfg,
		metrics: telemetry.Default(),
		tracer:  otel.Tracer(tracerName),
	}

	if err := c.initProviders(&o); err != nil {
		return nil, err
	}
	if err := c.initStores(&o); err != nil {
		c.closeProviders()
		return nil, err
	}
	c.initIntelligence()

	ids, err := memid.NewGenerator(cfg.VectorStore.WorkerID)
	if err != nil {
		c.closeProviders()
		return nil, NewMemoryError("NewClient", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	c.ids = ids

	log.Info().
		Str("llm", cfg.LLM.Provider).
		Str("embedder", cfg.Embedder.Provider).
		Str("vector_store", cfg.VectorStore.Provider).
		Int("sub_stores", len(cfg.SubStores)).
		Bool("intelligence", cfg.Intelligence != nil && cfg.Intelligence.Enabled).
		Msg("powermem client initialized")
	return c, nil
}

func (c *Client) initProviders(o *clientOverrides) error {
	cfg := c.config

	if o.llm != nil {
		c.llm = o.llm
	} else {
		provider, err := builtinLLMRegistry().New(cfg.LLM.Provider, llm.ClientConfig{
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
			BaseURL: cfg.LLM.BaseURL,
		})
		if err != nil {
			return NewMemoryError("NewClient", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
		}
		c.llm = provider
	}

	dense := o.embedder
	if dense == nil {
		provider, err := builtinEmbedderRegistry().New(cfg.Embedder.Provider, embedder.ClientConfig{
			APIKey:     cfg.Embedder.APIKey,
			Model:      cfg.Embedder.Model,
			BaseURL:    cfg.Embedder.BaseURL,
			Dimensions: cfg.Embedder.Dimensions,
		})
		if err != nil {
			return NewMemoryError("NewClient", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
		}
		dense = provider
	}
	// All dense embedding goes through the coalescing batcher; closing the
	// batcher closes the wrapped provider.
	c.embedder = embedder.NewBatcher(dense)

	if o.sparse != nil {
		c.sparse = o.sparse
	} else if cfg.SparseEmbedder != nil {
		provider, err := builtinEmbedderRegistry().NewSparse(cfg.SparseEmbedder.Provider, embedder.ClientConfig{
			Model:      cfg.SparseEmbedder.Model,
			Dimensions: cfg.SparseEmbedder.Buckets,
		})
		if err != nil {
			return NewMemoryError("NewClient", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
		}
		c.sparse = provider
	}

	if o.reranker != nil {
		c.reranker = o.reranker
	} else if cfg.Reranker != nil && cfg.Reranker.Enabled {
		provider, err := builtinRerankerRegistry().New(cfg.Reranker.Provider, &reranker.ClientConfig{
			APIKey:  cfg.Reranker.APIKey,
			Model:   cfg.Reranker.Model,
			BaseURL: cfg.Reranker.BaseURL,
		})
		if err != nil {
			return NewMemoryError("NewClient", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
		}
		c.reranker = provider
	}
	return nil
}

func (c *Client) initStores(o *clientOverrides) error {
	cfg := c.config
	storeReg := builtinStorageRegistry()

	main := o.mainStore
	if main == nil {
		built, err := storeReg.New(cfg.VectorStore.Provider, storeConfigMap(&cfg.VectorStore))
		if err != nil {
			return NewMemoryError("NewClient", err)
		}
		main = built
	}
	if err := main.CreateCol(context.Background()); err != nil {
		return NewMemoryError("NewClient", err)
	}

	subs := make([]*substore.SubStore, 0, len(cfg.SubStores))
	for i, subCfg := range cfg.SubStores {
		sub, err := c.buildSubStore(storeReg, o, i, subCfg)
		if err != nil {
			return err
		}
		subs = append(subs, sub)
	}

	if cfg.SubStoreStatusPath != "" {
		status, err := substore.NewStatusStore(cfg.SubStoreStatusPath)
		if err != nil {
			return err
		}
		c.status = status
	}

	router, err := substore.NewRouter(main, subs, c.status)
	if err != nil {
		return err
	}
	c.router = router
	return nil
}

func (c *Client) buildSubStore(storeReg *storage.Registry, o *clientOverrides, index int, subCfg *SubStoreConfig) (*substore.SubStore, error) {
	name := subCfg.ResolvedName()

	routing, err := filter.Parse(subCfg.RoutingFilter)
	if err != nil {
		return nil, NewMemoryError("NewClient",
			fmt.Errorf("%w: sub-store %q routing filter: %v", ErrInvalidConfig, name, err))
	}

	store := o.subStores[name]
	if store == nil {
		storeCfg := subCfg.VectorStore
		if storeCfg == nil {
			// Reuse the main provider with this partition's collection.
			clone := c.config.VectorStore
			clone.CollectionName = subCfg.CollectionName
			if clone.CollectionName == "" {
				clone.CollectionName = name
			}
			if subCfg.Dims > 0 {
				clone.Dims = subCfg.Dims
			}
			storeCfg = &clone
		}
		built, err := storeReg.New(storeCfg.Provider, storeConfigMap(storeCfg))
		if err != nil {
			return nil, NewMemoryError("NewClient", err)
		}
		store = built
	}
	if err := store.CreateCol(context.Background()); err != nil {
		return nil, NewMemoryError("NewClient", err)
	}

	var subEmbedder embedder.Provider
	if subCfg.Dims > 0 && subCfg.Dims != c.config.Embedder.Dimensions {
		if subCfg.Embedder == nil {
			return nil, NewMemoryError("NewClient",
				fmt.Errorf("%w: sub-store %q declares dims %d but no embedder", ErrInvalidConfig, name, subCfg.Dims))
		}
		provider, err := NewEmbedderProvider(*subCfg.Embedder)
		if err != nil {
			return nil, err
		}
		subEmbedder = provider
	}

	return &substore.SubStore{
		Index:         index,
		Name:          name,
		RoutingFilter: routing,
		Dims:          subCfg.Dims,
		Store:         store,
		Embedder:      subEmbedder,
	}, nil
}

func (c *Client) initIntelligence() {
	c.intel = intelligenceConfig(c.config.Intelligence)
	c.retention = intelligence.NewRetentionManager(c.intel)
	c.writeback = intelligence.NewWritebackWorker(c.retention, 0)
	c.extractor = intelligence.NewFactExtractorWithPrompt(c.llm, c.config.CustomFactExtractionPrompt, c.intel.MaxFacts)
	c.decider = intelligence.NewDecisionMakerWithPrompt(c.llm, c.config.CustomUpdateMemoryPrompt)
	// Rule-based only: the LLM importance signal already arrives with each
	// extracted fact, so the evaluator covers facts that lack one.
	c.scorer = intelligence.NewImportanceEvaluator(nil)
}

// intelligenceConfig maps the public tuning block onto the intelligence
// package configuration, keeping package defaults for zero values.
func intelligenceConfig(cfg *IntelligenceConfig) *intelligence.Config {
	ic := intelligence.DefaultConfig()
	if cfg == nil {
		return ic
	}
	if cfg.DecayRate > 0 {
		ic.DecayRate = cfg.DecayRate
	}
	if cfg.ReinforcementFactor > 0 {
		ic.ReinforcementFactor = cfg.ReinforcementFactor
	}
	if cfg.DedupThreshold > 0 {
		ic.DedupThreshold = cfg.DedupThreshold
	}
	if cfg.LongTermThreshold > 0 {
		ic.LongTermThreshold = cfg.LongTermThreshold
	}
	if cfg.ShortTermThreshold > 0 {
		ic.ShortTermThreshold = cfg.ShortTermThreshold
	}
	if cfg.ForgetThreshold > 0 {
		ic.ForgetThreshold = cfg.ForgetThreshold
	}
	if cfg.InitialRetention > 0 {
		ic.InitialRetention = cfg.InitialRetention
	}
	if cfg.MaxFacts > 0 {
		ic.MaxFacts = cfg.MaxFacts
	}
	return ic
}

// inferEnabled reports whether the extraction pipeline runs for this Add.
func (c *Client) inferEnabled(opts *AddOptions) bool {
	if c.config.Intelligence == nil || !c.config.Intelligence.Enabled {
		return false
	}
	return opts.Infer
}

// callerAgent resolves the effective agent identity: the explicit option,
// else the configured agent memory default.
func (c *Client) callerAgent(agentID string) string {
	if agentID != "" {
		return agentID
	}
	if c.config.AgentMemory != nil {
		return c.config.AgentMemory.AgentID
	}
	return ""
}

// defaultScope resolves the visibility scope for new memories: the
// explicit option wins, then the configured default, then private.
func (c *Client) defaultScope(scope MemoryScope) MemoryScope {
	if scope != "" {
		return scope
	}
	if c.config.AgentMemory != nil && c.config.AgentMemory.DefaultScope != "" {
		return c.config.AgentMemory.DefaultScope
	}
	return ScopePrivate
}

// checkAccess enforces tenant and agent isolation on a stored record.
//
// A mismatched user id is always forbidden. A mismatched agent id is
// forbidden for private-scoped memories unless cross-agent access is
// configured; agent_group and global scopes admit other agents.
func (c *Client) checkAccess(m *storage.Memory, userID, agentID string) error {
	if userID != "" && m.UserID != "" && m.UserID != userID {
		return memerr.Newf("access", "memory %d belongs to another user: %w", m.ID, ErrForbidden)
	}

	caller := c.callerAgent(agentID)
	if caller == "" || m.AgentID == "" || m.AgentID == caller {
		return nil
	}
	if c.config.AgentMemory != nil && c.config.AgentMemory.AllowCrossAgentAccess {
		return nil
	}
	scope, _ := m.Metadata["scope"].(string)
	switch MemoryScope(scope) {
	case ScopeGlobal, ScopeAgentGroup:
		return nil
	}
	return memerr.Newf("access", "memory %d is private to agent %q: %w", m.ID, m.AgentID, ErrForbidden)
}

// locate finds a memory by id across the main store and every routable
// sub-store, returning the owning target.
func (c *Client) locate(ctx context.Context, id int64) (substore.Target, *storage.Memory, error) {
	var firstErr error
	for _, target := range c.router.RouteRead(nil) {
		m, err := target.Store.Get(ctx, id)
		if err == nil {
			return target, m, nil
		}
		if !errors.Is(err, ErrNotFound) && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return substore.Target{}, nil, NewMemoryError("Get", firstErr)
	}
	return substore.Target{}, nil, NewMemoryError("Get", fmt.Errorf("memory %d: %w", id, ErrNotFound))
}

// Get retrieves a memory by ID.
//
// Access-control options restrict the read: a user or agent mismatch
// returns ErrForbidden. Surfacing a memory reinforces its retention state
// asynchronously.
//
// Example:
//
//	memory, err := client.Get(ctx, id, core.WithUserIDForGet("user_001"))
func (c *Client) Get(ctx context.Context, id int64, opts ...GetOption) (*Memory, error) {
	options := applyGetOptions(opts)

	target, m, err := c.locate(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.checkAccess(m, options.UserID, options.AgentID); err != nil {
		return nil, err
	}

	c.writeback.Enqueue(intelligence.WritebackTask{Store: target.Store, MemoryID: m.ID})
	return fromStorageMemory(m), nil
}

// Update rewrites a memory's content, re-embedding it and preserving the
// retention block. Optional metadata replaces the stored map.
//
// Returns the updated memory, or ErrNotFound / ErrForbidden.
func (c *Client) Update(ctx context.Context, id int64, content string, opts ...UpdateOption) (*Memory, error) {
	if content == "" {
		return nil, NewMemoryError("Update", fmt.Errorf("%w: content is required", ErrInvalidInput))
	}
	options := applyUpdateOptions(opts)

	target, existing, err := c.locate(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.checkAccess(existing, options.UserID, options.AgentID); err != nil {
		return nil, err
	}

	dense, err := c.embedder.Embed(ctx, content, embedder.ActionUpdate)
	if err != nil {
		return nil, NewMemoryError("Update", fmt.Errorf("%v: %w", err, ErrEmbeddingFailed))
	}
	var sparse map[int32]float64
	if c.sparse != nil {
		if sparse, err = c.sparse.EmbedSparse(ctx, content); err != nil {
			log.Warn().Err(err).Int64("memory_id", id).Msg("sparse embedding failed, updating dense only")
			sparse = nil
		}
	}

	metadata := options.Metadata
	if metadata == nil {
		metadata = existing.Metadata
	} else if state, ok := intelligence.RetentionFromMetadata(existing.Metadata); ok {
		// Metadata replacement must not lose the retention block.
		metadata = state.ApplyToMetadata(metadata)
	}
	if state, ok := intelligence.RetentionFromMetadata(metadata); ok {
		c.retention.Reinforce(state, time.Now().UTC())
		metadata = state.ApplyToMetadata(metadata)
	}

	updated, err := target.Store.Update(ctx, id, &storage.MemoryUpdate{
		Content:   &content,
		Embedding: dense,
		Sparse:    sparse,
		Metadata:  metadata,
	})
	if err != nil {
		return nil, NewMemoryError("Update", err)
	}
	return fromStorageMemory(updated), nil
}

// Delete removes a memory by ID.
//
// Returns ErrNotFound if the memory does not exist and ErrForbidden on an
// access-control mismatch.
func (c *Client) Delete(ctx context.Context, id int64, opts ...DeleteOption) error {
	options := applyDeleteOptions(opts)

	target, m, err := c.locate(ctx, id)
	if err != nil {
		return err
	}
	if err := c.checkAccess(m, options.UserID, options.AgentID); err != nil {
		return err
	}
	if err := target.Store.Delete(ctx, id); err != nil {
		return NewMemoryError("Delete", err)
	}
	return nil
}

// GetAll retrieves memories matching the scope filter, newest first
// (updated_at, then id, descending), merged across the main store and
// every routable sub-store.
//
// Example:
//
//	memories, err := client.GetAll(ctx,
//	    core.WithUserIDForGetAll("user_001"),
//	    core.WithLimitForGetAll(50),
//	)
func (c *Client) GetAll(ctx context.Context, opts ...GetAllOption) ([]*Memory, error) {
	options := applyGetAllOptions(opts)

	expr, err := scopeExpr(options.UserID, c.callerAgent(options.AgentID), options.RunID, "", options.Filters)
	if err != nil {
		return nil, err
	}

	// Over-fetch per store so pagination stays correct after the merge.
	perStore := options.Limit + options.Offset
	var merged []*storage.Memory
	for _, target := range c.router.RouteRead(expr) {
		page, err := target.Store.List(ctx, &storage.ListOptions{Filter: expr, Limit: perStore})
		if err != nil {
			return nil, NewMemoryError("GetAll", err)
		}
		merged = append(merged, page...)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].UpdatedAt.Equal(merged[j].UpdatedAt) {
			return merged[i].UpdatedAt.After(merged[j].UpdatedAt)
		}
		return merged[i].ID > merged[j].ID
	})

	if options.Offset >= len(merged) {
		return []*Memory{}, nil
	}
	merged = merged[options.Offset:]
	if options.Limit > 0 && len(merged) > options.Limit {
		merged = merged[:options.Limit]
	}
	return fromStorageMemories(merged), nil
}

// DeleteAll deletes every memory matching the scope filter across all
// routable stores.
//
// At least one of user, agent or run id is required; an unscoped call
// returns ErrUnauthorized rather than truncating the stores. Use Reset
// for that.
func (c *Client) DeleteAll(ctx context.Context, opts ...DeleteAllOption) error {
	options := applyDeleteAllOptions(opts)

	agentID := c.callerAgent(options.AgentID)
	if options.UserID == "" && agentID == "" && options.RunID == "" {
		return NewMemoryError("DeleteAll",
			fmt.Errorf("%w: user_id, agent_id or run_id is required", ErrUnauthorized))
	}
	expr, err := scopeExpr(options.UserID, agentID, options.RunID, "", nil)
	if err != nil {
		return err
	}

	for _, target := range c.router.RouteRead(expr) {
		if err := target.Store.DeleteAll(ctx, expr); err != nil {
			return NewMemoryError("DeleteAll", err)
		}
	}
	log.Info().
		Str("user_id", options.UserID).
		Str("agent_id", agentID).
		Str("run_id", options.RunID).
		Msg("deleted all memories in scope")
	return nil
}

// Reset drops and recreates every bound collection, including dormant
// sub-stores. All memories are lost.
func (c *Client) Reset(ctx context.Context) error {
	if err := c.router.Main().Reset(ctx); err != nil {
		return NewMemoryError("Reset", err)
	}
	for _, sub := range c.router.SubStores() {
		if err := sub.Store.Reset(ctx); err != nil {
			return NewMemoryError("Reset", err)
		}
	}
	return nil
}

// MigrateSubStore copies matching main-store records into the named
// sub-store and activates it. See substore.Router.Migrate for resumption
// and failure semantics.
func (c *Client) MigrateSubStore(ctx context.Context, name string, opts *substore.MigrateOptions) (*substore.MigrationResult, error) {
	return c.router.Migrate(ctx, name, opts)
}

// ActivateSubStore marks the named sub-store ACTIVE without migrating,
// for partitions whose data is already in place.
func (c *Client) ActivateSubStore(ctx context.Context, name string) error {
	return c.router.Activate(ctx, name)
}

// SubStoreStatus reports the lifecycle state of the named sub-store.
func (c *Client) SubStoreStatus(name string) (substore.Status, error) {
	return c.router.Status(name)
}

// Router exposes the sub-store router for operational tooling.
func (c *Client) Router() *substore.Router {
	return c.router
}

// Close closes the client and releases all resources. The write-back
// worker is drained first so pending retention updates reach the stores.
func (c *Client) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if c.writeback != nil {
		c.writeback.Close()
	}
	if c.router != nil {
		record(c.router.Main().Close())
		for _, sub := range c.router.SubStores() {
			record(sub.Store.Close())
			if sub.Embedder != nil {
				record(sub.Embedder.Close())
			}
		}
	}
	if c.status != nil {
		record(c.status.Close())
	}
	c.closeProviders()
	return firstErr
}

func (c *Client) closeProviders() {
	if c.embedder != nil {
		_ = c.embedder.Close()
	}
	if c.sparse != nil {
		_ = c.sparse.Close()
	}
	if c.reranker != nil {
		_ = c.reranker.Close()
	}
	if c.llm != nil {
		_ = c.llm.Close()
	}
}
