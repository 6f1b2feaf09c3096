package core

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ob-labs/powermem-go/pkg/embedder"
	"github.com/ob-labs/powermem-go/pkg/intelligence"
	"github.com/ob-labs/powermem-go/pkg/memid"
	"github.com/ob-labs/powermem-go/pkg/storage"
	"github.com/ob-labs/powermem-go/pkg/substore"
)

// probeK is how many scope-filtered neighbors are fetched per fact when
// looking for update/delete candidates.
const probeK = 5

// Add ingests conversational content into memory.
//
// messages accepts a string, a Message, a []Message, or the equivalent
// map forms (see NormalizeMessages). With intelligence enabled and infer
// on (the default), the content runs through the full pipeline: fact
// extraction, per-fact embedding, candidate probing, LLM reconciliation,
// and DELETE/UPDATE/ADD application with retention initialization. With
// infer off the content is stored as a single memory after exact-hash
// deduplication.
//
// The returned AddResult lists one event per extracted fact in apply
// order. A fact whose embedding fails is skipped with a
// FACT_EMBEDDING_FAILED event; the rest of the batch proceeds. A store
// write failure returns the events applied so far alongside an error
// wrapping ErrStorageOperation; applied deletes and updates are not
// rolled back.
//
// Example:
//
//	result, err := client.Add(ctx, []core.Message{
//	    {Role: "user", Content: "I moved to Berlin last month"},
//	}, core.WithUserID("user_001"))
func (c *Client) Add(ctx context.Context, messages interface{}, opts ...AddOption) (*AddResult, error) {
	ctx, span := c.tracer.Start(ctx, "powermem.Add")
	defer span.End()
	start := time.Now()
	defer func() { c.metrics.ObserveIngestDuration(time.Since(start)) }()

	msgs, err := NormalizeMessages(messages)
	if err != nil {
		return nil, err
	}
	options := applyAddOptions(opts)
	options.AgentID = c.callerAgent(options.AgentID)
	options.Scope = c.defaultScope(options.Scope)

	conversation, err := renderConversation(ctx, c.llm, msgs)
	if err != nil {
		return nil, err
	}

	if !c.inferEnabled(options) {
		return c.passthroughAdd(ctx, conversation, options)
	}
	return c.ingest(ctx, conversation, options)
}

// ingest runs the full extraction and reconciliation pipeline.
func (c *Client) ingest(ctx context.Context, conversation string, options *AddOptions) (*AddResult, error) {
	extractor := c.extractor
	if options.Prompt != "" {
		extractor = intelligence.NewFactExtractorWithPrompt(c.llm, options.Prompt, c.intel.MaxFacts)
	}
	facts, err := extractor.ExtractFacts(ctx, conversation)
	if err != nil {
		return nil, NewMemoryError("Add", err)
	}
	if len(facts) == 0 {
		if c.config.Intelligence != nil && c.config.Intelligence.FallbackToSimpleAdd {
			log.Debug().Msg("extraction yielded no facts, falling back to simple add")
			return c.passthroughAdd(ctx, conversation, options)
		}
		return &AddResult{Results: []MemoryEventRecord{}}, nil
	}

	scope, err := scopeExpr(options.UserID, options.AgentID, options.RunID, options.ActorID, options.Filters)
	if err != nil {
		return nil, err
	}

	result := &AddResult{Results: make([]MemoryEventRecord, 0, len(facts))}

	// Probe phase: embed each fact, resolve its target store, and collect
	// update/delete candidates from that store's neighborhood.
	type probed struct {
		fact   intelligence.Fact
		dense  []float64
		target substore.Target
	}
	type candidate struct {
		memory *storage.Memory
		target substore.Target
	}
	var kept []probed
	candidates := make(map[int64]candidate)

	for _, fact := range facts {
		dense, err := c.embedder.Embed(ctx, fact.Text, embedder.ActionAdd)
		if err != nil {
			log.Warn().Err(err).Str("fact", fact.Text).Msg("fact embedding failed, skipping")
			c.metrics.RecordIngestEvent(EventFactEmbeddingFailed)
			result.Results = append(result.Results, MemoryEventRecord{
				Content: fact.Text,
				Event:   EventFactEmbeddingFailed,
			})
			continue
		}

		target := c.router.RouteWrite(c.newRecord(0, fact.Text, "", dense, nil, nil, options, time.Time{}))
		hits, err := target.Store.Search(ctx, &storage.SearchQuery{
			Dense:  dense,
			Limit:  probeK,
			Filter: scope,
		})
		if err != nil {
			log.Warn().Err(err).Str("store", target.Name).Msg("candidate probe failed, treating fact as novel")
			hits = nil
		}

		hash := memid.Fingerprint(fact.Text)
		exact := false
		for _, hit := range hits {
			if hit.Hash == hash {
				c.metrics.RecordIngestEvent(EventNone)
				result.Results = append(result.Results, MemoryEventRecord{
					ID:      MemoryID(hit.ID),
					Content: fact.Text,
					Event:   EventNone,
				})
				exact = true
				break
			}
		}
		if exact {
			continue
		}

		for _, hit := range hits {
			if _, seen := candidates[hit.ID]; !seen {
				candidates[hit.ID] = candidate{memory: hit, target: target}
			}
		}
		kept = append(kept, probed{fact: fact, dense: dense, target: target})
	}

	if len(kept) == 0 {
		return result, nil
	}

	// Decision phase: one batched LLM call reconciling all surviving facts
	// against the candidate set.
	existing := make([]intelligence.ExistingMemory, 0, len(candidates))
	for id, cand := range candidates {
		existing = append(existing, intelligence.ExistingMemory{
			ID:   strconv.FormatInt(id, 10),
			Text: cand.memory.Content,
		})
	}
	sort.Slice(existing, func(i, j int) bool { return existing[i].ID < existing[j].ID })

	newFacts := make([]intelligence.Fact, 0, len(kept))
	embeddings := make(map[string][]float64, len(kept))
	targets := make(map[string]substore.Target, len(kept))
	for _, p := range kept {
		newFacts = append(newFacts, p.fact)
		embeddings[p.fact.Text] = p.dense
		targets[p.fact.Text] = p.target
	}

	actions, err := c.decider.DecideActions(ctx, newFacts, existing)
	if err != nil {
		return nil, NewMemoryError("Add", err)
	}

	// Apply phase: DELETE first, then UPDATE, then ADD. A DELETE decided
	// for an id supersedes an UPDATE for the same id.
	var deletes, updates, adds []intelligence.MemoryAction
	for _, action := range actions {
		switch action.Event {
		case intelligence.EventDelete:
			deletes = append(deletes, action)
		case intelligence.EventUpdate:
			updates = append(updates, action)
		case intelligence.EventAdd:
			adds = append(adds, action)
		}
	}

	now := time.Now().UTC()
	deleted := make(map[int64]bool)

	for _, action := range deletes {
		id, err := strconv.ParseInt(action.ID, 10, 64)
		if err != nil {
			continue
		}
		cand, ok := candidates[id]
		if !ok {
			continue
		}
		if err := cand.target.Store.Delete(ctx, id); err != nil {
			return result, NewMemoryError("Add", fmt.Errorf("%v: %w", err, ErrStorageOperation))
		}
		deleted[id] = true
		c.metrics.RecordIngestEvent(EventDelete)
		result.Results = append(result.Results, MemoryEventRecord{
			ID:             MemoryID(id),
			Content:        cand.memory.Content,
			Event:          EventDelete,
			PreviousMemory: cand.memory.Content,
		})
	}

	for _, action := range updates {
		id, err := strconv.ParseInt(action.ID, 10, 64)
		if err != nil {
			continue
		}
		if deleted[id] {
			continue
		}
		cand, ok := candidates[id]
		if !ok {
			continue
		}

		dense := embeddings[action.Text]
		if dense == nil {
			if dense, err = c.embedder.Embed(ctx, action.Text, embedder.ActionUpdate); err != nil {
				c.metrics.RecordIngestEvent(EventFactEmbeddingFailed)
				result.Results = append(result.Results, MemoryEventRecord{
					ID:      MemoryID(id),
					Content: action.Text,
					Event:   EventFactEmbeddingFailed,
				})
				continue
			}
		}
		sparse := c.sparseEmbed(ctx, action.Text)

		metadata := cand.memory.Metadata
		if state, ok := intelligence.RetentionFromMetadata(metadata); ok {
			c.retention.Reinforce(state, now)
			metadata = state.ApplyToMetadata(metadata)
		}

		content := action.Text
		if _, err := cand.target.Store.Update(ctx, id, &storage.MemoryUpdate{
			Content:   &content,
			Embedding: dense,
			Sparse:    sparse,
			Metadata:  metadata,
		}); err != nil {
			return result, NewMemoryError("Add", fmt.Errorf("%v: %w", err, ErrStorageOperation))
		}
		c.metrics.RecordIngestEvent(EventUpdate)
		result.Results = append(result.Results, MemoryEventRecord{
			ID:             MemoryID(id),
			Content:        action.Text,
			Event:          EventUpdate,
			PreviousMemory: cand.memory.Content,
			Metadata:       metadata,
		})
	}

	for _, action := range adds {
		dense := embeddings[action.Text]
		if dense == nil {
			if dense, err = c.embedder.Embed(ctx, action.Text, embedder.ActionAdd); err != nil {
				c.metrics.RecordIngestEvent(EventFactEmbeddingFailed)
				result.Results = append(result.Results, MemoryEventRecord{
					Content: action.Text,
					Event:   EventFactEmbeddingFailed,
				})
				continue
			}
		}

		importance := action.Importance
		if importance <= 0 {
			importance = c.scorer.EvaluateImportance(ctx, action.Text, options.Metadata, nil)
		}
		metadata := c.newMemoryMetadata(options, importance, now)

		id := c.ids.Next()
		record := c.newRecord(id, action.Text, memid.Fingerprint(action.Text), dense,
			c.sparseEmbed(ctx, action.Text), metadata, options, now)

		target, ok := targets[action.Text]
		if !ok {
			target = c.router.RouteWrite(record)
		}
		if err := target.Store.Insert(ctx, []*storage.Memory{record}); err != nil {
			return result, NewMemoryError("Add", fmt.Errorf("%v: %w", err, ErrStorageOperation))
		}
		c.metrics.RecordIngestEvent(EventAdd)
		result.Results = append(result.Results, MemoryEventRecord{
			ID:       MemoryID(id),
			Content:  action.Text,
			Event:    EventAdd,
			Metadata: metadata,
		})
	}

	return result, nil
}

// passthroughAdd stores the raw content as one memory, deduplicating on
// the exact content fingerprint within the caller's scope.
func (c *Client) passthroughAdd(ctx context.Context, content string, options *AddOptions) (*AddResult, error) {
	if content == "" {
		return nil, NewMemoryError("Add", fmt.Errorf("%w: empty content", ErrInvalidInput))
	}

	dense, err := c.embedder.Embed(ctx, content, embedder.ActionAdd)
	if err != nil {
		return nil, NewMemoryError("Add", fmt.Errorf("%v: %w", err, ErrEmbeddingFailed))
	}

	scope, err := scopeExpr(options.UserID, options.AgentID, options.RunID, options.ActorID, nil)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	hash := memid.Fingerprint(content)
	target := c.router.RouteWrite(c.newRecord(0, content, hash, dense, nil, nil, options, now))

	dedup := intelligence.NewDedupManager(target.Store, c.intel.DedupThreshold)
	if existing, err := dedup.FindByHash(ctx, hash, scope); err == nil && existing != nil {
		c.metrics.RecordIngestEvent(EventNone)
		return &AddResult{Results: []MemoryEventRecord{{
			ID:      MemoryID(existing.ID),
			Content: content,
			Event:   EventNone,
		}}}, nil
	}

	importance := c.scorer.EvaluateImportance(ctx, content, options.Metadata, nil)
	metadata := c.newMemoryMetadata(options, importance, now)

	id := c.ids.Next()
	record := c.newRecord(id, content, hash, dense, c.sparseEmbed(ctx, content), metadata, options, now)
	if err := target.Store.Insert(ctx, []*storage.Memory{record}); err != nil {
		return nil, NewMemoryError("Add", fmt.Errorf("%v: %w", err, ErrStorageOperation))
	}

	c.metrics.RecordIngestEvent(EventAdd)
	return &AddResult{Results: []MemoryEventRecord{{
		ID:       MemoryID(id),
		Content:  content,
		Event:    EventAdd,
		Metadata: metadata,
	}}}, nil
}

// newMemoryMetadata builds the metadata stored with a new memory: caller
// metadata and filters, the visibility scope, the memory type, and a
// freshly initialized retention block.
func (c *Client) newMemoryMetadata(options *AddOptions, importance float64, now time.Time) map[string]interface{} {
	metadata := make(map[string]interface{}, len(options.Metadata)+len(options.Filters)+3)
	for k, v := range options.Metadata {
		metadata[k] = v
	}
	for k, v := range options.Filters {
		metadata[k] = v
	}
	metadata["scope"] = string(options.Scope)
	if options.MemoryType != "" {
		metadata["memory_type"] = options.MemoryType
	}

	state := c.retention.InitRetention(importance, options.MemoryType, now)
	return state.ApplyToMetadata(metadata)
}

// newRecord assembles a storage record carrying the caller's scope
// columns. A zero id produces a routing probe that is never inserted.
func (c *Client) newRecord(id int64, content, hash string, dense []float64, sparse map[int32]float64,
	metadata map[string]interface{}, options *AddOptions, now time.Time) *storage.Memory {
	if metadata == nil {
		metadata = map[string]interface{}{"scope": string(options.Scope)}
	}
	return &storage.Memory{
		ID:        id,
		UserID:    options.UserID,
		AgentID:   options.AgentID,
		RunID:     options.RunID,
		ActorID:   options.ActorID,
		Hash:      hash,
		Content:   content,
		Embedding: dense,
		Sparse:    sparse,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// sparseEmbed returns the sparse embedding for text, or nil when no sparse
// provider is configured or the encoding fails.
func (c *Client) sparseEmbed(ctx context.Context, text string) map[int32]float64 {
	if c.sparse == nil {
		return nil
	}
	sparse, err := c.sparse.EmbedSparse(ctx, text)
	if err != nil {
		log.Warn().Err(err).Msg("sparse embedding failed, storing dense only")
		return nil
	}
	return sparse
}
