package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ob-labs/powermem-go/pkg/embedder"
	"github.com/ob-labs/powermem-go/pkg/intelligence"
	"github.com/ob-labs/powermem-go/pkg/storage"
	"github.com/ob-labs/powermem-go/pkg/substore"
)

// minFanOutLimit is the floor on the per-store fetch size during fan-out,
// so small limits still give fusion enough candidates to work with.
const minFanOutLimit = 10

// rerankCandidateFactor bounds how many fused hits are offered to the
// reranker, as a multiple of the requested limit.
const rerankCandidateFactor = 3

// Search performs hybrid retrieval across the main store and every
// routable sub-store.
//
// The query is embedded once (plus a sparse encoding when configured) and
// fanned out in parallel; per-store hybrid results are merged by
// reciprocal rank fusion with equal store weights, deduplicated by id,
// normalized to [0,1] by the best score, filtered by MinScore, optionally
// reranked, and truncated to the limit. Returned hits are annotated with
// their source store and fusion ranks, and their retention state is
// reinforced asynchronously.
//
// A store that fails during fan-out is recorded in SearchResult.Warnings
// while the remaining stores still serve the query; only when every store
// fails does Search return ErrStoreUnavailable.
//
// Example:
//
//	results, err := client.Search(ctx, "programming preferences",
//	    core.WithUserIDForSearch("user_001"),
//	    core.WithLimit(5),
//	)
func (c *Client) Search(ctx context.Context, query string, opts ...SearchOption) (*SearchResult, error) {
	ctx, span := c.tracer.Start(ctx, "powermem.Search")
	defer span.End()

	if query == "" {
		return nil, NewMemoryError("Search", fmt.Errorf("%w: query is required", ErrInvalidInput))
	}
	options := applySearchOptions(opts)
	if options.Limit <= 0 {
		options.Limit = 10
	}

	expr, err := scopeExpr(options.UserID, c.callerAgent(options.AgentID), options.RunID, options.ActorID, options.Filters)
	if err != nil {
		return nil, err
	}

	dense, err := c.embedder.Embed(ctx, query, embedder.ActionSearch)
	if err != nil {
		return nil, NewMemoryError("Search", fmt.Errorf("%v: %w", err, ErrEmbeddingFailed))
	}
	sparse := c.sparseEmbed(ctx, query)

	targets := c.router.RouteRead(expr)
	fetchLimit := options.Limit * 2
	if fetchLimit < minFanOutLimit {
		fetchLimit = minFanOutLimit
	}

	// Fan-out: one goroutine per store; failures degrade to warnings.
	perStore := make([][]*storage.Memory, len(targets))
	storeErrs := make([]error, len(targets))
	var g errgroup.Group
	for i, target := range targets {
		g.Go(func() error {
			start := time.Now()
			hits, err := target.Store.Search(ctx, &storage.SearchQuery{
				Dense:  dense,
				Text:   query,
				Sparse: sparse,
				Limit:  fetchLimit,
				Filter: expr,
			})
			c.metrics.ObserveSearchDuration(target.Name, time.Since(start))
			if err != nil {
				c.metrics.RecordStoreError(target.Name, "search")
				storeErrs[i] = err
				return nil
			}
			perStore[i] = hits
			return nil
		})
	}
	_ = g.Wait()

	var warnings []string
	failed := 0
	for i, err := range storeErrs {
		if err != nil {
			failed++
			warnings = append(warnings, fmt.Sprintf("store %s failed: %v", targets[i].Name, err))
			log.Warn().Err(err).Str("store", targets[i].Name).Msg("search fan-out store failed")
		}
	}
	if failed == len(targets) {
		return nil, NewMemoryError("Search", fmt.Errorf("all %d stores failed: %w", failed, ErrStoreUnavailable))
	}

	memories := c.fuseAcrossStores(targets, perStore)
	memories = filterByScore(memories, options.MinScore)
	memories = c.maybeRerank(ctx, query, memories, options)
	if len(memories) > options.Limit {
		memories = memories[:options.Limit]
	}

	out := make([]*Memory, 0, len(memories))
	for _, fm := range memories {
		c.writeback.Enqueue(intelligence.WritebackTask{Store: fm.target.Store, MemoryID: fm.memory.ID})
		out = append(out, annotateHit(fm))
	}

	return &SearchResult{
		Memories:   out,
		TotalCount: len(out),
		Warnings:   warnings,
	}, nil
}

// fusedMemory pairs a hit with its source store and cross-store fusion
// bookkeeping.
type fusedMemory struct {
	memory    *storage.Memory
	target    substore.Target
	storeRank int
	score     float64
}

// fuseAcrossStores merges per-store result lists by reciprocal rank
// fusion with equal store weights, deduplicating by id (the best-ranked
// copy wins) and normalizing scores to [0,1] by the maximum. Ties are
// broken by updated_at descending, then id descending.
func (c *Client) fuseAcrossStores(targets []substore.Target, perStore [][]*storage.Memory) []*fusedMemory {
	channels := make([]storage.RankedChannel, 0, len(targets))
	byID := make(map[int64]*fusedMemory)
	for i, hits := range perStore {
		if len(hits) == 0 {
			continue
		}
		ids := make([]int64, 0, len(hits))
		for rank, hit := range hits {
			ids = append(ids, hit.ID)
			// Records can surface from two stores mid-migration; keep the
			// better-ranked copy.
			if cur, ok := byID[hit.ID]; !ok || rank+1 < cur.storeRank {
				byID[hit.ID] = &fusedMemory{
					memory:    hit,
					target:    targets[i],
					storeRank: rank + 1,
				}
			}
		}
		channels = append(channels, storage.RankedChannel{Name: targets[i].Name, Weight: 1, IDs: ids})
	}

	fused := storage.FuseRRF(channels, storage.RRFConstant)
	if len(fused) == 0 {
		return nil
	}

	max := fused[0].Score
	for _, hit := range fused {
		if hit.Score > max {
			max = hit.Score
		}
	}

	out := make([]*fusedMemory, 0, len(fused))
	for _, hit := range fused {
		fm := byID[hit.ID]
		if fm == nil {
			continue
		}
		fm.score = hit.Score
		if max > 0 {
			fm.score = hit.Score / max
		}
		out = append(out, fm)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if !out[i].memory.UpdatedAt.Equal(out[j].memory.UpdatedAt) {
			return out[i].memory.UpdatedAt.After(out[j].memory.UpdatedAt)
		}
		return out[i].memory.ID > out[j].memory.ID
	})
	return out
}

func filterByScore(memories []*fusedMemory, minScore float64) []*fusedMemory {
	if minScore <= 0 {
		return memories
	}
	out := memories[:0]
	for _, fm := range memories {
		if fm.score >= minScore {
			out = append(out, fm)
		}
	}
	return out
}

// maybeRerank reorders the top candidates with the configured reranker.
// Reranking only pays off when there is something to cut, so it is
// skipped when the fused list already fits the limit. A reranker failure
// keeps the fused order.
func (c *Client) maybeRerank(ctx context.Context, query string, memories []*fusedMemory, options *SearchOptions) []*fusedMemory {
	if c.reranker == nil || len(memories) <= options.Limit {
		return memories
	}
	if options.Rerank != nil && !*options.Rerank {
		return memories
	}

	n := options.Limit * rerankCandidateFactor
	if n > len(memories) {
		n = len(memories)
	}
	head, tail := memories[:n], memories[n:]

	docs := make([]string, len(head))
	for i, fm := range head {
		docs[i] = fm.memory.Content
	}
	ranked, err := c.reranker.Rerank(ctx, query, docs, len(head))
	if err != nil {
		log.Warn().Err(err).Msg("rerank failed, keeping fusion order")
		return memories
	}

	reordered := make([]*fusedMemory, 0, len(memories))
	seen := make(map[int]bool, len(ranked))
	var maxScore float64
	for _, r := range ranked {
		if r.Index < 0 || r.Index >= len(head) || seen[r.Index] {
			continue
		}
		seen[r.Index] = true
		fm := head[r.Index]
		fm.score = r.Score
		if r.Score > maxScore {
			maxScore = r.Score
		}
		reordered = append(reordered, fm)
	}
	if maxScore > 0 {
		for _, fm := range reordered {
			fm.score = fm.score / maxScore
		}
	}
	// Documents the reranker dropped keep their fused position after the
	// reranked block.
	for i, fm := range head {
		if !seen[i] {
			reordered = append(reordered, fm)
		}
	}
	return append(reordered, tail...)
}

// annotateHit converts a fused hit to the facade view, stamping the
// source store and fusion observability block into its metadata.
func annotateHit(fm *fusedMemory) *Memory {
	m := fromStorageMemory(fm.memory)
	m.Score = fm.score

	metadata := make(map[string]interface{}, len(m.Metadata)+2)
	for k, v := range m.Metadata {
		metadata[k] = v
	}
	metadata[SourceStoreKey] = fm.target.Name

	info := map[string]interface{}{
		"method":     "rrf",
		"k":          storage.RRFConstant,
		"store":      fm.target.Name,
		"store_rank": fm.storeRank,
	}
	if fi := fm.memory.FusionInfo; fi != nil {
		channels := map[string]interface{}{}
		if fi.DenseRank > 0 {
			channels[storage.ChannelDense] = fi.DenseRank
		}
		if fi.FTSRank > 0 {
			channels[storage.ChannelFTS] = fi.FTSRank
		}
		if fi.SparseRank > 0 {
			channels[storage.ChannelSparse] = fi.SparseRank
		}
		info["channels"] = channels
	}
	metadata[FusionInfoKey] = info

	m.Metadata = metadata
	return m
}

// searchOnce is the page-sized search used by the streaming surface. It
// shares Search's pipeline and simply widens the limit.
func (c *Client) searchOnce(ctx context.Context, query string, limit int, opts []SearchOption) ([]*Memory, []string, error) {
	all := append([]SearchOption{}, opts...)
	all = append(all, WithLimit(limit))
	result, err := c.Search(ctx, query, all...)
	if err != nil {
		return nil, nil, err
	}
	return result.Memories, result.Warnings, nil
}
