// Package core provides the main PowerMem client and memory management functionality.
package core

import (
	"context"
	"fmt"
	"sync"
)

// batchConcurrency bounds how many items a batch operation processes at
// once.
const batchConcurrency = 10

// StreamingSearchResult contains a batch of search results from streaming search.
type StreamingSearchResult struct {
	// Memories is a batch of matching memories.
	Memories []*Memory

	// BatchIndex is the index of this batch (0-based).
	BatchIndex int

	// IsLastBatch indicates whether this is the last batch.
	IsLastBatch bool

	// Error contains any error that occurred during streaming (if any).
	Error error
}

// StreamingGetAllResult contains a batch of memories from streaming GetAll.
type StreamingGetAllResult struct {
	// Memories is a batch of memories.
	Memories []*Memory

	// BatchIndex is the index of this batch (0-based).
	BatchIndex int

	// IsLastBatch indicates whether this is the last batch.
	IsLastBatch bool

	// Error contains any error that occurred during streaming (if any).
	Error error
}

// SearchStream performs streaming search for large result sets.
//
// Instead of returning all results at once, results are sent in batches
// through a channel. Vector search does not paginate well, so the search
// runs once at the full limit and the fused results are chunked.
//
// Parameters:
//   - ctx: Context for cancellation
//   - query: Search query string
//   - batchSize: Number of results per batch
//   - opts: Optional search parameters (user, agent, filters, limit, min score)
//
// Returns a channel that receives StreamingSearchResult batches. The
// channel is closed when all results have been sent or an error occurs.
//
// Example:
//
//	resultChan := client.SearchStream(ctx, "Python programming",
//	    50, // batch size
//	    core.WithUserIDForSearch("user_001"),
//	    core.WithLimit(200), // maximum total results
//	)
//
//	for result := range resultChan {
//	    if result.Error != nil {
//	        log.Fatal(result.Error)
//	    }
//	    for _, mem := range result.Memories {
//	        processMemory(mem)
//	    }
//	}
func (c *Client) SearchStream(ctx context.Context, query string, batchSize int, opts ...SearchOption) <-chan *StreamingSearchResult {
	out := make(chan *StreamingSearchResult, 1)
	if batchSize <= 0 {
		batchSize = 50
	}

	go func() {
		defer close(out)

		options := applySearchOptions(opts)
		limit := options.Limit
		if limit <= 0 {
			limit = 100
		}

		memories, _, err := c.searchOnce(ctx, query, limit, opts)
		if err != nil {
			out <- &StreamingSearchResult{Error: err, IsLastBatch: true}
			return
		}

		for i, batch := 0, 0; ; batch++ {
			end := i + batchSize
			if end > len(memories) {
				end = len(memories)
			}
			result := &StreamingSearchResult{
				Memories:    memories[i:end],
				BatchIndex:  batch,
				IsLastBatch: end == len(memories),
			}
			select {
			case out <- result:
			case <-ctx.Done():
				return
			}
			if result.IsLastBatch {
				return
			}
			i = end
		}
	}()
	return out
}

// GetAllStream retrieves memories in batches through a channel, paging
// through the stores with offset-based pagination.
//
// Parameters:
//   - ctx: Context for cancellation
//   - batchSize: Number of memories per batch
//   - opts: Optional filters (user, agent, run, metadata filters)
//
// Returns a channel that receives StreamingGetAllResult batches. The
// channel is closed after the last batch or on error.
func (c *Client) GetAllStream(ctx context.Context, batchSize int, opts ...GetAllOption) <-chan *StreamingGetAllResult {
	out := make(chan *StreamingGetAllResult, 1)
	if batchSize <= 0 {
		batchSize = 100
	}

	go func() {
		defer close(out)

		for batch, offset := 0, 0; ; batch++ {
			pageOpts := append([]GetAllOption{}, opts...)
			pageOpts = append(pageOpts, WithLimitForGetAll(batchSize), WithOffset(offset))

			memories, err := c.GetAll(ctx, pageOpts...)
			if err != nil {
				out <- &StreamingGetAllResult{Error: err, BatchIndex: batch, IsLastBatch: true}
				return
			}

			last := len(memories) < batchSize
			result := &StreamingGetAllResult{
				Memories:    memories,
				BatchIndex:  batch,
				IsLastBatch: last,
			}
			select {
			case out <- result:
			case <-ctx.Done():
				return
			}
			if last {
				return
			}
			offset += batchSize
		}
	}()
	return out
}

// BatchAddResult aggregates the outcome of a BatchAdd.
type BatchAddResult struct {
	// Results holds per-content ingest results, index-aligned with the
	// input. Failed items carry a nil entry.
	Results []*AddResult

	// Errors lists the items that failed.
	Errors []BatchAddError

	// SuccessCount is the number of contents ingested.
	SuccessCount int

	// FailureCount is the number of contents that failed.
	FailureCount int
}

// BatchAddError describes one failed BatchAdd item.
type BatchAddError struct {
	// Index is the item's position in the input slice.
	Index int

	// Content is the failed content.
	Content string

	// Error is the failure cause.
	Error error
}

// BatchAdd ingests multiple contents concurrently.
//
// Items are processed with bounded concurrency; one failed item does not
// stop the batch. The per-item pipeline is identical to Add, including
// option handling.
//
// Example:
//
//	result, err := client.BatchAdd(ctx, contents, core.WithUserID("user_001"))
//	fmt.Printf("added %d, failed %d\n", result.SuccessCount, result.FailureCount)
func (c *Client) BatchAdd(ctx context.Context, contents []string, opts ...AddOption) (*BatchAddResult, error) {
	if len(contents) == 0 {
		return nil, NewMemoryError("BatchAdd", fmt.Errorf("%w: contents are required", ErrInvalidInput))
	}

	result := &BatchAddResult{Results: make([]*AddResult, len(contents))}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, batchConcurrency)

	for i, content := range contents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			added, err := c.Add(ctx, content, opts...)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.FailureCount++
				result.Errors = append(result.Errors, BatchAddError{Index: i, Content: content, Error: err})
				return
			}
			result.Results[i] = added
			result.SuccessCount++
		}()
	}
	wg.Wait()
	return result, nil
}

// BatchUpdateResult aggregates the outcome of a BatchUpdate.
type BatchUpdateResult struct {
	// Memories holds the updated memories, index-aligned with the input.
	// Failed items carry a nil entry.
	Memories []*Memory

	// Errors lists the items that failed.
	Errors []BatchUpdateError

	// SuccessCount is the number of memories updated.
	SuccessCount int

	// FailureCount is the number of updates that failed.
	FailureCount int
}

// BatchUpdateError describes one failed BatchUpdate item.
type BatchUpdateError struct {
	// Index is the item's position in the input slice.
	Index int

	// ID is the memory id the update addressed.
	ID int64

	// Error is the failure cause.
	Error error
}

// BatchUpdateItem is one update in a BatchUpdate call.
type BatchUpdateItem struct {
	// ID is the memory to update.
	ID int64

	// Content is the new content.
	Content string

	// Metadata optionally replaces the stored metadata.
	Metadata map[string]interface{}
}

// BatchUpdate updates multiple memories concurrently with bounded
// concurrency and per-item error reporting.
func (c *Client) BatchUpdate(ctx context.Context, items []BatchUpdateItem) (*BatchUpdateResult, error) {
	if len(items) == 0 {
		return nil, NewMemoryError("BatchUpdate", fmt.Errorf("%w: items are required", ErrInvalidInput))
	}

	result := &BatchUpdateResult{Memories: make([]*Memory, len(items))}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, batchConcurrency)

	for i, item := range items {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			var opts []UpdateOption
			if item.Metadata != nil {
				opts = append(opts, WithMetadataForUpdate(item.Metadata))
			}
			updated, err := c.Update(ctx, item.ID, item.Content, opts...)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.FailureCount++
				result.Errors = append(result.Errors, BatchUpdateError{Index: i, ID: item.ID, Error: err})
				return
			}
			result.Memories[i] = updated
			result.SuccessCount++
		}()
	}
	wg.Wait()
	return result, nil
}

// BatchDeleteResult aggregates the outcome of a BatchDelete.
type BatchDeleteResult struct {
	// Errors lists the ids that failed to delete.
	Errors []BatchDeleteError

	// SuccessCount is the number of memories deleted.
	SuccessCount int

	// FailureCount is the number of deletions that failed.
	FailureCount int
}

// BatchDeleteError describes one failed BatchDelete item.
type BatchDeleteError struct {
	// Index is the id's position in the input slice.
	Index int

	// ID is the memory id.
	ID int64

	// Error is the failure cause.
	Error error
}

// BatchDelete deletes multiple memories concurrently with bounded
// concurrency and per-item error reporting.
func (c *Client) BatchDelete(ctx context.Context, ids []int64) (*BatchDeleteResult, error) {
	if len(ids) == 0 {
		return nil, NewMemoryError("BatchDelete", fmt.Errorf("%w: ids are required", ErrInvalidInput))
	}

	result := &BatchDeleteResult{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, batchConcurrency)

	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			err := c.Delete(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.FailureCount++
				result.Errors = append(result.Errors, BatchDeleteError{Index: i, ID: id, Error: err})
				return
			}
			result.SuccessCount++
		}()
	}
	wg.Wait()
	return result, nil
}
