package intelligence

import (
	"context"
	"math"

	"github.com/ob-labs/powermem-go/pkg/filter"
	"github.com/ob-labs/powermem-go/pkg/storage"
)

const (
	// defaultDedupThreshold is the cosine similarity at or above which two
	// memories are treated as duplicates.
	defaultDedupThreshold = 0.95

	// dedupProbeLimit is how many nearest neighbours a duplicate probe
	// inspects.
	dedupProbeLimit = 5
)

// DedupManager detects and merges near-duplicate memories.
//
// It probes the vector store for nearest neighbours and compares cosine
// similarity against a threshold. Fused search scores are rank-based, not
// cosine, so similarity is always recomputed from the candidate embeddings.
//
// Example usage:
//
//	manager := NewDedupManager(store, 0.95)
//	isDup, existingID, err := manager.CheckDuplicate(ctx, embedding, scope)
//	if isDup {
//	    merged, err := manager.MergeMemories(ctx, existingID, newContent, newEmbedding)
//	}
type DedupManager struct {
	// store is the vector store for similarity probes.
	store storage.VectorStore

	// threshold is the duplicate similarity threshold. Typical range is
	// 0.9-0.98; higher means stricter, fewer duplicates detected.
	threshold float64
}

// NewDedupManager creates a deduplication manager. A non-positive threshold
// selects the default.
func NewDedupManager(store storage.VectorStore, threshold float64) *DedupManager {
	if threshold <= 0 {
		threshold = defaultDedupThreshold
	}
	return &DedupManager{store: store, threshold: threshold}
}

// Threshold returns the configured duplicate similarity threshold.
func (m *DedupManager) Threshold() float64 {
	return m.threshold
}

// CheckDuplicate reports whether a new memory duplicates a stored one.
//
// The probe:
//  1. Searches the store for the nearest neighbours within scope
//  2. Recomputes cosine similarity against each candidate embedding
//  3. Returns the first candidate at or above the threshold
//
// Parameters:
//   - ctx: Context for cancellation
//   - embedding: Embedding vector of the new memory
//   - scope: Filter restricting candidates, typically the session scope
//
// Returns (true, id, nil) when a duplicate exists, (false, 0, nil) when
// none does.
func (m *DedupManager) CheckDuplicate(ctx context.Context, embedding []float64, scope filter.Expr) (bool, int64, error) {
	candidates, err := m.store.Search(ctx, &storage.SearchQuery{
		Dense:  embedding,
		Limit:  dedupProbeLimit,
		Filter: scope,
	})
	if err != nil {
		return false, 0, err
	}

	for _, candidate := range candidates {
		if CosineSimilarity(embedding, candidate.Embedding) >= m.threshold {
			return true, candidate.ID, nil
		}
	}
	return false, 0, nil
}

// FindByHash looks up a stored memory with the given content fingerprint
// within scope. Returns (nil, nil) when no such memory exists.
//
// Exact-hash hits short-circuit ingestion before any model call: identical
// content always produces an identical fingerprint.
func (m *DedupManager) FindByHash(ctx context.Context, hash string, scope filter.Expr) (*storage.Memory, error) {
	if hash == "" {
		return nil, nil
	}

	hashEq := filter.Eq{Path: "hash", Value: hash}
	var f filter.Expr = hashEq
	if scope != nil {
		f = filter.And{Exprs: []filter.Expr{scope, hashEq}}
	}

	matches, err := m.store.List(ctx, &storage.ListOptions{Filter: f, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	return matches[0], nil
}

// MergeMemories merges a new memory into an existing one.
//
// The merge strategy:
//  1. Appends the new content to the existing content
//  2. Averages the two embeddings and normalizes the result
//  3. Updates the existing record in place
//
// Parameters:
//   - ctx: Context for cancellation
//   - existingID: ID of the memory to merge into
//   - newContent: Content of the new memory
//   - newEmbedding: Embedding vector of the new memory
//
// Returns the updated record.
func (m *DedupManager) MergeMemories(ctx context.Context, existingID int64, newContent string, newEmbedding []float64) (*storage.Memory, error) {
	existing, err := m.store.Get(ctx, existingID)
	if err != nil {
		return nil, err
	}

	mergedContent := existing.Content + " " + newContent
	mergedEmbedding := averageEmbeddings(existing.Embedding, newEmbedding)

	return m.store.Update(ctx, existingID, &storage.MemoryUpdate{
		Content:   &mergedContent,
		Embedding: mergedEmbedding,
	})
}

// averageEmbeddings averages two embedding vectors and normalizes the
// result to unit length. Mismatched dimensions return the first vector
// unchanged.
func averageEmbeddings(e1, e2 []float64) []float64 {
	if len(e1) != len(e2) {
		return e1
	}

	result := make([]float64, len(e1))
	for i := range e1 {
		result[i] = (e1[i] + e2[i]) / 2.0
	}
	return normalizeVector(result)
}

// normalizeVector normalizes a vector to unit length (L2 norm). A
// zero-norm vector is returned unchanged.
func normalizeVector(v []float64) []float64 {
	var sum float64
	for _, val := range v {
		sum += val * val
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}

	result := make([]float64, len(v))
	for i, val := range v {
		result[i] = val / norm
	}
	return result
}

// CosineSimilarity calculates the cosine similarity between two vectors.
//
// Returns a value between -1.0 and 1.0, or 0.0 when the vectors have
// different dimensions or zero norm.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
