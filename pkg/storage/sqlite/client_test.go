package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ob-labs/powermem-go/pkg/filter"
	"github.com/ob-labs/powermem-go/pkg/memerr"
	"github.com/ob-labs/powermem-go/pkg/memid"
	"github.com/ob-labs/powermem-go/pkg/storage"
	"github.com/ob-labs/powermem-go/pkg/storage/sqlite"
)

func newTestClient(t *testing.T) *sqlite.Client {
	t.Helper()

	client, err := sqlite.NewClient(&sqlite.Config{
		DBPath:             filepath.Join(t.TempDir(), "memories.db"),
		CollectionName:     "memories",
		EmbeddingModelDims: 4,
	})
	require.NoError(t, err)
	require.NoError(t, client.CreateCol(context.Background()))
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func testMemory(id int64, userID, content string, embedding []float64) *storage.Memory {
	return &storage.Memory{
		ID:        id,
		UserID:    userID,
		AgentID:   "agent-1",
		RunID:     "run-1",
		Content:   content,
		Embedding: embedding,
		Metadata:  map[string]interface{}{"category": "preferences"},
	}
}

func TestInsertGetRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	m := testMemory(1001, "alice", "Prefers dark roast coffee", []float64{0.1, 0.2, 0.3, 0.4})
	m.ActorID = "actor-7"
	m.Sparse = map[int32]float64{12: 0.5, 99: 0.25}
	m.Metadata["nested"] = map[string]interface{}{"level": 2}

	require.NoError(t, client.Insert(ctx, []*storage.Memory{m}))

	got, err := client.Get(ctx, 1001)
	require.NoError(t, err)

	assert.Equal(t, int64(1001), got.ID)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, "agent-1", got.AgentID)
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "actor-7", got.ActorID)
	assert.Equal(t, "Prefers dark roast coffee", got.Content)
	assert.Equal(t, []float64{0.1, 0.2, 0.3, 0.4}, got.Embedding)
	assert.Equal(t, map[int32]float64{12: 0.5, 99: 0.25}, got.Sparse)
	assert.Equal(t, "preferences", got.Metadata["category"])
	assert.Equal(t, map[string]interface{}{"level": float64(2)}, got.Metadata["nested"])

	assert.Equal(t, memid.Fingerprint(m.Content), got.Hash, "hash should be derived from content on insert")
	assert.WithinDuration(t, time.Now().UTC(), got.CreatedAt, 5*time.Second)
	assert.WithinDuration(t, time.Now().UTC(), got.UpdatedAt, 5*time.Second)
}

func TestInsertBatchIsAtomic(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	batch := []*storage.Memory{
		testMemory(1, "alice", "valid record", []float64{1, 0, 0, 0}),
		{ID: 2, UserID: "alice", Content: "", Embedding: []float64{0, 1, 0, 0}},
	}

	err := client.Insert(ctx, batch)
	require.Error(t, err, "batch with an invalid record should fail")

	count, err := client.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count, "a failed batch must not leave partial rows")
}

func TestInsertRejectsDimensionMismatch(t *testing.T) {
	client := newTestClient(t)

	m := testMemory(1, "alice", "wrong dims", []float64{1, 0})
	err := client.Insert(context.Background(), []*storage.Memory{m})
	require.Error(t, err)
	assert.ErrorIs(t, err, memerr.ErrInvalidInput)
}

func TestSearchRanksBySimilarity(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Insert(ctx, []*storage.Memory{
		testMemory(1, "alice", "exact match", []float64{1, 0, 0, 0}),
		testMemory(2, "alice", "close match", []float64{0.9, 0.1, 0, 0}),
		testMemory(3, "alice", "unrelated", []float64{0, 0, 0, 1}),
	}))

	results, err := client.Search(ctx, &storage.SearchQuery{
		Dense: []float64{1, 0, 0, 0},
		Limit: 2,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, int64(1), results[0].ID)
	assert.Equal(t, int64(2), results[1].ID)

	require.NotNil(t, results[0].FusionInfo)
	assert.Equal(t, 1, results[0].FusionInfo.DenseRank)
	assert.Equal(t, 2, results[1].FusionInfo.DenseRank)
	assert.InDelta(t, 1.0/61.0, results[0].Score, 1e-9, "single-channel score should be the reciprocal rank")
	assert.InDelta(t, 1.0/62.0, results[1].Score, 1e-9)
}

func TestSearchScopeIsolation(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Insert(ctx, []*storage.Memory{
		testMemory(1, "alice", "alice memory", []float64{1, 0, 0, 0}),
		testMemory(2, "bob", "bob memory", []float64{1, 0, 0, 0}),
	}))

	results, err := client.Search(ctx, &storage.SearchQuery{
		Dense:  []float64{1, 0, 0, 0},
		Limit:  10,
		Filter: filter.MustParse(map[string]interface{}{"user_id": "alice"}),
	})
	require.NoError(t, err)

	require.Len(t, results, 1, "a scoped search must never leak another user's records")
	assert.Equal(t, "alice", results[0].UserID)
}

func TestSearchRejectsRangeFilters(t *testing.T) {
	client := newTestClient(t)

	_, err := client.Search(context.Background(), &storage.SearchQuery{
		Dense: []float64{1, 0, 0, 0},
		Limit: 5,
		Filter: filter.MustParse(map[string]interface{}{
			"priority": map[string]interface{}{"gte": 3},
		}),
	})
	require.Error(t, err)

	var unsupported *memerr.UnsupportedFilterOpError
	require.ErrorAs(t, err, &unsupported, "range operators must surface the capability error")
	assert.Equal(t, "sqlite", unsupported.Backend)
}

func TestUpdatePartial(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	m := testMemory(42, "alice", "original content", []float64{1, 0, 0, 0})
	require.NoError(t, client.Insert(ctx, []*storage.Memory{m}))
	originalHash := m.Hash

	newContent := "updated content"
	updated, err := client.Update(ctx, 42, &storage.MemoryUpdate{Content: &newContent})
	require.NoError(t, err)

	assert.Equal(t, "updated content", updated.Content)
	assert.NotEqual(t, originalHash, updated.Hash, "content change must refresh the fingerprint")
	assert.Equal(t, memid.Fingerprint(newContent), updated.Hash)
	assert.Equal(t, []float64{1, 0, 0, 0}, updated.Embedding, "embedding should survive a content-only update")
	assert.Equal(t, "preferences", updated.Metadata["category"], "metadata should survive a content-only update")

	// Metadata replacement.
	updated, err = client.Update(ctx, 42, &storage.MemoryUpdate{
		Metadata: map[string]interface{}{"category": "facts"},
	})
	require.NoError(t, err)
	assert.Equal(t, "facts", updated.Metadata["category"])

	_, err = client.Update(ctx, 9999, &storage.MemoryUpdate{Content: &newContent})
	assert.ErrorIs(t, err, memerr.ErrNotFound)
}

func TestDelete(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Insert(ctx, []*storage.Memory{
		testMemory(7, "alice", "to be deleted", []float64{1, 0, 0, 0}),
	}))

	require.NoError(t, client.Delete(ctx, 7))

	_, err := client.Get(ctx, 7)
	assert.ErrorIs(t, err, memerr.ErrNotFound)

	err = client.Delete(ctx, 7)
	assert.ErrorIs(t, err, memerr.ErrNotFound, "deleting twice should report not found")
}

func TestListOrderAndPagination(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := int64(1); i <= 5; i++ {
		m := testMemory(i, "alice", "memory", []float64{1, 0, 0, 0})
		m.CreatedAt = base
		m.UpdatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, client.Insert(ctx, []*storage.Memory{m}))
	}

	page, err := client.List(ctx, &storage.ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(5), page[0].ID, "most recently updated record should come first")
	assert.Equal(t, int64(4), page[1].ID)

	page, err = client.List(ctx, &storage.ListOptions{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, int64(3), page[0].ID)
	assert.Equal(t, int64(2), page[1].ID)
}

func TestListByHashForDedup(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	m := testMemory(11, "alice", "User likes green tea", []float64{1, 0, 0, 0})
	require.NoError(t, client.Insert(ctx, []*storage.Memory{m}))

	matches, err := client.List(ctx, &storage.ListOptions{
		Filter: filter.MustParse(map[string]interface{}{
			"user_id": "alice",
			"hash":    memid.Fingerprint("User likes green tea"),
		}),
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, int64(11), matches[0].ID)
}

func TestCountAndDeleteAll(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Insert(ctx, []*storage.Memory{
		testMemory(1, "alice", "a1", []float64{1, 0, 0, 0}),
		testMemory(2, "alice", "a2", []float64{0, 1, 0, 0}),
		testMemory(3, "bob", "b1", []float64{0, 0, 1, 0}),
	}))

	count, err := client.Count(ctx, filter.MustParse(map[string]interface{}{"user_id": "alice"}))
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	err = client.DeleteAll(ctx, nil)
	require.Error(t, err, "unfiltered DeleteAll must be rejected")
	assert.ErrorIs(t, err, memerr.ErrInvalidInput)

	require.NoError(t, client.DeleteAll(ctx, filter.MustParse(map[string]interface{}{"user_id": "alice"})))

	total, err := client.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total, "only the filtered user's records should be removed")
}

func TestResetAndColInfo(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Insert(ctx, []*storage.Memory{
		testMemory(1, "alice", "m", []float64{1, 0, 0, 0}),
	}))

	info, err := client.ColInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "memories", info.Name)
	assert.Equal(t, "sqlite", info.Backend)
	assert.Equal(t, 4, info.Dims)
	assert.Equal(t, int64(1), info.Count)

	require.NoError(t, client.Reset(ctx))

	info, err = client.ColInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Count, "Reset should leave an empty collection")
}

func TestCapabilities(t *testing.T) {
	client := newTestClient(t)

	caps := client.Capabilities()
	assert.Equal(t, "sqlite", caps.Name)
	assert.False(t, caps.FTS)
	assert.False(t, caps.Sparse)
	assert.False(t, caps.FullFilters)
}

func TestSearchRequiresDenseVector(t *testing.T) {
	client := newTestClient(t)

	_, err := client.Search(context.Background(), &storage.SearchQuery{Limit: 5})
	require.Error(t, err)
	assert.True(t, errors.Is(err, memerr.ErrInvalidInput))
}
