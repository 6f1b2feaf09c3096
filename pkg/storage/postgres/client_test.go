package postgres_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ob-labs/powermem-go/pkg/filter"
	"github.com/ob-labs/powermem-go/pkg/memerr"
	"github.com/ob-labs/powermem-go/pkg/memid"
	"github.com/ob-labs/powermem-go/pkg/storage"
	"github.com/ob-labs/powermem-go/pkg/storage/postgres"
)

// newTestClient connects to the PostgreSQL instance described by the
// POSTGRES_* environment variables and binds a throwaway collection. Tests
// are skipped when no instance is configured.
func newTestClient(t *testing.T) *postgres.Client {
	t.Helper()

	_ = godotenv.Load(filepath.Join("..", "..", "..", ".env"))

	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		t.Skip("skipping PostgreSQL test: POSTGRES_HOST not set")
	}
	port := 5432
	if portStr := os.Getenv("POSTGRES_PORT"); portStr != "" {
		parsed, err := strconv.Atoi(portStr)
		if err != nil {
			t.Skipf("skipping PostgreSQL test: invalid POSTGRES_PORT: %s", portStr)
		}
		port = parsed
	}

	client, err := postgres.NewClient(&postgres.Config{
		Host:               host,
		Port:               port,
		User:               getEnvOrDefault("POSTGRES_USER", "postgres"),
		Password:           os.Getenv("POSTGRES_PASSWORD"),
		DBName:             getEnvOrDefault("POSTGRES_DATABASE", "postgres"),
		CollectionName:     fmt.Sprintf("memories_test_%d", time.Now().UnixNano()),
		EmbeddingModelDims: 4,
	})
	if err != nil {
		t.Skipf("skipping PostgreSQL test: failed to connect: %v", err)
	}

	require.NoError(t, client.CreateCol(context.Background()), "collection setup must succeed")
	t.Cleanup(func() {
		_ = client.DeleteCol(context.Background())
		_ = client.Close()
	})
	return client
}

func getEnvOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
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

	memory := testMemory(1, "alice", "Prefers oat milk in coffee", []float64{0.1, 0.2, 0.3, 0.4})
	memory.Sparse = map[int32]float64{12: 0.5, 99: 0.25}
	memory.Metadata["importance"] = 0.8

	require.NoError(t, client.Insert(ctx, []*storage.Memory{memory}))

	got, err := client.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, "Prefers oat milk in coffee", got.Content)
	assert.Equal(t, memid.Fingerprint(memory.Content), got.Hash, "hash must be the content fingerprint")
	assert.InDeltaSlice(t, memory.Embedding, got.Embedding, 1e-6, "embedding must round-trip")
	assert.Equal(t, memory.Sparse, got.Sparse, "sparse embedding must round-trip through JSONB")
	assert.Equal(t, 0.8, got.Metadata["importance"])
	assert.WithinDuration(t, time.Now().UTC(), got.CreatedAt, 5*time.Second)
}

func TestSearchFusesDenseAndLexicalChannels(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Insert(ctx, []*storage.Memory{
		testMemory(1, "alice", "Enjoys hiking on weekends", []float64{1, 0, 0, 0}),
		testMemory(2, "alice", "Drinks a double espresso every morning", []float64{0.9, 0.1, 0, 0}),
		testMemory(3, "alice", "Allergic to peanuts", []float64{0, 1, 0, 0}),
	}))

	results, err := client.Search(ctx, &storage.SearchQuery{
		Dense: []float64{1, 0, 0, 0},
		Text:  "espresso",
		Limit: 3,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	// The espresso memory is second on the dense channel but first on the
	// lexical channel; reciprocal rank fusion lifts it to the top.
	assert.Equal(t, int64(2), results[0].ID)
	require.NotNil(t, results[0].FusionInfo)
	assert.Equal(t, 2, results[0].FusionInfo.DenseRank)
	assert.Equal(t, 1, results[0].FusionInfo.FTSRank)

	for _, r := range results {
		if r.ID == 1 {
			require.NotNil(t, r.FusionInfo)
			assert.Equal(t, 1, r.FusionInfo.DenseRank)
			assert.Zero(t, r.FusionInfo.FTSRank, "non-matching lexical channel must report no rank")
		}
	}
}

func TestSearchWithoutTextUsesDenseOnly(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Insert(ctx, []*storage.Memory{
		testMemory(1, "alice", "Enjoys hiking on weekends", []float64{1, 0, 0, 0}),
		testMemory(2, "alice", "Allergic to peanuts", []float64{0, 1, 0, 0}),
	}))

	results, err := client.Search(ctx, &storage.SearchQuery{Dense: []float64{1, 0, 0, 0}, Limit: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, int64(1), results[0].ID)
	assert.Zero(t, results[0].FusionInfo.FTSRank)
	assert.InDelta(t, 1.0/61.0, results[0].Score, 1e-9, "single-channel score keeps the fused scale")
}

func TestSearchRangeFilter(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	important := testMemory(1, "alice", "Signed the apartment lease", []float64{1, 0, 0, 0})
	important.Metadata["importance"] = 0.9
	trivial := testMemory(2, "alice", "Mentioned the weather", []float64{0.9, 0.1, 0, 0})
	trivial.Metadata["importance"] = 0.2
	require.NoError(t, client.Insert(ctx, []*storage.Memory{important, trivial}))

	results, err := client.Search(ctx, &storage.SearchQuery{
		Dense: []float64{1, 0, 0, 0},
		Limit: 10,
		Filter: filter.MustParse(map[string]interface{}{
			"user_id":    "alice",
			"importance": map[string]interface{}{"gte": 0.5},
		}),
	})
	require.NoError(t, err)
	require.Len(t, results, 1, "range filter must exclude low-importance records")
	assert.Equal(t, int64(1), results[0].ID)
}

func TestUpdateRefreshesFingerprint(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	memory := testMemory(1, "alice", "Works at the library", []float64{1, 0, 0, 0})
	require.NoError(t, client.Insert(ctx, []*storage.Memory{memory}))

	newContent := "Works at the city archive"
	updated, err := client.Update(ctx, 1, &storage.MemoryUpdate{Content: &newContent})
	require.NoError(t, err)
	assert.Equal(t, newContent, updated.Content)
	assert.Equal(t, memid.Fingerprint(newContent), updated.Hash, "content change must recompute the fingerprint")
	assert.InDeltaSlice(t, []float64{1, 0, 0, 0}, updated.Embedding, 1e-6, "embedding survives a content-only update")

	_, err = client.Update(ctx, 9999, &storage.MemoryUpdate{Content: &newContent})
	assert.ErrorIs(t, err, memerr.ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var memories []*storage.Memory
	for i := int64(1); i <= 3; i++ {
		m := testMemory(i, "alice", fmt.Sprintf("memory %d", i), []float64{1, 0, 0, 0})
		m.CreatedAt = base
		m.UpdatedAt = base.Add(time.Duration(i) * time.Minute)
		memories = append(memories, m)
	}
	require.NoError(t, client.Insert(ctx, memories))

	listed, err := client.List(ctx, &storage.ListOptions{
		Filter: filter.MustParse(map[string]interface{}{"user_id": "alice"}),
	})
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Equal(t, int64(3), listed[0].ID, "most recently updated record lists first")
	assert.Equal(t, int64(1), listed[2].ID)
}

func TestCountAndDeleteAll(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.Insert(ctx, []*storage.Memory{
		testMemory(1, "alice", "memory a", []float64{1, 0, 0, 0}),
		testMemory(2, "alice", "memory b", []float64{0, 1, 0, 0}),
		testMemory(3, "bob", "memory c", []float64{0, 0, 1, 0}),
	}))

	err := client.DeleteAll(ctx, nil)
	assert.ErrorIs(t, err, memerr.ErrInvalidInput, "unfiltered delete must be rejected")

	require.NoError(t, client.DeleteAll(ctx, filter.MustParse(map[string]interface{}{"user_id": "alice"})))

	count, err := client.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "only the other user's record survives")
}

func TestCapabilities(t *testing.T) {
	client := newTestClient(t)

	caps := client.Capabilities()
	assert.Equal(t, "postgres", caps.Name)
	assert.True(t, caps.FTS)
	assert.False(t, caps.Sparse)
	assert.True(t, caps.FullFilters)
}
