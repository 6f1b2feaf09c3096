package core_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ob-labs/powermem-go/pkg/core"
)

func seedMemories(t *testing.T, client *core.Client, userID string, n int) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		result, err := client.Add(context.Background(),
			fmt.Sprintf("memory %02d about travel plans", i),
			core.WithUserID(userID), core.WithInfer(false))
		require.NoError(t, err)
		ids = append(ids, result.Results[0].ID.Int64())
	}
	return ids
}

func TestSearchStreamBatches(t *testing.T) {
	client := newTestClient(t, &fakeLLM{})
	seedMemories(t, client, "user_a", 7)

	var batches []*core.StreamingSearchResult
	for batch := range client.SearchStream(context.Background(), "travel", 3,
		core.WithUserIDForSearch("user_a"),
		core.WithLimit(7),
	) {
		require.NoError(t, batch.Error)
		batches = append(batches, batch)
	}

	require.Len(t, batches, 3)
	assert.Len(t, batches[0].Memories, 3)
	assert.Len(t, batches[1].Memories, 3)
	assert.Len(t, batches[2].Memories, 1)
	for i, batch := range batches {
		assert.Equal(t, i, batch.BatchIndex)
		assert.Equal(t, i == len(batches)-1, batch.IsLastBatch)
	}
}

func TestSearchStreamReportsError(t *testing.T) {
	client := newTestClient(t, &fakeLLM{})

	var got *core.StreamingSearchResult
	for batch := range client.SearchStream(context.Background(), "", 10) {
		got = batch
	}
	require.NotNil(t, got)
	assert.ErrorIs(t, got.Error, core.ErrInvalidInput)
	assert.True(t, got.IsLastBatch)
}

func TestGetAllStreamPagesThroughStore(t *testing.T) {
	client := newTestClient(t, &fakeLLM{})
	seedMemories(t, client, "user_a", 5)

	seen := make(map[int64]bool)
	var batches int
	for batch := range client.GetAllStream(context.Background(), 2,
		core.WithUserIDForGetAll("user_a"),
	) {
		require.NoError(t, batch.Error)
		batches++
		for _, m := range batch.Memories {
			assert.False(t, seen[m.ID.Int64()], "memory %d delivered twice", m.ID)
			seen[m.ID.Int64()] = true
		}
	}
	assert.Equal(t, 3, batches)
	assert.Len(t, seen, 5)
}

func TestBatchAddCountsSuccessesAndFailures(t *testing.T) {
	client := newTestClient(t, &fakeLLM{})

	contents := []string{"likes jazz", "", "plays guitar"}
	result, err := client.BatchAdd(context.Background(), contents, core.WithUserID("user_a"), core.WithInfer(false))
	require.NoError(t, err)

	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 1, result.FailureCount)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, 1, result.Errors[0].Index)
	assert.ErrorIs(t, result.Errors[0].Error, core.ErrInvalidInput)

	require.Len(t, result.Results, 3)
	assert.NotNil(t, result.Results[0])
	assert.Nil(t, result.Results[1])
	assert.NotNil(t, result.Results[2])
}

func TestBatchAddRejectsEmptyInput(t *testing.T) {
	client := newTestClient(t, &fakeLLM{})
	_, err := client.BatchAdd(context.Background(), nil)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestBatchUpdate(t *testing.T) {
	client := newTestClient(t, &fakeLLM{})
	ids := seedMemories(t, client, "user_a", 2)

	items := []core.BatchUpdateItem{
		{ID: ids[0], Content: "rewritten zero"},
		{ID: ids[1], Content: "rewritten one", Metadata: map[string]interface{}{"rev": 2}},
		{ID: 999999, Content: "missing"},
	}
	result, err := client.BatchUpdate(context.Background(), items)
	require.NoError(t, err)

	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 1, result.FailureCount)
	require.Len(t, result.Errors, 1)
	assert.EqualValues(t, 999999, result.Errors[0].ID)
	assert.ErrorIs(t, result.Errors[0].Error, core.ErrNotFound)

	assert.Equal(t, "rewritten zero", result.Memories[0].Content)
	assert.EqualValues(t, 2, result.Memories[1].Metadata["rev"])
	assert.Nil(t, result.Memories[2])
}

func TestBatchDelete(t *testing.T) {
	client := newTestClient(t, &fakeLLM{})
	ids := seedMemories(t, client, "user_a", 3)

	result, err := client.BatchDelete(context.Background(), append(ids[:2:2], 888888))
	require.NoError(t, err)
	assert.Equal(t, 2, result.SuccessCount)
	assert.Equal(t, 1, result.FailureCount)
	require.Len(t, result.Errors, 1)
	assert.EqualValues(t, 888888, result.Errors[0].ID)

	remaining, err := client.GetAll(context.Background(), core.WithUserIDForGetAll("user_a"))
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, ids[2], remaining[0].ID.Int64())
}
