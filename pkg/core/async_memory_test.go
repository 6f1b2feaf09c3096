package core_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ob-labs/powermem-go/pkg/core"
)

func newTestAsyncClient(t *testing.T) *core.AsyncClient {
	t.Helper()
	client, err := core.NewAsyncClient(testConfig(t),
		core.WithLLMProvider(&fakeLLM{}),
		core.WithEmbedderProvider(&fakeEmbedder{}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestAsyncClientRoundTrip(t *testing.T) {
	client := newTestAsyncClient(t)
	ctx := context.Background()

	added := <-client.AddAsync(ctx, "prefers window seats",
		core.WithUserID("user_a"), core.WithInfer(false))
	require.NoError(t, added.Error)
	require.Len(t, added.Result.Results, 1)
	id := added.Result.Results[0].ID.Int64()

	got := <-client.GetAsync(ctx, id, core.WithUserIDForGet("user_a"))
	require.NoError(t, got.Error)
	assert.Equal(t, "prefers window seats", got.Memory.Content)

	searched := <-client.SearchAsync(ctx, "seats", core.WithUserIDForSearch("user_a"))
	require.NoError(t, searched.Error)
	require.NotEmpty(t, searched.Result.Memories)
	assert.EqualValues(t, id, searched.Result.Memories[0].ID.Int64())

	updated := <-client.UpdateAsync(ctx, id, "prefers aisle seats",
		core.WithUserIDForUpdate("user_a"))
	require.NoError(t, updated.Error)
	assert.Equal(t, "prefers aisle seats", updated.Memory.Content)

	all := <-client.GetAllAsync(ctx, core.WithUserIDForGetAll("user_a"))
	require.NoError(t, all.Error)
	assert.Len(t, all.Memories, 1)

	require.NoError(t, <-client.DeleteAsync(ctx, id, core.WithUserIDForDelete("user_a")))

	gone := <-client.GetAsync(ctx, id)
	assert.ErrorIs(t, gone.Error, core.ErrNotFound)
}

func TestAsyncClientConcurrentAdds(t *testing.T) {
	client := newTestAsyncClient(t)
	ctx := context.Background()

	contents := []string{"fact one", "fact two", "fact three", "fact four"}
	channels := make([]<-chan *core.AsyncAddResult, len(contents))
	for i, content := range contents {
		channels[i] = client.AddAsync(ctx, content,
			core.WithUserID("user_a"), core.WithInfer(false))
	}
	for _, ch := range channels {
		result := <-ch
		require.NoError(t, result.Error)
		assert.Equal(t, core.EventAdd, result.Result.Results[0].Event)
	}
	client.Wait()

	all, err := client.GetAll(ctx, core.WithUserIDForGetAll("user_a"))
	require.NoError(t, err)
	assert.Len(t, all, len(contents))
}

func TestAsyncDeleteAllRequiresScope(t *testing.T) {
	client := newTestAsyncClient(t)
	err := <-client.DeleteAllAsync(context.Background())
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}
