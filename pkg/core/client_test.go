package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ob-labs/powermem-go/pkg/core"
	"github.com/ob-labs/powermem-go/pkg/embedder"
	"github.com/ob-labs/powermem-go/pkg/llm"
	"github.com/ob-labs/powermem-go/pkg/substore"
)

const testDims = 8

// fakeLLM satisfies llm.Provider with a programmable responder.
type fakeLLM struct {
	respond func(msgs []llm.Message) (string, error)
	calls   atomic.Int64
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	return f.GenerateWithMessages(ctx, []llm.Message{{Role: "user", Content: prompt}})
}

func (f *fakeLLM) GenerateWithMessages(ctx context.Context, msgs []llm.Message, opts ...llm.GenerateOption) (string, error) {
	f.calls.Add(1)
	if f.respond == nil {
		return "", errors.New("no responder configured")
	}
	return f.respond(msgs)
}

func (f *fakeLLM) Close() error { return nil }

// fakeEmbedder produces deterministic unit vectors from the text's hash,
// so identical texts embed identically and distinct texts diverge.
type fakeEmbedder struct {
	fail atomic.Bool
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, action embedder.Action) ([]float64, error) {
	if f.fail.Load() {
		return nil, errors.New("embedder down")
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	v := make([]float64, testDims)
	var norm float64
	for i := range v {
		seed = seed*6364136223846793005 + 1442695040888963407
		v[i] = float64(int64(seed>>32)) / float64(math.MaxInt32)
		norm += v[i] * v[i]
	}
	norm = math.Sqrt(norm)
	for i := range v {
		v[i] /= norm
	}
	return v, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string, action embedder.Action) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, text := range texts {
		v, err := f.Embed(ctx, text, action)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return testDims }

func (f *fakeEmbedder) Close() error { return nil }

// factsResponse renders an extraction response for the given fact texts.
func factsResponse(facts ...string) string {
	entries := make([]map[string]interface{}, len(facts))
	for i, fact := range facts {
		entries[i] = map[string]interface{}{"fact": fact, "importance": 0.8}
	}
	out, _ := json.Marshal(map[string]interface{}{"facts": entries})
	return string(out)
}

// decisionResponse renders a reconciliation response from action maps.
func decisionResponse(actions ...map[string]interface{}) string {
	out, _ := json.Marshal(map[string]interface{}{"memory": actions})
	return string(out)
}

// isDecisionPrompt tells a reconciliation call apart from an extraction
// call: only the decision prompt embeds the existing-memories block.
func isDecisionPrompt(msgs []llm.Message) bool {
	for _, m := range msgs {
		if strings.Contains(m.Content, "# Existing Memories") {
			return true
		}
	}
	return false
}

// existingFromPrompt parses the existing-memories JSON block out of a
// decision prompt.
func existingFromPrompt(msgs []llm.Message) []struct{ ID, Text string } {
	for _, m := range msgs {
		start := strings.Index(m.Content, "# Existing Memories\n")
		if start < 0 {
			continue
		}
		rest := m.Content[start+len("# Existing Memories\n"):]
		end := strings.Index(rest, "\n\n")
		if end < 0 {
			continue
		}
		var out []struct{ ID, Text string }
		if err := json.Unmarshal([]byte(rest[:end]), &out); err == nil {
			return out
		}
	}
	return nil
}

func testConfig(t *testing.T, subs ...*core.SubStoreConfig) *core.Config {
	t.Helper()
	return &core.Config{
		LLM:      core.LLMConfig{Provider: "openai", APIKey: "test", Model: "gpt-4"},
		Embedder: core.EmbedderConfig{Provider: "openai", APIKey: "test", Model: "test-embed", Dimensions: testDims},
		VectorStore: core.VectorStoreConfig{
			Provider: "sqlite",
			Dims:     testDims,
			ConnectionArgs: map[string]interface{}{
				"db_path": filepath.Join(t.TempDir(), "memories.db"),
			},
		},
		SubStores:    subs,
		Intelligence: &core.IntelligenceConfig{Enabled: true},
	}
}

func newTestClient(t *testing.T, provider *fakeLLM, subs ...*core.SubStoreConfig) *core.Client {
	t.Helper()
	client, err := core.NewClient(testConfig(t, subs...),
		core.WithLLMProvider(provider),
		core.WithEmbedderProvider(&fakeEmbedder{}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPassthroughAddAndExactDedup(t *testing.T) {
	client := newTestClient(t, &fakeLLM{})
	ctx := context.Background()

	result, err := client.Add(ctx, "User likes Python",
		core.WithUserID("user_001"),
		core.WithInfer(false),
	)
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, core.EventAdd, result.Results[0].Event)
	assert.NotZero(t, result.Results[0].ID)

	// Same content in the same scope is an exact duplicate.
	again, err := client.Add(ctx, "User likes Python",
		core.WithUserID("user_001"),
		core.WithInfer(false),
	)
	require.NoError(t, err)
	require.Len(t, again.Results, 1)
	assert.Equal(t, core.EventNone, again.Results[0].Event)
	assert.Equal(t, result.Results[0].ID, again.Results[0].ID)

	// A different user is a different scope, so the content is new there.
	other, err := client.Add(ctx, "User likes Python",
		core.WithUserID("user_002"),
		core.WithInfer(false),
	)
	require.NoError(t, err)
	assert.Equal(t, core.EventAdd, other.Results[0].Event)
}

func TestAddRunsExtractionPipeline(t *testing.T) {
	provider := &fakeLLM{}
	provider.respond = func(msgs []llm.Message) (string, error) {
		if isDecisionPrompt(msgs) {
			return decisionResponse(
				map[string]interface{}{"text": "Likes Python", "event": "ADD"},
				map[string]interface{}{"text": "Works at Acme", "event": "ADD"},
			), nil
		}
		return factsResponse("Likes Python", "Works at Acme"), nil
	}
	client := newTestClient(t, provider)
	ctx := context.Background()

	result, err := client.Add(ctx, []core.Message{
		{Role: "user", Content: "I like Python and I work at Acme"},
	}, core.WithUserID("user_001"))
	require.NoError(t, err)
	require.Len(t, result.Results, 2)
	for _, record := range result.Results {
		assert.Equal(t, core.EventAdd, record.Event)
		assert.NotZero(t, record.ID)
		assert.Contains(t, record.Metadata, "retention")
	}

	memories, err := client.GetAll(ctx, core.WithUserIDForGetAll("user_001"))
	require.NoError(t, err)
	assert.Len(t, memories, 2)
}

func TestAddReconciliationUpdatesExisting(t *testing.T) {
	provider := &fakeLLM{}
	provider.respond = func(msgs []llm.Message) (string, error) {
		if isDecisionPrompt(msgs) {
			existing := existingFromPrompt(msgs)
			if len(existing) == 0 {
				return decisionResponse(
					map[string]interface{}{"text": "User lives in Paris", "event": "ADD"},
				), nil
			}
			return decisionResponse(map[string]interface{}{
				"id":         existing[0].ID,
				"text":       "User lives in Berlin",
				"event":      "UPDATE",
				"old_memory": existing[0].Text,
			}), nil
		}
		if strings.Contains(msgs[len(msgs)-1].Content, "Berlin") {
			return factsResponse("User lives in Berlin"), nil
		}
		return factsResponse("User lives in Paris"), nil
	}
	client := newTestClient(t, provider)
	ctx := context.Background()

	seeded, err := client.Add(ctx, "user: I live in Paris", core.WithUserID("user_001"))
	require.NoError(t, err)
	require.Len(t, seeded.Results, 1)
	require.Equal(t, core.EventAdd, seeded.Results[0].Event)
	id := seeded.Results[0].ID

	result, err := client.Add(ctx, "user: I moved to Berlin", core.WithUserID("user_001"))
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, core.EventUpdate, result.Results[0].Event)
	assert.Equal(t, id, result.Results[0].ID)
	assert.Equal(t, "User lives in Paris", result.Results[0].PreviousMemory)

	updated, err := client.Get(ctx, id.Int64(), core.WithUserIDForGet("user_001"))
	require.NoError(t, err)
	assert.Equal(t, "User lives in Berlin", updated.Content)
}

func TestAddReconciliationDeleteSupersedesUpdate(t *testing.T) {
	provider := &fakeLLM{}
	provider.respond = func(msgs []llm.Message) (string, error) {
		if isDecisionPrompt(msgs) {
			existing := existingFromPrompt(msgs)
			if len(existing) == 0 {
				return decisionResponse(
					map[string]interface{}{"text": "Allergic to peanuts", "event": "ADD"},
				), nil
			}
			// Contradictory decision for the same id: the delete wins.
			return decisionResponse(
				map[string]interface{}{"id": existing[0].ID, "text": "stale", "event": "UPDATE"},
				map[string]interface{}{"id": existing[0].ID, "event": "DELETE"},
				map[string]interface{}{"text": "Peanut allergy resolved", "event": "ADD"},
			), nil
		}
		if strings.Contains(msgs[len(msgs)-1].Content, "resolved") {
			return factsResponse("Peanut allergy resolved"), nil
		}
		return factsResponse("Allergic to peanuts"), nil
	}
	client := newTestClient(t, provider)
	ctx := context.Background()

	seeded, err := client.Add(ctx, "user: I am allergic to peanuts", core.WithUserID("user_001"))
	require.NoError(t, err)
	id := seeded.Results[0].ID

	result, err := client.Add(ctx, "user: my peanut allergy resolved", core.WithUserID("user_001"))
	require.NoError(t, err)

	events := make(map[string]int)
	for _, record := range result.Results {
		events[record.Event]++
	}
	assert.Equal(t, 1, events[core.EventDelete])
	assert.Equal(t, 1, events[core.EventAdd])
	assert.Zero(t, events[core.EventUpdate], "delete for an id supersedes its update")

	_, err = client.Get(ctx, id.Int64())
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestAddExactDuplicateFactShortCircuits(t *testing.T) {
	provider := &fakeLLM{}
	decisions := atomic.Int64{}
	provider.respond = func(msgs []llm.Message) (string, error) {
		if isDecisionPrompt(msgs) {
			decisions.Add(1)
			return decisionResponse(
				map[string]interface{}{"text": "Likes Go", "event": "ADD"},
			), nil
		}
		return factsResponse("Likes Go"), nil
	}
	client := newTestClient(t, provider)
	ctx := context.Background()

	first, err := client.Add(ctx, "user: I like Go", core.WithUserID("user_001"))
	require.NoError(t, err)
	require.Equal(t, core.EventAdd, first.Results[0].Event)
	require.EqualValues(t, 1, decisions.Load())

	// The identical fact matches by content hash in the probe phase: no
	// second reconciliation call happens.
	second, err := client.Add(ctx, "user: I like Go", core.WithUserID("user_001"))
	require.NoError(t, err)
	require.Len(t, second.Results, 1)
	assert.Equal(t, core.EventNone, second.Results[0].Event)
	assert.Equal(t, first.Results[0].ID, second.Results[0].ID)
	assert.EqualValues(t, 1, decisions.Load())
}

func TestAddEmbeddingFailureSkipsFact(t *testing.T) {
	emb := &fakeEmbedder{}
	provider := &fakeLLM{respond: func(msgs []llm.Message) (string, error) {
		return factsResponse("Likes Rust"), nil
	}}
	client, err := core.NewClient(testConfig(t),
		core.WithLLMProvider(provider),
		core.WithEmbedderProvider(emb),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	emb.fail.Store(true)
	result, err := client.Add(context.Background(), "user: I like Rust", core.WithUserID("user_001"))
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, core.EventFactEmbeddingFailed, result.Results[0].Event)
	assert.Zero(t, result.Results[0].ID)
}

func TestSearchScopedAndAnnotated(t *testing.T) {
	client := newTestClient(t, &fakeLLM{})
	ctx := context.Background()

	for _, content := range []string{"Enjoys hiking in the Alps", "Prefers tea over coffee"} {
		_, err := client.Add(ctx, content, core.WithUserID("user_a"), core.WithInfer(false))
		require.NoError(t, err)
	}
	_, err := client.Add(ctx, "Plays chess on weekends", core.WithUserID("user_b"), core.WithInfer(false))
	require.NoError(t, err)

	result, err := client.Search(ctx, "outdoor activities",
		core.WithUserIDForSearch("user_a"),
		core.WithLimit(10),
	)
	require.NoError(t, err)
	require.Len(t, result.Memories, 2)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, 2, result.TotalCount)

	for i, m := range result.Memories {
		assert.Equal(t, "user_a", m.UserID)
		assert.Greater(t, m.Score, 0.0)
		assert.LessOrEqual(t, m.Score, 1.0)
		assert.Equal(t, substore.MainStoreName, m.Metadata[core.SourceStoreKey])

		info, ok := m.Metadata[core.FusionInfoKey].(map[string]interface{})
		require.True(t, ok, "fusion info missing")
		assert.Equal(t, "rrf", info["method"])
		if i > 0 {
			assert.GreaterOrEqual(t, result.Memories[i-1].Score, m.Score)
		}
	}
}

func TestSearchMinScoreAndLimit(t *testing.T) {
	client := newTestClient(t, &fakeLLM{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := client.Add(ctx, fmt.Sprintf("memory number %d about cooking", i),
			core.WithUserID("user_a"), core.WithInfer(false))
		require.NoError(t, err)
	}

	limited, err := client.Search(ctx, "cooking",
		core.WithUserIDForSearch("user_a"),
		core.WithLimit(3),
	)
	require.NoError(t, err)
	assert.Len(t, limited.Memories, 3)

	// The top hit is normalized to 1.0, so a threshold of 1.0 keeps it.
	top, err := client.Search(ctx, "cooking",
		core.WithUserIDForSearch("user_a"),
		core.WithMinScore(1.0),
	)
	require.NoError(t, err)
	require.NotEmpty(t, top.Memories)
	assert.Equal(t, 1.0, top.Memories[0].Score)
}

func TestSearchEmptyQueryRejected(t *testing.T) {
	client := newTestClient(t, &fakeLLM{})
	_, err := client.Search(context.Background(), "")
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestAccessControl(t *testing.T) {
	client := newTestClient(t, &fakeLLM{})
	ctx := context.Background()

	result, err := client.Add(ctx, "secret preference", core.WithUserID("owner"), core.WithInfer(false))
	require.NoError(t, err)
	id := result.Results[0].ID.Int64()

	// Reads and mutations by another user are forbidden.
	_, err = client.Get(ctx, id, core.WithUserIDForGet("intruder"))
	assert.ErrorIs(t, err, core.ErrForbidden)
	_, err = client.Update(ctx, id, "overwritten", core.WithUserIDForUpdate("intruder"))
	assert.ErrorIs(t, err, core.ErrForbidden)
	err = client.Delete(ctx, id, core.WithUserIDForDelete("intruder"))
	assert.ErrorIs(t, err, core.ErrForbidden)

	// The owner can do all three.
	got, err := client.Get(ctx, id, core.WithUserIDForGet("owner"))
	require.NoError(t, err)
	assert.Equal(t, "secret preference", got.Content)

	updated, err := client.Update(ctx, id, "updated preference", core.WithUserIDForUpdate("owner"))
	require.NoError(t, err)
	assert.Equal(t, "updated preference", updated.Content)

	require.NoError(t, client.Delete(ctx, id, core.WithUserIDForDelete("owner")))
	_, err = client.Get(ctx, id)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestUpdatePreservesRetentionAcrossMetadataReplacement(t *testing.T) {
	client := newTestClient(t, &fakeLLM{})
	ctx := context.Background()

	result, err := client.Add(ctx, "remembers birthdays",
		core.WithUserID("user_a"),
		core.WithInfer(false),
		core.WithMetadata(map[string]interface{}{"origin": "chat"}),
	)
	require.NoError(t, err)
	id := result.Results[0].ID.Int64()

	updated, err := client.Update(ctx, id, "remembers anniversaries",
		core.WithMetadataForUpdate(map[string]interface{}{"origin": "import"}),
	)
	require.NoError(t, err)
	assert.Equal(t, "import", updated.Metadata["origin"])
	assert.Contains(t, updated.Metadata, "retention", "metadata replacement must keep the retention block")
}

func TestGetAllOrderingAndPagination(t *testing.T) {
	client := newTestClient(t, &fakeLLM{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := client.Add(ctx, fmt.Sprintf("note %d", i), core.WithUserID("user_a"), core.WithInfer(false))
		require.NoError(t, err)
	}

	all, err := client.GetAll(ctx, core.WithUserIDForGetAll("user_a"))
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		prev, cur := all[i-1], all[i]
		if prev.UpdatedAt.Equal(cur.UpdatedAt) {
			assert.Greater(t, prev.ID.Int64(), cur.ID.Int64())
		} else {
			assert.True(t, prev.UpdatedAt.After(cur.UpdatedAt))
		}
	}

	page, err := client.GetAll(ctx,
		core.WithUserIDForGetAll("user_a"),
		core.WithLimitForGetAll(2),
		core.WithOffset(2),
	)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, all[2].ID, page[0].ID)
	assert.Equal(t, all[3].ID, page[1].ID)

	empty, err := client.GetAll(ctx,
		core.WithUserIDForGetAll("user_a"),
		core.WithOffset(50),
	)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDeleteAllRequiresScope(t *testing.T) {
	client := newTestClient(t, &fakeLLM{})
	ctx := context.Background()

	_, err := client.Add(ctx, "keep me", core.WithUserID("user_a"), core.WithInfer(false))
	require.NoError(t, err)
	_, err = client.Add(ctx, "drop me", core.WithUserID("user_b"), core.WithInfer(false))
	require.NoError(t, err)

	err = client.DeleteAll(ctx)
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	require.NoError(t, client.DeleteAll(ctx, core.WithUserIDForDeleteAll("user_b")))

	remaining, err := client.GetAll(ctx, core.WithUserIDForGetAll("user_a"))
	require.NoError(t, err)
	assert.Len(t, remaining, 1)

	gone, err := client.GetAll(ctx, core.WithUserIDForGetAll("user_b"))
	require.NoError(t, err)
	assert.Empty(t, gone)
}

func TestSubStoreRoutingAndMigration(t *testing.T) {
	sub := &core.SubStoreConfig{
		Name:           "vip",
		CollectionName: "vip_memories",
		RoutingFilter:  map[string]interface{}{"user_id": "vip_user"},
	}
	client := newTestClient(t, &fakeLLM{}, sub)
	ctx := context.Background()

	status, err := client.SubStoreStatus("vip")
	require.NoError(t, err)
	assert.Equal(t, substore.StatusDormant, status)

	// Dormant sub-stores receive no writes.
	_, err = client.Add(ctx, "vip note before migration", core.WithUserID("vip_user"), core.WithInfer(false))
	require.NoError(t, err)
	_, err = client.Add(ctx, "regular note", core.WithUserID("plain_user"), core.WithInfer(false))
	require.NoError(t, err)

	result, err := client.MigrateSubStore(ctx, "vip", &substore.MigrateOptions{BatchSize: 10, DeleteSource: true})
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.Migrated)

	status, err = client.SubStoreStatus("vip")
	require.NoError(t, err)
	assert.Equal(t, substore.StatusActive, status)

	// Active sub-stores take matching writes and serve matching reads.
	_, err = client.Add(ctx, "vip note after migration", core.WithUserID("vip_user"), core.WithInfer(false))
	require.NoError(t, err)

	found, err := client.Search(ctx, "vip note", core.WithUserIDForSearch("vip_user"))
	require.NoError(t, err)
	require.Len(t, found.Memories, 2)
	for _, m := range found.Memories {
		assert.Equal(t, "vip", m.Metadata[core.SourceStoreKey])
	}

	other, err := client.Search(ctx, "regular note", core.WithUserIDForSearch("plain_user"))
	require.NoError(t, err)
	require.NotEmpty(t, other.Memories)
	assert.Equal(t, substore.MainStoreName, other.Memories[0].Metadata[core.SourceStoreKey])
}

func TestNewClientValidatesConfig(t *testing.T) {
	_, err := core.NewClient(nil)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	cfg := testConfig(t)
	cfg.LLM.Provider = ""
	_, err = core.NewClient(cfg)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	cfg = testConfig(t)
	cfg.Embedder.Dimensions = 16
	_, err = core.NewClient(cfg)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}
