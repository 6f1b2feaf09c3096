package usermemory_test

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ob-labs/powermem-go/pkg/core"
	"github.com/ob-labs/powermem-go/pkg/embedder"
	"github.com/ob-labs/powermem-go/pkg/llm"
	usermemory "github.com/ob-labs/powermem-go/pkg/user_memory"
)

const testDims = 8

type fakeLLM struct {
	mu      sync.Mutex
	respond func(msgs []llm.Message) (string, error)
	prompts [][]llm.Message
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	return f.GenerateWithMessages(ctx, []llm.Message{{Role: "user", Content: prompt}})
}

func (f *fakeLLM) GenerateWithMessages(ctx context.Context, msgs []llm.Message, opts ...llm.GenerateOption) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, msgs)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return "", errors.New("no responder configured")
	}
	return respond(msgs)
}

func (f *fakeLLM) Close() error { return nil }

func (f *fakeLLM) lastPrompt() []llm.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return nil
	}
	return f.prompts[len(f.prompts)-1]
}

type fakeEmbedder struct{}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, action embedder.Action) ([]float64, error) {
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

// fakeProfileStore is an in-memory UserProfileStore.
type fakeProfileStore struct {
	mu       sync.Mutex
	nextID   int64
	profiles map[string]*usermemory.UserProfile
}

func newFakeProfileStore() *fakeProfileStore {
	return &fakeProfileStore{profiles: make(map[string]*usermemory.UserProfile)}
}

func (s *fakeProfileStore) SaveProfile(ctx context.Context, userID string, profileContent *string, topics map[string]interface{}) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.profiles[userID]
	if !ok {
		s.nextID++
		profile = &usermemory.UserProfile{ID: s.nextID, UserID: userID, CreatedAt: time.Now()}
		s.profiles[userID] = profile
	}
	if profileContent != nil {
		profile.ProfileContent = *profileContent
	}
	if topics != nil {
		profile.Topics = topics
	}
	profile.UpdatedAt = time.Now()
	return profile.ID, nil
}

func (s *fakeProfileStore) GetProfileByUserID(ctx context.Context, userID string) (*usermemory.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	profile, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	clone := *profile
	return &clone, nil
}

func (s *fakeProfileStore) GetProfiles(ctx context.Context, opts *usermemory.GetProfilesOptions) ([]*usermemory.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*usermemory.UserProfile
	for _, profile := range s.profiles {
		if opts != nil && opts.UserID != "" && profile.UserID != opts.UserID {
			continue
		}
		clone := *profile
		out = append(out, &clone)
	}
	return out, nil
}

func (s *fakeProfileStore) DeleteProfile(ctx context.Context, profileID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, profile := range s.profiles {
		if profile.ID == profileID {
			delete(s.profiles, userID)
			return nil
		}
	}
	return errors.New("profile not found")
}

func (s *fakeProfileStore) Close() error { return nil }

func newMemoryClient(t *testing.T) *core.Client {
	t.Helper()
	cfg := &core.Config{
		LLM:      core.LLMConfig{Provider: "openai", APIKey: "test", Model: "gpt-4"},
		Embedder: core.EmbedderConfig{Provider: "openai", APIKey: "test", Model: "test-embed", Dimensions: testDims},
		VectorStore: core.VectorStoreConfig{
			Provider: "sqlite",
			Dims:     testDims,
			ConnectionArgs: map[string]interface{}{
				"db_path": filepath.Join(t.TempDir(), "memories.db"),
			},
		},
	}
	memory, err := core.NewClient(cfg,
		core.WithLLMProvider(&fakeLLM{}),
		core.WithEmbedderProvider(&fakeEmbedder{}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = memory.Close() })
	return memory
}

func TestAddExtractsProfileContent(t *testing.T) {
	store := newFakeProfileStore()
	profileLLM := &fakeLLM{respond: func(msgs []llm.Message) (string, error) {
		return "Alice is a software engineer who enjoys climbing.", nil
	}}
	client := usermemory.NewClientWithProfileStore(newMemoryClient(t), store, profileLLM)

	result, err := client.Add(context.Background(), []map[string]interface{}{
		{"role": "user", "content": "I'm Alice, a software engineer. I climb on weekends."},
	}, usermemory.WithUserID("user_001"), usermemory.WithInfer(false))
	require.NoError(t, err)

	require.NotNil(t, result.Ingest)
	require.Len(t, result.Ingest.Results, 1)
	assert.Equal(t, core.EventAdd, result.Ingest.Results[0].Event)

	assert.True(t, result.ProfileExtracted)
	require.NotNil(t, result.ProfileContent)
	assert.Contains(t, *result.ProfileContent, "software engineer")

	saved, err := store.GetProfileByUserID(context.Background(), "user_001")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, *result.ProfileContent, saved.ProfileContent)
}

func TestAddSkipsProfileWhenNothingExtracted(t *testing.T) {
	store := newFakeProfileStore()
	profileLLM := &fakeLLM{respond: func(msgs []llm.Message) (string, error) {
		return "none", nil
	}}
	client := usermemory.NewClientWithProfileStore(newMemoryClient(t), store, profileLLM)

	result, err := client.Add(context.Background(), []map[string]interface{}{
		{"role": "user", "content": "What is the weather today?"},
	}, usermemory.WithUserID("user_001"), usermemory.WithInfer(false))
	require.NoError(t, err)

	assert.False(t, result.ProfileExtracted)
	assert.Nil(t, result.ProfileContent)

	saved, err := store.GetProfileByUserID(context.Background(), "user_001")
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestAddExcludesAssistantMessagesFromExtraction(t *testing.T) {
	store := newFakeProfileStore()
	profileLLM := &fakeLLM{respond: func(msgs []llm.Message) (string, error) {
		return "Bob plays the piano.", nil
	}}
	client := usermemory.NewClientWithProfileStore(newMemoryClient(t), store, profileLLM)

	_, err := client.Add(context.Background(), []map[string]interface{}{
		{"role": "user", "content": "I'm Bob and I play the piano."},
		{"role": "assistant", "content": "That is wonderful, Bob!"},
	}, usermemory.WithUserID("user_001"), usermemory.WithInfer(false))
	require.NoError(t, err)

	prompt := profileLLM.lastPrompt()
	require.NotEmpty(t, prompt)
	conversation := prompt[len(prompt)-1].Content
	assert.Contains(t, conversation, "play the piano")
	assert.NotContains(t, conversation, "wonderful")
}

func TestAddTopicsStrictMode(t *testing.T) {
	store := newFakeProfileStore()
	profileLLM := &fakeLLM{respond: func(msgs []llm.Message) (string, error) {
		return "```json\n{\"occupation\": \"engineer\", \"mood\": \"happy\"}\n```", nil
	}}
	client := usermemory.NewClientWithProfileStore(newMemoryClient(t), store, profileLLM)

	result, err := client.Add(context.Background(), []map[string]interface{}{
		{"role": "user", "content": "I'm an engineer and I feel happy."},
	},
		usermemory.WithUserID("user_001"),
		usermemory.WithInfer(false),
		usermemory.WithProfileType("topics"),
		usermemory.WithCustomTopics(`{"occupation": true}`),
		usermemory.WithStrictMode(true),
	)
	require.NoError(t, err)

	assert.True(t, result.ProfileExtracted)
	require.NotNil(t, result.Topics)
	assert.Equal(t, "engineer", result.Topics["occupation"])
	assert.NotContains(t, result.Topics, "mood", "strict mode drops topics outside the schema")
}

func TestAddTopicsRejectsInvalidCustomTopics(t *testing.T) {
	store := newFakeProfileStore()
	client := usermemory.NewClientWithProfileStore(newMemoryClient(t), store, &fakeLLM{})

	_, err := client.Add(context.Background(), []map[string]interface{}{
		{"role": "user", "content": "hello"},
	},
		usermemory.WithUserID("user_001"),
		usermemory.WithInfer(false),
		usermemory.WithProfileType("topics"),
		usermemory.WithCustomTopics(`not json`),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "custom topics")
}

func TestSearchIncludesProfileWhenRequested(t *testing.T) {
	store := newFakeProfileStore()
	content := "Carol is a data scientist."
	_, err := store.SaveProfile(context.Background(), "user_001", &content,
		map[string]interface{}{"occupation": "data scientist"})
	require.NoError(t, err)

	memory := newMemoryClient(t)
	client := usermemory.NewClientWithProfileStore(memory, store, &fakeLLM{})

	_, err = memory.Add(context.Background(), "Carol works with large datasets",
		core.WithUserID("user_001"), core.WithInfer(false))
	require.NoError(t, err)

	result, err := client.Search(context.Background(), "datasets",
		usermemory.WithSearchUserID("user_001"),
		usermemory.WithAddProfile(true),
	)
	require.NoError(t, err)
	require.NotEmpty(t, result.Memories)
	require.NotNil(t, result.ProfileContent)
	assert.Equal(t, content, *result.ProfileContent)
	assert.Equal(t, "data scientist", result.Topics["occupation"])
	assert.Empty(t, result.RewrittenQuery, "no rewriter configured")
}

func TestDeleteProfileByUserID(t *testing.T) {
	store := newFakeProfileStore()
	client := usermemory.NewClientWithProfileStore(newMemoryClient(t), store, &fakeLLM{})
	ctx := context.Background()

	// Missing profile is not an error.
	require.NoError(t, client.DeleteProfileByUserID(ctx, "nobody"))

	content := "Dave collects vinyl records."
	_, err := store.SaveProfile(ctx, "user_001", &content, nil)
	require.NoError(t, err)

	require.NoError(t, client.DeleteProfileByUserID(ctx, "user_001"))
	profile, err := client.GetProfile(ctx, "user_001")
	require.NoError(t, err)
	assert.Nil(t, profile)
}

func TestDeleteMemoryAlsoDeletesProfile(t *testing.T) {
	store := newFakeProfileStore()
	memory := newMemoryClient(t)
	client := usermemory.NewClientWithProfileStore(memory, store, &fakeLLM{})
	ctx := context.Background()

	content := "Eve speaks three languages."
	_, err := store.SaveProfile(ctx, "user_001", &content, nil)
	require.NoError(t, err)

	added, err := memory.Add(ctx, "Eve is trilingual", core.WithUserID("user_001"), core.WithInfer(false))
	require.NoError(t, err)
	id := added.Results[0].ID.Int64()

	require.NoError(t, client.Delete(ctx, id,
		usermemory.WithDeleteUserID("user_001"),
		usermemory.WithDeleteProfile(true),
	))

	profile, err := client.GetProfile(ctx, "user_001")
	require.NoError(t, err)
	assert.Nil(t, profile)

	_, err = client.Get(ctx, id)
	assert.ErrorIs(t, err, core.ErrNotFound)
}
