package core

import (
	"fmt"

	"github.com/ob-labs/powermem-go/pkg/embedder"
	embhashed "github.com/ob-labs/powermem-go/pkg/embedder/hashed"
	embopenai "github.com/ob-labs/powermem-go/pkg/embedder/openai"
	embqwen "github.com/ob-labs/powermem-go/pkg/embedder/qwen"
	"github.com/ob-labs/powermem-go/pkg/llm"
	llmanthropic "github.com/ob-labs/powermem-go/pkg/llm/anthropic"
	llmdeepseek "github.com/ob-labs/powermem-go/pkg/llm/deepseek"
	llmollama "github.com/ob-labs/powermem-go/pkg/llm/ollama"
	llmopenai "github.com/ob-labs/powermem-go/pkg/llm/openai"
	llmqwen "github.com/ob-labs/powermem-go/pkg/llm/qwen"
	"github.com/ob-labs/powermem-go/pkg/reranker"
	"github.com/ob-labs/powermem-go/pkg/reranker/dashscope"
	"github.com/ob-labs/powermem-go/pkg/storage"
	"github.com/ob-labs/powermem-go/pkg/storage/oceanbase"
	"github.com/ob-labs/powermem-go/pkg/storage/postgres"
	"github.com/ob-labs/powermem-go/pkg/storage/sqlite"
)

// builtinLLMRegistry returns a registry loaded with the bundled LLM
// providers. The facade owns the registry; callers wanting a custom
// provider use WithLLMProvider instead of mutating package state.
func builtinLLMRegistry() *llm.Registry {
	reg := llm.NewRegistry()
	reg.Register("openai", func(cfg llm.ClientConfig) (llm.Provider, error) {
		return llmopenai.NewClient(&llmopenai.Config{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
	})
	reg.Register("qwen", func(cfg llm.ClientConfig) (llm.Provider, error) {
		return llmqwen.NewClient(&llmqwen.Config{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
	})
	reg.Register("deepseek", func(cfg llm.ClientConfig) (llm.Provider, error) {
		return llmdeepseek.NewClient(&llmdeepseek.Config{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
	})
	reg.Register("ollama", func(cfg llm.ClientConfig) (llm.Provider, error) {
		return llmollama.NewClient(&llmollama.Config{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
	})
	reg.Register("anthropic", func(cfg llm.ClientConfig) (llm.Provider, error) {
		return llmanthropic.NewClient(&llmanthropic.Config{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL})
	})
	return reg
}

// builtinEmbedderRegistry returns a registry loaded with the bundled dense
// and sparse embedding providers.
func builtinEmbedderRegistry() *embedder.Registry {
	reg := embedder.NewRegistry()
	reg.Register("openai", func(cfg embedder.ClientConfig) (embedder.Provider, error) {
		return embopenai.NewClient(&embopenai.Config{
			APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, Dimensions: cfg.Dimensions,
		})
	})
	reg.Register("qwen", func(cfg embedder.ClientConfig) (embedder.Provider, error) {
		return embqwen.NewClient(&embqwen.Config{
			APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, Dimensions: cfg.Dimensions,
		})
	})
	// The hashed encoder reuses Dimensions as its bucket count.
	reg.RegisterSparse("hashed", func(cfg embedder.ClientConfig) (embedder.SparseProvider, error) {
		return embhashed.NewEncoder(&embhashed.Config{Buckets: cfg.Dimensions}), nil
	})
	return reg
}

// builtinRerankerRegistry returns a registry loaded with the bundled
// rerankers.
func builtinRerankerRegistry() *reranker.Registry {
	reg := reranker.NewRegistry()
	reg.Register("dashscope", func(cfg *reranker.ClientConfig) (reranker.Provider, error) {
		return dashscope.NewClient(cfg)
	})
	return reg
}

// builtinStorageRegistry returns a registry loaded with the bundled vector
// store backends. Factories read the flattened configuration map produced
// by storeConfigMap.
func builtinStorageRegistry() *storage.Registry {
	reg := storage.NewRegistry()
	reg.Register("sqlite", func(cfg map[string]interface{}) (storage.VectorStore, error) {
		return sqlite.NewClient(&sqlite.Config{
			DBPath:             mapString(cfg, "db_path"),
			CollectionName:     mapString(cfg, "collection_name"),
			EmbeddingModelDims: mapInt(cfg, "dims"),
			VectorWeight:       mapFloat(cfg, "vector_weight"),
		})
	})
	reg.Register("postgres", func(cfg map[string]interface{}) (storage.VectorStore, error) {
		return postgres.NewClient(&postgres.Config{
			Host:               mapString(cfg, "host"),
			Port:               mapInt(cfg, "port"),
			User:               mapString(cfg, "user"),
			Password:           mapString(cfg, "password"),
			DBName:             mapString(cfg, "db_name"),
			CollectionName:     mapString(cfg, "collection_name"),
			EmbeddingModelDims: mapInt(cfg, "dims"),
			SSLMode:            mapString(cfg, "ssl_mode"),
			VectorWeight:       mapFloat(cfg, "vector_weight"),
			FTSWeight:          mapFloat(cfg, "fts_weight"),
		})
	})
	reg.Register("oceanbase", func(cfg map[string]interface{}) (storage.VectorStore, error) {
		return oceanbase.NewClient(&oceanbase.Config{
			Host:               mapString(cfg, "host"),
			Port:               mapInt(cfg, "port"),
			User:               mapString(cfg, "user"),
			Password:           mapString(cfg, "password"),
			DBName:             mapString(cfg, "db_name"),
			CollectionName:     mapString(cfg, "collection_name"),
			EmbeddingModelDims: mapInt(cfg, "dims"),
			VectorWeight:       mapFloat(cfg, "vector_weight"),
			FTSWeight:          mapFloat(cfg, "fts_weight"),
			SparseWeight:       mapFloat(cfg, "sparse_weight"),
			SparseScanLimit:    mapInt(cfg, "sparse_scan_limit"),
		})
	})
	return reg
}

// storeConfigMap flattens a VectorStoreConfig into the map handed to
// storage factories: connection args plus collection binding and fusion
// weights.
func storeConfigMap(cfg *VectorStoreConfig) map[string]interface{} {
	out := make(map[string]interface{}, len(cfg.ConnectionArgs)+6)
	for k, v := range cfg.ConnectionArgs {
		out[k] = v
	}
	collection := cfg.CollectionName
	if collection == "" {
		collection = "memories"
	}
	out["collection_name"] = collection
	out["dims"] = cfg.Dims
	out["vector_weight"] = cfg.VectorWeight
	out["fts_weight"] = cfg.FTSWeight
	out["sparse_weight"] = cfg.SparseWeight
	return out
}

// NewLLMProvider constructs an LLM provider from configuration using the
// built-in registry. Exposed for packages layering on core (user memory)
// that need their own provider handle.
func NewLLMProvider(cfg LLMConfig) (llm.Provider, error) {
	provider, err := builtinLLMRegistry().New(cfg.Provider, llm.ClientConfig{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		BaseURL: cfg.BaseURL,
	})
	if err != nil {
		return nil, NewMemoryError("NewLLMProvider", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	return provider, nil
}

// NewEmbedderProvider constructs a dense embedding provider from
// configuration using the built-in registry.
func NewEmbedderProvider(cfg EmbedderConfig) (embedder.Provider, error) {
	provider, err := builtinEmbedderRegistry().New(cfg.Provider, embedder.ClientConfig{
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		BaseURL:    cfg.BaseURL,
		Dimensions: cfg.Dimensions,
	})
	if err != nil {
		return nil, NewMemoryError("NewEmbedderProvider", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	return provider, nil
}

func mapString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func mapInt(m map[string]interface{}, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func mapFloat(m map[string]interface{}, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
