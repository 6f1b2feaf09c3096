// Package core provides the main PowerMem client and memory management functionality.
package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config contains the complete configuration for a PowerMem client.
//
// It includes settings for:
//   - LLM provider (fact extraction and conflict decisions)
//   - Embedding provider (dense vectors), optional sparse embedder
//   - Optional reranker (final result reorder)
//   - Vector store binding plus optional routed sub-stores
//   - Intelligent memory management (retention, dedup)
//   - Multi-agent defaults and access control
//
// Example:
//
//	config := &core.Config{
//	    LLM: core.LLMConfig{
//	        Provider: "openai",
//	        APIKey:   "sk-...",
//	        Model:    "gpt-4",
//	    },
//	    Embedder: core.EmbedderConfig{
//	        Provider:   "openai",
//	        APIKey:     "sk-...",
//	        Model:      "text-embedding-3-small",
//	        Dimensions: 1536,
//	    },
//	    VectorStore: core.VectorStoreConfig{
//	        Provider: "sqlite",
//	        ConnectionArgs: map[string]interface{}{
//	            "db_path": "./memories.db",
//	        },
//	    },
//	}
type Config struct {
	// LLM contains LLM provider configuration.
	LLM LLMConfig `json:"llm" yaml:"llm"`

	// Embedder contains dense embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder" yaml:"embedder"`

	// SparseEmbedder enables the sparse retrieval channel (optional).
	SparseEmbedder *SparseEmbedderConfig `json:"sparse_embedder,omitempty" yaml:"sparse_embedder,omitempty"`

	// Reranker configures an optional final reorder of search results.
	Reranker *RerankerConfig `json:"reranker,omitempty" yaml:"reranker,omitempty"`

	// VectorStore contains the main vector store binding.
	VectorStore VectorStoreConfig `json:"vector_store" yaml:"vector_store"`

	// SubStores lists routed partitions in priority order (optional).
	SubStores []*SubStoreConfig `json:"sub_stores,omitempty" yaml:"sub_stores,omitempty"`

	// SubStoreStatusPath is the SQLite file persisting sub-store lifecycle
	// state across restarts. Empty keeps status in memory only.
	SubStoreStatusPath string `json:"sub_store_status_path,omitempty" yaml:"sub_store_status_path,omitempty"`

	// Intelligence contains retention and dedup configuration (optional).
	Intelligence *IntelligenceConfig `json:"intelligent,omitempty" yaml:"intelligent,omitempty"`

	// AgentMemory contains multi-agent memory configuration (optional).
	AgentMemory *AgentMemoryConfig `json:"agent_memory,omitempty" yaml:"agent_memory,omitempty"`

	// CustomFactExtractionPrompt overrides the fact-extraction system
	// prompt (optional).
	CustomFactExtractionPrompt string `json:"custom_fact_extraction_prompt,omitempty" yaml:"custom_fact_extraction_prompt,omitempty"`

	// CustomUpdateMemoryPrompt overrides the conflict-decision system
	// prompt (optional).
	CustomUpdateMemoryPrompt string `json:"custom_update_memory_prompt,omitempty" yaml:"custom_update_memory_prompt,omitempty"`
}

// LLMConfig contains configuration for the LLM provider.
//
// Supported providers: openai, qwen, anthropic, deepseek, ollama
type LLMConfig struct {
	// Provider is the LLM provider name (openai, qwen, anthropic, deepseek, ollama).
	Provider string `json:"provider" yaml:"provider"`

	// APIKey is the API key for the LLM provider.
	APIKey string `json:"api_key" yaml:"api_key"`

	// Model is the model name to use (e.g., "gpt-4", "qwen-plus").
	Model string `json:"model" yaml:"model"`

	// BaseURL is the base URL for the API (optional, uses provider default if empty).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Temperature applies to every generation call when > 0.
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`

	// Parameters contains additional provider-specific parameters (optional).
	Parameters map[string]interface{} `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// EmbedderConfig contains configuration for the dense embedding provider.
//
// Supported providers: openai, qwen
type EmbedderConfig struct {
	// Provider is the embedding provider name (openai, qwen).
	Provider string `json:"provider" yaml:"provider"`

	// APIKey is the API key for the embedding provider.
	APIKey string `json:"api_key" yaml:"api_key"`

	// Model is the embedding model name (e.g., "text-embedding-3-small", "text-embedding-v4").
	Model string `json:"model" yaml:"model"`

	// BaseURL is the base URL for the API (optional, uses provider default if empty).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Dimensions is the dense vector width. Must match the store's dims.
	Dimensions int `json:"dims,omitempty" yaml:"dims,omitempty"`
}

// SparseEmbedderConfig configures the sparse embedding channel.
//
// Supported providers: hashed (built-in, token hashing)
type SparseEmbedderConfig struct {
	// Provider is the sparse embedder name.
	Provider string `json:"provider" yaml:"provider"`

	// Model is the provider-specific model name (unused by "hashed").
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// Buckets sizes the hash space for the "hashed" provider.
	// Zero selects the provider default.
	Buckets int `json:"buckets,omitempty" yaml:"buckets,omitempty"`
}

// RerankerConfig configures an optional reranking pass over fused search
// results.
//
// Supported providers: dashscope
type RerankerConfig struct {
	// Enabled turns reranking on.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Provider is the reranker provider name.
	Provider string `json:"provider" yaml:"provider"`

	// Model is the rerank model name (e.g., "gte-rerank").
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// APIKey is the API key for the reranker provider.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// BaseURL is the base URL for the API (optional).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

// VectorStoreConfig contains configuration for one vector store binding.
//
// Supported providers: oceanbase, postgres, sqlite
type VectorStoreConfig struct {
	// Provider is the vector store provider name (oceanbase, postgres, sqlite).
	Provider string `json:"provider" yaml:"provider"`

	// CollectionName is the table the store binds to (default "memories").
	CollectionName string `json:"collection_name,omitempty" yaml:"collection_name,omitempty"`

	// Dims is the dense embedding width of the collection.
	Dims int `json:"dims,omitempty" yaml:"dims,omitempty"`

	// IncludeSparse stores and scores sparse embeddings on backends that
	// support them.
	IncludeSparse bool `json:"include_sparse,omitempty" yaml:"include_sparse,omitempty"`

	// IndexType selects the vector index DDL ("HNSW", "IVF_FLAT", "IVF_PQ").
	IndexType string `json:"index_type,omitempty" yaml:"index_type,omitempty"`

	// VectorWeight, FTSWeight and SparseWeight tune per-store rank fusion.
	// Zero selects backend defaults (1.0 / 0.6 / 0.4).
	VectorWeight float64 `json:"vector_weight,omitempty" yaml:"vector_weight,omitempty"`
	FTSWeight    float64 `json:"fts_weight,omitempty" yaml:"fts_weight,omitempty"`
	SparseWeight float64 `json:"sparse_weight,omitempty" yaml:"sparse_weight,omitempty"`

	// WorkerID seeds the snowflake id allocator (0-1023).
	WorkerID int64 `json:"worker_id,omitempty" yaml:"worker_id,omitempty"`

	// ConnectionArgs contains provider-specific connection settings.
	// For SQLite: db_path
	// For OceanBase: host, port, user, password, db_name
	// For PostgreSQL: host, port, user, password, db_name, ssl_mode
	ConnectionArgs map[string]interface{} `json:"connection_args,omitempty" yaml:"connection_args,omitempty"`
}

// SubStoreConfig describes one routed partition.
//
// Records matching RoutingFilter are written to this store instead of the
// main store once the sub-store has been activated by a migration.
type SubStoreConfig struct {
	// Name identifies the sub-store in status persistence and telemetry.
	// Defaults to CollectionName.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// RoutingFilter selects the records that belong to this sub-store,
	// in the same form accepted by search filters.
	RoutingFilter map[string]interface{} `json:"routing_filter" yaml:"routing_filter"`

	// CollectionName is the sub-store's table name.
	CollectionName string `json:"collection_name,omitempty" yaml:"collection_name,omitempty"`

	// Dims overrides the embedding width for this partition. Zero means
	// same as main.
	Dims int `json:"dims,omitempty" yaml:"dims,omitempty"`

	// Embedder configures a dedicated embedder when Dims differs from the
	// main store's width.
	Embedder *EmbedderConfig `json:"embedding,omitempty" yaml:"embedding,omitempty"`

	// VectorStore overrides the backing store. Nil reuses the main
	// provider with this sub-store's collection name.
	VectorStore *VectorStoreConfig `json:"vector_store,omitempty" yaml:"vector_store,omitempty"`
}

// IntelligenceConfig contains configuration for intelligent memory
// management: fact extraction caps, deduplication, and the Ebbinghaus
// retention model. Zero-valued fields select package defaults.
type IntelligenceConfig struct {
	// Enabled indicates whether intelligent memory management is enabled.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// DecayRate is the base decay rate of the forgetting curve.
	DecayRate float64 `json:"decay_rate,omitempty" yaml:"decay_rate,omitempty"`

	// ReinforcementFactor determines how much memories are strengthened
	// on access (default 0.4).
	ReinforcementFactor float64 `json:"reinforcement_factor,omitempty" yaml:"reinforcement_factor,omitempty"`

	// DedupThreshold is the cosine similarity above which a new fact is
	// treated as a duplicate (default 0.95).
	DedupThreshold float64 `json:"dedup_threshold,omitempty" yaml:"dedup_threshold,omitempty"`

	// LongTermThreshold and ShortTermThreshold classify retention into
	// memory types (defaults 0.8 and 0.6).
	LongTermThreshold  float64 `json:"long_term_threshold,omitempty" yaml:"long_term_threshold,omitempty"`
	ShortTermThreshold float64 `json:"short_term_threshold,omitempty" yaml:"short_term_threshold,omitempty"`

	// ForgetThreshold flags memories for forgetting (default 0.2).
	ForgetThreshold float64 `json:"forget_threshold,omitempty" yaml:"forget_threshold,omitempty"`

	// InitialRetention anchors the retention of new memories (default 0.5).
	InitialRetention float64 `json:"initial_retention,omitempty" yaml:"initial_retention,omitempty"`

	// MaxFacts caps how many facts one extraction may yield (default 32).
	MaxFacts int `json:"max_facts,omitempty" yaml:"max_facts,omitempty"`

	// FallbackToSimpleAdd stores the raw content as a single memory when
	// fact extraction yields nothing.
	FallbackToSimpleAdd bool `json:"fallback_to_simple_add,omitempty" yaml:"fallback_to_simple_add,omitempty"`
}

// AgentMemoryConfig contains configuration for multi-agent memory
// management.
type AgentMemoryConfig struct {
	// AgentID is applied as an implicit filter on every operation unless
	// the caller overrides it.
	AgentID string `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`

	// DefaultScope is the default visibility scope for new memories.
	DefaultScope MemoryScope `json:"default_scope,omitempty" yaml:"default_scope,omitempty"`

	// AllowCrossAgentAccess permits reads and mutations of memories owned
	// by other agents. When false, a mismatched agent_id yields
	// ErrForbidden.
	AllowCrossAgentAccess bool `json:"allow_cross_agent_access,omitempty" yaml:"allow_cross_agent_access,omitempty"`
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - DATABASE_PROVIDER (sqlite, oceanbase, postgres)
//   - OCEANBASE_HOST, OCEANBASE_PORT, OCEANBASE_USER, OCEANBASE_PASSWORD, etc.
//   - SQLITE_PATH, SQLITE_COLLECTION, etc.
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, etc.
//   - LLM_PROVIDER, LLM_API_KEY, LLM_MODEL, LLM_BASE_URL
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL, EMBEDDING_DIMS
//   - INTELLIGENCE_ENABLED (to enable intelligent memory)
//
// Sub-stores, sparse embedding and reranking have no env surface; use the
// JSON or YAML loaders for those.
//
// Returns a Config instance, or an error if loading fails.
func LoadConfigFromEnv() (*Config, error) {
	// Use FindEnvFile to locate .env file (supports upward search)
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		// Fall back to godotenv's default current-directory behavior
		_ = godotenv.Load()
	}

	provider := getEnvOrDefault("DATABASE_PROVIDER", "sqlite")

	// Build different connection settings based on provider
	connectionArgs := make(map[string]interface{})
	collection := "memories"
	dims := 1536

	switch provider {
	case "oceanbase":
		port, _ := strconv.Atoi(getEnvOrDefault("OCEANBASE_PORT", "2881"))
		dims, _ = strconv.Atoi(getEnvOrDefault("OCEANBASE_EMBEDDING_MODEL_DIMS", "1536"))
		collection = getEnvOrDefault("OCEANBASE_COLLECTION", "memories")

		connectionArgs = map[string]interface{}{
			"host":     getEnvOrDefault("OCEANBASE_HOST", "127.0.0.1"),
			"port":     port,
			"user":     getEnvOrDefault("OCEANBASE_USER", "root@sys"),
			"password": os.Getenv("OCEANBASE_PASSWORD"),
			"db_name":  getEnvOrDefault("OCEANBASE_DATABASE", "powermem"),
		}
	case "sqlite":
		dims, _ = strconv.Atoi(getEnvOrDefault("SQLITE_EMBEDDING_MODEL_DIMS", "1536"))
		collection = getEnvOrDefault("SQLITE_COLLECTION", "memories")

		connectionArgs = map[string]interface{}{
			"db_path": getEnvOrDefault("SQLITE_PATH", "./powermem.db"),
		}
	case "postgres":
		port, _ := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
		dims, _ = strconv.Atoi(getEnvOrDefault("POSTGRES_EMBEDDING_MODEL_DIMS", "1536"))
		collection = getEnvOrDefault("POSTGRES_COLLECTION", "memories")

		connectionArgs = map[string]interface{}{
			"host":     getEnvOrDefault("POSTGRES_HOST", "localhost"),
			"port":     port,
			"user":     getEnvOrDefault("POSTGRES_USER", "postgres"),
			"password": os.Getenv("POSTGRES_PASSWORD"),
			"db_name":  getEnvOrDefault("POSTGRES_DATABASE", "powermem"),
			"ssl_mode": getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	}

	// Get LLM provider to determine which base URL environment variable
	// and default model to use
	llmProvider := getEnvOrDefault("LLM_PROVIDER", "openai")
	var llmBaseURL string
	var defaultModel string

	switch llmProvider {
	case "deepseek":
		llmBaseURL = os.Getenv("DEEPSEEK_LLM_BASE_URL")
		if llmBaseURL == "" {
			llmBaseURL = "https://api.deepseek.com"
		}
		defaultModel = "deepseek-chat"
	case "qwen":
		defaultModel = "qwen-plus"
	case "ollama":
		llmBaseURL = os.Getenv("OLLAMA_LLM_BASE_URL")
		if llmBaseURL == "" {
			llmBaseURL = "http://localhost:11434"
		}
		defaultModel = "llama3.1:70b"
	case "anthropic":
		llmBaseURL = os.Getenv("ANTHROPIC_LLM_BASE_URL")
		if llmBaseURL == "" {
			llmBaseURL = "https://api.anthropic.com"
		}
		defaultModel = "claude-3-5-sonnet-20240620"
	default:
		llmBaseURL = os.Getenv("LLM_BASE_URL")
		defaultModel = "gpt-4"
	}

	embedderProvider := getEnvOrDefault("EMBEDDING_PROVIDER", "qwen")
	embedderAPIKey := os.Getenv("EMBEDDING_API_KEY")
	embedderModel := os.Getenv("EMBEDDING_MODEL")

	// Set default base URL based on provider
	var embedderFinalBaseURL string
	switch embedderProvider {
	case "qwen":
		embedderFinalBaseURL = os.Getenv("QWEN_EMBEDDING_BASE_URL")
		if embedderFinalBaseURL == "" {
			embedderFinalBaseURL = "https://dashscope.aliyuncs.com/api/v1"
		}
		if embedderModel == "" {
			embedderModel = "text-embedding-v4"
		}
	case "openai":
		embedderFinalBaseURL = os.Getenv("OPENAI_EMBEDDING_BASE_URL")
		if embedderFinalBaseURL == "" {
			embedderFinalBaseURL = "https://api.openai.com/v1"
		}
		if embedderModel == "" {
			embedderModel = "text-embedding-3-small"
		}
	default:
		embedderFinalBaseURL = os.Getenv("EMBEDDING_BASE_URL")
		if embedderModel == "" {
			embedderModel = "text-embedding-3-small"
		}
	}

	embedderDims, _ := strconv.Atoi(getEnvOrDefault("EMBEDDING_DIMS", strconv.Itoa(dims)))

	config := &Config{
		LLM: LLMConfig{
			Provider: llmProvider,
			APIKey:   os.Getenv("LLM_API_KEY"),
			Model:    getEnvOrDefault("LLM_MODEL", defaultModel),
			BaseURL:  llmBaseURL,
		},
		Embedder: EmbedderConfig{
			Provider:   embedderProvider,
			APIKey:     embedderAPIKey,
			Model:      embedderModel,
			BaseURL:    embedderFinalBaseURL,
			Dimensions: embedderDims,
		},
		VectorStore: VectorStoreConfig{
			Provider:       provider,
			CollectionName: collection,
			Dims:           dims,
			ConnectionArgs: connectionArgs,
		},
	}

	// Intelligent memory configuration (optional); zero-valued tuning
	// fields select the retention engine defaults.
	if os.Getenv("INTELLIGENCE_ENABLED") == "true" {
		config.Intelligence = &IntelligenceConfig{
			Enabled: true,
		}
	}

	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
//
// Parameters:
//   - envPath: Path to the .env file
//
// Returns a Config instance, or an error if loading fails.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file.
//
// Parameters:
//   - path: Path to the JSON configuration file
//
// Returns a Config instance, or an error if loading or parsing fails.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, NewMemoryError("LoadConfigFromJSON", err)
	}

	return &config, nil
}

// LoadConfigFromYAML loads configuration from a YAML file.
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns a Config instance, or an error if loading or parsing fails.
func LoadConfigFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewMemoryError("LoadConfigFromYAML", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, NewMemoryError("LoadConfigFromYAML", err)
	}

	return &config, nil
}

// Validate validates the configuration.
//
// Checks that all required fields are set:
//   - LLM, embedder and vector store providers must be specified
//   - Embedder and store dimensions must agree when both are declared
//   - Every sub-store needs a routing filter and a resolvable name
//   - The snowflake worker id must fit in 10 bits
//
// Returns an error if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if c.LLM.Provider == "" {
		return NewMemoryError("Validate", fmt.Errorf("%w: llm provider is required", ErrInvalidConfig))
	}
	if c.Embedder.Provider == "" {
		return NewMemoryError("Validate", fmt.Errorf("%w: embedder provider is required", ErrInvalidConfig))
	}
	if c.VectorStore.Provider == "" {
		return NewMemoryError("Validate", fmt.Errorf("%w: vector store provider is required", ErrInvalidConfig))
	}
	if c.Embedder.Dimensions > 0 && c.VectorStore.Dims > 0 && c.Embedder.Dimensions != c.VectorStore.Dims {
		return NewMemoryError("Validate", fmt.Errorf("%w: embedder dims %d do not match store dims %d",
			ErrInvalidConfig, c.Embedder.Dimensions, c.VectorStore.Dims))
	}
	if c.VectorStore.WorkerID < 0 || c.VectorStore.WorkerID > 1023 {
		return NewMemoryError("Validate", fmt.Errorf("%w: worker_id %d outside 0-1023",
			ErrInvalidConfig, c.VectorStore.WorkerID))
	}
	for i, sub := range c.SubStores {
		if sub == nil || len(sub.RoutingFilter) == 0 {
			return NewMemoryError("Validate", fmt.Errorf("%w: sub_stores[%d] needs a routing_filter",
				ErrInvalidConfig, i))
		}
		if sub.ResolvedName() == "" {
			return NewMemoryError("Validate", fmt.Errorf("%w: sub_stores[%d] needs a name or collection_name",
				ErrInvalidConfig, i))
		}
	}
	return nil
}

// ResolvedName returns the sub-store's name, falling back to its
// collection name.
func (s *SubStoreConfig) ResolvedName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.CollectionName
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
//
// Returns:
//   - path: Path to the found file (empty if not found)
//   - found: True if a file was found, false otherwise
func FindEnvFile() (string, bool) {
	// First check the current directory
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	// Check project root directory (search upward)
	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
