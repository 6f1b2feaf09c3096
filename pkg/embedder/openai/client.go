package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/ob-labs/powermem-go/pkg/embedder"
	"github.com/ob-labs/powermem-go/pkg/retry"
	"github.com/ob-labs/powermem-go/pkg/telemetry"
	openai "github.com/sashabaranov/go-openai"
)

// Client is an OpenAI Embedder client.
// It implements the embedder.Provider interface and provides text vectorization functionality based on the OpenAI Embeddings API.
type Client struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// Config is the configuration for OpenAI Embedder.
// APIKey: OpenAI API key (required)
// Model: Model name to use, defaults to AdaEmbeddingV2
// BaseURL: API base URL, defaults to OpenAI official address
// Dimensions: Vector dimensions, defaults to 1536 (default dimension for AdaEmbeddingV2)
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	Dimensions int
}

// NewClient creates a new OpenAI Embedder client.
//
// Args:
//   - cfg: OpenAI Embedder configuration containing APIKey, Model, BaseURL, Dimensions, etc.
//
// Returns:
//   - *Client: OpenAI Embedder client instance
//   - error: Returns an error if the configuration is invalid or initialization fails
func NewClient(cfg *Config) (*Client, error) {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := openai.AdaEmbeddingV2
	if cfg.Model != "" {
		model = openai.EmbeddingModel(cfg.Model)
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 1536 // Default dimension for AdaEmbeddingV2
	}

	return &Client{
		client:     openai.NewClientWithConfig(config),
		model:      model,
		dimensions: dimensions,
	}, nil
}

// Embed converts a single text to a vector.
//
// Args:
//   - ctx: Context for controlling the request lifecycle
//   - text: Text content to vectorize
//   - action: Intended use; OpenAI embeddings are symmetric, so it is ignored
//
// Returns:
//   - []float64: Vector representation of the text (dimension determined by configuration)
//   - error: Returns an error if vectorization fails
func (c *Client) Embed(ctx context.Context, text string, action embedder.Action) ([]float64, error) {
	embeddings, err := c.EmbedBatch(ctx, []string{text}, action)
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch converts multiple texts to vectors in batch.
//
// Args:
//   - ctx: Context for controlling the request lifecycle
//   - texts: List of texts to vectorize
//   - action: Intended use; ignored for symmetric OpenAI models
//
// Returns:
//   - [][]float64: Vector representation for each text (order matches input texts)
//   - error: Returns an error if vectorization fails or the number of returned results doesn't match
func (c *Client) EmbedBatch(ctx context.Context, texts []string, _ embedder.Action) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	req := openai.EmbeddingRequest{
		Input: texts,
		Model: c.model,
	}
	// Ada v2 has a fixed width; newer models accept a dimensions override.
	if c.model != openai.AdaEmbeddingV2 && c.dimensions > 0 {
		req.Dimensions = c.dimensions
	}

	var resp openai.EmbeddingResponse
	err := retry.Do(ctx, "openai.embed", func() error {
		var callErr error
		resp, callErr = c.client.CreateEmbeddings(ctx, req)
		if callErr != nil {
			var apiErr *openai.APIError
			if errors.As(callErr, &apiErr) && !retry.IsRetryableStatus(apiErr.HTTPStatusCode) {
				return retry.Permanent(callErr)
			}
			return callErr
		}
		return nil
	})
	if err != nil {
		telemetry.Default().RecordEmbedderRequest("openai", "error", len(texts))
		return nil, err
	}
	telemetry.Default().RecordEmbedderRequest("openai", "success", len(texts))

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding generation failed: unexpected number of results from OpenAI API (got %d, expected %d)", len(resp.Data), len(texts))
	}

	embeddings := make([][]float64, len(texts))
	for i, data := range resp.Data {
		// Convert float32 to float64
		embedding32 := data.Embedding
		embedding64 := make([]float64, len(embedding32))
		for j, v := range embedding32 {
			embedding64[j] = float64(v)
		}
		embeddings[i] = embedding64
	}

	return embeddings, nil
}

// Dimensions returns the vector dimensions.
//
// Returns:
//   - int: Number of vector dimensions
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close closes the client connection.
// The OpenAI SDK client does not require explicit closing; this method is retained for interface compatibility.
//
// Returns:
//   - error: Always returns nil
func (c *Client) Close() error {
	return nil
}
