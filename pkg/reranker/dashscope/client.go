// Package dashscope provides a reranker backed by DashScope's text-rerank
// service (gte-rerank).
package dashscope

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ob-labs/powermem-go/pkg/memerr"
	"github.com/ob-labs/powermem-go/pkg/reranker"
	"github.com/ob-labs/powermem-go/pkg/retry"
	"github.com/ob-labs/powermem-go/pkg/telemetry"
)

const (
	defaultModel   = "gte-rerank"
	defaultBaseURL = "https://dashscope.aliyuncs.com"
	rerankPath     = "/api/v1/services/rerank/text-rerank/text-rerank"
)

// Client implements the reranker.Provider interface for DashScope.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

type rerankRequest struct {
	Model      string           `json:"model"`
	Input      rerankInput      `json:"input"`
	Parameters rerankParameters `json:"parameters"`
}

type rerankInput struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankParameters struct {
	TopN            int  `json:"top_n"`
	ReturnDocuments bool `json:"return_documents"`
}

type rerankResponse struct {
	Output struct {
		Results []struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
		} `json:"results"`
	} `json:"output"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// NewClient creates a new DashScope rerank client.
//
// Args:
//   - cfg: Client configuration with API key, optional model and base URL
//
// Returns:
//   - *Client: A configured client
//   - error: Error if the API key is missing
func NewClient(cfg *reranker.ClientConfig) (*Client, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, memerr.Newf("reranker.dashscope", "API key is required: %w", memerr.ErrInvalidConfig)
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:     cfg.APIKey,
		model:      model,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Rerank scores documents against the query using the text-rerank API.
//
// Args:
//   - ctx: Context for the request
//   - query: The search query
//   - documents: Candidate texts to score
//   - topN: Maximum number of results (<= 0 means all)
//
// Returns:
//   - []reranker.Result: Scored documents, best first
//   - error: Error if the request fails
func (c *Client) Rerank(ctx context.Context, query string, documents []string, topN int) ([]reranker.Result, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	if topN <= 0 || topN > len(documents) {
		topN = len(documents)
	}

	payload, err := json.Marshal(rerankRequest{
		Model: c.model,
		Input: rerankInput{Query: query, Documents: documents},
		Parameters: rerankParameters{
			TopN:            topN,
			ReturnDocuments: false,
		},
	})
	if err != nil {
		return nil, memerr.Newf("reranker.dashscope", "failed to marshal request: %w", err)
	}

	var parsed rerankResponse
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+rerankPath, bytes.NewBuffer(payload))
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
			if retry.IsRetryableStatus(resp.StatusCode) {
				return err
			}
			return retry.Permanent(err)
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return retry.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
		if parsed.Code != "" {
			return retry.Permanent(fmt.Errorf("API error %s: %s", parsed.Code, parsed.Message))
		}
		return nil
	}
	if err := retry.Do(ctx, "dashscope.rerank", op); err != nil {
		telemetry.Default().RecordLLMRequest("dashscope", "rerank", "error")
		return nil, memerr.Newf("reranker.dashscope", "%w: %v", memerr.ErrLLMUnavailable, err)
	}
	telemetry.Default().RecordLLMRequest("dashscope", "rerank", "ok")

	results := make([]reranker.Result, 0, len(parsed.Output.Results))
	for _, r := range parsed.Output.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			continue
		}
		results = append(results, reranker.Result{Index: r.Index, Score: r.RelevanceScore})
	}
	return results, nil
}

// Close releases resources held by the client.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
