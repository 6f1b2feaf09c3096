package dashscope_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ob-labs/powermem-go/pkg/reranker"
	"github.com/ob-labs/powermem-go/pkg/reranker/dashscope"
)

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := dashscope.NewClient(&reranker.ClientConfig{})
	assert.Error(t, err, "missing API key should be rejected")

	_, err = dashscope.NewClient(nil)
	assert.Error(t, err)
}

func TestRerankParsesResults(t *testing.T) {
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/services/rerank/text-rerank/text-rerank", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"output": map[string]interface{}{
				"results": []map[string]interface{}{
					{"index": 2, "relevance_score": 0.92},
					{"index": 0, "relevance_score": 0.41},
				},
			},
			"request_id": "req-1",
		})
	}))
	defer server.Close()

	client, err := dashscope.NewClient(&reranker.ClientConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
	})
	require.NoError(t, err)

	docs := []string{"likes tea", "plays chess", "drinks espresso daily"}
	results, err := client.Rerank(context.Background(), "coffee habits", docs, 2)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, 2, results[0].Index, "best match should come first")
	assert.InDelta(t, 0.92, results[0].Score, 1e-9)
	assert.Equal(t, 0, results[1].Index)

	input := gotBody["input"].(map[string]interface{})
	assert.Equal(t, "coffee habits", input["query"])
	params := gotBody["parameters"].(map[string]interface{})
	assert.Equal(t, float64(2), params["top_n"])
	assert.Equal(t, false, params["return_documents"])
}

func TestRerankEmptyDocuments(t *testing.T) {
	client, err := dashscope.NewClient(&reranker.ClientConfig{APIKey: "test-key"})
	require.NoError(t, err)

	results, err := client.Rerank(context.Background(), "anything", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, results, "no documents means no API call and no results")
}

func TestRerankAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"code":       "InvalidParameter",
			"message":    "documents too long",
			"request_id": "req-2",
		})
	}))
	defer server.Close()

	client, err := dashscope.NewClient(&reranker.ClientConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
	})
	require.NoError(t, err)

	_, err = client.Rerank(context.Background(), "q", []string{"doc"}, 1)
	require.Error(t, err)
	assert.ErrorContains(t, err, "InvalidParameter")
}

func TestRerankDropsOutOfRangeIndexes(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"output": map[string]interface{}{
				"results": []map[string]interface{}{
					{"index": 7, "relevance_score": 0.9},
					{"index": 0, "relevance_score": 0.5},
				},
			},
		})
	}))
	defer server.Close()

	client, err := dashscope.NewClient(&reranker.ClientConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
	})
	require.NoError(t, err)

	results, err := client.Rerank(context.Background(), "q", []string{"only doc"}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1, "indexes outside the document range should be dropped")
	assert.Equal(t, 0, results[0].Index)
}
