package intelligence

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/ob-labs/powermem-go/pkg/llm"
)

// ImportanceEvaluator scores how important a piece of memory content is.
//
// It supports two evaluation modes:
//   - LLM-based: asks the model for a score (more accurate, requires LLM)
//   - Rule-based: keyword matching and heuristics (fast, no LLM required)
//
// An LLM failure silently falls back to the rule-based path, so importance
// evaluation never blocks ingestion.
//
// Example usage:
//
//	evaluator := NewImportanceEvaluator(llmProvider)
//	score := evaluator.EvaluateImportance(ctx, "User's birthday is March 15th", nil, nil)
type ImportanceEvaluator struct {
	// llm is the LLM provider for model-based evaluation. Nil selects the
	// rule-based path.
	llm llm.Provider

	// useLLM indicates whether to try model-based evaluation first.
	useLLM bool
}

// NewImportanceEvaluator creates an importance evaluator. Pass nil to use
// rule-based evaluation only.
func NewImportanceEvaluator(llm llm.Provider) *ImportanceEvaluator {
	return &ImportanceEvaluator{
		llm:    llm,
		useLLM: llm != nil,
	}
}

// EvaluateImportance scores content between 0.0 and 1.0:
//   - 1.0 = extremely important
//   - 0.5 = moderately important
//   - 0.0 = not important
//
// Parameters:
//   - ctx: Context for cancellation
//   - content: Content to evaluate
//   - metadata: Additional metadata, may carry "priority" and "tags"
//   - hints: Evaluation hints, may carry "user_engagement"
func (e *ImportanceEvaluator) EvaluateImportance(
	ctx context.Context,
	content string,
	metadata map[string]interface{},
	hints map[string]interface{},
) float64 {
	if e.useLLM && e.llm != nil {
		score, err := e.evaluateWithLLM(ctx, content)
		if err == nil {
			return score
		}
	}
	return e.evaluateWithRules(content, metadata, hints)
}

// evaluateWithLLM asks the model for an importance score.
func (e *ImportanceEvaluator) evaluateWithLLM(ctx context.Context, content string) (float64, error) {
	systemPrompt := `You are an importance evaluator for memory content.
Evaluate the importance of the given content on a scale from 0.0 to 1.0.
Consider factors like relevance, novelty, emotional impact, actionability, and personal significance.
Return a JSON object with an "importance_score" field.`

	userPrompt := fmt.Sprintf("Content: %s\n\nEvaluate the importance and return JSON: {\"importance_score\": 0.0-1.0}", content)

	messages := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}
	response, err := e.llm.GenerateWithMessages(ctx, messages, llm.WithJSONResponse())
	if err != nil {
		return 0.5, err
	}
	return e.parseImportanceResponse(response), nil
}

// evaluateWithRules scores content with keyword and metadata heuristics.
func (e *ImportanceEvaluator) evaluateWithRules(
	content string,
	metadata map[string]interface{},
	hints map[string]interface{},
) float64 {
	score := 0.0
	contentLower := strings.ToLower(content)

	// Length factor
	if len(content) > 100 {
		score += 0.1
	} else if len(content) > 50 {
		score += 0.05
	}

	// Keyword importance
	importantKeywords := []string{
		"important", "critical", "urgent", "remember", "note",
		"preference", "like", "dislike", "hate", "love",
		"password", "secret", "private", "confidential",
	}
	for _, keyword := range importantKeywords {
		if strings.Contains(contentLower, keyword) {
			score += 0.1
		}
	}

	// Question factor
	if strings.Contains(content, "?") {
		score += 0.05
	}

	// Exclamation factor
	if strings.Contains(content, "!") {
		score += 0.05
	}

	// Metadata factors
	if metadata != nil {
		if priority, ok := metadata["priority"].(string); ok {
			switch priority {
			case "high":
				score += 0.2
			case "medium":
				score += 0.1
			}
		}

		if tags, ok := metadata["tags"].([]interface{}); ok && len(tags) > 0 {
			score += 0.05
		}
	}

	// Engagement factors
	if hints != nil {
		if engagement, ok := hints["user_engagement"].(string); ok {
			switch engagement {
			case "high":
				score += 0.1
			case "medium":
				score += 0.05
			}
		}
	}

	return math.Min(score, 1.0)
}

// parseImportanceResponse extracts the importance score from a model
// response, falling back to the first number in the text and finally to
// medium importance.
func (e *ImportanceEvaluator) parseImportanceResponse(response string) float64 {
	if strings.Contains(response, "{") && strings.Contains(response, "}") {
		start := strings.Index(response, "{")
		end := strings.LastIndex(response, "}") + 1
		if start >= 0 && end > start {
			var result map[string]interface{}
			if err := json.Unmarshal([]byte(response[start:end]), &result); err == nil {
				if score, ok := result["importance_score"].(float64); ok {
					return clamp01(score)
				}
			}
		}
	}

	re := regexp.MustCompile(`\d+\.?\d*`)
	matches := re.FindAllString(response, -1)
	if len(matches) > 0 {
		var score float64
		if _, err := fmt.Sscanf(matches[0], "%f", &score); err == nil {
			return clamp01(score)
		}
	}

	return 0.5
}
