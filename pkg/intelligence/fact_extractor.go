package intelligence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ob-labs/powermem-go/pkg/llm"
	"github.com/ob-labs/powermem-go/pkg/memerr"
)

const (
	// defaultMaxFacts caps how many facts one extraction may yield.
	defaultMaxFacts = 32

	// defaultFactImportance is assigned when the model omits an
	// importance score.
	defaultFactImportance = 0.65
)

// FactExtractor extracts facts from conversations using an LLM.
//
// Facts are self-contained pieces of information, including personal
// preferences, details, plans, intentions, needs, and activities. Each fact
// carries a provisional importance score used to seed retention.
//
// Example usage:
//
//	extractor := NewFactExtractor(llmProvider)
//	facts, err := extractor.ExtractFacts(ctx, conversation)
type FactExtractor struct {
	// llm is the LLM provider for fact extraction.
	llm llm.Provider

	// customPrompt replaces the default system prompt when non-empty.
	customPrompt string

	// maxFacts caps the number of facts returned per extraction.
	maxFacts int
}

// NewFactExtractor creates a fact extractor with the default prompt and
// fact cap.
func NewFactExtractor(llm llm.Provider) *FactExtractor {
	return &FactExtractor{llm: llm, maxFacts: defaultMaxFacts}
}

// NewFactExtractorWithPrompt creates a fact extractor with a custom system
// prompt. An empty prompt or non-positive cap selects the defaults.
func NewFactExtractorWithPrompt(llm llm.Provider, customPrompt string, maxFacts int) *FactExtractor {
	if maxFacts <= 0 {
		maxFacts = defaultMaxFacts
	}
	return &FactExtractor{llm: llm, customPrompt: customPrompt, maxFacts: maxFacts}
}

// ExtractFacts extracts facts from a rendered conversation.
//
// The extraction:
//  1. Calls the LLM with the fact-extraction prompt (JSON response mode)
//  2. Parses `{"facts": [{"fact": ..., "importance": ...}]}`, tolerating
//     bare strings in place of objects
//  3. Caps the result at the configured fact limit
//
// Parameters:
//   - ctx: Context for cancellation
//   - conversation: Conversation text, one "role: content" line per message
//
// A provider failure is reported as LLMUnavailable; a response that cannot
// be parsed as the expected JSON is reported as malformed. An empty
// conversation yields no facts without calling the model.
func (e *FactExtractor) ExtractFacts(ctx context.Context, conversation string) ([]Fact, error) {
	if strings.TrimSpace(conversation) == "" {
		return nil, nil
	}

	messages := []llm.Message{
		{Role: "system", Content: e.systemPrompt()},
		{Role: "user", Content: fmt.Sprintf("Input:\n%s", conversation)},
	}

	response, err := e.llm.GenerateWithMessages(ctx, messages, llm.WithJSONResponse())
	if err != nil {
		return nil, memerr.Newf("intelligence.extract_facts", "%w: %v", memerr.ErrLLMUnavailable, err)
	}

	facts, err := e.parseFactsResponse(response)
	if err != nil {
		return nil, memerr.Newf("intelligence.extract_facts", "%w: %v", memerr.ErrLLMMalformed, err)
	}
	if len(facts) > e.maxFacts {
		facts = facts[:e.maxFacts]
	}
	return facts, nil
}

// systemPrompt returns the system prompt for fact extraction.
func (e *FactExtractor) systemPrompt() string {
	if e.customPrompt != "" {
		return e.customPrompt
	}

	today := time.Now().Format("2006-01-02")
	return fmt.Sprintf(`You are a Personal Information Organizer. Extract relevant facts, memories, preferences, intentions, and needs from conversations into distinct, manageable facts.

Information Types: Personal preferences, details (names, relationships, dates), plans, intentions, needs, requests, activities, health/wellness (including medical appointments, symptoms, treatments), professional, miscellaneous.

CRITICAL Rules:
1. TEMPORAL: ALWAYS extract time info (dates, relative refs like "yesterday", "last week"). Include in facts (e.g., "Went to Hawaii in May 2023" or "Went to Hawaii last year", not just "Went to Hawaii"). Preserve relative time refs for later calculation.
2. COMPLETE: Extract self-contained facts with who/what/when/where when available.
3. SEPARATE: Extract distinct facts separately, especially when they have different time periods.
4. INTENTIONS & NEEDS: ALWAYS extract user intentions, needs, and requests even without time information. Examples: "Want to book a doctor appointment", "Need to call someone", "Plan to visit a place".
5. IMPORTANCE: Score each fact from 0.0 to 1.0. Lasting personal details and preferences score high; transient small talk scores low.

Examples:
Input: Hi.
Output: {"facts": []}

Input: Yesterday, I met John at 3pm. We discussed the project.
Output: {"facts": [{"fact": "Met John at 3pm yesterday", "importance": 0.6}, {"fact": "Discussed project with John yesterday", "importance": 0.5}]}

Input: I'm John, a software engineer.
Output: {"facts": [{"fact": "Name is John", "importance": 0.9}, {"fact": "John is a software engineer", "importance": 0.8}]}

Input: I'm allergic to peanuts.
Output: {"facts": [{"fact": "Allergic to peanuts", "importance": 0.95}]}

Input: I want to book an appointment with a cardiologist.
Output: {"facts": [{"fact": "Want to book an appointment with a cardiologist", "importance": 0.8}]}

Rules:
- Today: %s
- Return JSON: {"facts": [{"fact": "...", "importance": 0.0-1.0}]}
- Extract from user/assistant messages only
- Extract intentions, needs, and requests even without time information
- If no relevant facts, return an empty list
- Preserve input language`, today)
}

// parseFactsResponse parses the LLM response into facts. Entries may be
// objects or bare strings; bare strings get the default importance.
func (e *FactExtractor) parseFactsResponse(response string) ([]Fact, error) {
	response = removeCodeBlocks(response)

	var result map[string]interface{}
	if err := json.Unmarshal([]byte(response), &result); err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}

	rawFacts, ok := result["facts"]
	if !ok {
		return nil, nil
	}
	entries, ok := rawFacts.([]interface{})
	if !ok {
		return nil, fmt.Errorf("facts is not an array")
	}

	facts := make([]Fact, 0, len(entries))
	for _, entry := range entries {
		switch v := entry.(type) {
		case string:
			if v != "" {
				facts = append(facts, Fact{Text: v, Importance: defaultFactImportance})
			}
		case map[string]interface{}:
			fact := factFromObject(v)
			if fact.Text != "" {
				facts = append(facts, fact)
			}
		}
	}
	return facts, nil
}

// factFromObject reads one fact object, accepting "fact", "text" and
// "memory" as the content key.
func factFromObject(obj map[string]interface{}) Fact {
	fact := Fact{Importance: defaultFactImportance}
	for _, key := range []string{"fact", "text", "memory"} {
		if text, ok := obj[key].(string); ok && text != "" {
			fact.Text = text
			break
		}
	}
	if raw, ok := obj["importance"]; ok {
		if score, isNum := raw.(float64); isNum {
			fact.Importance = clamp01(score)
		}
	}
	return fact
}

// removeCodeBlocks strips markdown code fences from a model response.
func removeCodeBlocks(response string) string {
	response = strings.ReplaceAll(response, "```json", "")
	response = strings.ReplaceAll(response, "```", "")
	return strings.TrimSpace(response)
}
