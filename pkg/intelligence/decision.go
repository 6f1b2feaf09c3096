package intelligence

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ob-labs/powermem-go/pkg/llm"
	"github.com/ob-labs/powermem-go/pkg/memerr"
)

// Memory events produced by the decision phase.
const (
	EventAdd    = "ADD"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
	EventNone   = "NONE"
)

// ExistingMemory is a stored memory offered to the decision model as an
// update/delete candidate.
type ExistingMemory struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// MemoryAction is one decided operation against the memory store.
type MemoryAction struct {
	// ID names the target memory for UPDATE and DELETE. Empty for ADD.
	ID string

	// Event is one of ADD, UPDATE, DELETE.
	Event string

	// Text is the memory content for ADD and UPDATE.
	Text string

	// OldMemory is the previous content for UPDATE, informational only.
	OldMemory string

	// Importance seeds retention for ADD and UPDATE.
	Importance float64
}

// DecisionMaker reconciles freshly extracted facts with existing memories.
//
// It uses an LLM to analyze new facts against candidate memories and
// decides, per fact:
//   - ADD: Create a new memory for novel information
//   - UPDATE: Merge/update an existing memory with new information
//   - DELETE: Remove outdated or contradicted memory
//   - NONE: Skip duplicate or irrelevant information
//
// Model output is validated before it reaches the store: unknown events and
// dangling memory ids are repaired or dropped, and a response that cannot
// be parsed at all degrades to adding every fact verbatim, so extraction
// work is not lost to one malformed completion.
type DecisionMaker struct {
	// llm is the LLM provider for decision making.
	llm llm.Provider

	// customPrompt replaces the instruction preamble when non-empty. The
	// existing-memories and new-facts blocks are always appended.
	customPrompt string
}

// NewDecisionMaker creates a decision maker with the default prompt.
func NewDecisionMaker(llm llm.Provider) *DecisionMaker {
	return &DecisionMaker{llm: llm}
}

// NewDecisionMakerWithPrompt creates a decision maker with a custom
// instruction preamble.
func NewDecisionMakerWithPrompt(llm llm.Provider, customPrompt string) *DecisionMaker {
	return &DecisionMaker{llm: llm, customPrompt: customPrompt}
}

// DecideActions decides memory actions for new facts against existing
// memories.
//
// Returned actions are validated:
//   - Event is normalized to upper case and must be a known event
//   - UPDATE targeting an id not in existingMemories becomes an ADD, since
//     the content is still new information
//   - DELETE targeting an unknown id is dropped
//   - NONE actions are dropped
//
// A provider failure is reported as LLMUnavailable. An unparsable response
// is logged and every fact becomes an ADD action.
func (d *DecisionMaker) DecideActions(
	ctx context.Context,
	newFacts []Fact,
	existingMemories []ExistingMemory,
) ([]MemoryAction, error) {
	if len(newFacts) == 0 {
		return nil, nil
	}

	prompt := d.generateDecisionPrompt(newFacts, existingMemories)

	messages := []llm.Message{
		{Role: "user", Content: prompt},
	}
	response, err := d.llm.GenerateWithMessages(ctx, messages, llm.WithJSONResponse())
	if err != nil {
		return nil, memerr.Newf("intelligence.decide_actions", "%w: %v", memerr.ErrLLMUnavailable, err)
	}

	actions, err := d.parseActionsResponse(response, newFacts, existingMemories)
	if err != nil {
		log.Warn().Err(err).Int("facts", len(newFacts)).
			Msg("memory decision response malformed, adding all facts")
		return fallbackActions(newFacts), nil
	}
	return actions, nil
}

// generateDecisionPrompt renders the decision prompt with existing memories
// and new facts as JSON blocks.
func (d *DecisionMaker) generateDecisionPrompt(
	newFacts []Fact,
	existingMemories []ExistingMemory,
) string {
	if existingMemories == nil {
		existingMemories = []ExistingMemory{}
	}
	existingMemoriesJSON, _ := json.Marshal(existingMemories)

	factTexts := make([]string, 0, len(newFacts))
	for _, fact := range newFacts {
		factTexts = append(factTexts, fact.Text)
	}
	newFactsJSON, _ := json.Marshal(factTexts)

	preamble := d.customPrompt
	if preamble == "" {
		preamble = `You are a Personal Information Organizer, specialized in managing and organizing personal information. You create, update, or delete memories based on new information and existing memories.`
	}

	return fmt.Sprintf(`%s

# Existing Memories
%s

# New Facts
%s

# Task
Analyze the new facts against existing memories and decide the appropriate action for each:

## Actions:
- **ADD**: Create a new memory if the fact is novel and doesn't overlap with existing memories
- **UPDATE**: Update an existing memory if the new fact provides additional or corrected information. Merge and consolidate information, keeping the updated memory self-contained and complete.
- **DELETE**: Remove a memory if it's outdated, incorrect, or contradicted by new information
- **NONE**: Skip if the fact is already captured or is not worth storing (e.g., greetings, small talk)

## Important Guidelines:
1. **Deduplication**: Mark facts as NONE if they duplicate existing memories
2. **Consolidation**: When updating, merge information to create complete, self-contained memories
3. **Temporal Information**: Always preserve time references (dates, "yesterday", "last week", etc.)
4. **Completeness**: Updated memories should include who/what/when/where
5. **Clarity**: Each memory should be understandable on its own
6. **ID Accuracy**: When UPDATE/DELETE, use the exact ID from existing memories

## Output Format (JSON):
Return a JSON object with a "memory" array containing action objects:

{
  "memory": [
    {
      "id": "0",
      "text": "Updated memory text",
      "event": "UPDATE",
      "old_memory": "Previous memory text"
    },
    {
      "text": "New memory text",
      "event": "ADD"
    },
    {
      "id": "2",
      "event": "DELETE"
    },
    {
      "text": "Duplicate fact",
      "event": "NONE"
    }
  ]
}

Note:
- For UPDATE/DELETE, "id" is required and must match an existing memory ID
- For ADD, only "text" and "event" are required
- For NONE, include "text" to show what was skipped

Now analyze the facts and provide your decision:`,
		preamble, string(existingMemoriesJSON), string(newFactsJSON))
}

// parseActionsResponse parses the LLM response and validates every action.
func (d *DecisionMaker) parseActionsResponse(
	response string,
	newFacts []Fact,
	existingMemories []ExistingMemory,
) ([]MemoryAction, error) {
	response = removeCodeBlocks(response)

	var result map[string]interface{}
	if err := json.Unmarshal([]byte(response), &result); err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}

	memoryInterface, ok := result["memory"]
	if !ok {
		return nil, fmt.Errorf("response has no memory field")
	}
	memoryArray, ok := memoryInterface.([]interface{})
	if !ok {
		return nil, fmt.Errorf("memory is not an array")
	}

	knownIDs := make(map[string]bool, len(existingMemories))
	for _, mem := range existingMemories {
		knownIDs[mem.ID] = true
	}
	importanceOf := make(map[string]float64, len(newFacts))
	for _, fact := range newFacts {
		importanceOf[fact.Text] = fact.Importance
	}

	actions := make([]MemoryAction, 0, len(memoryArray))
	for _, item := range memoryArray {
		itemMap, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		action := actionFromObject(itemMap)
		if action.Importance == 0 {
			if imp, ok := importanceOf[action.Text]; ok {
				action.Importance = imp
			} else {
				action.Importance = defaultFactImportance
			}
		}

		switch action.Event {
		case EventAdd:
			if action.Text == "" {
				continue
			}
			action.ID = ""
		case EventUpdate:
			if action.Text == "" {
				continue
			}
			if !knownIDs[action.ID] {
				log.Debug().Str("id", action.ID).
					Msg("update targets unknown memory, adding instead")
				action = MemoryAction{Event: EventAdd, Text: action.Text, Importance: action.Importance}
			}
		case EventDelete:
			if !knownIDs[action.ID] {
				log.Debug().Str("id", action.ID).
					Msg("delete targets unknown memory, dropping")
				continue
			}
		case EventNone:
			continue
		default:
			log.Debug().Str("event", action.Event).Msg("unknown memory event, dropping")
			continue
		}
		actions = append(actions, action)
	}
	return actions, nil
}

// actionFromObject reads one action object with tolerant field handling:
// numeric ids are accepted, "memory" works as an alias for "text", and the
// event is case-insensitive.
func actionFromObject(obj map[string]interface{}) MemoryAction {
	var action MemoryAction

	switch id := obj["id"].(type) {
	case string:
		action.ID = id
	case float64:
		action.ID = strconv.FormatInt(int64(id), 10)
	}
	if event, ok := obj["event"].(string); ok {
		action.Event = strings.ToUpper(strings.TrimSpace(event))
	}
	for _, key := range []string{"text", "memory"} {
		if text, ok := obj[key].(string); ok && text != "" {
			action.Text = text
			break
		}
	}
	if oldMemory, ok := obj["old_memory"].(string); ok {
		action.OldMemory = oldMemory
	}
	if raw, ok := obj["importance"]; ok {
		if score, isNum := raw.(float64); isNum {
			action.Importance = clamp01(score)
		}
	}
	return action
}

// fallbackActions turns every fact into an ADD action.
func fallbackActions(facts []Fact) []MemoryAction {
	actions := make([]MemoryAction, 0, len(facts))
	for _, fact := range facts {
		if fact.Text == "" {
			continue
		}
		actions = append(actions, MemoryAction{
			Event:      EventAdd,
			Text:       fact.Text,
			Importance: fact.Importance,
		})
	}
	return actions
}
