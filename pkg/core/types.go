// Package core provides the main PowerMem client and memory management functionality.
package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/ob-labs/powermem-go/pkg/llm"
)

// MemoryID is a snowflake memory identifier. It carries an int64 but
// marshals to JSON as a decimal string so 64-bit ids survive JavaScript
// clients; unmarshaling accepts either a string or a number.
type MemoryID int64

// Int64 returns the raw identifier.
func (id MemoryID) Int64() int64 { return int64(id) }

// String returns the decimal form of the identifier.
func (id MemoryID) String() string { return strconv.FormatInt(int64(id), 10) }

// MarshalJSON encodes the id as a decimal string.
func (id MemoryID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON decodes a decimal string or a JSON number.
func (id *MemoryID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid memory id %q: %w", s, err)
		}
		*id = MemoryID(v)
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid memory id %s: %w", string(data), err)
	}
	*id = MemoryID(v)
	return nil
}

// Memory represents a single memory entry as seen by facade callers.
//
// Embeddings stay inside the storage layer and are not exposed here; the
// retention block travels in Metadata under the "retention" key.
//
// Example:
//
//	memory := &core.Memory{
//	    UserID:  "user_001",
//	    Content: "User likes Python programming",
//	    Metadata: map[string]interface{}{
//	        "source": "conversation",
//	    },
//	}
type Memory struct {
	// ID is the unique identifier of the memory.
	ID MemoryID `json:"id"`

	// UserID identifies the user who owns this memory.
	UserID string `json:"user_id,omitempty"`

	// AgentID identifies the agent associated with this memory (optional).
	AgentID string `json:"agent_id,omitempty"`

	// RunID identifies the session or run this memory belongs to (optional).
	RunID string `json:"run_id,omitempty"`

	// ActorID identifies the speaker the memory is about (optional).
	ActorID string `json:"actor_id,omitempty"`

	// Hash is the content fingerprint used for exact deduplication.
	Hash string `json:"hash,omitempty"`

	// Content is the text content of the memory.
	Content string `json:"content"`

	// Metadata contains additional structured information about the memory.
	// Can be used for filtering and custom attributes.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the memory was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the memory was last updated.
	UpdatedAt time.Time `json:"updated_at"`

	// Score is the normalized relevance score from search operations
	// (0.0-1.0). Higher scores indicate better matches.
	Score float64 `json:"score,omitempty"`
}

// Message is one conversational message handed to Add.
//
// Content carries plain text. Parts, when non-empty, carries multimodal
// content that is rendered to text during ingest (images become
// descriptions, audio becomes transcripts).
type Message struct {
	// Role is the message role: "system", "user", or "assistant".
	Role string `json:"role"`

	// Content is the message content text.
	Content string `json:"content"`

	// Parts holds multimodal content parts (optional).
	Parts []llm.ContentPart `json:"parts,omitempty"`
}

// MemoryScope defines the visibility scope of a memory.
//
// Scopes control which agents can access a memory:
//   - ScopePrivate: Only the creating agent can access
//   - ScopeAgentGroup: All agents in the group can access
//   - ScopeGlobal: All agents can access
type MemoryScope string

const (
	// ScopePrivate makes the memory visible only to the creating agent.
	ScopePrivate MemoryScope = "private"

	// ScopeAgentGroup makes the memory visible to all agents in the group.
	ScopeAgentGroup MemoryScope = "agent_group"

	// ScopeGlobal makes the memory visible to all agents.
	ScopeGlobal MemoryScope = "global"
)

// Ingest event kinds reported per fact by Add.
const (
	// EventAdd means a new memory was created.
	EventAdd = "ADD"

	// EventUpdate means an existing memory was rewritten with refined
	// content.
	EventUpdate = "UPDATE"

	// EventDelete means an existing memory was removed because the new
	// fact contradicts it.
	EventDelete = "DELETE"

	// EventNone means the fact duplicated an existing memory and was
	// dropped.
	EventNone = "NONE"

	// EventFactEmbeddingFailed means embedding generation failed for the
	// fact, which was skipped. The rest of the batch still proceeds.
	EventFactEmbeddingFailed = "FACT_EMBEDDING_FAILED"
)

// MemoryEventRecord is one applied (or skipped) ingest action.
type MemoryEventRecord struct {
	// ID is the affected memory's identifier. Zero for skipped facts.
	ID MemoryID `json:"id"`

	// Content is the fact text the event refers to.
	Content string `json:"content"`

	// Event is one of the Event* constants.
	Event string `json:"event"`

	// PreviousMemory carries the prior content for UPDATE events.
	PreviousMemory string `json:"previous_memory,omitempty"`

	// Metadata is the metadata stored with the memory, when applicable.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// AddResult reports everything one Add call did, one record per extracted
// fact in apply order.
type AddResult struct {
	// Results lists per-fact ingest events.
	Results []MemoryEventRecord `json:"results"`
}

// SearchResult contains the results of a memory search operation.
type SearchResult struct {
	// Memories is the list of matching memories, sorted by relevance.
	Memories []*Memory `json:"memories"`

	// TotalCount is the number of memories returned.
	TotalCount int `json:"total_count"`

	// Warnings lists stores that failed during fan-out. The remaining
	// stores still served the query.
	Warnings []string `json:"warnings,omitempty"`
}

// Search hit annotation keys placed in Memory.Metadata.
const (
	// SourceStoreKey names the store a search hit came from.
	SourceStoreKey = "_source_store"

	// FusionInfoKey carries rank-fusion observability data for a hit.
	FusionInfoKey = "_fusion_info"
)
