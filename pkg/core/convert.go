package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/ob-labs/powermem-go/pkg/filter"
	"github.com/ob-labs/powermem-go/pkg/llm"
	"github.com/ob-labs/powermem-go/pkg/storage"
)

// NormalizeMessages converts the polymorphic Add input into a message list.
//
// Accepted forms:
//   - string: a single user message
//   - Message / *Message: a single message
//   - []Message / []*Message: a conversation
//   - map[string]interface{}: a single message with "role"/"content" keys
//   - []map[string]interface{} / []interface{}: a conversation of maps
//
// Anything else is rejected with ErrInvalidInput. Messages with an empty
// role default to "user"; messages with neither content nor parts are
// dropped.
func NormalizeMessages(messages interface{}) ([]Message, error) {
	switch v := messages.(type) {
	case nil:
		return nil, NewMemoryError("NormalizeMessages", fmt.Errorf("%w: messages are required", ErrInvalidInput))
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, NewMemoryError("NormalizeMessages", fmt.Errorf("%w: empty content", ErrInvalidInput))
		}
		return []Message{{Role: "user", Content: v}}, nil
	case Message:
		return normalizeList([]Message{v})
	case *Message:
		if v == nil {
			return nil, NewMemoryError("NormalizeMessages", fmt.Errorf("%w: nil message", ErrInvalidInput))
		}
		return normalizeList([]Message{*v})
	case []Message:
		return normalizeList(v)
	case []*Message:
		out := make([]Message, 0, len(v))
		for _, m := range v {
			if m == nil {
				continue
			}
			out = append(out, *m)
		}
		return normalizeList(out)
	case map[string]interface{}:
		msg, err := messageFromMap(v)
		if err != nil {
			return nil, err
		}
		return normalizeList([]Message{msg})
	case []map[string]interface{}:
		out := make([]Message, 0, len(v))
		for _, m := range v {
			msg, err := messageFromMap(m)
			if err != nil {
				return nil, err
			}
			out = append(out, msg)
		}
		return normalizeList(out)
	case []interface{}:
		out := make([]Message, 0, len(v))
		for _, item := range v {
			switch it := item.(type) {
			case Message:
				out = append(out, it)
			case *Message:
				if it != nil {
					out = append(out, *it)
				}
			case map[string]interface{}:
				msg, err := messageFromMap(it)
				if err != nil {
					return nil, err
				}
				out = append(out, msg)
			case string:
				out = append(out, Message{Role: "user", Content: it})
			default:
				return nil, NewMemoryError("NormalizeMessages",
					fmt.Errorf("%w: unsupported message element %T", ErrInvalidInput, item))
			}
		}
		return normalizeList(out)
	default:
		return nil, NewMemoryError("NormalizeMessages",
			fmt.Errorf("%w: unsupported messages type %T", ErrInvalidInput, messages))
	}
}

func normalizeList(msgs []Message) ([]Message, error) {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == "" {
			m.Role = "user"
		}
		if strings.TrimSpace(m.Content) == "" && len(m.Parts) == 0 {
			continue
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return nil, NewMemoryError("NormalizeMessages", fmt.Errorf("%w: no non-empty messages", ErrInvalidInput))
	}
	return out, nil
}

func messageFromMap(m map[string]interface{}) (Message, error) {
	msg := Message{}
	if role, ok := m["role"].(string); ok {
		msg.Role = role
	}
	switch content := m["content"].(type) {
	case string:
		msg.Content = content
	case nil:
	default:
		return Message{}, NewMemoryError("NormalizeMessages",
			fmt.Errorf("%w: message content must be a string, got %T", ErrInvalidInput, content))
	}
	if parts, ok := m["parts"].([]llm.ContentPart); ok {
		msg.Parts = parts
	}
	return msg, nil
}

// renderConversation flattens a message list into the text handed to fact
// extraction. Multimodal parts are rendered through the LLM provider when
// it implements llm.MultimodalProvider; otherwise only their text parts
// survive.
func renderConversation(ctx context.Context, provider llm.Provider, msgs []Message) (string, error) {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		text := m.Content
		if len(m.Parts) > 0 {
			rendered, err := renderParts(ctx, provider, m.Parts)
			if err != nil {
				return "", err
			}
			switch {
			case text != "" && rendered != "":
				text = text + "\n" + rendered
			case rendered != "":
				text = rendered
			}
		}
		b.WriteString(text)
	}
	return b.String(), nil
}

func renderParts(ctx context.Context, provider llm.Provider, parts []llm.ContentPart) (string, error) {
	var nonText []llm.ContentPart
	var texts []string
	for _, p := range parts {
		if p.Type == llm.PartTypeText {
			texts = append(texts, p.Text)
			continue
		}
		nonText = append(nonText, p)
	}
	if len(nonText) > 0 {
		// Providers without multimodal support drop non-text parts.
		if mm, ok := provider.(llm.MultimodalProvider); ok {
			described, err := mm.DescribeContent(ctx, nonText)
			if err != nil {
				return "", NewMemoryError("renderConversation", err)
			}
			texts = append(texts, described)
		}
	}
	return strings.Join(texts, "\n"), nil
}

// fromStorageMemory converts a storage record into the facade view. The
// embedding stays behind; everything else crosses as-is.
func fromStorageMemory(m *storage.Memory) *Memory {
	if m == nil {
		return nil
	}
	return &Memory{
		ID:        MemoryID(m.ID),
		UserID:    m.UserID,
		AgentID:   m.AgentID,
		RunID:     m.RunID,
		ActorID:   m.ActorID,
		Hash:      m.Hash,
		Content:   m.Content,
		Metadata:  m.Metadata,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		Score:     m.Score,
	}
}

func fromStorageMemories(ms []*storage.Memory) []*Memory {
	out := make([]*Memory, 0, len(ms))
	for _, m := range ms {
		out = append(out, fromStorageMemory(m))
	}
	return out
}

// scopeFilters merges caller identity with extra metadata filters into one
// filter document. Identity keys only appear when non-empty, so an unset
// field matches every record.
func scopeFilters(userID, agentID, runID, actorID string, extra map[string]interface{}) map[string]interface{} {
	doc := make(map[string]interface{}, 4+len(extra))
	if userID != "" {
		doc["user_id"] = userID
	}
	if agentID != "" {
		doc["agent_id"] = agentID
	}
	if runID != "" {
		doc["run_id"] = runID
	}
	if actorID != "" {
		doc["actor_id"] = actorID
	}
	for k, v := range extra {
		doc[k] = v
	}
	return doc
}

// scopeExpr parses the merged scope document into a filter expression.
// An empty document yields nil (match everything).
func scopeExpr(userID, agentID, runID, actorID string, extra map[string]interface{}) (filter.Expr, error) {
	doc := scopeFilters(userID, agentID, runID, actorID, extra)
	if len(doc) == 0 {
		return nil, nil
	}
	expr, err := filter.Parse(doc)
	if err != nil {
		return nil, NewMemoryError("scopeExpr", fmt.Errorf("%w: %v", ErrInvalidInput, err))
	}
	return expr, nil
}
