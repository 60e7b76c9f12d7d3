// Package memory implements the token-accounted conversation context:
// a layered hot/warm/cold window, importance scoring, and LLM-backed
// history compression.
package memory

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/agentd/internal/providers"
	"github.com/nextlevelbuilder/agentd/internal/tokens"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one conversation turn as stored in memory and sessions.
type Message struct {
	ID              uuid.UUID            `json:"id"`
	Role            string               `json:"role"`
	Content         string               `json:"content"`
	ToolCalls       []providers.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID      string               `json:"tool_call_id,omitempty"`
	TokenCount      int                  `json:"token_count"`
	ImportanceScore float64              `json:"importance_score"`
	Compressed      bool                 `json:"is_compressed"`
	CreatedAt       time.Time            `json:"created_at"`
}

// NewMessage returns a message with a fresh time-ordered id.
func NewMessage(role, content string) *Message {
	return &Message{
		ID:              uuid.Must(uuid.NewV7()),
		Role:            role,
		Content:         content,
		ImportanceScore: 0.5,
		CreatedAt:       time.Now().UTC(),
	}
}

// Counted projects the message onto its token-bearing fields.
func (m *Message) Counted() tokens.CountedMessage {
	cm := tokens.CountedMessage{
		Role:       m.Role,
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	if len(m.ToolCalls) > 0 {
		data, _ := json.Marshal(m.ToolCalls)
		cm.ToolCalls = string(data)
	}
	return cm
}

// ToProvider converts the message to the provider wire shape.
func (m *Message) ToProvider() providers.Message {
	return providers.Message{
		Role:       m.Role,
		Content:    m.Content,
		ToolCalls:  m.ToolCalls,
		ToolCallID: m.ToolCallID,
	}
}

// ToProviderMessages converts a slice of messages.
func ToProviderMessages(msgs []*Message) []providers.Message {
	out := make([]providers.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ToProvider())
	}
	return out
}
