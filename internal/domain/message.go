package domain

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one transcript entry. Transcripts are append-only: a message is
// never mutated after it is persisted. An assistant message cut short by the
// user carries Cancelled=true alongside whatever partial content streamed.
type Message struct {
	ID             string           `json:"id"`
	ConversationID string           `json:"conversation_id"`
	Role           Role             `json:"role"`
	Content        string           `json:"content"`
	Thinking       string           `json:"thinking,omitempty"`
	ToolCalls      []ToolCallRecord `json:"tool_calls,omitempty"`
	ToolCallID     string           `json:"tool_call_id,omitempty"`
	Cancelled      bool             `json:"cancelled,omitempty"`
	Model          string           `json:"model,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// ToolCallRecord is the durable record of one tool invocation within an
// assistant turn. StartedAt/CompletedAt bracket all retry attempts; a failed
// call keeps Success=false and the final attempt's error.
type ToolCallRecord struct {
	CallID      string          `json:"call_id"`
	Name        string          `json:"name"`
	Arguments   json.RawMessage `json:"arguments,omitempty"`
	Result      string          `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Success     bool            `json:"success"`
	Attempts    int             `json:"attempts"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Conversation is a transcript with metadata.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ConversationSummary is the listing projection; transcripts stay in the store.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Usage is provider-reported token accounting for one model call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}
