package domain

import "context"

// ChatRequest is a fully built model request: system prompt first, then the
// truncated transcript, then the enabled tool schemas snapshot.
type ChatRequest struct {
	Model       string       `json:"model"`
	Messages    []Message    `json:"messages"`
	Tools       []ToolSchema `json:"tools,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
}

// ChatResponse is a complete (non-streaming) model response.
type ChatResponse struct {
	Content   string     `json:"content"`
	Thinking  string     `json:"thinking,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     Usage      `json:"usage"`
}

// StreamDelta is one chunk of a streaming response. The final chunk has
// Done=true and carries usage; tool calls arrive incrementally and are merged
// by the consumer.
type StreamDelta struct {
	Text      string     `json:"text,omitempty"`
	Thinking  string     `json:"thinking,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Done      bool       `json:"done"`
	Usage     *Usage     `json:"usage,omitempty"`
	Err       error      `json:"-"`
}

// LLMProvider is a chat model backend.
type LLMProvider interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// StreamingLLMProvider additionally streams deltas. The returned channel is
// closed when the stream ends; a mid-stream failure is delivered as a final
// delta with Err set.
type StreamingLLMProvider interface {
	LLMProvider
	ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamDelta, error)
}
