package domain

import (
	"context"
	"encoding/json"
)

// ToolSchema describes a tool to the model. Parameters is a JSON Schema
// object for the tool's arguments.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is the model's request to invoke a tool during generation.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of executing a tool. IsError marks a failed
// execution; IsRetryable hints that another attempt may succeed.
type ToolResult struct {
	Content     string `json:"content"`
	IsError     bool   `json:"is_error"`
	IsRetryable bool   `json:"is_retryable"`
}

// Tool is an executable capability exposed to the model.
type Tool interface {
	Name() string
	Description() string
	Schema() ToolSchema
	Execute(ctx context.Context, args json.RawMessage) (*ToolResult, error)
}

// ToolSource is the executor's view of the registry. Lookup is by exact name;
// availability semantics behind Get are opaque to the executor.
type ToolSource interface {
	// Get returns the named tool or ErrNotFound. Disabled tools remain
	// resolvable so an in-flight stream keeps its snapshot consistent.
	Get(name string) (Tool, error)

	// AvailableTools lists every registered tool's schema, sorted by name.
	AvailableTools() []ToolSchema

	// Enabled reports whether the named tool is currently enabled.
	Enabled(name string) bool
}

// ToolToggler is the mutable side of the registry, driven by user toggles.
type ToolToggler interface {
	// SetEnabled sets the tool's enabled flag and reports whether the flag
	// changed. Unknown names return ErrNotFound. Idempotent.
	SetEnabled(name string, enabled bool) (changed bool, err error)
}
