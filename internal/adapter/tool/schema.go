package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"hearth/internal/domain"
)

// schemaGuard validates arguments against the tool's JSON Schema before
// delegating. Validation failures come back as tool errors, not Go errors,
// so the model sees what it got wrong and can correct the call.
type schemaGuard struct {
	inner    domain.Tool
	compiled *jsonschema.Schema
}

// withSchemaValidation wraps a tool so Execute validates arguments first.
// Tools without a parameter schema pass through unchanged. Returns an error
// if the schema fails to compile.
func withSchemaValidation(t domain.Tool) (domain.Tool, error) {
	raw := t.Schema().Parameters
	if len(raw) == 0 || string(raw) == "null" {
		return t, nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource for %q: %w", t.Name(), err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema for %q: %w", t.Name(), err)
	}

	return &schemaGuard{inner: t, compiled: compiled}, nil
}

func (g *schemaGuard) Name() string              { return g.inner.Name() }
func (g *schemaGuard) Description() string       { return g.inner.Description() }
func (g *schemaGuard) Schema() domain.ToolSchema { return g.inner.Schema() }

func (g *schemaGuard) Execute(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}

	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return &domain.ToolResult{
			IsError: true,
			Content: fmt.Sprintf("invalid JSON arguments: %v", err),
		}, nil
	}
	if err := g.compiled.Validate(v); err != nil {
		return &domain.ToolResult{
			IsError: true,
			Content: fmt.Sprintf("arguments rejected by schema: %v", err),
		}, nil
	}

	return g.inner.Execute(ctx, args)
}
