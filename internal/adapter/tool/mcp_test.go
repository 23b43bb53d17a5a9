package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

// fakeMCP implements mcpAPI for tests.
type fakeMCP struct {
	tools    []mcp.Tool
	callFunc func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	listErr  error
	closed   bool
}

func (f *fakeMCP) ListTools(_ context.Context, _ mcp.ListToolsRequest) (*mcp.ListToolsResult, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &mcp.ListToolsResult{Tools: f.tools}, nil
}

func (f *fakeMCP) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if f.callFunc != nil {
		return f.callFunc(ctx, req)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent("called " + req.Params.Name)},
	}, nil
}

func (f *fakeMCP) Close() error {
	f.closed = true
	return nil
}

func TestMCPConnectorDiscovery(t *testing.T) {
	fake := &fakeMCP{tools: []mcp.Tool{
		{Name: "read_file", Description: "Read a file"},
		{Name: "write_file", Description: "Write a file"},
	}}

	conn, err := newMCPConnectorWithLinks(context.Background(),
		[]serverLink{{name: "filesystem", client: fake}}, testLogger())
	if err != nil {
		t.Fatalf("NewMCPConnector: %v", err)
	}
	defer conn.Close()

	tools := conn.Tools()
	if len(tools) != 2 {
		t.Fatalf("Tools count = %d, want 2", len(tools))
	}
	if tools[0].Name() != "mcp_filesystem_read_file" {
		t.Errorf("tools[0].Name = %q", tools[0].Name())
	}
	if tools[1].Name() != "mcp_filesystem_write_file" {
		t.Errorf("tools[1].Name = %q", tools[1].Name())
	}
}

func TestMCPConnectorPartialDiscoveryFailure(t *testing.T) {
	ok := &fakeMCP{tools: []mcp.Tool{{Name: "search"}}}
	bad := &fakeMCP{listErr: fmt.Errorf("connection refused")}

	conn, err := newMCPConnectorWithLinks(context.Background(), []serverLink{
		{name: "ok-server", client: ok},
		{name: "bad-server", client: bad},
	}, testLogger())
	if err != nil {
		t.Fatalf("expected partial success, got: %v", err)
	}
	defer conn.Close()

	tools := conn.Tools()
	if len(tools) != 1 {
		t.Fatalf("tools = %d, want 1", len(tools))
	}
	if tools[0].Name() != "mcp_ok_server_search" {
		t.Errorf("tool name = %q", tools[0].Name())
	}
}

func TestMCPConnectorAllServersFail(t *testing.T) {
	_, err := newMCPConnectorWithLinks(context.Background(), []serverLink{
		{name: "bad1", client: &fakeMCP{listErr: fmt.Errorf("err 1")}},
		{name: "bad2", client: &fakeMCP{listErr: fmt.Errorf("err 2")}},
	}, testLogger())
	if err == nil {
		t.Fatal("expected error when every server fails discovery")
	}
	if !strings.Contains(err.Error(), "all mcp servers failed") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestMCPConnectorClose(t *testing.T) {
	a := &fakeMCP{}
	b := &fakeMCP{}
	conn, err := newMCPConnectorWithLinks(context.Background(), []serverLink{
		{name: "a", client: a},
		{name: "b", client: b},
	}, testLogger())
	if err != nil {
		t.Fatalf("NewMCPConnector: %v", err)
	}

	conn.Close()
	if !a.closed || !b.closed {
		t.Errorf("closed = %v/%v, want both true", a.closed, b.closed)
	}
}

func TestRemoteToolExecute(t *testing.T) {
	fake := &fakeMCP{
		callFunc: func(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args, ok := req.Params.Arguments.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("expected map arguments, got %T", req.Params.Arguments)
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("Hello, %s!", args["name"]))},
			}, nil
		},
	}

	rt := newRemoteTool("greeter", fake, mcp.Tool{Name: "greet"}, testLogger())
	res, err := rt.Execute(context.Background(), json.RawMessage(`{"name": "World"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError {
		t.Fatalf("IsError = true: %s", res.Content)
	}
	if res.Content != "Hello, World!" {
		t.Errorf("Content = %q", res.Content)
	}
}

func TestRemoteToolTransportFailureIsRetryable(t *testing.T) {
	fake := &fakeMCP{
		callFunc: func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return nil, fmt.Errorf("server unavailable")
		},
	}

	rt := newRemoteTool("flaky", fake, mcp.Tool{Name: "broken"}, testLogger())
	res, err := rt.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError || !res.IsRetryable {
		t.Errorf("IsError=%v IsRetryable=%v, want both true", res.IsError, res.IsRetryable)
	}
}

func TestRemoteToolReportedError(t *testing.T) {
	fake := &fakeMCP{
		callFunc: func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent("file not found")},
				IsError: true,
			}, nil
		},
	}

	rt := newRemoteTool("fs", fake, mcp.Tool{Name: "read"}, testLogger())
	res, err := rt.Execute(context.Background(), json.RawMessage(`{"path": "/nope"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError {
		t.Error("tool-reported error should set IsError")
	}
	if res.IsRetryable {
		t.Error("tool-reported error should not be retryable")
	}
	if res.Content != "file not found" {
		t.Errorf("Content = %q", res.Content)
	}
}

func TestRemoteToolCallUsesDeadline(t *testing.T) {
	fake := &fakeMCP{
		callFunc: func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			if _, ok := ctx.Deadline(); !ok {
				t.Error("call context should carry a deadline")
			}
			return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent("ok")}}, nil
		},
	}

	rt := newRemoteTool("timed", fake, mcp.Tool{Name: "slow"}, testLogger())
	if _, err := rt.Execute(context.Background(), json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestRemoteToolNullArguments(t *testing.T) {
	fake := &fakeMCP{}
	rt := newRemoteTool("srv", fake, mcp.Tool{Name: "no_args"}, testLogger())

	for _, args := range []json.RawMessage{nil, json.RawMessage("null"), json.RawMessage("")} {
		res, err := rt.Execute(context.Background(), args)
		if err != nil {
			t.Fatalf("Execute(%s): %v", string(args), err)
		}
		if res.IsError {
			t.Errorf("Execute(%s): IsError = true: %s", string(args), res.Content)
		}
	}
}

func TestRemoteToolSchema(t *testing.T) {
	def := mcp.Tool{
		Name:        "greet",
		Description: "Greet someone",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"name": map[string]any{"type": "string"},
			},
			Required: []string{"name"},
		},
	}

	rt := newRemoteTool("srv", nil, def, testLogger())
	schema := rt.Schema()
	if schema.Name != "mcp_srv_greet" {
		t.Errorf("Schema.Name = %q", schema.Name)
	}

	var params map[string]any
	if err := json.Unmarshal(schema.Parameters, &params); err != nil {
		t.Fatalf("unmarshal parameters: %v", err)
	}
	props, ok := params["properties"].(map[string]any)
	if !ok {
		t.Fatal("params.properties not a map")
	}
	if _, ok := props["name"]; !ok {
		t.Error("params.properties missing 'name'")
	}
}

func TestRemoteToolEmptySchema(t *testing.T) {
	rt := newRemoteTool("srv", nil, mcp.Tool{Name: "bare"}, testLogger())
	var params map[string]any
	if err := json.Unmarshal(rt.Schema().Parameters, &params); err != nil {
		t.Fatalf("unmarshal parameters: %v", err)
	}
	if params["type"] != "object" {
		t.Errorf("params.type = %v, want object", params["type"])
	}
}

func TestFlattenMCPContentMulti(t *testing.T) {
	result := &mcp.CallToolResult{Content: []mcp.Content{
		mcp.NewTextContent("line 1"),
		mcp.NewTextContent("line 2"),
	}}
	if got := flattenMCPContent(result); got != "line 1\nline 2" {
		t.Errorf("flattenMCPContent = %q", got)
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"simple", "simple"},
		{"with-dash", "with_dash"},
		{"with.dot", "with_dot"},
		{"with spaces", "with_spaces"},
		{"CamelCase", "CamelCase"},
		{"123numbers", "123numbers"},
		{"special!@#$%", "special_____"},
	}
	for _, tt := range tests {
		if got := sanitizeName(tt.input); got != tt.want {
			t.Errorf("sanitizeName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestEnvSlice(t *testing.T) {
	if got := envSlice(nil); got != nil {
		t.Errorf("envSlice(nil) = %v, want nil", got)
	}

	got := envSlice(map[string]string{"KEY1": "val1", "KEY2": "val2"})
	found := make(map[string]bool)
	for _, v := range got {
		found[v] = true
	}
	if !found["KEY1=val1"] || !found["KEY2=val2"] {
		t.Errorf("envSlice = %v", got)
	}
}
