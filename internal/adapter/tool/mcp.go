package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"hearth/internal/domain"
	"hearth/internal/infra/config"
)

// mcpCallTimeout bounds a single remote tool call.
const mcpCallTimeout = 30 * time.Second

// MCPConnector connects to configured MCP servers and exposes their tools
// as domain.Tool values, ready to drop into the registry.
type MCPConnector struct {
	mu      sync.RWMutex
	links   []serverLink
	tools   []domain.Tool
	logger  *slog.Logger
}

type serverLink struct {
	name   string
	client mcpAPI
}

// mcpAPI is the slice of the MCP client the connector needs; tests supply
// their own.
type mcpAPI interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// NewMCPConnector dials every configured server and discovers its tools.
// A server that connects but fails discovery is skipped with a warning;
// the connector only errors when no server yields tools.
func NewMCPConnector(ctx context.Context, servers []config.MCPServer, logger *slog.Logger) (*MCPConnector, error) {
	c := &MCPConnector{logger: logger}

	for _, srv := range servers {
		link, err := c.dial(ctx, srv)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("mcp server %q: %w", srv.Name, err)
		}
		c.links = append(c.links, *link)
	}

	if err := c.discover(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("discover tools: %w", err)
	}
	return c, nil
}

// newMCPConnectorWithLinks builds a connector over pre-made clients, for tests.
func newMCPConnectorWithLinks(ctx context.Context, links []serverLink, logger *slog.Logger) (*MCPConnector, error) {
	c := &MCPConnector{links: links, logger: logger}
	if err := c.discover(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *MCPConnector) dial(ctx context.Context, srv config.MCPServer) (*serverLink, error) {
	var client mcpAPI
	var err error

	switch srv.Transport {
	case "stdio":
		client, err = mcpclient.NewStdioMCPClient(srv.Command, envSlice(srv.Env), srv.Args...)
		if err != nil {
			return nil, fmt.Errorf("create stdio client: %w", err)
		}
	case "http":
		t, tErr := transport.NewStreamableHTTP(srv.URL)
		if tErr != nil {
			return nil, fmt.Errorf("create http transport: %w", tErr)
		}
		httpClient := mcpclient.NewClient(t)
		if err = httpClient.Start(ctx); err != nil {
			return nil, fmt.Errorf("start http client: %w", err)
		}
		client = httpClient
	default:
		return nil, fmt.Errorf("unsupported transport %q", srv.Transport)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "hearth",
		Version: "1.0.0",
	}

	if ic, ok := client.(interface {
		Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	}); ok {
		if _, err = ic.Initialize(ctx, initReq); err != nil {
			client.Close()
			return nil, domain.WrapOp("mcp.initialize", err)
		}
	}

	c.logger.Info("mcp server connected", "name", srv.Name, "transport", srv.Transport)
	return &serverLink{name: srv.Name, client: client}, nil
}

func (c *MCPConnector) discover(ctx context.Context) error {
	var failures []string
	reachable := 0

	for _, link := range c.links {
		result, err := link.client.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			c.logger.Warn("mcp discovery failed, skipping server",
				"server", link.name, "error", err)
			failures = append(failures, fmt.Sprintf("%s: %v", link.name, err))
			continue
		}

		for _, t := range result.Tools {
			rt := newRemoteTool(link.name, link.client, t, c.logger)
			c.tools = append(c.tools, rt)
		}
		c.logger.Info("mcp tools discovered", "server", link.name, "count", len(result.Tools))
		reachable++
	}

	if reachable == 0 && len(failures) > 0 {
		return fmt.Errorf("all mcp servers failed discovery: %s", strings.Join(failures, "; "))
	}
	return nil
}

// Tools returns every discovered remote tool.
func (c *MCPConnector) Tools() []domain.Tool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tools
}

// Close shuts down every server connection.
func (c *MCPConnector) Close() {
	for _, link := range c.links {
		if err := link.client.Close(); err != nil {
			c.logger.Warn("mcp server close error", "server", link.name, "error", err)
		}
	}
}

// remoteTool adapts one MCP tool to domain.Tool. Names are prefixed
// mcp_<server>_<tool> so servers cannot shadow builtins or each other.
type remoteTool struct {
	server   string
	client   mcpAPI
	def      mcp.Tool
	fullName string
	logger   *slog.Logger
}

func newRemoteTool(server string, client mcpAPI, def mcp.Tool, logger *slog.Logger) *remoteTool {
	return &remoteTool{
		server:   server,
		client:   client,
		def:      def,
		fullName: fmt.Sprintf("mcp_%s_%s", sanitizeName(server), sanitizeName(def.Name)),
		logger:   logger,
	}
}

func (t *remoteTool) Name() string { return t.fullName }

func (t *remoteTool) Description() string {
	if t.def.Description != "" {
		return t.def.Description
	}
	return fmt.Sprintf("MCP tool %q from server %q", t.def.Name, t.server)
}

func (t *remoteTool) Schema() domain.ToolSchema {
	params := json.RawMessage(`{"type": "object"}`)
	if t.def.InputSchema.Properties != nil || t.def.InputSchema.Required != nil {
		if data, err := json.Marshal(t.def.InputSchema); err == nil {
			params = data
		}
	}
	return domain.ToolSchema{
		Name:        t.fullName,
		Description: t.Description(),
		Parameters:  params,
	}
}

func (t *remoteTool) Execute(ctx context.Context, args json.RawMessage) (*domain.ToolResult, error) {
	var decoded map[string]any
	if len(args) > 0 && string(args) != "null" {
		if err := json.Unmarshal(args, &decoded); err != nil {
			return &domain.ToolResult{
				IsError: true,
				Content: fmt.Sprintf("invalid arguments: %v", err),
			}, nil
		}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = t.def.Name
	req.Params.Arguments = decoded

	t.logger.Debug("mcp tool call", "server", t.server, "tool", t.def.Name)

	callCtx, cancel := context.WithTimeout(ctx, mcpCallTimeout)
	defer cancel()

	result, err := t.client.CallTool(callCtx, req)
	if err != nil {
		// Transport failures are worth another try.
		return &domain.ToolResult{
			IsError:     true,
			IsRetryable: true,
			Content:     fmt.Sprintf("mcp call failed: %v", err),
		}, nil
	}

	return &domain.ToolResult{
		Content: flattenMCPContent(result),
		IsError: result.IsError,
	}, nil
}

// flattenMCPContent joins the result's text parts; non-text content is
// carried as JSON.
func flattenMCPContent(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// sanitizeName maps anything outside [A-Za-z0-9_] to underscore.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// envSlice converts an env map to KEY=VALUE form for stdio servers.
func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
