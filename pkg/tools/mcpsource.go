package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/azraeltruthsay/gaia-sub000/pkg/config"
	"github.com/azraeltruthsay/gaia-sub000/pkg/version"
)

// MCPSource connects to an external MCP tool server over stdio and
// wraps its tools so they can join the sidecar registry. The connection
// is established lazily on first discovery.
type MCPSource struct {
	name string
	cfg  config.MCPServerConfig

	mu        sync.Mutex
	client    *client.Client
	connected bool
	filterSet map[string]bool
}

func NewMCPSource(name string, cfg config.MCPServerConfig) *MCPSource {
	var filterSet map[string]bool
	if len(cfg.Filter) > 0 {
		filterSet = make(map[string]bool, len(cfg.Filter))
		for _, toolName := range cfg.Filter {
			filterSet[toolName] = true
		}
	}
	return &MCPSource{name: name, cfg: cfg, filterSet: filterSet}
}

// Discover connects, lists the remote tools and registers the kept ones.
func (s *MCPSource) Discover(ctx context.Context, registry *Registry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		if err := s.connectLocked(ctx); err != nil {
			return fmt.Errorf("failed to connect to MCP server %s: %w", s.name, err)
		}
	}

	listResp, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list tools from %s: %w", s.name, err)
	}

	registered := 0
	for _, remote := range listResp.Tools {
		if s.filterSet != nil && !s.filterSet[remote.Name] {
			continue
		}
		tool := &mcpTool{
			source:      s,
			name:        remote.Name,
			description: remote.Description,
			schema:      schemaToMap(remote.InputSchema),
		}
		if err := registry.RegisterTool(tool); err != nil {
			slog.Warn("Skipping conflicting MCP tool", "source", s.name, "tool", remote.Name, "error", err)
			continue
		}
		registered++
	}

	slog.Info("Connected to MCP tool server",
		"source", s.name, "command", s.cfg.Command, "tools", registered)
	return nil
}

func (s *MCPSource) connectLocked(ctx context.Context) error {
	env := make([]string, 0, len(s.cfg.Env))
	for k, v := range s.cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	mcpClient, err := client.NewStdioMCPClient(s.cfg.Command, env, s.cfg.Args...)
	if err != nil {
		return err
	}
	if err := mcpClient.Start(ctx); err != nil {
		return err
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{
		Name:    "gaia-toolserver",
		Version: version.Version,
	}
	initReq.Params.ProtocolVersion = "2024-11-05"

	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		mcpClient.Close()
		return err
	}

	s.client = mcpClient
	s.connected = true
	return nil
}

// Close shuts the stdio transport down.
func (s *MCPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	s.connected = false
	return err
}

// mcpTool adapts one remote MCP tool to the Tool interface.
type mcpTool struct {
	source      *MCPSource
	name        string
	description string
	schema      map[string]any
}

func (t *mcpTool) GetName() string        { return t.name }
func (t *mcpTool) GetDescription() string { return t.description }

func (t *mcpTool) GetInfo() ToolInfo {
	return ToolInfo{
		Name:        t.name,
		Description: t.description,
		InputSchema: t.schema,
	}
}

func (t *mcpTool) Execute(ctx context.Context, args map[string]any) (ToolResult, error) {
	start := time.Now()

	t.source.mu.Lock()
	mcpClient := t.source.client
	t.source.mu.Unlock()
	if mcpClient == nil {
		err := fmt.Errorf("MCP server %s not connected", t.source.name)
		return errorResult(t.name, err.Error(), start), err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = t.name
	req.Params.Arguments = args

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return errorResult(t.name, fmt.Sprintf("MCP call failed: %v", err), start), err
	}

	var text string
	for _, content := range resp.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			text += textContent.Text
		}
	}

	result := ToolResult{
		Success:       !resp.IsError,
		ToolName:      t.name,
		ExecutionTime: time.Since(start),
		Metadata:      map[string]any{"source": t.source.name},
	}
	if resp.IsError {
		result.Error = text
	} else {
		result.Content = text
	}
	return result, nil
}

// schemaToMap flattens the mcp-go schema type into a plain map.
func schemaToMap(schema mcp.ToolInputSchema) map[string]any {
	out := map[string]any{"type": schema.Type}
	if len(schema.Properties) > 0 {
		out["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		out["required"] = schema.Required
	}
	return out
}
