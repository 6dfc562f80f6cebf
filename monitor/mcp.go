package monitor

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/chatwatch/kit"
)

// RegisterMCP registers the monitor control tools on an MCP server.
func (e *Engine) RegisterMCP(srv *mcp.Server) {
	e.registerControlTool(srv, "monitor_start",
		"Start monitoring the configured page for keyword matches. A no-op if monitoring is already running.",
		e.Start)
	e.registerControlTool(srv, "monitor_stop",
		"Stop monitoring and release the page watcher.",
		e.Stop)
	e.registerControlTool(srv, "monitor_status",
		"Report the monitor's phase, container, retry budget, counters and last error.",
		e.Status)
}

// registerControlTool wires one parameterless engine command as an MCP
// tool. All three commands share the Status reply shape.
func (e *Engine) registerControlTool(srv *mcp.Server, name, description string, cmd func(context.Context) (Status, error)) {
	tool := &mcp.Tool{
		Name:        name,
		Description: description,
		InputSchema: map[string]any{"type": "object", "properties": map[string]any{}},
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		return cmd(ctx)
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
