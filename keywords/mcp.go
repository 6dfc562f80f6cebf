package keywords

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/chatwatch/kit"
)

// RegisterMCP registers the keyword management tools on an MCP server.
func (s *Store) RegisterMCP(srv *mcp.Server) {
	s.registerAddTool(srv)
	s.registerListTool(srv)
	s.registerDeleteTool(srv)
}

// inputSchema builds a JSON Schema object with type "object".
func inputSchema(properties map[string]any, required []string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// --- keyword_add ---

type addRequest struct {
	Phrase string `json:"phrase"`
}

func (s *Store) registerAddTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "keyword_add",
		Description: "Add a keyword phrase to watch for. A phrase with spaces is a combined keyword: every word must appear in a message for it to match.",
		InputSchema: inputSchema(map[string]any{
			"phrase": map[string]any{"type": "string", "description": "Keyword or phrase to watch for (case-insensitive)"},
		}, []string{"phrase"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*addRequest)
		return s.Add(ctx, r.Phrase)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r addRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- keyword_list ---

func (s *Store) registerListTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "keyword_list",
		Description: "List all watched keyword phrases.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(ctx context.Context, _ any) (any, error) {
		list, err := s.List(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"keywords": list, "count": len(list)}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

// --- keyword_delete ---

type deleteRequest struct {
	ID string `json:"id"`
}

func (s *Store) registerDeleteTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "keyword_delete",
		Description: "Delete a watched keyword by ID.",
		InputSchema: inputSchema(map[string]any{
			"id": map[string]any{"type": "string", "description": "Keyword ID as returned by keyword_add or keyword_list"},
		}, []string{"id"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*deleteRequest)
		if err := s.Delete(ctx, r.ID); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": r.ID}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r deleteRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
