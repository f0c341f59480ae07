package cascade

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fwdslsh/unify-sub006/kit"
)

// RegisterMCP registers the composer tools on an MCP server.
func (c *Composer) RegisterMCP(srv *mcp.Server) {
	c.registerComposeTool(srv)
	c.registerClearCacheTool(srv)
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

type composeReq struct {
	Path string `json:"path"`
	HTML string `json:"html,omitempty"`
}

func (c *Composer) registerComposeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "unify_compose",
		Description: "Compose one page against its layouts and components and return the result record with the final HTML.",
		InputSchema: inputSchema(map[string]any{
			"path": map[string]any{"type": "string", "description": "Page path relative to the source root"},
			"html": map[string]any{"type": "string", "description": "Optional page text to compose instead of the stored page"},
		}, []string{"path"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		r := req.(*composeReq)
		if r.Path == "" {
			return nil, errors.New("path is required")
		}
		if r.HTML != "" {
			return c.ComposeHTML(ctx, r.Path, r.HTML), nil
		}
		return c.Compose(ctx, r.Path), nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r composeReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Logging(c.logger, tool.Name)(endpoint), decode)
}

func (c *Composer) registerClearCacheTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "unify_clear_cache",
		Description: "Drop every cached layout and component so the next composition rereads the source.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}

	endpoint := func(_ context.Context, _ any) (any, error) {
		dropped := c.CachedDocuments()
		c.ClearCache()
		return map[string]any{"cleared": dropped}, nil
	}

	decode := func(_ *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{Request: nil}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Logging(c.logger, tool.Name)(endpoint), decode)
}
