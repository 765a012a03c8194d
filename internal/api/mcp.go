package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/avolkoff/inferelay/internal/backend"
	"github.com/avolkoff/inferelay/internal/relay"
)

// NewMCPServer creates an MCP server exposing the backend's read-only
// surface (status and model listing) as tools.
func NewMCPServer(a *backend.Adapter, stats *relay.Stats) *server.MCPServer {
	s := server.NewMCPServer(
		"inferelay",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("inferelay — gateway to the local inference backend; reports which transport is active and which models are available."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("backend_status",
			mcp.WithDescription("Report the active backend mode, endpoint, and connection count."),
		),
		mcpBackendStatus(a, stats),
	)

	s.AddTool(
		mcp.NewTool("list_models",
			mcp.WithDescription("List the models available on the active inference backend."),
		),
		mcpListModels(a),
	)

	return s
}

func mcpBackendStatus(a *backend.Adapter, stats *relay.Stats) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status := a.Status()
		snap := stats.Snapshot()

		b, err := json.Marshal(map[string]any{
			"mode":        status.Mode,
			"endpoint":    status.Endpoint,
			"cli_active":  status.CliActive,
			"connections": snap.Connections,
		})
		if err != nil {
			return nil, fmt.Errorf("marshaling status: %w", err)
		}
		return mcpText(string(b)), nil
	}
}

func mcpListModels(a *backend.Adapter) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		models, err := a.ListModels(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("listing models: %v", err)), nil
		}

		b, err := json.Marshal(models)
		if err != nil {
			return nil, fmt.Errorf("marshaling models: %w", err)
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
