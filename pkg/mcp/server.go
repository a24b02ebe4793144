package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/Keiii25/lean-formal-agent/pkg/tool"
)

// ToolService is the part of the tool registry exported over MCP.
type ToolService interface {
	Descriptors() []tool.Descriptor
	Invoke(ctx context.Context, id string, args map[string]any) (any, error)
}

// Server exposes registered tools to MCP clients. Each tool is published
// under its identifier and invoked by derived id.
type Server struct {
	mcpServer *server.MCPServer
	tools     ToolService
	logger    *slog.Logger
}

// NewServer creates an MCP server backed by tools.
func NewServer(name, version string, tools ToolService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		mcpServer: server.NewMCPServer(name, version, server.WithToolCapabilities(true)),
		tools:     tools,
		logger:    logger,
	}
}

// Sync publishes every registered tool and returns how many were added.
// Tools already published are replaced.
func (s *Server) Sync() int {
	descs := s.tools.Descriptors()
	for _, d := range descs {
		s.publish(d)
	}
	return len(descs)
}

func (s *Server) publish(d tool.Descriptor) {
	t := mcp.Tool{
		Name:        d.ClassName,
		Description: d.Description,
		InputSchema: SchemaToMCP(d.Schema),
	}
	id := d.ToolID
	s.mcpServer.AddTool(t, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		out, err := s.tools.Invoke(ctx, id, request.GetArguments())
		if err != nil {
			s.logger.Warn("mcp.tool.error",
				slog.String("tool", d.ClassName),
				slog.String("tool_id", id),
				slog.String("error", err.Error()),
			)
			return mcp.NewToolResultError(err.Error()), nil
		}
		return toolResult(out)
	})
}

func toolResult(out any) (*mcp.CallToolResult, error) {
	if s, ok := out.(string); ok {
		return mcp.NewToolResultText(s), nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return mcp.NewToolResultError("tool output is not serialisable: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// Handler serves the tools over streamable HTTP.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcpServer)
}

// ServeStdio serves the tools on stdin and stdout until the input closes.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}
