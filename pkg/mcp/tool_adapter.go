package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/Keiii25/lean-formal-agent/pkg/core"
	"github.com/Keiii25/lean-formal-agent/pkg/errors"
)

// ToolCaller abstracts MCP tool execution for adapters.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// ToolAdapter wraps a remote MCP tool so it can be registered like a native
// one.
type ToolAdapter struct {
	tool   mcp.Tool
	caller ToolCaller
	schema core.Schema
}

// NewToolAdapter builds a core.Tool backed by an MCP tool definition and caller.
func NewToolAdapter(tool mcp.Tool, caller ToolCaller) (*ToolAdapter, error) {
	if strings.TrimSpace(tool.Name) == "" {
		return nil, errors.New(errors.CodeInvalidArgument, "mcp tool name is required", nil)
	}
	if caller == nil {
		return nil, errors.New(errors.CodeInvalidArgument, "mcp tool caller is required", nil)
	}
	schema, err := SchemaFromMCP(tool)
	if err != nil {
		return nil, errors.New(errors.CodeInvalidArgument, "mcp tool schema is not usable", err).
			WithContext("tool", tool.Name)
	}
	return &ToolAdapter{tool: tool, caller: caller, schema: schema}, nil
}

func (t *ToolAdapter) Name() string        { return t.tool.Name }
func (t *ToolAdapter) Description() string { return t.tool.Description }
func (t *ToolAdapter) Schema() core.Schema { return t.schema }

// Call invokes the remote tool. Required arguments are checked locally so a
// bad call never leaves the process.
func (t *ToolAdapter) Call(ctx context.Context, args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	for _, key := range t.schema.Required {
		if _, ok := args[key]; !ok {
			return nil, errors.Newf(errors.CodeInvalidArgument, "missing required argument %s", key).
				WithContext("tool", t.tool.Name).
				WithContext("argument", key)
		}
	}

	result, err := t.caller.CallTool(ctx, t.tool.Name, args)
	if err != nil {
		return nil, err
	}
	return toolResultToOutput(result)
}

// SchemaFromMCP converts an MCP input schema into a core.Schema. Properties
// are ordered by name since MCP carries them as an unordered object.
func SchemaFromMCP(tool mcp.Tool) (core.Schema, error) {
	if len(tool.RawInputSchema) > 0 {
		var schema core.Schema
		if err := json.Unmarshal(tool.RawInputSchema, &schema); err != nil {
			return core.Schema{}, err
		}
		if schema.Title == "" {
			schema.Title = tool.Name
		}
		return schema, nil
	}

	in := tool.InputSchema
	if in.Type != "" && in.Type != "object" {
		return core.Schema{}, fmt.Errorf("unsupported input schema type %q", in.Type)
	}
	names := make([]string, 0, len(in.Properties))
	for name := range in.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	props := make([]core.Property, 0, len(names))
	for _, name := range names {
		var p core.Property
		if raw, err := json.Marshal(in.Properties[name]); err == nil {
			if err := json.Unmarshal(raw, &p); err != nil {
				return core.Schema{}, fmt.Errorf("property %s: %w", name, err)
			}
		}
		p.Name = name
		props = append(props, p)
	}
	return core.NewSchema(tool.Name, props...).WithRequired(in.Required...), nil
}

// SchemaToMCP renders a core.Schema as an MCP input schema.
func SchemaToMCP(schema core.Schema) mcp.ToolInputSchema {
	required := schema.Required
	if required == nil {
		required = []string{}
	}
	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: schema.PropertiesMap(),
		Required:   required,
	}
}

func toolResultToOutput(result *mcp.CallToolResult) (any, error) {
	if result == nil {
		return nil, fmt.Errorf("mcp tool result is nil")
	}
	if result.IsError {
		return nil, fmt.Errorf("mcp tool returned error: %s", extractTextContent(result.Content))
	}
	if result.StructuredContent != nil {
		return result.StructuredContent, nil
	}
	if text := extractTextContent(result.Content); text != "" {
		return text, nil
	}
	return result, nil
}

func extractTextContent(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}

var _ core.Tool = (*ToolAdapter)(nil)
