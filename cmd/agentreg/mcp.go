package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"github.com/Keiii25/lean-formal-agent/pkg/config"
	"github.com/Keiii25/lean-formal-agent/pkg/mcp"
	"github.com/Keiii25/lean-formal-agent/pkg/telemetry"
)

type mcpToolResult struct {
	Server string        `json:"server"`
	Tool   mcptypes.Tool `json:"tool"`
	Error  string        `json:"error,omitempty"`
}

func runMCP(ctx context.Context, global globalFlags, cfg *config.Config, args []string) {
	if len(args) == 0 {
		fatal(fmt.Errorf("usage: agentreg mcp <serve|list>"))
	}
	ensureNoArgs(args[1:])
	switch args[0] {
	case "list":
		runMCPList(ctx, global, cfg)
	case "serve":
		runMCPServe(ctx, global, cfg)
	default:
		fatal(fmt.Errorf("unknown mcp subcommand %q; use serve or list", args[0]))
	}
}

// runMCPServe exposes the registry's tools on stdin and stdout. Logs go to
// stderr so they never mix with the protocol stream.
func runMCPServe(ctx context.Context, global globalFlags, cfg *config.Config) {
	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		fail(err, global.JSON)
	}
	defer a.Close()

	srv := mcp.NewServer(serviceName, version, a.Registry.Tools, telemetry.Component("mcp"))
	srv.Sync()
	if err := srv.ServeStdio(); err != nil {
		fail(err, global.JSON)
	}
}

func runMCPList(ctx context.Context, global globalFlags, cfg *config.Config) {
	if len(cfg.MCP.Servers) == 0 {
		fmt.Println("no mcp servers configured")
		return
	}

	serverNames := make([]string, 0, len(cfg.MCP.Servers))
	for name := range cfg.MCP.Servers {
		serverNames = append(serverNames, name)
	}
	sort.Strings(serverNames)

	results := make([]mcpToolResult, 0)
	for _, name := range serverNames {
		results = append(results, listServerTools(ctx, global, name, cfg.MCP.Servers[name])...)
	}

	if global.JSON {
		printJSON(results)
		return
	}
	writer := newTabWriter()
	writeRow(writer, "SERVER", "TOOL", "DESCRIPTION")
	for _, res := range results {
		if res.Error != "" {
			writeRow(writer, res.Server, "ERROR", res.Error)
			continue
		}
		writeRow(writer, res.Server, res.Tool.Name, strings.TrimSpace(res.Tool.Description))
	}
	_ = writer.Flush()
}

func listServerTools(ctx context.Context, global globalFlags, name string, srv config.MCPServerConfig) []mcpToolResult {
	ctx, cancel := withTimeout(ctx, global.Timeout)
	defer cancel()

	client, err := mcp.Dial(ctx, mcp.Endpoint{
		Name:      name,
		Transport: srv.Transport,
		Command:   srv.Command,
		Args:      srv.Args,
		Env:       srv.Env,
		URL:       srv.URL,
	})
	if err != nil {
		return []mcpToolResult{{Server: name, Error: err.Error()}}
	}
	defer client.Close()

	tools, err := client.ListTools(ctx)
	if err != nil {
		return []mcpToolResult{{Server: name, Error: err.Error()}}
	}
	out := make([]mcpToolResult, 0, len(tools))
	for _, t := range tools {
		t.Name = srv.Prefix + t.Name
		out = append(out, mcpToolResult{Server: name, Tool: t})
	}
	return out
}
