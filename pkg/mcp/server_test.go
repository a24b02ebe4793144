package mcp

import (
	"context"
	"sort"
	"strings"
	"testing"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Keiii25/lean-formal-agent/pkg/core"
	"github.com/Keiii25/lean-formal-agent/pkg/errors"
	"github.com/Keiii25/lean-formal-agent/pkg/tool"
)

type stubTools struct {
	descs   []tool.Descriptor
	invoked []string
}

func (s *stubTools) Descriptors() []tool.Descriptor { return s.descs }

func (s *stubTools) Invoke(_ context.Context, id string, args map[string]any) (any, error) {
	s.invoked = append(s.invoked, id)
	switch id {
	case "echo-id":
		return args["text"], nil
	case "stats-id":
		return map[string]any{"count": 2}, nil
	}
	return nil, errors.New(errors.CodeUnknownTool, "tool not registered", nil)
}

func newExportedServer(t *testing.T) (*Client, *stubTools) {
	t.Helper()
	tools := &stubTools{descs: []tool.Descriptor{
		{
			ClassName:   "Echo",
			ToolID:      "echo-id",
			Description: "echoes input",
			Schema:      core.NewSchema("Echo", core.Property{Name: "text", Type: "string"}).WithRequired("text"),
		},
		{ClassName: "Stats", ToolID: "stats-id", Description: "counts things"},
		{ClassName: "Gone", ToolID: "gone-id", Description: "no longer here"},
	}}
	srv := NewServer("agentreg-test", "1.0.0", tools, nil)
	if n := srv.Sync(); n != 3 {
		t.Fatalf("expected 3 published tools, got %d", n)
	}

	httpServer := mcpserver.NewTestStreamableHTTPServer(srv.mcpServer)
	t.Cleanup(httpServer.Close)

	client, err := NewClientWithStreamableHTTP(context.Background(), httpServer.URL, WithRetry(0, 0))
	if err != nil {
		t.Fatalf("NewClientWithStreamableHTTP error: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, tools
}

func TestServer_ExportsRegisteredTools(t *testing.T) {
	client, _ := newExportedServer(t)

	listed, err := client.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools error: %v", err)
	}
	var names []string
	for _, tl := range listed {
		names = append(names, tl.Name)
	}
	sort.Strings(names)
	if got := strings.Join(names, ","); got != "Echo,Gone,Stats" {
		t.Fatalf("unexpected tools %s", got)
	}
	for _, tl := range listed {
		if tl.Name == "Echo" && (len(tl.InputSchema.Required) != 1 || tl.InputSchema.Required[0] != "text") {
			t.Fatalf("expected Echo schema to be exported, got %+v", tl.InputSchema)
		}
	}
}

func TestServer_RoutesCallsByToolID(t *testing.T) {
	client, tools := newExportedServer(t)
	ctx := context.Background()

	result, err := client.CallTool(ctx, "Echo", map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("CallTool error: %v", err)
	}
	if out, err := toolResultToOutput(result); err != nil || out != "hi" {
		t.Fatalf("expected hi, got %v (%v)", out, err)
	}

	result, err = client.CallTool(ctx, "Stats", nil)
	if err != nil {
		t.Fatalf("CallTool error: %v", err)
	}
	if out, _ := toolResultToOutput(result); out != `{"count":2}` {
		t.Fatalf("expected JSON text, got %v", out)
	}

	result, err = client.CallTool(ctx, "Gone", nil)
	if err != nil {
		t.Fatalf("CallTool error: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected error result, got %+v", result)
	}

	if got := strings.Join(tools.invoked, ","); got != "echo-id,stats-id,gone-id" {
		t.Fatalf("unexpected invocation order %s", got)
	}
}

func TestServer_AdapterRoundTrip(t *testing.T) {
	client, _ := newExportedServer(t)
	ctx := context.Background()

	listed, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools error: %v", err)
	}
	for _, tl := range listed {
		if tl.Name != "Echo" {
			continue
		}
		adapter, err := NewToolAdapter(tl, client)
		if err != nil {
			t.Fatalf("NewToolAdapter error: %v", err)
		}
		out, err := adapter.Call(ctx, map[string]any{"text": "round trip"})
		if err != nil || out != "round trip" {
			t.Fatalf("expected round trip, got %v (%v)", out, err)
		}
		return
	}
	t.Fatalf("Echo not exported")
}
