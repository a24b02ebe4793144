package mcp

import (
	"context"
	"fmt"
	"os"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// childServerEnv makes the test binary act as an MCP stdio server.
const childServerEnv = "AGENTREG_MCP_CHILD_SERVER"

func TestMain(m *testing.M) {
	if os.Getenv(childServerEnv) == "1" {
		serveChild()
		return
	}
	os.Exit(m.Run())
}

func serveChild() {
	srv := mcpserver.NewMCPServer("child", "1.0.0")
	srv.AddTool(
		mcpgo.NewTool("add",
			mcpgo.WithDescription("adds two numbers"),
			mcpgo.WithNumber("a", mcpgo.Required()),
			mcpgo.WithNumber("b", mcpgo.Required()),
		),
		func(_ context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
			sum := req.GetFloat("a", 0) + req.GetFloat("b", 0)
			return mcpgo.NewToolResultText(fmt.Sprint(sum)), nil
		},
	)
	if err := mcpserver.ServeStdio(srv); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func TestDial_StdioImport(t *testing.T) {
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	ctx := context.Background()
	cl, err := Dial(ctx, Endpoint{
		Name:    "calc",
		Command: exe,
		Env:     []string{childServerEnv + "=1"},
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cl.Close()

	reg := &recordingRegistrar{}
	imported, err := Import(ctx, reg, nil, Source{Name: "calc", Prefix: "calc.", Client: cl})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(imported) != 1 || imported[0].Identifier != "calc.add" {
		t.Fatalf("unexpected import %+v", imported)
	}

	adder := reg.registered["calc.add"]
	if got := adder.Schema().Required; len(got) != 2 {
		t.Errorf("expected both operands required, got %v", got)
	}
	out, err := adder.Call(ctx, map[string]any{"a": 1, "b": 2})
	if err != nil || out != "3" {
		t.Fatalf("calc.add = %v, %v", out, err)
	}
}
