// Package builtin holds the tools the server registers on start.
package builtin

import (
	"context"

	"github.com/Keiii25/lean-formal-agent/pkg/core"
	"github.com/Keiii25/lean-formal-agent/pkg/tool"
)

// EchoName is the identifier Echo is registered under.
const EchoName = "Echo"

// Echo returns a tool that returns its text argument unchanged.
func Echo() *tool.Func {
	schema := core.NewSchema("EchoInput",
		core.Property{Name: "text", Type: "string", Description: "Text to return"},
	).WithRequired("text")

	return tool.MustFunc(EchoName, "echoes input", schema, func(_ context.Context, args map[string]any) (any, error) {
		return args["text"], nil
	})
}

// All returns every builtin tool.
func All() []core.Tool {
	return []core.Tool{Echo()}
}
