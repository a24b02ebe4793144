package core

import "context"

// Tool is a named, independently invocable capability. Native
// implementations and registry-backed proxies both satisfy it, so an
// execution runtime never needs to know which one it holds.
type Tool interface {
	Name() string
	Description() string
	Schema() Schema
	Call(ctx context.Context, args map[string]any) (any, error)
}
