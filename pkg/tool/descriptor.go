// Package tool provides the concrete core.Tool implementations: native
// functions and registry-backed virtual proxies.
package tool

import (
	"github.com/Keiii25/lean-formal-agent/pkg/core"
)

// Descriptor is the serialisable projection of a registered tool. It never
// carries the implementation; that stays with the registry that owns it.
type Descriptor struct {
	ClassName   string      `json:"class_name"`
	ToolID      string      `json:"tool_id"`
	Description string      `json:"description"`
	Schema      core.Schema `json:"model_dict"`
}

// Describe builds the descriptor of t under the given derived id.
func Describe(t core.Tool, id string) Descriptor {
	return Descriptor{
		ClassName:   t.Name(),
		ToolID:      id,
		Description: t.Description(),
		Schema:      t.Schema(),
	}
}
