package tool

import (
	"context"

	"github.com/Keiii25/lean-formal-agent/pkg/core"
)

// InvokeFunc executes the tool described by d with args.
type InvokeFunc func(ctx context.Context, d Descriptor, args map[string]any) (any, error)

// Virtual exposes a remote or registry-hosted tool as a core.Tool. It
// reports the descriptor's name, description and schema and forwards
// arguments verbatim to its callback. Callback errors are returned as is.
type Virtual struct {
	desc   Descriptor
	invoke InvokeFunc
}

// NewVirtual builds a proxy for d.
func NewVirtual(d Descriptor, invoke InvokeFunc) *Virtual {
	return &Virtual{desc: d, invoke: invoke}
}

func (v *Virtual) Name() string           { return v.desc.ClassName }
func (v *Virtual) Description() string    { return v.desc.Description }
func (v *Virtual) Schema() core.Schema    { return v.desc.Schema }
func (v *Virtual) Descriptor() Descriptor { return v.desc }

// Call forwards args to the callback.
func (v *Virtual) Call(ctx context.Context, args map[string]any) (any, error) {
	return v.invoke(ctx, v.desc, args)
}

var (
	_ core.Tool = (*Virtual)(nil)
	_ core.Tool = (*Func)(nil)
)
