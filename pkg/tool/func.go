package tool

import (
	"context"

	"github.com/Keiii25/lean-formal-agent/pkg/core"
)

// Handler is the body of a native tool.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Func is a natively implemented tool. Arguments are validated against the
// declared schema before the handler runs.
type Func struct {
	name        string
	description string
	schema      core.Schema
	validator   *Validator
	handler     Handler
}

// NewFunc builds a native tool; it fails when the schema does not compile.
func NewFunc(name, description string, schema core.Schema, handler Handler) (*Func, error) {
	v, err := CompileSchema(schema)
	if err != nil {
		return nil, err
	}
	if schema.Title == "" {
		schema.Title = name
	}
	return &Func{
		name:        name,
		description: description,
		schema:      schema,
		validator:   v,
		handler:     handler,
	}, nil
}

// MustFunc is NewFunc for statically declared tools.
func MustFunc(name, description string, schema core.Schema, handler Handler) *Func {
	f, err := NewFunc(name, description, schema, handler)
	if err != nil {
		panic(err)
	}
	return f
}

func (f *Func) Name() string        { return f.name }
func (f *Func) Description() string { return f.description }
func (f *Func) Schema() core.Schema { return f.schema }

// Call validates args and runs the handler.
func (f *Func) Call(ctx context.Context, args map[string]any) (any, error) {
	if err := f.validator.Validate(args); err != nil {
		return nil, err
	}
	return f.handler(ctx, args)
}
