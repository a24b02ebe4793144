package tool

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/Keiii25/lean-formal-agent/pkg/core"
	"github.com/Keiii25/lean-formal-agent/pkg/errors"
)

// Validator checks tool arguments against a compiled JSON Schema.
type Validator struct {
	schema *jsonschema.Schema
}

// CompileSchema compiles s into a Validator.
func CompileSchema(s core.Schema) (*Validator, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode schema: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// Validate returns CodeInvalidArgument when args do not satisfy the schema.
func (v *Validator) Validate(args map[string]any) error {
	if v == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return errors.New(errors.CodeInvalidArgument, "arguments are not JSON encodable", err)
	}
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		return errors.New(errors.CodeInvalidArgument, "arguments are not JSON encodable", err)
	}
	if err := v.schema.Validate(inst); err != nil {
		return errors.New(errors.CodeInvalidArgument, "arguments do not match the tool schema", err)
	}
	return nil
}
