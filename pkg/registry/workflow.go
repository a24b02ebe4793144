package registry

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/Keiii25/lean-formal-agent/pkg/errors"
)

// AgentSpec is an agent persona plus the tools it may call. Tools holds
// identifiers or derived ids; registration rewrites identifiers to ids.
type AgentSpec struct {
	Role      string   `json:"role" yaml:"role"`
	Goal      string   `json:"goal" yaml:"goal"`
	Backstory string   `json:"backstory" yaml:"backstory"`
	Tools     []string `json:"agent_tools" yaml:"agent_tools"`
}

// TaskSpec is one task of a workflow. Description may reference workflow
// arguments as {name}. Context lists the tasks it depends on.
type TaskSpec struct {
	Description    string   `json:"description" yaml:"description"`
	ExpectedOutput string   `json:"expected_output" yaml:"expected_output"`
	Agent          string   `json:"agent" yaml:"agent"`
	Context        []string `json:"context" yaml:"context"`
}

// Workflow is a named graph of agents and tasks. It is stored content
// addressed: its id derives from Name and Description only.
type Workflow struct {
	Name        string               `json:"name" yaml:"name"`
	Description string               `json:"description" yaml:"description"`
	Arguments   []string             `json:"arguments" yaml:"arguments"`
	Agents      map[string]AgentSpec `json:"agents" yaml:"agents"`
	Tasks       map[string]TaskSpec  `json:"tasks" yaml:"tasks"`
}

// ID returns the derived id the workflow is stored under.
func (w Workflow) ID() string {
	return DeriveID(w.Name, w.Description)
}

// Clone returns a deep copy with non-nil collections.
func (w Workflow) Clone() Workflow {
	out := Workflow{
		Name:        w.Name,
		Description: w.Description,
		Arguments:   append([]string{}, w.Arguments...),
		Agents:      make(map[string]AgentSpec, len(w.Agents)),
		Tasks:       make(map[string]TaskSpec, len(w.Tasks)),
	}
	for name, a := range w.Agents {
		a.Tools = append([]string{}, a.Tools...)
		out.Agents[name] = a
	}
	for name, t := range w.Tasks {
		t.Context = append([]string{}, t.Context...)
		out.Tasks[name] = t
	}
	return out
}

// Dependencies maps every task to the tasks in its context.
func (w Workflow) Dependencies() map[string][]string {
	deps := make(map[string][]string, len(w.Tasks))
	for name, t := range w.Tasks {
		deps[name] = t.Context
	}
	return deps
}

// AcceptsArgument reports whether name is a declared argument.
func (w Workflow) AcceptsArgument(name string) bool {
	for _, arg := range w.Arguments {
		if arg == name {
			return true
		}
	}
	return false
}

// AgentNames returns the declared agent names in lexicographic order.
func (w Workflow) AgentNames() []string {
	return sortedKeys(w.Agents)
}

// TaskNames returns the declared task names in lexicographic order.
func (w Workflow) TaskNames() []string {
	return sortedKeys(w.Tasks)
}

// checkAgents fails with CodeUnknownAgent for the first task, by name,
// whose agent is not declared.
func (w Workflow) checkAgents() error {
	for _, name := range w.TaskNames() {
		agent := w.Tasks[name].Agent
		if _, ok := w.Agents[agent]; !ok {
			return errors.Newf(errors.CodeUnknownAgent, "agent %s not defined", agent).
				WithContext("task", name).
				WithContext("agent", agent).
				WithContext("valid", w.AgentNames())
		}
	}
	return nil
}

// Payload returns the JSON object stored in the vector index.
func (w Workflow) Payload() (map[string]any, error) {
	data, err := json.Marshal(w.Clone())
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ParseWorkflow decodes a workflow document supplied by a caller. Documents
// that do not match the workflow shape fail with CodeMalformedRequest.
func ParseWorkflow(data []byte) (Workflow, error) {
	w, err := decodeWorkflow(data)
	if err != nil {
		return Workflow{}, errors.New(errors.CodeMalformedRequest, "workflow document is malformed", err)
	}
	return w, nil
}

// workflowFromPayload decodes a stored payload. A payload that does not
// match the workflow shape fails with CodeCorruptWorkflow.
func workflowFromPayload(id string, payload map[string]any) (Workflow, error) {
	data, err := json.Marshal(payload)
	if err == nil {
		var w Workflow
		if w, err = decodeWorkflow(data); err == nil {
			return w, nil
		}
	}
	return Workflow{}, errors.New(errors.CodeCorruptWorkflow, "stored workflow does not decode", err).
		WithContext("workflow_id", id)
}

//go:embed workflow.schema.json
var workflowSchemaJSON []byte

var workflowSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("workflow.json", doc); err != nil {
		return nil, err
	}
	return c.Compile("workflow.json")
})

func decodeWorkflow(data []byte) (Workflow, error) {
	schema, err := workflowSchema()
	if err != nil {
		return Workflow{}, fmt.Errorf("compile workflow schema: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return Workflow{}, err
	}
	if err := schema.Validate(inst); err != nil {
		return Workflow{}, err
	}
	var w Workflow
	if err := json.Unmarshal(data, &w); err != nil {
		return Workflow{}, err
	}
	return w.Clone(), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
