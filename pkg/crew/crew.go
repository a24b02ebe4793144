// Package crew describes executable agent crews and the runtimes that run
// them.
package crew

import (
	"context"
	"fmt"
	"regexp"

	"github.com/Keiii25/lean-formal-agent/pkg/core"
	"github.com/Keiii25/lean-formal-agent/pkg/errors"
)

// Process selects how a crew's tasks are scheduled.
type Process string

const (
	// ProcessSequential runs tasks one at a time in slice order.
	ProcessSequential Process = "sequential"
)

// Agent is the executor persona a task is assigned to.
type Agent struct {
	Name      string
	Role      string
	Goal      string
	Backstory string
	Tools     []core.Tool
}

// Tool returns the agent tool with the given name.
func (a *Agent) Tool(name string) (core.Tool, bool) {
	for _, t := range a.Tools {
		if t.Name() == name {
			return t, true
		}
	}
	return nil, false
}

// Task is one unit of work. Context lists the tasks whose outputs it reads.
type Task struct {
	Name           string
	Description    string
	ExpectedOutput string
	Agent          *Agent
	Context        []*Task
}

// Crew is a set of agents and the tasks they perform.
type Crew struct {
	Agents  []*Agent
	Tasks   []*Task
	Process Process
}

// Validate checks that every task has an agent and that context tasks
// appear earlier in the task list.
func (c Crew) Validate() error {
	if c.Process != "" && c.Process != ProcessSequential {
		return errors.Newf(errors.CodeInvalidArgument, "unsupported process %q", c.Process)
	}
	seen := make(map[*Task]bool, len(c.Tasks))
	for _, t := range c.Tasks {
		if t.Agent == nil {
			return errors.Newf(errors.CodeUnknownAgent, "task %q has no agent", t.Name).
				WithContext("task", t.Name)
		}
		for _, dep := range t.Context {
			if !seen[dep] {
				return errors.Newf(errors.CodeDanglingReference, "task %q reads %q before it runs", t.Name, dep.Name).
					WithContext("node", t.Name).
					WithContext("missing", dep.Name)
			}
		}
		seen[t] = true
	}
	return nil
}

// Runtime runs a crew with the given inputs and returns its final output.
type Runtime interface {
	Run(ctx context.Context, c Crew, inputs map[string]any) (any, error)
}

// RuntimeFunc adapts a function to Runtime.
type RuntimeFunc func(ctx context.Context, c Crew, inputs map[string]any) (any, error)

// Run implements Runtime.
func (f RuntimeFunc) Run(ctx context.Context, c Crew, inputs map[string]any) (any, error) {
	return f(ctx, c, inputs)
}

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_\-]*)\}`)

// Interpolate replaces {name} placeholders with inputs. Placeholders without
// a matching input are left as written.
func Interpolate(template string, inputs map[string]any) string {
	if len(inputs) == 0 {
		return template
	}
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := inputs[key]
		if !ok {
			return m
		}
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	})
}
