// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Keiii25/lean-formal-agent/pkg/registry"
)

type planResult struct {
	Format     string     `json:"format"`
	WorkflowID string     `json:"workflow_id"`
	Name       string     `json:"name"`
	Levels     [][]string `json:"levels"`
	Content    string     `json:"content,omitempty"`
	Tasks      int        `json:"tasks"`
	Edges      int        `json:"edges"`
}

// buildPlan validates w's task graph and renders it in the given format.
func buildPlan(w registry.Workflow, format string) (planResult, error) {
	levels, err := registry.Plan(w)
	if err != nil {
		return planResult{}, err
	}
	result := planResult{
		Format:     format,
		WorkflowID: w.ID(),
		Name:       w.Name,
		Levels:     levels,
		Tasks:      len(w.Tasks),
		Edges:      len(taskEdges(w)),
	}
	switch format {
	case "levels":
		result.Content = formatLevels(levels)
	case "mermaid":
		result.Content = toMermaid(w)
	case "dot":
		result.Content = toDot(w)
	case "json":
	default:
		return planResult{}, NewInvalidArgumentError("--output", fmt.Sprintf("unknown format %q; use levels, mermaid, dot or json", format))
	}
	return result, nil
}

type taskEdge struct {
	From, To string
}

// taskEdges returns one edge per context entry, from the dependency to the
// task that reads it, ordered by task then dependency.
func taskEdges(w registry.Workflow) []taskEdge {
	var edges []taskEdge
	for _, name := range w.TaskNames() {
		deps := append([]string(nil), w.Tasks[name].Context...)
		sort.Strings(deps)
		for _, dep := range deps {
			edges = append(edges, taskEdge{From: dep, To: name})
		}
	}
	return edges
}

func formatLevels(levels [][]string) string {
	var sb strings.Builder
	for i, level := range levels {
		fmt.Fprintf(&sb, "%d: %s\n", i+1, strings.Join(level, ", "))
	}
	return sb.String()
}

func toMermaid(w registry.Workflow) string {
	var sb strings.Builder
	sb.WriteString("graph TD\n")

	for _, name := range w.TaskNames() {
		task := w.Tasks[name]
		label := name
		if role := w.Agents[task.Agent].Role; role != "" {
			label = fmt.Sprintf("%s: %s", name, role)
		}
		fmt.Fprintf(&sb, "    %s[%s]\n", mermaidID(name), label)
	}
	for _, e := range taskEdges(w) {
		fmt.Fprintf(&sb, "    %s --> %s\n", mermaidID(e.From), mermaidID(e.To))
	}
	// Tasks with no context run first.
	for _, name := range w.TaskNames() {
		if len(w.Tasks[name].Context) == 0 {
			fmt.Fprintf(&sb, "    style %s fill:#90EE90\n", mermaidID(name))
		}
	}
	return sb.String()
}

func toDot(w registry.Workflow) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "digraph %q {\n", w.Name)
	sb.WriteString("    rankdir=TB;\n")
	sb.WriteString("    node [shape=box, style=rounded];\n")

	for _, name := range w.TaskNames() {
		label := name
		if role := w.Agents[w.Tasks[name].Agent].Role; role != "" {
			label = fmt.Sprintf("%s\\n(%s)", name, role)
		}
		fmt.Fprintf(&sb, "    %q [label=\"%s\"];\n", name, label)
	}
	for _, e := range taskEdges(w) {
		fmt.Fprintf(&sb, "    %q -> %q;\n", e.From, e.To)
	}
	sb.WriteString("}\n")
	return sb.String()
}

// mermaidID replaces characters mermaid does not accept in node ids.
func mermaidID(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
