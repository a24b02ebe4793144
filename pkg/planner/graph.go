// Package planner orders task dependency graphs.
package planner

import (
	"sort"

	"github.com/Keiii25/lean-formal-agent/pkg/errors"
)

// Sort returns every node of deps in an order where each node appears after
// all of the nodes it depends on. deps maps a node name to the names it
// depends on.
//
// Ordering is deterministic: nodes that are ready at the start are emitted
// in lexicographic order, and when a node is emitted its dependents are
// examined in lexicographic order, each joining the back of the ready queue
// once its last dependency has been emitted.
//
// Sort fails with CodeDanglingReference when a dependency is not itself a
// node and with CodeCycleDetected when no complete order exists; it never
// returns a partial order.
func Sort(deps map[string][]string) ([]string, error) {
	names := sortedNames(deps)

	for _, name := range names {
		for _, dep := range deps[name] {
			if _, ok := deps[dep]; !ok {
				return nil, errors.Newf(errors.CodeDanglingReference,
					"%q depends on undeclared %q", name, dep).
					WithContext("node", name).
					WithContext("missing", dep)
			}
		}
	}

	pending := make(map[string]int, len(names))
	dependents := make(map[string][]string, len(names))
	for _, name := range names {
		seen := make(map[string]struct{}, len(deps[name]))
		for _, dep := range deps[name] {
			if _, dup := seen[dep]; dup {
				continue
			}
			seen[dep] = struct{}{}
			pending[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	queue := make([]string, 0, len(names))
	for _, name := range names {
		if pending[name] == 0 {
			queue = append(queue, name)
		}
	}

	order := make([]string, 0, len(names))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		order = append(order, name)
		for _, next := range dependents[name] {
			pending[next]--
			if pending[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) < len(names) {
		node := nodeOnCycle(names, deps, pending)
		return nil, errors.Newf(errors.CodeCycleDetected, "dependency cycle through %q", node).
			WithContext("node", node)
	}
	return order, nil
}

// Levels groups nodes by dependency depth: level 0 holds nodes without
// dependencies, level n nodes whose deepest dependency sits at level n-1.
// Nodes within a level are in lexicographic order.
func Levels(deps map[string][]string) ([][]string, error) {
	order, err := Sort(deps)
	if err != nil {
		return nil, err
	}
	depth := make(map[string]int, len(order))
	maxDepth := 0
	for _, name := range order {
		d := 0
		for _, dep := range deps[name] {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[name] = d
		if d > maxDepth {
			maxDepth = d
		}
	}
	levels := make([][]string, maxDepth+1)
	for _, name := range sortedNames(deps) {
		levels[depth[name]] = append(levels[depth[name]], name)
	}
	if len(order) == 0 {
		return nil, nil
	}
	return levels, nil
}

// nodeOnCycle walks unresolved dependency edges from the first unresolved
// node until a node repeats. Every unresolved node has at least one
// unresolved dependency, so the walk always closes a cycle.
func nodeOnCycle(names []string, deps map[string][]string, pending map[string]int) string {
	start := ""
	for _, name := range names {
		if pending[name] > 0 {
			start = name
			break
		}
	}
	visited := make(map[string]bool)
	current := start
	for !visited[current] {
		visited[current] = true
		next := ""
		for _, dep := range deps[current] {
			if pending[dep] > 0 {
				next = dep
				break
			}
		}
		if next == "" {
			return current
		}
		current = next
	}
	return current
}

func sortedNames(deps map[string][]string) []string {
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
