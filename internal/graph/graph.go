// Package graph resolves depends_on ordering among branches queued for
// integration. Dependencies on already-merged branches are satisfied;
// dependencies on other queued branches are waits, which can form
// cycles that stall the queue until an operator intervenes.
package graph

import (
	"sort"

	"github.com/mood-agency/funny-sub004/internal/manifest"
)

// Queue indexes ready entries by the state of their dependencies.
type Queue struct {
	entries []manifest.ReadyEntry
	// waits maps a branch to dependencies that are queued but not merged.
	waits map[string][]string
	// unresolved maps a branch to dependencies that are neither merged
	// nor queued.
	unresolved map[string][]string
	// order holds queued branch names sorted for stable traversal.
	order []string
}

// Build indexes entries against the set of branches already merged.
func Build(entries []manifest.ReadyEntry, merged map[string]bool) *Queue {
	q := &Queue{
		entries:    entries,
		waits:      make(map[string][]string, len(entries)),
		unresolved: make(map[string][]string),
	}
	queued := make(map[string]bool, len(entries))
	for _, e := range entries {
		queued[e.Branch] = true
		q.order = append(q.order, e.Branch)
	}
	sort.Strings(q.order)

	for _, e := range entries {
		for _, dep := range e.DependsOn {
			switch {
			case merged[dep]:
			case queued[dep]:
				q.waits[e.Branch] = append(q.waits[e.Branch], dep)
			default:
				q.unresolved[e.Branch] = append(q.unresolved[e.Branch], dep)
			}
		}
	}
	return q
}

// Eligible returns the entries whose dependencies have all merged, in
// input order. Selection among them is the caller's concern.
func (q *Queue) Eligible() []manifest.ReadyEntry {
	var out []manifest.ReadyEntry
	for _, e := range q.entries {
		if len(q.waits[e.Branch]) == 0 && len(q.unresolved[e.Branch]) == 0 {
			out = append(out, e)
		}
	}
	return out
}

// Stalled returns wait cycles among queued branches. Every branch in a
// cycle waits on another member, so none can ever become eligible.
// Each cycle is reported once, rotated to start at its smallest branch.
func (q *Queue) Stalled() [][]string {
	const (
		white = iota
		gray
		black
	)
	colors := make(map[string]int, len(q.order))
	var cycles [][]string
	var stack []string

	var visit func(branch string)
	visit = func(branch string) {
		colors[branch] = gray
		stack = append(stack, branch)
		for _, dep := range q.waits[branch] {
			switch colors[dep] {
			case gray:
				// Back edge; the cycle is the stack from dep onward.
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == dep {
						cycles = append(cycles, rotateToMin(append([]string(nil), stack[i:]...)))
						break
					}
				}
			case white:
				visit(dep)
			}
		}
		stack = stack[:len(stack)-1]
		colors[branch] = black
	}

	for _, branch := range q.order {
		if colors[branch] == white {
			visit(branch)
		}
	}
	return cycles
}

// Unresolved maps branches to dependencies that nothing queued or
// merged provides. The dependency may still be running a pipeline, or
// may never arrive.
func (q *Queue) Unresolved() map[string][]string {
	return q.unresolved
}

// rotateToMin rotates the cycle so its lexicographically smallest
// branch comes first, giving a canonical form for logs and tests.
func rotateToMin(cycle []string) []string {
	if len(cycle) < 2 {
		return cycle
	}
	min := 0
	for i, b := range cycle {
		if b < cycle[min] {
			min = i
		}
	}
	return append(cycle[min:], cycle[:min]...)
}
