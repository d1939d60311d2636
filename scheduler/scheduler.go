// Package scheduler groups the tool calls of one model response into
// batches that may run concurrently. Batches run in order; calls inside a
// batch have their dependencies satisfied by earlier batches and never
// conflict with each other.
package scheduler

import (
	"fmt"
	"strings"

	"github.com/linanwx/edgeagent/logger"
	"github.com/linanwx/edgeagent/tools"
)

// Batch priorities.
const (
	singlePriority   = 1.0
	minPriority      = 0.1
	degradedPriority = 0.01
)

// RelationshipLookup resolves the scheduling hints of a tool by name.
type RelationshipLookup func(name string) (tools.Relationships, bool)

// NameVariant rewrites a tool name the model may have guessed wrong.
type NameVariant func(name string) string

// DefaultNameVariants are tried in order when a name is not registered.
var DefaultNameVariants = []NameVariant{
	replacePrefix("list_", "get_"),
	replacePrefix("get_", "list_"),
	stripPrefix("device_"),
	stripPrefix("rule_"),
	stripPrefix("agent_"),
}

func replacePrefix(from, to string) NameVariant {
	return func(name string) string {
		if !strings.HasPrefix(name, from) {
			return name
		}
		return to + strings.TrimPrefix(name, from)
	}
}

func stripPrefix(prefix string) NameVariant {
	return replacePrefix(prefix, "")
}

// Batch is a set of calls that may run concurrently.
type Batch struct {
	Calls []tools.Call
	// Priority is the average number of dependents of the batch members,
	// at least 0.1. It is informational; batches always run in order.
	Priority float64
	// Degraded marks a batch holding a call whose dependencies could not
	// be satisfied.
	Degraded bool
}

// Plan is an ordered list of batches.
type Plan struct {
	Batches    []Batch
	TotalCalls int
}

// Planner builds execution plans.
type Planner struct {
	Lookup   RelationshipLookup
	Variants []NameVariant
}

// New returns a Planner resolving names through lookup with the default
// name variants.
func New(lookup RelationshipLookup) *Planner {
	return &Planner{Lookup: lookup, Variants: DefaultNameVariants}
}

// ForRegistry returns a Planner backed by the registry's tool metadata.
func ForRegistry(r *tools.Registry) *Planner {
	return New(r.Relationships)
}

type node struct {
	call       tools.Call
	rel        tools.Relationships
	deps       map[int]bool
	dependents map[int]bool
}

// Plan groups calls into batches. Every call appears exactly once in the
// result. Calls caught in a dependency cycle are appended as singleton
// batches instead of being dropped.
func (p *Planner) Plan(calls []tools.Call) Plan {
	switch len(calls) {
	case 0:
		return Plan{}
	case 1:
		return Plan{
			Batches:    []Batch{{Calls: []tools.Call{calls[0]}, Priority: singlePriority}},
			TotalCalls: 1,
		}
	}

	nodes := p.buildGraph(calls)
	conflicts := detectConflicts(nodes)
	if len(conflicts) > 0 {
		logger.Debug("exclusive tool calls, keeping the earlier one first", "pairs", len(conflicts))
	}

	plan := Plan{TotalCalls: len(calls)}
	placed := make([]bool, len(nodes))
	for {
		var members []int
		for i, n := range nodes {
			if placed[i] || !depsPlaced(n, placed) {
				continue
			}
			if conflictsWithAny(i, members, conflicts) {
				continue
			}
			members = append(members, i)
		}
		if len(members) == 0 {
			break
		}

		batch := Batch{Calls: make([]tools.Call, 0, len(members))}
		dependents := 0
		for _, i := range members {
			batch.Calls = append(batch.Calls, nodes[i].call)
			dependents += len(nodes[i].dependents)
		}
		batch.Priority = max(float64(dependents)/float64(len(members)), minPriority)
		plan.Batches = append(plan.Batches, batch)

		for _, i := range members {
			placed[i] = true
		}
	}

	for i, n := range nodes {
		if placed[i] {
			continue
		}
		logger.Warn("tool call has unsatisfiable dependencies, running it last",
			"tool", n.call.Name, "callID", n.call.ID)
		plan.Batches = append(plan.Batches, Batch{
			Calls:    []tools.Call{n.call},
			Priority: degradedPriority,
			Degraded: true,
		})
	}
	return plan
}

func (p *Planner) buildGraph(calls []tools.Call) []*node {
	nodes := make([]*node, len(calls))
	for i, c := range calls {
		nodes[i] = &node{
			call:       c,
			rel:        p.relationships(c.Name),
			deps:       make(map[int]bool),
			dependents: make(map[int]bool),
		}
	}

	addEdge := func(dependent, prerequisite int) {
		nodes[dependent].deps[prerequisite] = true
		nodes[prerequisite].dependents[dependent] = true
	}

	for i, n := range nodes {
		for _, name := range n.rel.CallAfter {
			for _, j := range callsNamed(nodes, name, i) {
				addEdge(i, j)
			}
		}
		for _, name := range n.rel.OutputTo {
			// n feeds every call of name, so those wait for n.
			for j, m := range nodes {
				if j == i || m.call.Name != name {
					continue
				}
				if name == n.call.Name && j < i {
					continue
				}
				addEdge(j, i)
			}
		}
	}
	return nodes
}

// callsNamed returns the positions of calls to name other than self. When
// name is the tool of self, only earlier calls count so repeated calls of
// one tool form a chain instead of a cycle.
func callsNamed(nodes []*node, name string, self int) []int {
	var out []int
	for j, n := range nodes {
		if j == self || n.call.Name != name {
			continue
		}
		if name == nodes[self].call.Name && j > self {
			continue
		}
		out = append(out, j)
	}
	return out
}

func (p *Planner) relationships(name string) tools.Relationships {
	if p.Lookup == nil {
		return tools.Relationships{}
	}
	if rel, ok := p.Lookup(name); ok {
		return rel
	}
	for _, variant := range p.Variants {
		alt := variant(name)
		if alt == name {
			continue
		}
		if rel, ok := p.Lookup(alt); ok {
			return rel
		}
	}
	return tools.Relationships{}
}

type pair struct{ a, b int }

func detectConflicts(nodes []*node) map[pair]bool {
	conflicts := make(map[pair]bool)
	for i := range nodes {
		for j := i + 1; j < len(nodes); j++ {
			if contains(nodes[i].rel.ExclusiveWith, nodes[j].call.Name) ||
				contains(nodes[j].rel.ExclusiveWith, nodes[i].call.Name) {
				conflicts[pair{i, j}] = true
			}
		}
	}
	return conflicts
}

func conflictsWithAny(i int, members []int, conflicts map[pair]bool) bool {
	for _, m := range members {
		if conflicts[pair{min(i, m), max(i, m)}] {
			return true
		}
	}
	return false
}

func depsPlaced(n *node, placed []bool) bool {
	for d := range n.deps {
		if !placed[d] {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Validate reports an error unless every call appears exactly once across
// the plan's batches and TotalCalls matches.
func (p Plan) Validate(calls []tools.Call) error {
	if p.TotalCalls != len(calls) {
		return fmt.Errorf("plan covers %d calls, want %d", p.TotalCalls, len(calls))
	}
	pending := make(map[string]int, len(calls))
	for _, c := range calls {
		pending[callKey(c)]++
	}
	for bi, b := range p.Batches {
		if len(b.Calls) == 0 {
			return fmt.Errorf("batch %d is empty", bi)
		}
		for _, c := range b.Calls {
			k := callKey(c)
			if pending[k] == 0 {
				return fmt.Errorf("batch %d: unexpected or repeated call %s (%s)", bi, c.ID, c.Name)
			}
			pending[k]--
		}
	}
	for _, c := range calls {
		if pending[callKey(c)] > 0 {
			return fmt.Errorf("call %s (%s) missing from plan", c.ID, c.Name)
		}
	}
	return nil
}

func callKey(c tools.Call) string {
	return c.ID + "\x00" + c.Name
}
