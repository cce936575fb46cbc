package engine

import (
	"math"
	"sort"
)

// NodeStatus is the resolution outcome of a single node in one sort.
type NodeStatus string

const (
	// NodeStatusOK means the node was placed in the result.
	NodeStatusOK NodeStatus = ""

	// NodeStatusCyclic means the node takes part in a dependency cycle.
	NodeStatusCyclic NodeStatus = "cyclic"

	// NodeStatusMissing means the node declares a dependency outside the node set.
	NodeStatusMissing NodeStatus = "missing"
)

// NodeIssues holds the problems found for one node during a sort.
type NodeIssues struct {
	// Cyclic lists the nodes this node forms a cycle with.
	Cyclic []ModuleID `json:"cyclic,omitempty"`

	// Missing lists dependencies absent from the node set.
	Missing []ModuleID `json:"missing,omitempty"`
}

// ResolutionContext is the transient per-sort record of cyclic and missing dependencies.
// A nil context reports every node as resolved.
type ResolutionContext struct {
	issues map[ModuleID]*NodeIssues
}

func newResolutionContext() *ResolutionContext {
	return &ResolutionContext{issues: make(map[ModuleID]*NodeIssues)}
}

func (c *ResolutionContext) entry(id ModuleID) *NodeIssues {
	n, ok := c.issues[id]
	if !ok {
		n = &NodeIssues{}
		c.issues[id] = n
	}
	return n
}

func (c *ResolutionContext) addCyclic(id, with ModuleID) {
	n := c.entry(id)
	for _, existing := range n.Cyclic {
		if existing == with {
			return
		}
	}
	n.Cyclic = append(n.Cyclic, with)
}

func (c *ResolutionContext) addMissing(id, dep ModuleID) {
	n := c.entry(id)
	for _, existing := range n.Missing {
		if existing == dep {
			return
		}
	}
	n.Missing = append(n.Missing, dep)
}

// Flagged reports whether the node carries any issue.
func (c *ResolutionContext) Flagged(id ModuleID) bool {
	if c == nil {
		return false
	}
	n, ok := c.issues[id]
	return ok && (len(n.Cyclic) > 0 || len(n.Missing) > 0)
}

// Status returns the node's resolution status. Cycles take precedence over missing dependencies.
func (c *ResolutionContext) Status(id ModuleID) NodeStatus {
	if c == nil {
		return NodeStatusOK
	}
	n, ok := c.issues[id]
	switch {
	case !ok:
		return NodeStatusOK
	case len(n.Cyclic) > 0:
		return NodeStatusCyclic
	case len(n.Missing) > 0:
		return NodeStatusMissing
	default:
		return NodeStatusOK
	}
}

// Cyclic returns the nodes id forms a cycle with.
func (c *ResolutionContext) Cyclic(id ModuleID) []ModuleID {
	if c == nil || c.issues[id] == nil {
		return nil
	}
	return c.issues[id].Cyclic
}

// Missing returns the dependencies of id absent from the node set.
func (c *ResolutionContext) Missing(id ModuleID) []ModuleID {
	if c == nil || c.issues[id] == nil {
		return nil
	}
	return c.issues[id].Missing
}

// IsCyclicWith reports whether a and b were tagged as cyclic with each other.
func (c *ResolutionContext) IsCyclicWith(a, b ModuleID) bool {
	for _, id := range c.Cyclic(a) {
		if id == b {
			return true
		}
	}
	return false
}

// Excluded returns every flagged node in lexicographic order.
func (c *ResolutionContext) Excluded() []ModuleID {
	if c == nil {
		return nil
	}
	out := make([]ModuleID, 0, len(c.issues))
	for id := range c.issues {
		if c.Flagged(id) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SortOptions controls locked-node handling for a sort.
type SortOptions struct {
	// AllowLocked sorts locked nodes together with all others.
	// When false, locked nodes are kept out of traversal and reinserted at their hinted positions.
	AllowLocked bool

	// PositionHints maps locked node ids to their desired index.
	// When non-nil, only locked nodes present in the map are treated as locked.
	// When nil, every locked node keeps its index in the node list.
	PositionHints map[ModuleID]int
}

// SortResult is the outcome of a topological sort.
type SortResult struct {
	// Order is the resulting load order. Excluded nodes are absent.
	Order []ModuleID

	// Context records the cyclic and missing tags collected during the sort.
	Context *ResolutionContext
}

// TopologicalSorter orders modules so that dependencies precede dependents.
// Sorting never fails: problem nodes are excluded and reported in the ResolutionContext.
type TopologicalSorter struct {
	graph *DependencyGraph
}

// NewTopologicalSorter creates a sorter over a dependency graph.
func NewTopologicalSorter(graph *DependencyGraph) *TopologicalSorter {
	if graph == nil {
		graph = NewDependencyGraph(nil)
	}
	return &TopologicalSorter{graph: graph}
}

type visitState int

const (
	unvisited visitState = iota
	processing
	visited
)

// dfsFrame is one level of the explicit traversal stack.
type dfsFrame struct {
	id     ModuleID
	deps   []ModuleID
	next   int
	broken bool
}

// Sort orders nodeIDs. Dependencies are resolved against the node set: a dependency
// that is not among nodeIDs is reported as missing.
func (s *TopologicalSorter) Sort(nodeIDs []ModuleID, opts SortOptions) *SortResult {
	ctx := newResolutionContext()

	nodeSet := make(map[ModuleID]bool, len(nodeIDs))
	nodes := make([]ModuleID, 0, len(nodeIDs))
	for _, id := range nodeIDs {
		if id == "" || nodeSet[id] {
			continue
		}
		nodeSet[id] = true
		nodes = append(nodes, id)
	}

	hints := opts.PositionHints
	if hints == nil {
		hints = make(map[ModuleID]int)
	}

	locked := make([]ModuleID, 0)
	lockedSet := make(map[ModuleID]bool)
	working := make([]ModuleID, 0, len(nodes))
	for i, id := range nodes {
		if !opts.AllowLocked && s.isLocked(id, opts.PositionHints) {
			if opts.PositionHints == nil {
				hints[id] = i
			}
			locked = append(locked, id)
			lockedSet[id] = true
			continue
		}
		working = append(working, id)
	}
	sort.Slice(working, func(i, j int) bool { return working[i] < working[j] })

	effectiveDeps := func(id ModuleID) []ModuleID {
		deps := s.graph.Dependencies(id)
		if len(lockedSet) == 0 {
			return deps
		}
		out := make([]ModuleID, 0, len(deps))
		for _, dep := range deps {
			if !lockedSet[dep] {
				out = append(out, dep)
			}
		}
		return out
	}

	state := make(map[ModuleID]visitState, len(working))
	result := make([]ModuleID, 0, len(nodes))

	for _, start := range working {
		if state[start] != unvisited {
			continue
		}

		stack := []*dfsFrame{{id: start, deps: effectiveDeps(start)}}
		state[start] = processing

		for len(stack) > 0 {
			frame := stack[len(stack)-1]

			if frame.broken || frame.next >= len(frame.deps) {
				stack = stack[:len(stack)-1]
				state[frame.id] = visited
				if !ctx.Flagged(frame.id) {
					result = append(result, frame.id)
				}
				continue
			}

			dep := frame.deps[frame.next]
			frame.next++

			switch {
			case state[dep] == processing:
				ctx.addCyclic(frame.id, dep)
				ctx.addCyclic(dep, frame.id)
				frame.broken = true
			case !nodeSet[dep]:
				ctx.addMissing(frame.id, dep)
			case state[dep] == unvisited:
				state[dep] = processing
				stack = append(stack, &dfsFrame{id: dep, deps: effectiveDeps(dep)})
			}
		}
	}

	result = floatIndependent(result, func(id ModuleID) bool {
		return len(effectiveDeps(id)) == 0
	})

	if len(locked) > 0 {
		result = reinsertLocked(result, locked, hints)
	}

	return &SortResult{Order: result, Context: ctx}
}

func (s *TopologicalSorter) isLocked(id ModuleID, hints map[ModuleID]int) bool {
	m, ok := s.graph.Record(id)
	if !ok || !m.IsLocked {
		return false
	}
	if hints == nil {
		return true
	}
	_, hinted := hints[id]
	return hinted
}

// floatIndependent moves nodes without dependencies to the front in lexicographic order,
// keeping the relative order of the remaining nodes.
func floatIndependent(order []ModuleID, independent func(ModuleID) bool) []ModuleID {
	front := make([]ModuleID, 0, len(order))
	rest := make([]ModuleID, 0, len(order))
	for _, id := range order {
		if independent(id) {
			front = append(front, id)
		} else {
			rest = append(rest, id)
		}
	}
	sort.Slice(front, func(i, j int) bool { return front[i] < front[j] })
	return append(front, rest...)
}

// reinsertLocked places locked nodes at their hinted indices. Nodes are inserted in
// ascending hint order; nodes sharing a hint keep their declaration order and occupy
// consecutive slots. Nodes without a hint are appended.
func reinsertLocked(order, locked []ModuleID, hints map[ModuleID]int) []ModuleID {
	type placement struct {
		id   ModuleID
		hint int
	}

	placements := make([]placement, len(locked))
	for i, id := range locked {
		hint, ok := hints[id]
		if !ok {
			hint = math.MaxInt
		}
		placements[i] = placement{id: id, hint: hint}
	}
	sort.SliceStable(placements, func(i, j int) bool { return placements[i].hint < placements[j].hint })

	out := make([]ModuleID, len(order), len(order)+len(locked))
	copy(out, order)

	prev := -1
	for _, p := range placements {
		pos := p.hint
		if pos < 0 {
			pos = 0
		}
		if pos <= prev {
			pos = prev + 1
		}
		if pos > len(out) {
			pos = len(out)
		}
		out = append(out, "")
		copy(out[pos+1:], out[pos:])
		out[pos] = p.id
		prev = pos
	}

	return out
}
