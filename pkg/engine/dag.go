package engine

import (
	"fmt"
	"sort"
	"strings"
)

// DependencyGraph is the module dependency graph built from a set of ModuleRecords.
// It holds adjacency only; reachability and cycles are left to the TopologicalSorter.
type DependencyGraph struct {
	// records maps module ids to their records
	records map[ModuleID]ModuleRecord

	// adjacencyList maps module ids to their sorted, de-duplicated dependencies
	adjacencyList map[ModuleID][]ModuleID

	// reverseAdjacencyList maps module ids to the modules that depend on them
	reverseAdjacencyList map[ModuleID][]ModuleID

	// nodes holds every module id in lexicographic order
	nodes []ModuleID
}

// NewDependencyGraph builds a graph from module records.
// Records with an empty id are ignored; a duplicate id replaces the earlier record.
func NewDependencyGraph(modules []ModuleRecord) *DependencyGraph {
	g := &DependencyGraph{
		records:              make(map[ModuleID]ModuleRecord, len(modules)),
		adjacencyList:        make(map[ModuleID][]ModuleID, len(modules)),
		reverseAdjacencyList: make(map[ModuleID][]ModuleID, len(modules)),
	}

	for _, m := range modules {
		if m.ID == "" {
			continue
		}
		g.records[m.ID] = m
	}

	for id, m := range g.records {
		deps := sortedUnique(m.Dependencies)
		g.adjacencyList[id] = deps
		g.nodes = append(g.nodes, id)
	}
	sort.Slice(g.nodes, func(i, j int) bool { return g.nodes[i] < g.nodes[j] })

	// Dependents are recorded in node order so the reverse lists are sorted as well.
	for _, id := range g.nodes {
		for _, dep := range g.adjacencyList[id] {
			g.reverseAdjacencyList[dep] = append(g.reverseAdjacencyList[dep], id)
		}
	}

	return g
}

// Nodes returns all module ids in lexicographic order.
func (g *DependencyGraph) Nodes() []ModuleID {
	out := make([]ModuleID, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Len returns the number of modules in the graph.
func (g *DependencyGraph) Len() int {
	return len(g.nodes)
}

// Has reports whether the module is part of the graph.
func (g *DependencyGraph) Has(id ModuleID) bool {
	_, ok := g.records[id]
	return ok
}

// Record returns the record for a module id.
func (g *DependencyGraph) Record(id ModuleID) (ModuleRecord, bool) {
	m, ok := g.records[id]
	return m, ok
}

// Dependencies returns the lexicographically sorted dependencies of a module.
// Unknown modules have no dependencies.
func (g *DependencyGraph) Dependencies(id ModuleID) []ModuleID {
	return g.adjacencyList[id]
}

// Dependents returns the modules that declare a dependency on id.
func (g *DependencyGraph) Dependents(id ModuleID) []ModuleID {
	return g.reverseAdjacencyList[id]
}

// ToDOT generates a DOT format representation of the graph for visualization.
// Edges point from a dependency to its dependent. Nodes flagged in ctx are colored
// by their exclusion reason and dangling dependencies are drawn as dashed nodes.
func (g *DependencyGraph) ToDOT(ctx *ResolutionContext) string {
	var sb strings.Builder

	sb.WriteString("digraph LoadOrder {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	missing := make(map[ModuleID]bool)
	for _, id := range g.nodes {
		m := g.records[id]
		color := getModuleColor(m, ctx.Status(id))
		sb.WriteString(fmt.Sprintf("  %q [label=%q, fillcolor=%q, style=\"filled,rounded\"];\n",
			id, m.Name(), color))
		for _, dep := range g.adjacencyList[id] {
			if !g.Has(dep) {
				missing[dep] = true
			}
		}
	}

	dangling := make([]ModuleID, 0, len(missing))
	for id := range missing {
		dangling = append(dangling, id)
	}
	sort.Slice(dangling, func(i, j int) bool { return dangling[i] < dangling[j] })
	for _, id := range dangling {
		sb.WriteString(fmt.Sprintf("  %q [style=dashed, color=gray];\n", id))
	}
	sb.WriteString("\n")

	for _, id := range g.nodes {
		for _, dep := range g.adjacencyList[id] {
			sb.WriteString(fmt.Sprintf("  %q -> %q [%s];\n", dep, id, getEdgeStyle(ctx, id, dep)))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// getModuleColor returns a color for visualizing module state.
func getModuleColor(m ModuleRecord, status NodeStatus) string {
	switch {
	case status == NodeStatusCyclic:
		return "lightcoral"
	case status == NodeStatusMissing:
		return "khaki"
	case m.IsLocked:
		return "lightblue"
	case m.IsOfficial:
		return "lightgray"
	default:
		return "white"
	}
}

// getEdgeStyle returns a DOT style string for an edge.
func getEdgeStyle(ctx *ResolutionContext, id, dep ModuleID) string {
	if ctx.IsCyclicWith(id, dep) {
		return "style=bold, color=red"
	}
	return "style=solid, color=black"
}

func sortedUnique(ids []ModuleID) []ModuleID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]ModuleID, 0, len(ids))
	seen := make(map[ModuleID]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
