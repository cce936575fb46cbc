package engine

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
)

func mod(id string, deps ...string) ModuleRecord {
	m := ModuleRecord{ID: ModuleID(id), DisplayName: id}
	for _, d := range deps {
		m.Dependencies = append(m.Dependencies, ModuleID(d))
	}
	return m
}

func lockedMod(id string, deps ...string) ModuleRecord {
	m := mod(id, deps...)
	m.IsLocked = true
	return m
}

func ids(values ...string) []ModuleID {
	out := make([]ModuleID, len(values))
	for i, v := range values {
		out[i] = ModuleID(v)
	}
	return out
}

func sortAll(modules []ModuleRecord, opts SortOptions) *SortResult {
	graph := NewDependencyGraph(modules)
	nodes := make([]ModuleID, len(modules))
	for i, m := range modules {
		nodes[i] = m.ID
	}
	return NewTopologicalSorter(graph).Sort(nodes, opts)
}

func TestDependencyGraph_SortsAndDeduplicatesDependencies(t *testing.T) {
	graph := NewDependencyGraph([]ModuleRecord{
		mod("app", "zeta", "alpha", "zeta", "mid"),
		mod("alpha"),
	})

	got := graph.Dependencies("app")
	want := ids("alpha", "mid", "zeta")
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected dependencies %v, got %v", want, got)
	}

	if !graph.Has("alpha") {
		t.Error("Expected alpha to be in graph")
	}
	if graph.Has("mid") {
		t.Error("Expected dangling dependency mid to be absent from graph")
	}

	if deps := graph.Dependents("alpha"); !reflect.DeepEqual(deps, ids("app")) {
		t.Errorf("Expected dependents [app], got %v", deps)
	}

	if graph.Len() != 2 {
		t.Errorf("Expected 2 nodes, got %d", graph.Len())
	}
}

func TestDependencyGraph_IgnoresEmptyIDs(t *testing.T) {
	graph := NewDependencyGraph([]ModuleRecord{{ID: ""}, mod("a")})
	if graph.Len() != 1 {
		t.Errorf("Expected 1 node, got %d", graph.Len())
	}
}

func TestTopologicalSorter_EmptyInput(t *testing.T) {
	res := NewTopologicalSorter(nil).Sort(nil, SortOptions{})
	if len(res.Order) != 0 {
		t.Errorf("Expected empty order, got %v", res.Order)
	}
	if len(res.Context.Excluded()) != 0 {
		t.Errorf("Expected no exclusions, got %v", res.Context.Excluded())
	}
}

func TestTopologicalSorter_DependenciesFirst(t *testing.T) {
	res := sortAll([]ModuleRecord{
		mod("ui", "core", "net"),
		mod("net", "core"),
		mod("core"),
	}, SortOptions{})

	want := ids("core", "net", "ui")
	if !reflect.DeepEqual(res.Order, want) {
		t.Errorf("Expected order %v, got %v", want, res.Order)
	}
}

func TestTopologicalSorter_Deterministic(t *testing.T) {
	modules := []ModuleRecord{
		mod("e", "c"),
		mod("d", "a", "b"),
		mod("c", "a"),
		mod("b"),
		mod("a"),
		mod("f"),
	}
	graph := NewDependencyGraph(modules)
	sorter := NewTopologicalSorter(graph)

	permutations := [][]ModuleID{
		ids("a", "b", "c", "d", "e", "f"),
		ids("f", "e", "d", "c", "b", "a"),
		ids("c", "f", "a", "e", "b", "d"),
	}

	first := sorter.Sort(permutations[0], SortOptions{}).Order
	for _, p := range permutations[1:] {
		got := sorter.Sort(p, SortOptions{}).Order
		if !reflect.DeepEqual(got, first) {
			t.Errorf("Expected identical order %v for input %v, got %v", first, p, got)
		}
	}

	want := ids("a", "b", "f", "c", "d", "e")
	if !reflect.DeepEqual(first, want) {
		t.Errorf("Expected order %v, got %v", want, first)
	}
}

func TestTopologicalSorter_CycleIsSymmetricAndExcluded(t *testing.T) {
	res := sortAll([]ModuleRecord{
		mod("A", "B"),
		mod("B", "A"),
	}, SortOptions{})

	if len(res.Order) != 0 {
		t.Errorf("Expected empty order, got %v", res.Order)
	}
	if !res.Context.IsCyclicWith("A", "B") {
		t.Error("Expected A to be cyclic with B")
	}
	if !res.Context.IsCyclicWith("B", "A") {
		t.Error("Expected B to be cyclic with A")
	}
	if res.Context.Status("A") != NodeStatusCyclic {
		t.Errorf("Expected status cyclic, got %q", res.Context.Status("A"))
	}
	if got := res.Context.Excluded(); !reflect.DeepEqual(got, ids("A", "B")) {
		t.Errorf("Expected excluded [A B], got %v", got)
	}
}

func TestTopologicalSorter_CycleTagsClosingEdge(t *testing.T) {
	res := sortAll([]ModuleRecord{
		mod("A", "B"),
		mod("B", "C"),
		mod("C", "A"),
		mod("D"),
	}, SortOptions{})

	// The traversal A -> B -> C closes on the edge C -> A, so only A and C are tagged.
	if !res.Context.IsCyclicWith("C", "A") || !res.Context.IsCyclicWith("A", "C") {
		t.Error("Expected A and C to be tagged with each other")
	}
	if res.Context.Flagged("B") {
		t.Error("Expected B to carry no tag")
	}

	want := ids("D", "B")
	if !reflect.DeepEqual(res.Order, want) {
		t.Errorf("Expected order %v, got %v", want, res.Order)
	}
}

func TestTopologicalSorter_SelfDependency(t *testing.T) {
	res := sortAll([]ModuleRecord{mod("A", "A"), mod("B")}, SortOptions{})

	if !reflect.DeepEqual(res.Order, ids("B")) {
		t.Errorf("Expected order [B], got %v", res.Order)
	}
	if !res.Context.IsCyclicWith("A", "A") {
		t.Error("Expected A to be cyclic with itself")
	}
}

func TestTopologicalSorter_MissingDependencyExcluded(t *testing.T) {
	res := sortAll([]ModuleRecord{
		mod("A", "Z"),
		mod("B", "A"),
		mod("C"),
	}, SortOptions{})

	for _, id := range res.Order {
		if id == "A" {
			t.Fatalf("Expected A to be excluded, got order %v", res.Order)
		}
	}
	if !reflect.DeepEqual(res.Context.Missing("A"), ids("Z")) {
		t.Errorf("Expected A missing [Z], got %v", res.Context.Missing("A"))
	}
	if res.Context.Flagged("B") {
		t.Error("Expected dependent B to carry no tag")
	}
	if !reflect.DeepEqual(res.Order, ids("C", "B")) {
		t.Errorf("Expected order [C B], got %v", res.Order)
	}
}

func TestTopologicalSorter_DependencyOutsideNodeSetIsMissing(t *testing.T) {
	graph := NewDependencyGraph([]ModuleRecord{mod("A", "B"), mod("B")})
	res := NewTopologicalSorter(graph).Sort(ids("A"), SortOptions{})

	if len(res.Order) != 0 {
		t.Errorf("Expected empty order, got %v", res.Order)
	}
	if res.Context.Status("A") != NodeStatusMissing {
		t.Errorf("Expected A to be missing a dependency, got %q", res.Context.Status("A"))
	}
}

func TestTopologicalSorter_FloatsIndependentNodes(t *testing.T) {
	res := sortAll([]ModuleRecord{
		mod("A", "B"),
		mod("B"),
		mod("C"),
	}, SortOptions{})

	want := ids("B", "C", "A")
	if !reflect.DeepEqual(res.Order, want) {
		t.Errorf("Expected order %v, got %v", want, res.Order)
	}

	pos := make(map[ModuleID]int)
	for i, id := range res.Order {
		pos[id] = i
	}
	if pos["C"] > pos["A"] {
		t.Error("Expected C before A")
	}
	if pos["B"] > pos["A"] {
		t.Error("Expected B before A")
	}
}

func TestTopologicalSorter_LockedNodeAtHint(t *testing.T) {
	modules := []ModuleRecord{
		mod("A"),
		mod("B", "A"),
		lockedMod("C", "A"),
	}

	res := sortAll(modules, SortOptions{PositionHints: map[ModuleID]int{"C": 0}})

	want := ids("C", "A", "B")
	if !reflect.DeepEqual(res.Order, want) {
		t.Errorf("Expected order %v, got %v", want, res.Order)
	}
	if res.Context.Flagged("C") {
		t.Error("Expected locked node to carry no tag")
	}
}

func TestTopologicalSorter_LockedNodeNeverExcluded(t *testing.T) {
	modules := []ModuleRecord{
		mod("A"),
		lockedMod("L", "missing"),
	}

	res := sortAll(modules, SortOptions{PositionHints: map[ModuleID]int{"L": 1}})

	if !reflect.DeepEqual(res.Order, ids("A", "L")) {
		t.Errorf("Expected order [A L], got %v", res.Order)
	}
}

func TestTopologicalSorter_LockedDependencyIsSkipped(t *testing.T) {
	modules := []ModuleRecord{
		lockedMod("L"),
		mod("A", "L"),
		mod("B", "A"),
	}

	res := sortAll(modules, SortOptions{PositionHints: map[ModuleID]int{"L": 2}})

	want := ids("A", "B", "L")
	if !reflect.DeepEqual(res.Order, want) {
		t.Errorf("Expected order %v, got %v", want, res.Order)
	}
	if res.Context.Flagged("A") {
		t.Error("Expected A to carry no tag for its locked dependency")
	}
}

func TestTopologicalSorter_LockedWithoutHintIsSorted(t *testing.T) {
	modules := []ModuleRecord{
		mod("A", "L"),
		lockedMod("L"),
		lockedMod("M"),
	}

	res := sortAll(modules, SortOptions{PositionHints: map[ModuleID]int{"M": 0}})

	want := ids("M", "L", "A")
	if !reflect.DeepEqual(res.Order, want) {
		t.Errorf("Expected order %v, got %v", want, res.Order)
	}
}

func TestTopologicalSorter_LockedWithoutHints(t *testing.T) {
	graph := NewDependencyGraph([]ModuleRecord{
		mod("A"),
		mod("B"),
		mod("C", "A"),
		lockedMod("L"),
		lockedMod("M"),
	})

	tests := []struct {
		name  string
		nodes []ModuleID
		want  []ModuleID
	}{
		{"single", ids("A", "L", "B"), ids("A", "L", "B")},
		{"first and last", ids("M", "C", "A", "L"), ids("M", "A", "C", "L")},
		{"duplicates ignored", ids("A", "A", "L", "B"), ids("A", "L", "B")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewTopologicalSorter(graph).Sort(tt.nodes, SortOptions{})
			if !reflect.DeepEqual(res.Order, tt.want) {
				t.Errorf("Expected order %v, got %v", tt.want, res.Order)
			}
		})
	}
}

func TestTopologicalSorter_LockedInsertedByAscendingHint(t *testing.T) {
	graph := NewDependencyGraph([]ModuleRecord{
		mod("A"),
		mod("B"),
		mod("C"),
		lockedMod("L1"),
		lockedMod("L2"),
	})

	res := NewTopologicalSorter(graph).Sort(ids("A", "B", "C", "L1", "L2"), SortOptions{
		PositionHints: map[ModuleID]int{"L1": 2, "L2": 0},
	})

	want := ids("L2", "A", "L1", "B", "C")
	if !reflect.DeepEqual(res.Order, want) {
		t.Errorf("Expected order %v, got %v", want, res.Order)
	}
}

func TestTopologicalSorter_LockedSameHintKeepsDeclarationOrder(t *testing.T) {
	graph := NewDependencyGraph([]ModuleRecord{
		mod("A"),
		mod("B"),
		lockedMod("L1"),
		lockedMod("L2"),
	})

	res := NewTopologicalSorter(graph).Sort(ids("A", "L2", "B", "L1"), SortOptions{
		PositionHints: map[ModuleID]int{"L1": 1, "L2": 1},
	})

	want := ids("A", "L2", "L1", "B")
	if !reflect.DeepEqual(res.Order, want) {
		t.Errorf("Expected order %v, got %v", want, res.Order)
	}
}

func TestTopologicalSorter_HintBeyondEndIsClamped(t *testing.T) {
	res := sortAll([]ModuleRecord{
		mod("A"),
		lockedMod("L"),
	}, SortOptions{PositionHints: map[ModuleID]int{"L": 42}})

	if !reflect.DeepEqual(res.Order, ids("A", "L")) {
		t.Errorf("Expected order [A L], got %v", res.Order)
	}
}

func TestTopologicalSorter_AllowLocked(t *testing.T) {
	res := sortAll([]ModuleRecord{
		mod("A"),
		lockedMod("C", "A"),
	}, SortOptions{AllowLocked: true, PositionHints: map[ModuleID]int{"C": 0}})

	want := ids("A", "C")
	if !reflect.DeepEqual(res.Order, want) {
		t.Errorf("Expected order %v, got %v", want, res.Order)
	}
}

func TestTopologicalSorter_DeepChain(t *testing.T) {
	const n = 5000
	modules := make([]ModuleRecord, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("m%05d", i)
		if i+1 < n {
			modules[i] = mod(id, fmt.Sprintf("m%05d", i+1))
		} else {
			modules[i] = mod(id)
		}
	}

	res := sortAll(modules, SortOptions{})

	if len(res.Order) != n {
		t.Fatalf("Expected %d nodes, got %d", n, len(res.Order))
	}
	if res.Order[0] != "m04999" || res.Order[n-1] != "m00000" {
		t.Errorf("Expected chain m04999..m00000, got %s..%s", res.Order[0], res.Order[n-1])
	}
}

func TestDependencyGraph_ToDOT(t *testing.T) {
	modules := []ModuleRecord{
		mod("A", "B"),
		mod("B", "A"),
		mod("C", "gone"),
	}
	graph := NewDependencyGraph(modules)
	res := NewTopologicalSorter(graph).Sort(graph.Nodes(), SortOptions{})

	dot := graph.ToDOT(res.Context)

	for _, want := range []string{
		"digraph LoadOrder {",
		`"B" -> "A" [style=bold, color=red];`,
		`"gone" -> "C"`,
		`"gone" [style=dashed, color=gray];`,
		`fillcolor="khaki"`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("Expected DOT output to contain %q, got:\n%s", want, dot)
		}
	}
}
