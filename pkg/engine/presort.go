package engine

// Presort orders a presentation list by the modules' declared dependencies.
// Locked entries stay at their current index. Entries the sorter excludes for
// cycles or missing dependencies are appended at the end and marked invalid.
func Presort(order PresentationOrder) (PresentationOrder, *ResolutionContext) {
	if len(order) == 0 {
		return PresentationOrder{}, nil
	}

	records := make([]ModuleRecord, 0, len(order))
	byID := make(map[ModuleID]PresentationEntry, len(order))
	ids := make([]ModuleID, 0, len(order))
	hints := make(map[ModuleID]int)

	for _, e := range order {
		if _, dup := byID[e.ID]; dup {
			continue
		}
		m := e.Module
		m.ID = e.ID
		if e.Locked.IsLocked() {
			m.IsLocked = true
		}
		if m.IsLocked {
			hints[e.ID] = len(ids)
		}
		records = append(records, m)
		byID[e.ID] = e
		ids = append(ids, e.ID)
	}

	sorter := NewTopologicalSorter(NewDependencyGraph(records))
	res := sorter.Sort(ids, SortOptions{PositionHints: hints})

	out := make(PresentationOrder, 0, len(ids))
	placed := make(map[ModuleID]bool, len(ids))
	for _, id := range res.Order {
		out = append(out, byID[id])
		placed[id] = true
	}
	for _, id := range ids {
		if placed[id] {
			continue
		}
		e := byID[id]
		e.IsValid = false
		out = append(out, e)
	}

	return reindex(out), res.Context
}
