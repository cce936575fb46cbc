package engine

// The converters in this file map between the three load order representations:
// the persisted list, the canonical map and the presentation list. They are total:
// entries that cannot be mapped are dropped, never reported as errors.

// PersistedToCanonical builds a canonical order from a persisted list.
// Entries whose module is not in the index are dropped, as are repeated ids.
func PersistedToCanonical(entries []LoadOrderEntry, modules ModuleIndex) CanonicalLoadOrder {
	order := make(CanonicalLoadOrder, len(entries))
	for _, e := range entries {
		m, ok := modules.Lookup(e.ID)
		if !ok {
			continue
		}
		if _, dup := order[e.ID]; dup {
			continue
		}

		name := e.Name
		if name == "" {
			name = m.Name()
		}

		order[e.ID] = CanonicalEntry{
			ID:         e.ID,
			Name:       name,
			IsSelected: e.IsSelected,
			IsDisabled: e.Disabled(),
			Locked:     e.Locked,
			Index:      e.Index,
		}
	}
	return order
}

// CanonicalToPersisted reorders the canonical entries by index and re-derives
// contiguous indices starting at zero.
func CanonicalToPersisted(order CanonicalLoadOrder) []LoadOrderEntry {
	entries := order.Entries()
	out := make([]LoadOrderEntry, len(entries))
	for i, e := range entries {
		disabled := e.IsDisabled
		out[i] = LoadOrderEntry{
			ID:         e.ID,
			Name:       e.Name,
			IsSelected: e.IsSelected,
			IsDisabled: &disabled,
			Locked:     e.Locked,
			Index:      i,
		}
	}
	return out
}

// CanonicalToPresentation resolves every canonical entry against the module index.
// Unresolvable entries are dropped. Entries start out valid.
func CanonicalToPresentation(order CanonicalLoadOrder, modules ModuleIndex) PresentationOrder {
	entries := order.Entries()
	out := make(PresentationOrder, 0, len(entries))
	for _, e := range entries {
		m, ok := modules.Lookup(e.ID)
		if !ok {
			continue
		}
		out = append(out, PresentationEntry{
			ID:         e.ID,
			Name:       e.Name,
			IsSelected: e.IsSelected,
			IsDisabled: e.IsDisabled,
			Locked:     e.Locked,
			Index:      len(out),
			Module:     m,
			IsValid:    true,
			PackageID:  m.PackageID,
		})
	}
	return out
}

// ReorderCanonical returns the entries of order arranged as listed by ids.
// Unknown and repeated ids are skipped; list position becomes the index.
func ReorderCanonical(order CanonicalLoadOrder, ids []ModuleID) CanonicalLoadOrder {
	out := make(CanonicalLoadOrder, len(ids))
	for _, id := range ids {
		e, ok := order[id]
		if !ok {
			continue
		}
		if _, dup := out[id]; dup {
			continue
		}
		e.Index = len(out)
		out[id] = e
	}
	return out
}

// PresentationToCanonical maps a presentation list back to a canonical order.
// List position becomes the index. Entries without a resolved module are dropped.
func PresentationToCanonical(p PresentationOrder) CanonicalLoadOrder {
	order := make(CanonicalLoadOrder, len(p))
	next := 0
	for _, e := range p {
		if e.Module.ID == "" || e.Module.ID != e.ID {
			continue
		}
		if _, dup := order[e.ID]; dup {
			continue
		}
		order[e.ID] = CanonicalEntry{
			ID:         e.ID,
			Name:       e.Name,
			IsSelected: e.IsSelected,
			IsDisabled: e.IsDisabled,
			Locked:     e.Locked,
			Index:      next,
		}
		next++
	}
	return order
}

// PresentationToPersisted maps a presentation list to its persisted form.
func PresentationToPersisted(p PresentationOrder) []LoadOrderEntry {
	return CanonicalToPersisted(PresentationToCanonical(p))
}

// reindex assigns contiguous indices following the list order.
func reindex(p PresentationOrder) PresentationOrder {
	out := make(PresentationOrder, len(p))
	for i, e := range p {
		e.Index = i
		out[i] = e
	}
	return out
}
