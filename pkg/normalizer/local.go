package normalizer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ordomods/ordo/pkg/engine"
)

// Local is a Normalizer backed by the in-process topological sorter.
// Locked entries keep their index, modules with a cyclic or missing dependency are
// left out of the ordered view, and every dependency violation found in the input
// order is reported as a correction reason.
type Local struct {
	logger zerolog.Logger
}

// NewLocal creates a local normalizer.
func NewLocal(logger zerolog.Logger) *Local {
	return &Local{
		logger: logger.With().Str("component", "normalizer").Str("kind", "local").Logger(),
	}
}

// Normalize implements engine.Normalizer.
func (l *Local) Normalize(ctx context.Context, order engine.CanonicalLoadOrder, modules engine.ModuleIndex) (*engine.NormalizeResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, engine.NewTransientError("normalization cancelled", err).
			WithCode(engine.ErrCodeCancelled)
	}

	entries := order.Entries()
	position := make(map[engine.ModuleID]int, len(entries))
	nodes := make([]engine.ModuleID, 0, len(entries))
	records := make([]engine.ModuleRecord, 0, len(entries))
	hints := make(map[engine.ModuleID]int)

	for i, e := range entries {
		m, ok := modules.Lookup(e.ID)
		if !ok {
			continue
		}
		if e.Locked.IsLocked() {
			m.IsLocked = true
			hints[e.ID] = i
		}
		position[e.ID] = i
		nodes = append(nodes, e.ID)
		records = append(records, m)
	}

	graph := engine.NewDependencyGraph(records)
	res := engine.NewTopologicalSorter(graph).Sort(nodes, engine.SortOptions{PositionHints: hints})

	name := func(id engine.ModuleID) string {
		if e, ok := order[id]; ok && e.Name != "" {
			return e.Name
		}
		if m, ok := modules.Lookup(id); ok {
			return m.Name()
		}
		return string(id)
	}

	var reasons []string
	for _, id := range res.Order {
		for _, dep := range graph.Dependencies(id) {
			depPos, ok := position[dep]
			if ok && depPos > position[id] {
				reasons = append(reasons, fmt.Sprintf("%q must load after %q", name(id), name(dep)))
			}
		}
	}
	for _, id := range res.Context.Excluded() {
		for _, with := range res.Context.Cyclic(id) {
			reasons = append(reasons, fmt.Sprintf("%q was excluded: dependency cycle with %q", name(id), name(with)))
		}
		for _, dep := range res.Context.Missing(id) {
			reasons = append(reasons, fmt.Sprintf("%q was excluded: missing dependency %q", name(id), name(dep)))
		}
	}

	l.logger.Debug().
		Int("entries", len(entries)).
		Int("ordered", len(res.Order)).
		Int("excluded", len(res.Context.Excluded())).
		Int("reasons", len(reasons)).
		Msg("Normalized load order")

	return &engine.NormalizeResult{
		Success: true,
		Ordered: engine.CanonicalToPresentation(engine.ReorderCanonical(order, res.Order), modules),
		Reasons: reasons,
	}, nil
}
