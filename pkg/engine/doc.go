// Package engine provides the core types and algorithms of the ordo load order engine.
//
// # Overview
//
// ordo manages the load order of interdependent modules. A load order exists in
// three forms, each with a single responsibility:
//
//   - LoadOrderEntry: the persisted list, contiguous indices, stored per profile
//   - CanonicalLoadOrder: the working map keyed by module id, Index is authoritative
//   - PresentationEntry: an entry enriched with its resolved ModuleRecord for display
//
// The converters in convert.go map between these forms. They are total: entries that
// reference modules which are no longer installed are dropped rather than reported.
//
// # Dependency Resolution
//
// DependencyGraph holds the adjacency built from ModuleRecords. TopologicalSorter
// orders a node set so that dependencies precede dependents:
//
//	graph := engine.NewDependencyGraph(modules)
//	result := engine.NewTopologicalSorter(graph).Sort(graph.Nodes(), engine.SortOptions{})
//
// The sort never fails. Nodes that take part in a cycle or depend on a module outside
// the node set are left out of the order and recorded in the result's
// ResolutionContext. Ties are broken lexicographically, nodes without dependencies
// float to the front, and locked nodes can be pinned at hinted positions.
//
// # Reconciliation
//
// Pipeline runs one reconciliation pass:
//
//  1. Convert the persisted order to canonical form against the installed modules
//  2. Validate the enabled subset (warning only)
//  3. Normalize the full order with the authoritative Normalizer
//  4. On failure, keep the persisted order and emit one error notification
//  5. On success, adopt the normalized order (auto) or drop unusable entries (manual)
//  6. Annotate entries with cross-module validity
//  7. Offer the order for the session's one-time launch hand-off
//
// Notifications are part of the ReconcileResult; the pipeline has no side channel.
//
// # Concurrency
//
// Scheduler runs passes for many profiles. Each profile owns a FIFO queue drained by
// a single worker, so passes for a profile never overlap. A pass records the profile
// generation and inventory version when it starts and is discarded at commit time if
// either changed. Committing saves the persisted order, then publishes an immutable
// Snapshot that readers obtain through Committed.
//
// # Error Classification
//
// Errors returned by the engine are EngineErrors classified as transient, conflict,
// stale or permanent, and carry a code such as ErrCodeNormalizerFailed or
// ErrCodeStalePass for programmatic handling.
package engine
