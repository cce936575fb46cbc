// Package normalizer provides implementations of engine.Normalizer.
//
// Local orders modules in process with the engine's TopologicalSorter and is the
// default for the ordo CLI. The script and plugin subpackages delegate ordering to a
// user-supplied Starlark script or WASM module that speaks the same contract.
package normalizer
