// Package script implements engine.Normalizer on top of a user-supplied Starlark script.
//
// The script must define a function
//
//	def normalize(order, modules):
//	    return {"success": True, "order": [...], "reasons": [...]}
//
// order is a list of entry dicts (id, name, selected, disabled, locked, index) and
// modules maps module ids to module dicts (id, name, version, dependencies, official,
// locked, multiplayer). The returned "order" lists module ids; ids it leaves out are
// treated as excluded. A toposort(ids) builtin exposes the engine's dependency sorter.
package script

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/ordomods/ordo/pkg/engine"
)

// EntryPoint is the name of the function the script must define.
const EntryPoint = "normalize"

// DefaultTimeout bounds a single script invocation.
const DefaultTimeout = 5 * time.Second

// Normalizer runs a Starlark script for every normalization.
type Normalizer struct {
	filename string
	source   []byte
	timeout  time.Duration
	logger   zerolog.Logger
}

// New creates a normalizer from script source. The script is executed once to check
// that it compiles and defines the entry point.
func New(filename string, source []byte, timeout time.Duration, logger zerolog.Logger) (*Normalizer, error) {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	n := &Normalizer{
		filename: filename,
		source:   source,
		timeout:  timeout,
		logger: logger.With().
			Str("component", "normalizer").
			Str("kind", "script").
			Str("script", filename).
			Logger(),
	}

	thread := n.newThread()
	if _, err := n.entryPoint(thread, predeclared(nil, nil)); err != nil {
		return nil, err
	}
	return n, nil
}

// Load reads a script from disk.
func Load(path string, timeout time.Duration, logger zerolog.Logger) (*Normalizer, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read normalizer script: %w", err)
	}
	return New(filepath.Base(path), source, timeout, logger)
}

// Normalize implements engine.Normalizer.
func (n *Normalizer) Normalize(ctx context.Context, order engine.CanonicalLoadOrder, modules engine.ModuleIndex) (*engine.NormalizeResult, error) {
	start := time.Now()

	evalCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	thread := n.newThread()
	resultCh := make(chan *engine.NormalizeResult, 1)
	errCh := make(chan error, 1)

	go func() {
		res, err := n.evaluate(thread, order, modules)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- res
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel(evalCtx.Err().Error())
		n.logger.Warn().Dur("timeout", n.timeout).Msg("Normalizer script did not finish in time")
		return nil, engine.NewTransientError(fmt.Sprintf("script execution timeout after %v", n.timeout), evalCtx.Err()).
			WithCode(engine.ErrCodeNormalizerFailed)
	case err := <-errCh:
		n.logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("Normalizer script failed")
		return nil, engine.NewPermanentError("normalizer script failed", err).
			WithCode(engine.ErrCodeNormalizerFailed)
	case res := <-resultCh:
		n.logger.Debug().
			Bool("success", res.Success).
			Int("ordered", len(res.Ordered)).
			Dur("duration", time.Since(start)).
			Msg("Normalizer script finished")
		return res, nil
	}
}

func (n *Normalizer) newThread() *starlark.Thread {
	return &starlark.Thread{
		Name: "ordo-normalizer",
		Print: func(_ *starlark.Thread, msg string) {
			n.logger.Debug().Str("output", msg).Msg("Script print")
		},
	}
}

// entryPoint executes the script and returns its normalize function.
func (n *Normalizer) entryPoint(thread *starlark.Thread, env starlark.StringDict) (starlark.Callable, error) {
	globals, err := starlark.ExecFile(thread, n.filename, n.source, env)
	if err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}
	fn, ok := globals[EntryPoint].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("script %s does not define a %s function", n.filename, EntryPoint)
	}
	return fn, nil
}

// evaluate runs the script synchronously on thread.
func (n *Normalizer) evaluate(thread *starlark.Thread, order engine.CanonicalLoadOrder, modules engine.ModuleIndex) (*engine.NormalizeResult, error) {
	fn, err := n.entryPoint(thread, predeclared(order, modules))
	if err != nil {
		return nil, err
	}

	args, err := callArgs(order, modules)
	if err != nil {
		return nil, err
	}

	out, err := starlark.Call(thread, fn, args, nil)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", EntryPoint, err)
	}

	return decodeResult(out, order, modules)
}

// predeclared builds the script environment.
func predeclared(order engine.CanonicalLoadOrder, modules engine.ModuleIndex) starlark.StringDict {
	return starlark.StringDict{
		"struct":   starlarkstruct.Default,
		"toposort": starlark.NewBuiltin("toposort", toposortBuiltin(order, modules)),
	}
}

// toposortBuiltin sorts a list of module ids by their declared dependencies.
// Locked entries of the order being normalized keep their index.
func toposortBuiltin(order engine.CanonicalLoadOrder, modules engine.ModuleIndex) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var list *starlark.List
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "ids", &list); err != nil {
			return nil, err
		}

		ids, err := stringList(list)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}

		nodes := make([]engine.ModuleID, 0, len(ids))
		records := make([]engine.ModuleRecord, 0, len(ids))
		hints := make(map[engine.ModuleID]int)
		for i, id := range ids {
			mid := engine.ModuleID(id)
			m, ok := modules.Lookup(mid)
			if !ok {
				m = engine.ModuleRecord{ID: mid}
			}
			if e, ok := order[mid]; ok && e.Locked.IsLocked() {
				m.IsLocked = true
				hints[mid] = i
			}
			nodes = append(nodes, mid)
			records = append(records, m)
		}

		res := engine.NewTopologicalSorter(engine.NewDependencyGraph(records)).
			Sort(nodes, engine.SortOptions{PositionHints: hints})

		var cyclic, missing []engine.ModuleID
		for _, id := range res.Context.Excluded() {
			switch res.Context.Status(id) {
			case engine.NodeStatusCyclic:
				cyclic = append(cyclic, id)
			case engine.NodeStatusMissing:
				missing = append(missing, id)
			}
		}

		return starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
			"order":   idList(res.Order),
			"cyclic":  idList(cyclic),
			"missing": idList(missing),
		}), nil
	}
}
