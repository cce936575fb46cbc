// Package plugin runs a normalizer compiled to WebAssembly.
//
// A plugin module must export its linear memory and three functions:
//
//	malloc(size i32) i32
//	free(ptr i32)
//	normalize(ptr i32, len i32) i64
//
// normalize receives a JSON request in memory allocated through malloc and returns
// the location of its JSON response packed as (ptr << 32) | len. The host frees both
// buffers after the call.
package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/ordomods/ordo/pkg/engine"
)

const (
	// DefaultTimeout bounds a single normalize call.
	DefaultTimeout = 10 * time.Second

	// DefaultMemoryLimitPages caps plugin memory at 16MB.
	DefaultMemoryLimitPages = 256
)

// Request is the JSON document passed to the plugin.
type Request struct {
	Order   []engine.CanonicalEntry `json:"order"`
	Modules []engine.ModuleRecord   `json:"modules"`
}

// Response is the JSON document the plugin returns.
type Response struct {
	Success bool              `json:"success"`
	Order   []engine.ModuleID `json:"order"`
	Reasons []string          `json:"reasons,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Normalizer is an engine.Normalizer backed by a WASM module instance.
// Calls are serialized; a module instance is single threaded.
type Normalizer struct {
	manifest *Manifest
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	module   api.Module
	memory   api.Memory
	malloc   api.Function
	free     api.Function
	fn       api.Function
	timeout  time.Duration
	logger   zerolog.Logger

	mu sync.Mutex
}

// Open loads a manifest, verifies the module checksum and instantiates the plugin.
func Open(ctx context.Context, manifestPath string, logger zerolog.Logger) (*Normalizer, error) {
	manifest, err := LoadManifest(manifestPath)
	if err != nil {
		return nil, err
	}

	wasmModule, err := os.ReadFile(manifest.WasmPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read WASM module: %w", err)
	}

	return New(ctx, manifest, wasmModule, logger)
}

// New instantiates a plugin from a manifest and module bytes.
func New(ctx context.Context, manifest *Manifest, wasmModule []byte, logger zerolog.Logger) (*Normalizer, error) {
	if err := manifest.VerifyChecksum(wasmModule); err != nil {
		return nil, err
	}

	pages := manifest.MemoryLimitPages
	if pages == 0 {
		pages = DefaultMemoryLimitPages
	}

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(pages).
		WithCloseOnContextDone(true)
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, wasmModule)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to compile WASM module: %w", err)
	}

	module, err := runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig())
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASM module: %w", err)
	}

	n := &Normalizer{
		manifest: manifest,
		runtime:  runtime,
		compiled: compiled,
		module:   module,
		timeout:  manifest.CallTimeout(DefaultTimeout),
		logger: logger.With().
			Str("component", "normalizer").
			Str("kind", "wasm").
			Str("plugin", manifest.Name).
			Str("plugin_version", manifest.Version).
			Logger(),
	}
	if err := n.bindExports(); err != nil {
		runtime.Close(ctx)
		return nil, err
	}

	n.logger.Info().Bool("verified", manifest.Verified).Uint32("memory_pages", pages).Msg("Loaded normalizer plugin")
	return n, nil
}

func (n *Normalizer) bindExports() error {
	n.memory = n.module.Memory()
	if n.memory == nil {
		return fmt.Errorf("WASM module does not export memory")
	}
	n.malloc = n.module.ExportedFunction("malloc")
	if n.malloc == nil {
		return fmt.Errorf("WASM module does not export malloc function")
	}
	n.free = n.module.ExportedFunction("free")
	if n.free == nil {
		return fmt.Errorf("WASM module does not export free function")
	}
	n.fn = n.module.ExportedFunction("normalize")
	if n.fn == nil {
		return fmt.Errorf("WASM module does not export normalize function")
	}
	return nil
}

// Manifest returns the plugin manifest.
func (n *Normalizer) Manifest() *Manifest {
	return n.manifest
}

// Normalize implements engine.Normalizer.
func (n *Normalizer) Normalize(ctx context.Context, order engine.CanonicalLoadOrder, modules engine.ModuleIndex) (*engine.NormalizeResult, error) {
	req := Request{
		Order:   order.Entries(),
		Modules: modules.Records(),
	}
	input, err := json.Marshal(req)
	if err != nil {
		return nil, engine.NewPermanentError("failed to marshal plugin request", err).
			WithCode(engine.ErrCodeNormalizerFailed)
	}

	callCtx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	start := time.Now()
	output, err := n.call(callCtx, input)
	if err != nil {
		n.logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("Plugin call failed")
		if callCtx.Err() != nil {
			return nil, engine.NewTransientError("normalizer plugin timed out", err).
				WithCode(engine.ErrCodeNormalizerFailed)
		}
		return nil, engine.NewPermanentError("normalizer plugin call failed", err).
			WithCode(engine.ErrCodeNormalizerFailed)
	}

	var resp Response
	if err := json.Unmarshal(output, &resp); err != nil {
		return nil, engine.NewPermanentError("failed to unmarshal plugin response", err).
			WithCode(engine.ErrCodeNormalizerFailed)
	}
	if resp.Error != "" {
		return nil, engine.NewPermanentError("normalizer plugin reported an error", fmt.Errorf("%s", resp.Error)).
			WithCode(engine.ErrCodeNormalizerFailed)
	}

	n.logger.Debug().
		Bool("success", resp.Success).
		Int("ordered", len(resp.Order)).
		Dur("duration", time.Since(start)).
		Msg("Plugin call finished")

	res := &engine.NormalizeResult{
		Success: resp.Success,
		Reasons: resp.Reasons,
	}
	if resp.Order != nil {
		res.Ordered = engine.CanonicalToPresentation(engine.ReorderCanonical(order, resp.Order), modules)
	}
	return res, nil
}

// reinstantiate replaces a module closed by a timed out call.
func (n *Normalizer) reinstantiate(ctx context.Context) error {
	if !n.module.IsClosed() {
		return nil
	}
	module, err := n.runtime.InstantiateModule(ctx, n.compiled, wazero.NewModuleConfig())
	if err != nil {
		return fmt.Errorf("failed to reinstantiate WASM module: %w", err)
	}
	n.module = module
	n.logger.Info().Msg("Reinstantiated normalizer plugin after timeout")
	return n.bindExports()
}

// call writes input to plugin memory, invokes normalize and copies the response out.
func (n *Normalizer) call(ctx context.Context, input []byte) ([]byte, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.reinstantiate(ctx); err != nil {
		return nil, err
	}

	inputPtr, err := n.allocate(ctx, uint32(len(input)))
	if err != nil {
		return nil, fmt.Errorf("failed to allocate WASM memory: %w", err)
	}
	defer n.deallocate(ctx, inputPtr)

	if !n.memory.Write(inputPtr, input) {
		return nil, fmt.Errorf("failed to write input to WASM memory")
	}

	results, err := n.fn.Call(ctx, uint64(inputPtr), uint64(len(input)))
	if err != nil {
		return nil, fmt.Errorf("WASM function call failed: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("WASM function returned no results")
	}

	packed := results[0]
	outputPtr := uint32(packed >> 32)
	outputLen := uint32(packed & 0xFFFFFFFF)
	if outputLen == 0 {
		return nil, fmt.Errorf("WASM function returned an empty response")
	}

	view, ok := n.memory.Read(outputPtr, outputLen)
	if !ok {
		return nil, fmt.Errorf("failed to read output from WASM memory")
	}
	output := make([]byte, len(view))
	copy(output, view)

	if err := n.deallocate(ctx, outputPtr); err != nil {
		n.logger.Warn().Err(err).Msg("Failed to free plugin response")
	}

	return output, nil
}

func (n *Normalizer) allocate(ctx context.Context, size uint32) (uint32, error) {
	if size == 0 {
		size = 1
	}
	results, err := n.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("malloc failed: %w", err)
	}
	if len(results) == 0 {
		return 0, fmt.Errorf("malloc returned no results")
	}
	ptr := uint32(results[0])
	if ptr == 0 {
		return 0, fmt.Errorf("malloc returned null pointer")
	}
	return ptr, nil
}

func (n *Normalizer) deallocate(ctx context.Context, ptr uint32) error {
	if _, err := n.free.Call(ctx, uint64(ptr)); err != nil {
		return fmt.Errorf("free failed: %w", err)
	}
	return nil
}

// Close releases the module and its runtime.
func (n *Normalizer) Close(ctx context.Context) error {
	if err := n.module.Close(ctx); err != nil {
		return fmt.Errorf("failed to close WASM module: %w", err)
	}
	if err := n.runtime.Close(ctx); err != nil {
		return fmt.Errorf("failed to close WASM runtime: %w", err)
	}
	return nil
}
