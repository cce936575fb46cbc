package config

import (
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Built-in schema names.
const (
	SchemaSettings = "settings"
	SchemaModule   = "module"
)

// SchemaRegistry manages CUE schemas for validation.
// Every schema is compiled in the registry's context, so values to be checked
// must be built with Context.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema(SchemaSettings, builtinSettingsSchema, "#Settings"); err != nil {
		panic(err)
	}
	if err := sr.RegisterSchema(SchemaModule, builtinModuleSchema, "#Module"); err != nil {
		panic(err)
	}

	return sr
}

// Context returns the CUE context schemas are compiled in.
func (sr *SchemaRegistry) Context() *cue.Context {
	return sr.ctx
}

// RegisterSchema compiles source and registers the definition it declares under name.
func (sr *SchemaRegistry) RegisterSchema(name, source, definition string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not declare %s", name, definition)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Apply unifies v with the named schema, filling defaults. The result may carry errors.
func (sr *SchemaRegistry) Apply(name string, v cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(name)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", name)
	}
	return schema.Unify(v), nil
}

// ValidateAgainstSchema validates Go data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(schemaName string, data interface{}) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified, err := sr.Apply(schemaName, dataVal)
	if err != nil {
		return err
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ValidateModule validates a module declaration against the module schema.
func (sr *SchemaRegistry) ValidateModule(m ModuleConfig) error {
	return sr.ValidateAgainstSchema(SchemaModule, m)
}

// ValidateSettings validates settings against the settings schema.
func (sr *SchemaRegistry) ValidateSettings(s Settings) error {
	return sr.ValidateAgainstSchema(SchemaSettings, s)
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinSettingsSchema = `
#Duration: string & =~"^([0-9]+(\\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$"

#Settings: {
	// Profile whose load order is managed
	profile:      string & =~"^[A-Za-z0-9_.-]+$" | *"default"
	profileName?: string

	// Adopt the normalizer's order instead of only dropping unusable entries
	autoSort:    bool | *true
	multiplayer: bool | *false

	store: {
		path: string & !="" | *"ordo.db"
	}

	logging: {
		level:  "trace" | "debug" | *"info" | "warn" | "error"
		format: *"console" | "json"
		output: string & !="" | *"stderr"
	}

	metrics: {
		enabled:       bool | *false
		listenAddress: string | *":9464"
	}

	tracing: {
		enabled:      bool | *false
		exporter:     "otlp" | "stdout" | *"none"
		endpoint:     string | *""
		samplingRate: number & >=0 & <=1 | *1.0
	}

	normalizer: {
		kind:    *"local" | "script" | "wasm"
		path:    string | *""
		timeout: #Duration | *"5s"
		if kind != "local" {
			path: !=""
		}
	}

	policies: {
		paths: [...string] | *[]
		watch: bool | *false
	}

	watch: {
		debounce: #Duration | *"500ms"
	}
}
`

const builtinModuleSchema = `
#Module: {
	// Module ids are referenced from dependency lists and persisted orders
	id:           string & =~"^[^\\s]+$"
	name?:        string
	version?:     string
	dependencies: [...string & !=""] | *[]
	official:     bool | *false
	locked:       bool | *false
	multiplayer:  bool | *false
	packageId?:   string
}
`
