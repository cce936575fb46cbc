package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ordomods/ordo/pkg/engine"
)

// Normalizer kinds.
const (
	NormalizerLocal  = "local"
	NormalizerScript = "script"
	NormalizerWasm   = "wasm"
)

// File is the decoded content of an ordo configuration.
type File struct {
	// Settings configures the CLI host and the engine.
	Settings Settings `json:"settings"`

	// Modules is the installed module inventory.
	Modules []ModuleConfig `json:"modules"`

	// SourceFiles are the CUE files that were loaded.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the configuration was loaded.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists any validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// Err returns the error-severity validation errors joined into one error, or nil.
func (f *File) Err() error {
	var errs []error
	for _, e := range f.Errors {
		if e.Severity != SeverityWarning {
			errs = append(errs, e)
		}
	}
	return errors.Join(errs...)
}

// Warnings returns the warning-severity validation errors.
func (f *File) Warnings() []ValidationError {
	var out []ValidationError
	for _, e := range f.Errors {
		if e.Severity == SeverityWarning {
			out = append(out, e)
		}
	}
	return out
}

// ModuleRecords converts the module inventory to engine records.
func (f *File) ModuleRecords() []engine.ModuleRecord {
	out := make([]engine.ModuleRecord, len(f.Modules))
	for i, m := range f.Modules {
		out[i] = m.Record()
	}
	return out
}

// Settings configures the CLI host and the engine.
type Settings struct {
	// Profile is the id of the profile whose load order is managed.
	Profile string `json:"profile" validate:"required"`

	// ProfileName is the display name of the profile.
	ProfileName string `json:"profileName,omitempty"`

	// AutoSort adopts the normalizer's order when true and only drops unusable entries when false.
	AutoSort bool `json:"autoSort"`

	// Multiplayer enables the multiplayer compatibility policy.
	Multiplayer bool `json:"multiplayer"`

	Store      StoreSettings      `json:"store"`
	Logging    LoggingSettings    `json:"logging"`
	Metrics    MetricsSettings    `json:"metrics"`
	Tracing    TracingSettings    `json:"tracing"`
	Normalizer NormalizerSettings `json:"normalizer"`
	Policies   PolicySettings     `json:"policies"`
	Watch      WatchSettings      `json:"watch"`
}

// SortMode returns the engine sort mode selected by AutoSort.
func (s Settings) SortMode() engine.SortMode {
	if s.AutoSort {
		return engine.SortModeAuto
	}
	return engine.SortModeManual
}

// StoreSettings configures the SQLite store.
type StoreSettings struct {
	// Path is the database file, or ":memory:".
	Path string `json:"path" validate:"required"`
}

// LoggingSettings configures logging.
type LoggingSettings struct {
	Level  string `json:"level" validate:"oneof=trace debug info warn error"`
	Format string `json:"format" validate:"oneof=console json"`
	Output string `json:"output" validate:"required"`
}

// MetricsSettings configures the Prometheus endpoint served by watch.
type MetricsSettings struct {
	Enabled       bool   `json:"enabled"`
	ListenAddress string `json:"listenAddress" validate:"required_if=Enabled true"`
}

// TracingSettings configures OpenTelemetry tracing.
type TracingSettings struct {
	Enabled      bool    `json:"enabled"`
	Exporter     string  `json:"exporter" validate:"oneof=otlp stdout none"`
	Endpoint     string  `json:"endpoint" validate:"required_if=Exporter otlp"`
	SamplingRate float64 `json:"samplingRate" validate:"gte=0,lte=1"`
}

// NormalizerSettings selects the authoritative normalizer.
type NormalizerSettings struct {
	// Kind is one of local, script or wasm.
	Kind string `json:"kind" validate:"oneof=local script wasm"`

	// Path is the Starlark script or the plugin manifest.
	Path string `json:"path" validate:"required_unless=Kind local"`

	// Timeout bounds one normalizer call, as a Go duration string.
	Timeout string `json:"timeout" validate:"required"`
}

// TimeoutDuration returns the parsed call timeout.
func (n NormalizerSettings) TimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(n.Timeout)
	return d
}

// PolicySettings configures custom Rego policies.
type PolicySettings struct {
	// Paths are .rego or .json files and directories to load.
	Paths []string `json:"paths"`

	// Watch reloads policies when the files change.
	Watch bool `json:"watch"`
}

// WatchSettings configures the inventory watcher.
type WatchSettings struct {
	// Debounce coalesces bursts of file events, as a Go duration string.
	Debounce string `json:"debounce" validate:"required"`
}

// DebounceDuration returns the parsed debounce delay.
func (w WatchSettings) DebounceDuration() time.Duration {
	d, _ := time.ParseDuration(w.Debounce)
	return d
}

// ModuleConfig declares one installed module.
type ModuleConfig struct {
	ID           string   `json:"id" validate:"required"`
	Name         string   `json:"name,omitempty"`
	Version      string   `json:"version,omitempty"`
	Dependencies []string `json:"dependencies" validate:"dive,required"`
	Official     bool     `json:"official"`
	Locked       bool     `json:"locked"`
	Multiplayer  bool     `json:"multiplayer"`
	PackageID    string   `json:"packageId,omitempty"`
}

// Record converts the declaration to an engine record.
func (m ModuleConfig) Record() engine.ModuleRecord {
	deps := make([]engine.ModuleID, len(m.Dependencies))
	for i, d := range m.Dependencies {
		deps[i] = engine.ModuleID(d)
	}
	return engine.ModuleRecord{
		ID:            engine.ModuleID(m.ID),
		DisplayName:   m.Name,
		Version:       m.Version,
		Dependencies:  deps,
		IsOfficial:    m.Official,
		IsLocked:      m.Locked,
		IsMultiplayer: m.Multiplayer,
		PackageID:     m.PackageID,
	}
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the CUE path to the error (e.g., "modules.Harmony.dependencies").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}
