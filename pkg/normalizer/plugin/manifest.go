package plugin

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest describes a WASM normalizer plugin.
type Manifest struct {
	// Name is the plugin name.
	Name string `yaml:"name"`

	// Version is the plugin version.
	Version string `yaml:"version"`

	// Author is the plugin author.
	Author string `yaml:"author,omitempty"`

	// Description is a short human-readable description.
	Description string `yaml:"description,omitempty"`

	// Entrypoint is the path to the WASM module, relative to the manifest.
	Entrypoint string `yaml:"entrypoint"`

	// Checksum is the hex-encoded SHA-256 of the WASM module.
	Checksum string `yaml:"checksum,omitempty"`

	// Timeout bounds a single normalize call, as a Go duration string.
	Timeout string `yaml:"timeout,omitempty"`

	// MemoryLimitPages caps the module's linear memory in 64KiB pages.
	MemoryLimitPages uint32 `yaml:"memory_limit_pages,omitempty"`

	// Path is the file the manifest was loaded from.
	Path string `yaml:"-"`

	// WasmPath is the resolved location of the WASM module.
	WasmPath string `yaml:"-"`

	// Verified is set once the module checksum has been checked.
	Verified bool `yaml:"-"`
}

// ParseManifest parses and validates manifest YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest YAML: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	return &m, nil
}

// LoadManifest reads a manifest file and resolves its entrypoint.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	m.Path = path

	if filepath.IsAbs(m.Entrypoint) {
		m.WasmPath = m.Entrypoint
	} else {
		m.WasmPath = filepath.Join(filepath.Dir(path), m.Entrypoint)
	}
	if _, err := os.Stat(m.WasmPath); err != nil {
		return nil, fmt.Errorf("WASM module not found at %s: %w", m.WasmPath, err)
	}

	return m, nil
}

// Validate checks required fields.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("plugin name is required")
	}
	if m.Version == "" {
		return fmt.Errorf("plugin version is required")
	}
	if m.Entrypoint == "" {
		return fmt.Errorf("entrypoint is required")
	}
	if m.Checksum != "" {
		if _, err := hex.DecodeString(m.Checksum); err != nil || len(m.Checksum) != sha256.Size*2 {
			return fmt.Errorf("checksum must be a hex-encoded sha256 digest")
		}
	}
	if m.Timeout != "" {
		d, err := time.ParseDuration(m.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", m.Timeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("timeout must be positive")
		}
	}
	return nil
}

// VerifyChecksum compares the module digest with the manifest checksum.
// A manifest without a checksum is accepted unverified.
func (m *Manifest) VerifyChecksum(wasmModule []byte) error {
	if m.Checksum == "" {
		return nil
	}

	hash := sha256.Sum256(wasmModule)
	computed := hex.EncodeToString(hash[:])
	if computed != m.Checksum {
		return fmt.Errorf("WASM module checksum mismatch: expected %s, got %s", m.Checksum, computed)
	}

	m.Verified = true
	return nil
}

// CallTimeout returns the configured per-call timeout, or def when unset.
func (m *Manifest) CallTimeout(def time.Duration) time.Duration {
	if m.Timeout == "" {
		return def
	}
	d, err := time.ParseDuration(m.Timeout)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
