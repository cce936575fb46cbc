package policy

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ordomods/ordo/pkg/engine"
)

func writePolicy(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(testLogger())
	policyFile := filepath.Join(t.TempDir(), "pinned-first.rego")

	regoContent := `# Pinned modules must stay first

package custom.pinned

import rego.v1

deny contains "pinned" if { false }
`
	writePolicy(t, policyFile, regoContent)

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "pinned-first" {
		t.Errorf("Expected name 'pinned-first', got '%s'", policy.Name)
	}
	if policy.Description != "Pinned modules must stay first" {
		t.Errorf("Unexpected description %q", policy.Description)
	}
	if policy.Rego != regoContent {
		t.Error("Rego content doesn't match")
	}
	if !policy.Enabled {
		t.Error("Policy should be enabled by default")
	}
	if policy.Severity != SeverityWarning {
		t.Errorf("Expected default severity warning, got %s", policy.Severity)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := NewLoader(testLogger())
	policyFile := filepath.Join(t.TempDir(), "policy.json")

	policy := Policy{
		Name:        "json-policy",
		Description: "A test policy",
		Rego:        "package jsonpolicy\n\nimport rego.v1\n\ndeny contains \"x\" if { false }\n",
		Severity:    SeverityError,
		Enabled:     true,
	}
	data, err := json.Marshal(policy)
	if err != nil {
		t.Fatalf("Failed to marshal policy: %v", err)
	}
	writePolicy(t, policyFile, string(data))

	loaded, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if loaded.Name != policy.Name || loaded.Severity != SeverityError {
		t.Errorf("Unexpected policy: %+v", loaded)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	loader := NewLoader(testLogger())
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unsupported type", "test.txt", "not a policy"},
		{"invalid json", "test.json", "invalid json"},
		{"json without name", "nameless.json", `{"rego": "package x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			writePolicy(t, path, tt.content)
			if _, err := loader.loadFromFile(context.Background(), path); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}

	if _, err := loader.loadFromPath(context.Background(), "/nonexistent/path"); err == nil {
		t.Error("Expected error for non-existent path")
	}
}

func TestLoadFromPaths(t *testing.T) {
	loader := NewLoader(testLogger())
	tmpDir := t.TempDir()

	dir := filepath.Join(tmpDir, "policies")
	sub := filepath.Join(dir, "nested")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	writePolicy(t, filepath.Join(dir, "p1.rego"), "package p1")
	writePolicy(t, filepath.Join(sub, "p2.rego"), "package p2")
	writePolicy(t, filepath.Join(dir, "README.md"), "# ignored")
	writePolicy(t, filepath.Join(dir, "broken.json"), "{")

	single := filepath.Join(tmpDir, "p3.rego")
	writePolicy(t, single, "package p3")

	loaded, err := loader.LoadFromPaths(context.Background(), []string{dir, single})
	if err != nil {
		t.Fatalf("Failed to load paths: %v", err)
	}
	if len(loaded) != 3 {
		t.Errorf("Expected 3 policies, got %d", len(loaded))
	}
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		description string
		severity    Severity
		tags        []string
	}{
		{"single line comment", "# Keep it tidy\npackage test", "Keep it tidy", SeverityWarning, nil},
		{"multi line comments", "# Keep it tidy\n# and ordered\npackage test", "Keep it tidy and ordered", SeverityWarning, nil},
		{"no comments", "package test", "", SeverityWarning, nil},
		{"empty comment lines", "# First line\n#\n# Second line\npackage test", "First line Second line", SeverityWarning, nil},
		{"directives", "# Pinned first\n# severity: error\n# tags: pinned, ordering\npackage test", "Pinned first", SeverityError, []string{"pinned", "ordering"}},
		{"unknown severity is text", "# severity: fatal\npackage test", "severity: fatal", SeverityWarning, nil},
		{"stops at first statement", "# Head\npackage test\n# not header", "Head", SeverityWarning, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := parseHeader(tt.content)
			if h.description != tt.description {
				t.Errorf("Expected description '%s', got '%s'", tt.description, h.description)
			}
			if h.severity != tt.severity {
				t.Errorf("Expected severity %s, got %s", tt.severity, h.severity)
			}
			if strings.Join(h.tags, ",") != strings.Join(tt.tags, ",") {
				t.Errorf("Expected tags %v, got %v", tt.tags, h.tags)
			}
		})
	}
}

func TestLoadFromFile_InvalidRego(t *testing.T) {
	loader := NewLoader(testLogger())
	path := filepath.Join(t.TempDir(), "broken.rego")
	writePolicy(t, path, "package\n")

	if _, err := loader.loadFromFile(context.Background(), path); err == nil {
		t.Error("Expected error for invalid rego")
	}
}

func TestLoadFromFile_RereadsChangedFile(t *testing.T) {
	loader := NewLoader(testLogger())
	path := filepath.Join(t.TempDir(), "change.rego")
	writePolicy(t, path, "# Before\npackage change")

	if _, err := loader.loadFromFile(context.Background(), path); err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	writePolicy(t, path, "# After the edit\npackage change")
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("Failed to touch file: %v", err)
	}

	p, err := loader.loadFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to reload policy: %v", err)
	}
	if p.Description != "After the edit" {
		t.Errorf("Expected changed description, got %q", p.Description)
	}
	if p.Metadata["source"] != path {
		t.Errorf("Expected source %s, got %v", path, p.Metadata["source"])
	}
}

func TestClearCache(t *testing.T) {
	loader := NewLoader(testLogger())
	policyFile := filepath.Join(t.TempDir(), "test.rego")
	writePolicy(t, policyFile, "package test")

	if _, err := loader.loadFromFile(context.Background(), policyFile); err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if len(loader.cache) != 1 {
		t.Errorf("Expected 1 cache entry, got %d", len(loader.cache))
	}

	loader.ClearCache()
	if len(loader.cache) != 0 {
		t.Errorf("Expected 0 cache entries after clear, got %d", len(loader.cache))
	}
}

func TestEngineWatch_ReloadsOnChange(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	writePolicy(t, filepath.Join(dir, "quiet.rego"), "package quiet\n\nimport rego.v1\n\ndeny contains \"never\" if { false }\n")

	eng := newTestEngine(t)
	loader, err := eng.Watch(ctx, []string{dir})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer loader.StopWatching()

	enabled := []engine.ModuleRecord{module("A")}
	issues, err := eng.ValidateOrder(ctx, enabled)
	if err != nil {
		t.Fatalf("ValidateOrder failed: %v", err)
	}
	if len(issues) != 0 {
		t.Fatalf("Expected no issues before reload, got %v", issues)
	}

	writePolicy(t, filepath.Join(dir, "loud.rego"), `package loud

import rego.v1

deny contains "always" if { input.mode == "order" }
`)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		issues, err = eng.ValidateOrder(ctx, enabled)
		if err == nil && len(issues) == 1 && issues[0] == "always" {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Errorf("Expected reloaded policy to report 'always', got %v", issues)
}
