package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultFileName is the configuration file created by WriteDefault.
const DefaultFileName = "ordo.cue"

// DefaultFile is a starter configuration with every setting at its default.
const DefaultFile = `// ordo configuration
settings: {
	profile:  "default"
	autoSort: true

	store: path: "ordo.db"

	logging: {
		level:  "info"
		format: "console"
	}

	normalizer: {
		kind:    "local"
		timeout: "5s"
	}

	policies: {
		paths: []
		watch: false
	}

	watch: debounce: "500ms"
}

// Installed modules, keyed by id.
modules: {
	"Core.Engine": {
		name:     "Core Engine"
		official: true
	}
	"Example.Mod": {
		name: "Example Mod"
		dependencies: ["Core.Engine"]
	}
}
`

// WriteDefault writes DefaultFile into dir. An existing file is left untouched
// unless force is set.
func WriteDefault(dir string, force bool) (string, error) {
	path := filepath.Join(dir, DefaultFileName)
	if !force {
		if _, err := os.Stat(path); err == nil {
			return path, fmt.Errorf("%s already exists", path)
		}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return path, fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(DefaultFile), 0o644); err != nil {
		return path, fmt.Errorf("failed to write configuration: %w", err)
	}
	return path, nil
}
