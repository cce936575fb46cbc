package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/ordomods/ordo/pkg/engine"
)

// launchFile is the document written for the host to launch with.
type launchFile struct {
	Profile string        `yaml:"profile"`
	Session string        `yaml:"session"`
	Modules []launchEntry `yaml:"modules"`
}

type launchEntry struct {
	ID      engine.ModuleID `yaml:"id"`
	Enabled bool            `yaml:"enabled"`
}

// fileLauncher hands the launch order to the host by writing it as YAML.
// With no path it only logs the hand-off.
type fileLauncher struct {
	path   string
	logger zerolog.Logger
}

var _ engine.Launcher = (*fileLauncher)(nil)

// SetModulesToLaunch implements engine.Launcher.
func (l *fileLauncher) SetModulesToLaunch(_ context.Context, session engine.Session, order []engine.LoadOrderEntry) error {
	doc := launchFile{
		Profile: session.ProfileID,
		Session: session.SessionID,
		Modules: make([]launchEntry, 0, len(order)),
	}
	for _, e := range order {
		doc.Modules = append(doc.Modules, launchEntry{ID: e.ID, Enabled: !e.Disabled()})
	}

	l.logger.Info().
		Str("profile_id", session.ProfileID).
		Str("session_id", session.SessionID).
		Int("modules", len(order)).
		Str("path", l.path).
		Msg("Launch order handed off")

	if l.path == "" {
		return nil
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode launch order: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write launch order: %w", err)
	}
	return nil
}
