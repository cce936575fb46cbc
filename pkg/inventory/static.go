package inventory

import (
	"context"
	"slices"
	"sync"

	"github.com/ordomods/ordo/pkg/engine"
)

// Static is an in-memory module inventory. Its version starts at 1 and is
// bumped each time Replace installs a different module set.
type Static struct {
	mu      sync.RWMutex
	modules []engine.ModuleRecord
	version uint64
}

var _ engine.Inventory = (*Static)(nil)

// NewStatic creates an inventory holding modules.
func NewStatic(modules []engine.ModuleRecord) *Static {
	return &Static{
		modules: cloneModules(modules),
		version: 1,
	}
}

// GetAvailableModules returns a copy of the installed modules.
func (s *Static) GetAvailableModules(ctx context.Context) ([]engine.ModuleRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneModules(s.modules), nil
}

// Version returns the current inventory version.
func (s *Static) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Len returns the number of installed modules.
func (s *Static) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.modules)
}

// Replace installs modules. It reports the resulting version and whether the
// set differed from the previous one; an identical set keeps the version.
func (s *Static) Replace(modules []engine.ModuleRecord) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slices.EqualFunc(s.modules, modules, sameModule) {
		return s.version, false
	}

	s.modules = cloneModules(modules)
	s.version++
	return s.version, true
}

func sameModule(a, b engine.ModuleRecord) bool {
	return a.ID == b.ID &&
		a.DisplayName == b.DisplayName &&
		a.Version == b.Version &&
		a.IsOfficial == b.IsOfficial &&
		a.IsLocked == b.IsLocked &&
		a.IsMultiplayer == b.IsMultiplayer &&
		a.PackageID == b.PackageID &&
		slices.Equal(a.Dependencies, b.Dependencies)
}

func cloneModules(modules []engine.ModuleRecord) []engine.ModuleRecord {
	out := make([]engine.ModuleRecord, len(modules))
	for i, m := range modules {
		m.Dependencies = slices.Clone(m.Dependencies)
		out[i] = m
	}
	return out
}
