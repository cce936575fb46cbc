package engine

import (
	"sort"
)

// ModuleID uniquely identifies a module across the inventory and every order representation.
type ModuleID string

// ModuleRecord is the static metadata of an installed module.
// Records are immutable once built; per-sort resolution state lives in a ResolutionContext.
type ModuleRecord struct {
	// ID is the unique module identifier.
	ID ModuleID `json:"id" yaml:"id" validate:"required"`

	// DisplayName is the human-readable module name.
	DisplayName string `json:"displayName" yaml:"displayName"`

	// Version is the declared module version, if any.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// Dependencies are the ids of modules that must load before this one.
	Dependencies []ModuleID `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`

	// IsOfficial marks modules shipped by the host application itself.
	IsOfficial bool `json:"isOfficial" yaml:"isOfficial"`

	// IsLocked marks modules pinned to a fixed position.
	IsLocked bool `json:"isLocked" yaml:"isLocked"`

	// IsMultiplayer marks modules usable in multiplayer sessions.
	IsMultiplayer bool `json:"isMultiplayer" yaml:"isMultiplayer"`

	// PackageID is the host package that installed the module, if known.
	PackageID string `json:"packageId,omitempty" yaml:"packageId,omitempty"`
}

// Name returns the display name, falling back to the id.
func (m ModuleRecord) Name() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return string(m.ID)
}

// ModuleIndex maps module ids to their records.
type ModuleIndex map[ModuleID]ModuleRecord

// IndexModules builds a ModuleIndex. Later records with a duplicate id replace earlier ones.
func IndexModules(modules []ModuleRecord) ModuleIndex {
	idx := make(ModuleIndex, len(modules))
	for _, m := range modules {
		idx[m.ID] = m
	}
	return idx
}

// Lookup resolves a module id.
func (idx ModuleIndex) Lookup(id ModuleID) (ModuleRecord, bool) {
	m, ok := idx[id]
	return m, ok
}

// Records returns the indexed records sorted by id.
func (idx ModuleIndex) Records() []ModuleRecord {
	out := make([]ModuleRecord, 0, len(idx))
	for _, m := range idx {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LockState is the user lock applied to a load order entry.
type LockState string

const (
	// LockNone means the entry may be moved freely.
	LockNone LockState = ""

	// LockLocked pins the entry at its current index.
	LockLocked LockState = "locked"

	// LockAlways pins the entry and prevents it from being toggled.
	LockAlways LockState = "always"
)

// IsLocked reports whether the lock state pins the entry.
func (l LockState) IsLocked() bool {
	return l == LockLocked || l == LockAlways
}

// LoadOrderEntry is the persisted form of one load order position.
// A persisted order is a list with contiguous indices in [0, N) and unique ids.
type LoadOrderEntry struct {
	ID         ModuleID  `json:"id" yaml:"id"`
	Name       string    `json:"name" yaml:"name"`
	IsSelected bool      `json:"isSelected" yaml:"isSelected"`
	IsDisabled *bool     `json:"isDisabled,omitempty" yaml:"isDisabled,omitempty"`
	Locked     LockState `json:"locked,omitempty" yaml:"locked,omitempty"`
	Index      int       `json:"index" yaml:"index"`
}

// Disabled resolves the optional disabled flag, deriving it from the lock state when absent.
func (e LoadOrderEntry) Disabled() bool {
	if e.IsDisabled != nil {
		return *e.IsDisabled
	}
	return e.Locked == LockAlways
}

// CanonicalEntry is one value of a CanonicalLoadOrder.
type CanonicalEntry struct {
	ID         ModuleID  `json:"id"`
	Name       string    `json:"name"`
	IsSelected bool      `json:"isSelected"`
	IsDisabled bool      `json:"isDisabled"`
	Locked     LockState `json:"locked,omitempty"`
	Index      int       `json:"index"`
}

// CanonicalLoadOrder is the engine's working order keyed by module id.
// The Index field is authoritative; map iteration order carries no meaning.
type CanonicalLoadOrder map[ModuleID]CanonicalEntry

// Entries returns the entries ordered by Index, ties broken by id.
func (o CanonicalLoadOrder) Entries() []CanonicalEntry {
	out := make([]CanonicalEntry, 0, len(o))
	for _, e := range o {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Index != out[j].Index {
			return out[i].Index < out[j].Index
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// IDs returns the module ids in index order.
func (o CanonicalLoadOrder) IDs() []ModuleID {
	entries := o.Entries()
	ids := make([]ModuleID, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

// Enabled returns the selected entries in index order.
func (o CanonicalLoadOrder) Enabled() []CanonicalEntry {
	out := make([]CanonicalEntry, 0, len(o))
	for _, e := range o.Entries() {
		if e.IsSelected {
			out = append(out, e)
		}
	}
	return out
}

// PresentationEntry is a load order entry enriched with its resolved module for display.
// Presentation entries are rebuilt on every pass and never persisted directly.
type PresentationEntry struct {
	ID         ModuleID     `json:"id" yaml:"id"`
	Name       string       `json:"name" yaml:"name"`
	IsSelected bool         `json:"isSelected" yaml:"isSelected"`
	IsDisabled bool         `json:"isDisabled" yaml:"isDisabled"`
	Locked     LockState    `json:"locked,omitempty" yaml:"locked,omitempty"`
	Index      int          `json:"index" yaml:"index"`
	Module     ModuleRecord `json:"module" yaml:"module"`
	IsValid    bool         `json:"isValid" yaml:"isValid"`
	PackageID  string       `json:"packageId,omitempty" yaml:"packageId,omitempty"`
}

// PresentationOrder is an ordered list of presentation entries.
type PresentationOrder []PresentationEntry

// IDs returns the module ids in presentation order.
func (p PresentationOrder) IDs() []ModuleID {
	ids := make([]ModuleID, len(p))
	for i, e := range p {
		ids[i] = e.ID
	}
	return ids
}

// Issue is a single cross-module validation finding.
type Issue struct {
	TargetModuleID ModuleID `json:"targetModuleId" yaml:"targetModuleId"`
	Reason         string   `json:"reason" yaml:"reason"`
}

// Notification is a user-facing message emitted by a reconciliation pass.
type Notification struct {
	ID       string   `json:"id"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Details  []string `json:"details,omitempty"`
}

// NormalizeResult is the response of a Normalizer.
type NormalizeResult struct {
	// Success reports whether the normalizer produced a usable order.
	Success bool `json:"success"`

	// Ordered is the normalized order. Entries absent from it were excluded as unusable.
	Ordered PresentationOrder `json:"ordered,omitempty"`

	// Reasons lists human-readable explanations for each correction made.
	Reasons []string `json:"reasons,omitempty"`
}

// Session identifies the profile and host session a pipeline reconciles for.
type Session struct {
	ProfileID string `json:"profileId"`
	SessionID string `json:"sessionId"`
}
