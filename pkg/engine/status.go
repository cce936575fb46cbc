package engine

import (
	"fmt"
)

// Severity is the level of a user-facing notification.
type Severity string

const (
	// SeverityInfo is purely informational.
	SeverityInfo Severity = "info"

	// SeverityWarning reports a non-blocking correction.
	SeverityWarning Severity = "warning"

	// SeverityError reports a failure that triggered a fallback.
	SeverityError Severity = "error"
)

// Validate checks if the severity is valid.
func (s Severity) Validate() error {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError:
		return nil
	default:
		return fmt.Errorf("invalid severity: %s", s)
	}
}

// PassStatus is the lifecycle state of a reconciliation pass.
type PassStatus string

const (
	// PassStatusQueued indicates the pass waits behind another pass for the same profile.
	PassStatusQueued PassStatus = "queued"

	// PassStatusRunning indicates the pass is executing.
	PassStatusRunning PassStatus = "running"

	// PassStatusNormalized indicates the normalizer's order was applied.
	PassStatusNormalized PassStatus = "normalized"

	// PassStatusFallback indicates the normalizer failed and the persisted order was kept.
	PassStatusFallback PassStatus = "fallback"

	// PassStatusDiscarded indicates the pass went stale and its result was dropped.
	PassStatusDiscarded PassStatus = "discarded"

	// PassStatusFailed indicates the pass could not produce or commit a result.
	PassStatusFailed PassStatus = "failed"
)

// IsTerminal returns true if the pass status represents a final state.
func (s PassStatus) IsTerminal() bool {
	return s == PassStatusNormalized || s == PassStatusFallback ||
		s == PassStatusDiscarded || s == PassStatusFailed
}

// IsActive returns true if the pass is queued or running.
func (s PassStatus) IsActive() bool {
	return s == PassStatusQueued || s == PassStatusRunning
}

// IsCommitted returns true if the pass result was committed.
func (s PassStatus) IsCommitted() bool {
	return s == PassStatusNormalized || s == PassStatusFallback
}

// Validate checks if the pass status is valid.
func (s PassStatus) Validate() error {
	switch s {
	case PassStatusQueued, PassStatusRunning, PassStatusNormalized,
		PassStatusFallback, PassStatusDiscarded, PassStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid pass status: %s", s)
	}
}

// SortMode selects how a successful normalization is applied.
type SortMode string

const (
	// SortModeAuto adopts the normalizer's order.
	SortModeAuto SortMode = "auto"

	// SortModeManual keeps the user's order and only drops unusable entries.
	SortModeManual SortMode = "manual"
)

// Validate checks if the sort mode is valid.
func (m SortMode) Validate() error {
	switch m {
	case SortModeAuto, SortModeManual:
		return nil
	default:
		return fmt.Errorf("invalid sort mode: %s", m)
	}
}
