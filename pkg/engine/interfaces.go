package engine

import (
	"context"
	"time"
)

// Normalizer is the authoritative ordering service.
// It returns the corrected order, or Success=false when it cannot produce one.
type Normalizer interface {
	// Normalize orders the full canonical order, disabled entries included.
	// Entries missing from the result were excluded as unusable.
	Normalize(ctx context.Context, order CanonicalLoadOrder, modules ModuleIndex) (*NormalizeResult, error)
}

// NormalizerFunc adapts a function to the Normalizer interface.
type NormalizerFunc func(ctx context.Context, order CanonicalLoadOrder, modules ModuleIndex) (*NormalizeResult, error)

// Normalize implements Normalizer.
func (f NormalizerFunc) Normalize(ctx context.Context, order CanonicalLoadOrder, modules ModuleIndex) (*NormalizeResult, error) {
	return f(ctx, order, modules)
}

// OrderValidator checks an enabled module sequence and reports human-readable problems.
type OrderValidator interface {
	// ValidateOrder validates the enabled modules in load order.
	ValidateOrder(ctx context.Context, enabled []ModuleRecord) ([]string, error)
}

// OrderValidatorFunc adapts a function to the OrderValidator interface.
type OrderValidatorFunc func(ctx context.Context, enabled []ModuleRecord) ([]string, error)

// ValidateOrder implements OrderValidator.
func (f OrderValidatorFunc) ValidateOrder(ctx context.Context, enabled []ModuleRecord) ([]string, error) {
	return f(ctx, enabled)
}

// CrossModuleValidator checks one module against the rest of the enabled set.
type CrossModuleValidator interface {
	// ValidateCrossModule returns the issues the candidate has with the enabled set.
	ValidateCrossModule(ctx context.Context, allEnabled []ModuleRecord, candidate ModuleRecord) ([]Issue, error)
}

// CrossModuleValidatorFunc adapts a function to the CrossModuleValidator interface.
type CrossModuleValidatorFunc func(ctx context.Context, allEnabled []ModuleRecord, candidate ModuleRecord) ([]Issue, error)

// ValidateCrossModule implements CrossModuleValidator.
func (f CrossModuleValidatorFunc) ValidateCrossModule(ctx context.Context, allEnabled []ModuleRecord, candidate ModuleRecord) ([]Issue, error) {
	return f(ctx, allEnabled, candidate)
}

// OrderStore persists load orders per profile.
type OrderStore interface {
	// LoadPersistedOrder returns the stored order for a profile, or an empty list.
	LoadPersistedOrder(ctx context.Context, profileID string) ([]LoadOrderEntry, error)

	// SavePersistedOrder replaces the stored order for a profile wholesale.
	SavePersistedOrder(ctx context.Context, profileID string, entries []LoadOrderEntry) error
}

// PassRecorder keeps a history of reconciliation passes. It is optional.
type PassRecorder interface {
	// RecordPass stores the outcome of a finished pass.
	RecordPass(ctx context.Context, pass *PassRecord) error
}

// Notifier delivers user-facing notifications to the host.
type Notifier interface {
	// Notify delivers a notification for a profile.
	Notify(ctx context.Context, profileID string, n Notification) error
}

// Inventory provides the currently installed modules.
type Inventory interface {
	// GetAvailableModules returns every installed module.
	GetAvailableModules(ctx context.Context) ([]ModuleRecord, error)

	// Version returns a token that changes whenever the installed set changes.
	Version() uint64
}

// Launcher receives the order the host should launch with.
type Launcher interface {
	// SetModulesToLaunch hands the launch order to the host.
	SetModulesToLaunch(ctx context.Context, session Session, order []LoadOrderEntry) error
}

// Recorder collects engine metrics. Implementations must be safe for concurrent use.
type Recorder interface {
	// RecordPass records a finished pass and its duration.
	RecordPass(profileID string, status string, duration time.Duration)

	// RecordNormalizerCall records one normalizer invocation.
	RecordNormalizerCall(success bool, duration time.Duration)

	// RecordExclusions records modules removed from an order for a reason.
	RecordExclusions(reason string, count int)

	// RecordQueueDepth records the number of queued passes for a profile.
	RecordQueueDepth(profileID string, depth int)
}

// PassRecord is the stored summary of a reconciliation pass.
type PassRecord struct {
	ID               string         `json:"id"`
	ProfileID        string         `json:"profileId"`
	SessionID        string         `json:"sessionId"`
	Status           PassStatus     `json:"status"`
	InventoryVersion uint64         `json:"inventoryVersion"`
	StartedAt        time.Time      `json:"startedAt"`
	CompletedAt      time.Time      `json:"completedAt"`
	Notifications    []Notification `json:"notifications,omitempty"`
	Error            string         `json:"error,omitempty"`
}

type nopRecorder struct{}

func (nopRecorder) RecordPass(string, string, time.Duration) {}
func (nopRecorder) RecordNormalizerCall(bool, time.Duration) {}
func (nopRecorder) RecordExclusions(string, int) {}
func (nopRecorder) RecordQueueDepth(string, int) {}
