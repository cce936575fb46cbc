package stores

import (
	"context"
	"errors"
	"time"

	"github.com/ordomods/ordo/pkg/engine"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Audit actions written by the store.
const (
	AuditOrderSaved    = "order.saved"
	AuditProfileSaved  = "profile.saved"
	AuditProfileDelete = "profile.deleted"
)

// Profile is a named load order owner.
type Profile struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	SortMode  engine.SortMode `json:"sort_mode"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NotificationRecord is a notification persisted with the pass that emitted it.
type NotificationRecord struct {
	ID        string          `json:"id"`
	PassID    string          `json:"pass_id"`
	ProfileID string          `json:"profile_id"`
	Severity  engine.Severity `json:"severity"`
	Message   string          `json:"message"`
	Details   []string        `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Notification returns the engine form of the record.
func (n *NotificationRecord) Notification() engine.Notification {
	return engine.Notification{
		ID:       n.ID,
		Severity: n.Severity,
		Message:  n.Message,
		Details:  n.Details,
	}
}

// PassFilter narrows ListPasses. Zero values match everything.
type PassFilter struct {
	ProfileID string
	Status    engine.PassStatus
	Limit     int
	Offset    int
}

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"` // e.g., "order.saved", "profile.deleted"
	Actor     string    `json:"actor"`
	ProfileID *string   `json:"profile_id,omitempty"`
	Details   *string   `json:"details,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the interface for the persistence layer
type Store interface {
	engine.OrderStore
	engine.PassRecorder

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Profile operations
	UpsertProfile(ctx context.Context, profile *Profile) error
	GetProfile(ctx context.Context, id string) (*Profile, error)
	ListProfiles(ctx context.Context) ([]*Profile, error)
	DeleteProfile(ctx context.Context, id string) error

	// Pass history
	GetPass(ctx context.Context, id string) (*engine.PassRecord, error)
	ListPasses(ctx context.Context, filter PassFilter) ([]*engine.PassRecord, error)
	ListNotifications(ctx context.Context, profileID string, limit int) ([]*NotificationRecord, error)
	PrunePasses(ctx context.Context, before time.Time) (int64, error)

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, profileID *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}

var _ Store = (*SQLiteStore)(nil)
