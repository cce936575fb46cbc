package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ordomods/ordo/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const memoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	cfg    Config
	logger zerolog.Logger
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// Actor is recorded on audit entries written by the store. Defaults to "ordo".
	Actor string

	// Logger receives store logs. Defaults to a disabled logger.
	Logger *zerolog.Logger
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// An in-memory database lives and dies with its connection.
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	} else {
		if cfg.MaxOpenConns == 0 {
			cfg.MaxOpenConns = 4
		}
		if cfg.MaxIdleConns == 0 {
			cfg.MaxIdleConns = 2
		}
		if cfg.ConnMaxLifetime == 0 {
			cfg.ConnMaxLifetime = 5 * time.Minute
		}
	}
	if cfg.Actor == "" {
		cfg.Actor = "ordo"
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &SQLiteStore{
		cfg:    cfg,
		logger: logger.With().Str("component", "store").Logger(),
	}, nil
}

// Init opens the database connection and applies connection pragmas.
func (s *SQLiteStore) Init(ctx context.Context) error {
	pragmas := []string{"_pragma=foreign_keys(1)", "_pragma=busy_timeout(5000)"}
	if s.cfg.Path != memoryPath {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)", "_txlock=immediate")
	}
	dsn := s.cfg.Path + "?" + strings.Join(pragmas, "&")

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	s.logger.Debug().Str("path", s.cfg.Path).Msg("Database opened")
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate applies the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Closing the migrate instance would close s.db, so it is left open.
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err == nil {
		s.logger.Debug().Uint("version", version).Bool("dirty", dirty).Msg("Schema migrated")
	}
	return nil
}

// LoadPersistedOrder returns the persisted order of a profile by position.
// A profile without a saved order yields an empty order.
func (s *SQLiteStore) LoadPersistedOrder(ctx context.Context, profileID string) ([]engine.LoadOrderEntry, error) {
	query := `
		SELECT module_id, name, is_selected, is_disabled, locked, position
		FROM load_orders
		WHERE profile_id = ?
		ORDER BY position
	`

	rows, err := s.db.QueryContext(ctx, query, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	defer rows.Close()

	entries := []engine.LoadOrderEntry{}
	for rows.Next() {
		var (
			e        engine.LoadOrderEntry
			disabled sql.NullBool
		)
		if err := rows.Scan(&e.ID, &e.Name, &e.IsSelected, &disabled, &e.Locked, &e.Index); err != nil {
			return nil, fmt.Errorf("failed to scan load order entry: %w", err)
		}
		if disabled.Valid {
			v := disabled.Bool
			e.IsDisabled = &v
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating load order: %w", err)
	}

	return entries, nil
}

// SavePersistedOrder replaces the persisted order of a profile.
// Positions are rewritten from slice order, so the stored order is always contiguous.
func (s *SQLiteStore) SavePersistedOrder(ctx context.Context, profileID string, entries []engine.LoadOrderEntry) error {
	if profileID == "" {
		return fmt.Errorf("profile id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if err := ensureProfile(ctx, tx, profileID, now); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM load_orders WHERE profile_id = ?`, profileID); err != nil {
		return fmt.Errorf("failed to clear load order: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO load_orders (profile_id, position, module_id, name, is_selected, is_disabled, locked)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare load order insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range entries {
		if _, err := stmt.ExecContext(ctx, profileID, i, e.ID, e.Name, e.IsSelected, e.IsDisabled, e.Locked); err != nil {
			return fmt.Errorf("failed to save load order entry %s: %w", e.ID, err)
		}
	}

	details, _ := json.Marshal(map[string]int{"entries": len(entries)})
	if err := insertAudit(ctx, tx, &AuditEntry{
		Action:    AuditOrderSaved,
		Actor:     s.cfg.Actor,
		ProfileID: &profileID,
		Details:   stringPtr(string(details)),
		Timestamp: now,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit load order: %w", err)
	}

	s.logger.Debug().Str("profile_id", profileID).Int("entries", len(entries)).Msg("Load order saved")
	return nil
}

func ensureProfile(ctx context.Context, tx *sql.Tx, profileID string, now time.Time) error {
	query := `
		INSERT INTO profiles (id, name, sort_mode, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, query, profileID, profileID, engine.SortModeAuto, now, now); err != nil {
		return fmt.Errorf("failed to ensure profile: %w", err)
	}
	return nil
}

// UpsertProfile creates a profile or updates its name and sort mode.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, profile *Profile) error {
	if profile.ID == "" {
		return fmt.Errorf("profile id is required")
	}
	if profile.SortMode == "" {
		profile.SortMode = engine.SortModeAuto
	}
	if err := profile.SortMode.Validate(); err != nil {
		return err
	}
	if profile.Name == "" {
		profile.Name = profile.ID
	}

	now := time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO profiles (id, name, sort_mode, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			sort_mode = excluded.sort_mode,
			updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, query,
		profile.ID,
		profile.Name,
		profile.SortMode,
		profile.CreatedAt.UTC(),
		profile.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}

	if err := insertAudit(ctx, tx, &AuditEntry{
		Action:    AuditProfileSaved,
		Actor:     s.cfg.Actor,
		ProfileID: &profile.ID,
		Timestamp: now,
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit profile: %w", err)
	}
	return nil
}

// GetProfile retrieves a profile by ID
func (s *SQLiteStore) GetProfile(ctx context.Context, id string) (*Profile, error) {
	query := `
		SELECT id, name, sort_mode, created_at, updated_at
		FROM profiles
		WHERE id = ?
	`

	p := &Profile{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.SortMode, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return p, nil
}

// ListProfiles lists all profiles ordered by ID
func (s *SQLiteStore) ListProfiles(ctx context.Context) ([]*Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, sort_mode, created_at, updated_at
		FROM profiles
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	profiles := []*Profile{}
	for rows.Next() {
		p := &Profile{}
		if err := rows.Scan(&p.ID, &p.Name, &p.SortMode, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating profiles: %w", err)
	}

	return profiles, nil
}

// DeleteProfile deletes a profile and its persisted order. Pass history is kept.
func (s *SQLiteStore) DeleteProfile(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("profile %s: %w", id, ErrNotFound)
	}

	if err := insertAudit(ctx, tx, &AuditEntry{
		Action:    AuditProfileDelete,
		Actor:     s.cfg.Actor,
		ProfileID: &id,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit profile deletion: %w", err)
	}
	return nil
}

// RecordPass stores a finished pass together with its notifications.
func (s *SQLiteStore) RecordPass(ctx context.Context, record *engine.PassRecord) error {
	if record.ID == "" {
		return fmt.Errorf("pass id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO passes (id, profile_id, session_id, status, inventory_version, started_at, completed_at, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at,
			error = excluded.error
	`
	if _, err := tx.ExecContext(ctx, query,
		record.ID,
		record.ProfileID,
		record.SessionID,
		record.Status,
		int64(record.InventoryVersion),
		record.StartedAt.UTC(),
		record.CompletedAt.UTC(),
		nullString(record.Error),
	); err != nil {
		return fmt.Errorf("failed to record pass: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM notifications WHERE pass_id = ?`, record.ID); err != nil {
		return fmt.Errorf("failed to clear pass notifications: %w", err)
	}

	for i, n := range record.Notifications {
		id := n.ID
		if id == "" {
			id = uuid.NewString()
		}

		var details *string
		if len(n.Details) > 0 {
			data, err := json.Marshal(n.Details)
			if err != nil {
				return fmt.Errorf("failed to marshal notification details: %w", err)
			}
			details = stringPtr(string(data))
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO notifications (id, pass_id, profile_id, position, severity, message, details, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, id, record.ID, record.ProfileID, i, n.Severity, n.Message, details, record.CompletedAt.UTC()); err != nil {
			return fmt.Errorf("failed to record notification: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit pass: %w", err)
	}
	return nil
}

// GetPass retrieves a pass by ID, including its notifications.
func (s *SQLiteStore) GetPass(ctx context.Context, id string) (*engine.PassRecord, error) {
	query := `
		SELECT id, profile_id, session_id, status, inventory_version, started_at, completed_at, error
		FROM passes
		WHERE id = ?
	`

	record, err := scanPass(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pass %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pass: %w", err)
	}

	if record.Notifications, err = s.passNotifications(ctx, id); err != nil {
		return nil, err
	}
	return record, nil
}

// ListPasses lists passes newest first.
func (s *SQLiteStore) ListPasses(ctx context.Context, filter PassFilter) ([]*engine.PassRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT id, profile_id, session_id, status, inventory_version, started_at, completed_at, error
		FROM passes
		WHERE (? = '' OR profile_id = ?)
		  AND (? = '' OR status = ?)
		ORDER BY started_at DESC, id
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		filter.ProfileID, filter.ProfileID,
		filter.Status, filter.Status,
		limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list passes: %w", err)
	}

	records := []*engine.PassRecord{}
	for rows.Next() {
		record, err := scanPass(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan pass: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("error iterating passes: %w", err)
	}
	rows.Close()

	// Notifications are loaded after the pass cursor is released; an in-memory
	// database has a single connection.
	for _, record := range records {
		if record.Notifications, err = s.passNotifications(ctx, record.ID); err != nil {
			return nil, err
		}
	}

	return records, nil
}

// ListNotifications lists the most recent notifications of a profile, newest first.
func (s *SQLiteStore) ListNotifications(ctx context.Context, profileID string, limit int) ([]*NotificationRecord, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT id, pass_id, profile_id, severity, message, details, created_at
		FROM notifications
		WHERE profile_id = ?
		ORDER BY created_at DESC, pass_id, position
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, profileID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	records := []*NotificationRecord{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}

	return records, nil
}

// PrunePasses deletes passes completed before the cutoff and returns how many were removed.
func (s *SQLiteStore) PrunePasses(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM passes WHERE completed_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune passes: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) passNotifications(ctx context.Context, passID string) ([]engine.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pass_id, profile_id, severity, message, details, created_at
		FROM notifications
		WHERE pass_id = ?
		ORDER BY position
	`, passID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pass notifications: %w", err)
	}
	defer rows.Close()

	var out []engine.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n.Notification())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pass notifications: %w", err)
	}

	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPass(row rowScanner) (*engine.PassRecord, error) {
	var (
		r       engine.PassRecord
		version int64
		errText sql.NullString
	)
	if err := row.Scan(
		&r.ID,
		&r.ProfileID,
		&r.SessionID,
		&r.Status,
		&version,
		&r.StartedAt,
		&r.CompletedAt,
		&errText,
	); err != nil {
		return nil, err
	}
	r.InventoryVersion = uint64(version)
	r.Error = errText.String
	return &r, nil
}

func scanNotification(row rowScanner) (*NotificationRecord, error) {
	var (
		n       NotificationRecord
		details sql.NullString
	)
	if err := row.Scan(&n.ID, &n.PassID, &n.ProfileID, &n.Severity, &n.Message, &details, &n.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan notification: %w", err)
	}
	if details.Valid && details.String != "" {
		if err := json.Unmarshal([]byte(details.String), &n.Details); err != nil {
			return nil, fmt.Errorf("failed to decode notification details: %w", err)
		}
	}
	return &n, nil
}

// CreateAuditEntry creates a new audit log entry
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.Actor == "" {
		entry.Actor = s.cfg.Actor
	}
	return insertAudit(ctx, s.db, entry)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertAudit(ctx context.Context, db execer, entry *AuditEntry) error {
	query := `
		INSERT INTO audit (action, actor, profile_id, details, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`

	result, err := db.ExecContext(ctx, query,
		entry.Action,
		entry.Actor,
		entry.ProfileID,
		entry.Details,
		entry.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries with optional filters and pagination
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, profileID *string, limit, offset int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT id, action, actor, profile_id, details, timestamp
		FROM audit
		WHERE (? IS NULL OR action = ?)
		  AND (? IS NULL OR profile_id = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, action, action, profileID, profileID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.ProfileID,
			&entry.Details,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func stringPtr(s string) *string {
	return &s
}
