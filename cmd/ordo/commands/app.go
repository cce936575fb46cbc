package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ordomods/ordo/pkg/config"
	"github.com/ordomods/ordo/pkg/engine"
	"github.com/ordomods/ordo/pkg/inventory"
	"github.com/ordomods/ordo/pkg/normalizer"
	"github.com/ordomods/ordo/pkg/normalizer/plugin"
	"github.com/ordomods/ordo/pkg/normalizer/script"
	"github.com/ordomods/ordo/pkg/policy"
	"github.com/ordomods/ordo/pkg/stores"
	"github.com/ordomods/ordo/pkg/telemetry"
)

// appOptions selects what newApp wires beyond configuration, telemetry and the store.
type appOptions struct {
	// scheduler wires the normalizer, policies, pipeline and scheduler.
	scheduler bool

	// launcher receives the launch hand-off. Optional.
	launcher engine.Launcher

	// sessionID identifies the host session. Generated when empty.
	sessionID string

	// sortMode overrides the configured sort mode when set.
	sortMode engine.SortMode

	// longRunning starts from the watch telemetry preset.
	longRunning bool
}

// app holds the components a command runs against.
type app struct {
	file      *config.File
	tel       *telemetry.Telemetry
	logger    zerolog.Logger
	store     *stores.SQLiteStore
	inventory *inventory.Static
	policies  *policy.Engine
	scheduler *engine.Scheduler
	pipeline  *engine.Pipeline

	closers []func(context.Context) error
}

// loadConfig loads and validates the configuration named by --config.
func loadConfig(ctx context.Context) (*config.File, error) {
	file, err := config.NewLoader().LoadFile(ctx, configPaths...)
	if err != nil {
		return nil, err
	}
	if err := file.Err(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	for _, w := range file.Warnings() {
		log.Warn().Str("path", w.Path).Msg(w.Message)
	}
	resolvePaths(&file.Settings, configDir())
	return file, nil
}

// configDir is the directory relative paths in the configuration refer to.
func configDir() string {
	if len(configPaths) == 0 {
		return "."
	}
	if info, err := os.Stat(configPaths[0]); err == nil && info.IsDir() {
		return configPaths[0]
	}
	return filepath.Dir(configPaths[0])
}

// resolvePaths makes the file paths in s relative to dir.
func resolvePaths(s *config.Settings, dir string) {
	resolve := func(p string) string {
		if p == "" || p == ":memory:" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}

	s.Store.Path = resolve(s.Store.Path)
	s.Normalizer.Path = resolve(s.Normalizer.Path)
	for i, p := range s.Policies.Paths {
		s.Policies.Paths[i] = resolve(p)
	}
}

// telemetryConfig maps settings onto a telemetry configuration.
func telemetryConfig(s config.Settings, longRunning bool) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if longRunning {
		cfg = telemetry.WatchConfig()
	}
	cfg.ServiceVersion = buildVersion

	cfg.Logging.Level = s.Logging.Level
	cfg.Logging.Format = s.Logging.Format
	cfg.Logging.Output = s.Logging.Output
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	cfg.Metrics.Enabled = s.Metrics.Enabled
	cfg.Metrics.ListenAddress = s.Metrics.ListenAddress

	cfg.Tracing.Enabled = s.Tracing.Enabled
	cfg.Tracing.Exporter = s.Tracing.Exporter
	cfg.Tracing.Endpoint = s.Tracing.Endpoint
	cfg.Tracing.SamplingRate = s.Tracing.SamplingRate

	cfg.ResourceAttributes["ordo.profile"] = s.Profile
	return cfg
}

// newApp loads the configuration and wires the requested components.
func newApp(ctx context.Context, opts appOptions) (_ *app, err error) {
	file, err := loadConfig(ctx)
	if err != nil {
		return nil, err
	}
	settings := file.Settings

	tel, err := telemetry.NewTelemetry(telemetryConfig(settings, opts.longRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	a := &app{
		file:   file,
		tel:    tel,
		logger: tel.Logger.Zerolog(),
	}
	a.closers = append(a.closers, tel.Shutdown)
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	store, err := stores.NewSQLiteStore(stores.Config{Path: settings.Store.Path, Logger: &a.logger})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error { return store.Close() })
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	a.store = store

	a.inventory = inventory.NewStatic(file.ModuleRecords())
	tel.Metrics.SetInventoryVersion(a.inventory.Version())

	if !opts.scheduler {
		return a, nil
	}

	mode := settings.SortMode()
	if opts.sortMode != "" {
		mode = opts.sortMode
	}
	if err := store.UpsertProfile(ctx, &stores.Profile{
		ID:       settings.Profile,
		Name:     settings.ProfileName,
		SortMode: mode,
	}); err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}

	a.policies, err = newPolicyEngine(ctx, settings, tel.Metrics, a.logger)
	if err != nil {
		return nil, err
	}

	norm, err := newNormalizer(ctx, settings.Normalizer, a.logger)
	if err != nil {
		return nil, err
	}
	if c, ok := norm.(interface{ Close(context.Context) error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	sessionID := opts.sessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	a.pipeline, err = engine.NewPipeline(engine.PipelineConfig{
		Session:        engine.Session{ProfileID: settings.Profile, SessionID: sessionID},
		Normalizer:     norm,
		Validator:      a.policies,
		CrossValidator: a.policies,
		SortMode:       mode,
		Logger:         &a.logger,
		Tracer:         tel.Tracer.Tracer(),
		Metrics:        tel.Metrics,
	})
	if err != nil {
		return nil, err
	}

	a.scheduler, err = engine.NewScheduler(engine.SchedulerConfig{
		Store:     &hostOrderStore{SQLiteStore: store, inventory: a.inventory},
		Inventory: a.inventory,
		Notifier:  tel.Notifier(),
		Launcher:  opts.launcher,
		History:   &passHistory{store: store, events: tel.Events},
		Metrics:   tel.Metrics,
		Logger:    &a.logger,
	})
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return a.scheduler.Close() })

	if err := a.scheduler.Activate(a.pipeline); err != nil {
		return nil, err
	}

	return a, nil
}

// Close releases components in reverse order of creation.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// profileID returns the managed profile.
func (a *app) profileID() string {
	return a.file.Settings.Profile
}

// newPolicyEngine creates the policy engine and loads custom policies. metrics may be nil.
func newPolicyEngine(ctx context.Context, s config.Settings, metrics *telemetry.Metrics, logger zerolog.Logger) (*policy.Engine, error) {
	opts := []policy.Option{
		policy.WithProfile(s.Profile),
		policy.WithMultiplayer(s.Multiplayer),
	}
	if metrics != nil {
		opts = append(opts, policy.WithViolationHook(func(v policy.Violation) {
			metrics.RecordPolicyViolation(v.Policy)
		}))
	}

	pe, err := policy.NewEngine(logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}

	if len(s.Policies.Paths) > 0 {
		if err := pe.LoadPolicies(ctx, s.Policies.Paths); err != nil {
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
	}
	return pe, nil
}

// newNormalizer selects the authoritative normalizer.
func newNormalizer(ctx context.Context, s config.NormalizerSettings, logger zerolog.Logger) (engine.Normalizer, error) {
	switch s.Kind {
	case config.NormalizerScript:
		n, err := script.Load(s.Path, s.TimeoutDuration(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to load normalizer script: %w", err)
		}
		return n, nil
	case config.NormalizerWasm:
		n, err := plugin.Open(ctx, s.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open normalizer plugin: %w", err)
		}
		return n, nil
	default:
		return normalizer.NewLocal(logger), nil
	}
}

// passHistory stores finished passes and announces them.
type passHistory struct {
	store  stores.Store
	events *telemetry.EventPublisher
}

// RecordPass implements engine.PassRecorder.
func (h *passHistory) RecordPass(ctx context.Context, record *engine.PassRecord) error {
	if err := h.store.RecordPass(ctx, record); err != nil {
		return err
	}
	return h.events.PublishPassCompleted(record)
}

// hostOrderStore presents installed modules missing from the persisted order
// as enabled entries at its end, the way a host lists freshly installed modules.
type hostOrderStore struct {
	*stores.SQLiteStore
	inventory engine.Inventory
}

// LoadPersistedOrder implements engine.OrderStore.
func (s *hostOrderStore) LoadPersistedOrder(ctx context.Context, profileID string) ([]engine.LoadOrderEntry, error) {
	entries, err := s.SQLiteStore.LoadPersistedOrder(ctx, profileID)
	if err != nil {
		return nil, err
	}
	available, err := s.inventory.GetAvailableModules(ctx)
	if err != nil {
		return nil, err
	}
	return appendInstalled(entries, available), nil
}

// appendInstalled appends an enabled entry for every module not in entries.
func appendInstalled(entries []engine.LoadOrderEntry, available []engine.ModuleRecord) []engine.LoadOrderEntry {
	seen := make(map[engine.ModuleID]bool, len(entries))
	for _, e := range entries {
		seen[e.ID] = true
	}
	for _, m := range available {
		if seen[m.ID] {
			continue
		}
		entries = append(entries, engine.LoadOrderEntry{
			ID:         m.ID,
			Name:       m.Name(),
			IsSelected: true,
			Index:      len(entries),
		})
		seen[m.ID] = true
	}
	return entries
}
