package inventory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/ordomods/ordo/pkg/config"
	"github.com/ordomods/ordo/pkg/telemetry"
)

const defaultDebounce = 500 * time.Millisecond

// ChangeFunc is called after the inventory changed, with its new version.
type ChangeFunc func(ctx context.Context, version uint64)

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Paths are the configuration files and directories to load modules from.
	Paths []string

	// Inventory receives reloaded module sets.
	Inventory *Static

	// Loader parses the configuration. A default loader is used when nil.
	Loader *config.Loader

	// Debounce coalesces bursts of file events.
	Debounce time.Duration

	// OnChange is called after each reload that changed the inventory.
	OnChange ChangeFunc

	// Events receives inventory.changed events. Optional.
	Events *telemetry.EventPublisher

	// Metrics tracks the inventory version. Optional.
	Metrics *telemetry.Metrics

	Logger *zerolog.Logger
}

// Watcher reloads the module inventory when configuration files change.
type Watcher struct {
	cfg     WatcherConfig
	loader  *config.Loader
	logger  zerolog.Logger
	files   map[string]bool
	dirs    map[string]bool
	watcher *fsnotify.Watcher

	reloadMu sync.Mutex

	mu     sync.Mutex
	timer  *time.Timer
	done   chan struct{}
	closed bool
}

// NewWatcher creates a watcher. Call Start to begin watching.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Inventory == nil {
		return nil, fmt.Errorf("inventory is required")
	}
	if len(cfg.Paths) == 0 {
		return nil, fmt.Errorf("at least one path is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}

	loader := cfg.Loader
	if loader == nil {
		loader = config.NewLoader()
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	w := &Watcher{
		cfg:    cfg,
		loader: loader,
		logger: logger.With().Str("component", "inventory_watcher").Logger(),
		files:  make(map[string]bool),
		dirs:   make(map[string]bool),
		done:   make(chan struct{}),
	}

	for _, p := range cfg.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		if info.IsDir() {
			w.dirs[abs] = true
		} else {
			w.files[abs] = true
		}
	}

	return w, nil
}

// Start begins watching until ctx is cancelled or Close is called.
// Files are watched through their parent directory so that editors which
// replace files on save are still observed.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	watched := make(map[string]bool)
	for dir := range w.dirs {
		watched[dir] = true
	}
	for file := range w.files {
		watched[filepath.Dir(file)] = true
	}
	for dir := range watched {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	w.watcher = watcher
	go w.processEvents(ctx)

	w.logger.Info().
		Int("paths", len(w.cfg.Paths)).
		Dur("debounce", w.cfg.Debounce).
		Msg("Started watching module inventory")

	return nil
}

// Reload loads the configuration and installs its modules. Invalid
// configuration leaves the inventory unchanged.
func (w *Watcher) Reload(ctx context.Context) (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	file, err := w.loader.LoadFile(ctx, w.cfg.Paths...)
	if err != nil {
		return false, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := file.Err(); err != nil {
		return false, fmt.Errorf("invalid configuration: %w", err)
	}
	for _, warning := range file.Warnings() {
		w.logger.Warn().Str("path", warning.Path).Msg(warning.Message)
	}

	modules := file.ModuleRecords()
	version, changed := w.cfg.Inventory.Replace(modules)
	if !changed {
		w.logger.Debug().Uint64("version", version).Msg("Module inventory unchanged")
		return false, nil
	}

	w.logger.Info().
		Uint64("version", version).
		Int("modules", len(modules)).
		Msg("Module inventory changed")

	if w.cfg.Metrics != nil {
		w.cfg.Metrics.SetInventoryVersion(version)
	}
	if w.cfg.Events != nil {
		if err := w.cfg.Events.PublishInventoryChanged(version, len(modules)); err != nil {
			w.logger.Warn().Err(err).Msg("Failed to publish inventory change")
		}
	}
	if w.cfg.OnChange != nil {
		w.cfg.OnChange(ctx, version)
	}

	return true, nil
}

// Close stops watching. Pending reloads are cancelled.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	if w.timer != nil {
		w.timer.Stop()
	}
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

// relevant reports whether a file event can affect the inventory.
func (w *Watcher) relevant(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	if w.files[abs] {
		return true
	}
	return strings.HasSuffix(abs, ".cue") && w.dirs[filepath.Dir(abs)]
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = w.Close()
			return

		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 || !w.relevant(event.Name) {
				continue
			}

			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Inventory file changed")

			w.schedule(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

// schedule restarts the debounce timer.
func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.cfg.Debounce, func() {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.Reload(ctx); err != nil {
			w.logger.Error().Err(err).Msg("Failed to reload module inventory")
		}
	})
}
