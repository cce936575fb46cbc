package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/rs/zerolog"
)

// DefaultReloadDelay is the debounce applied to file change bursts.
const DefaultReloadDelay = 500 * time.Millisecond

// Loader reads custom policies from .rego and .json files.
//
// A .rego file is named after its base name. Leading comment lines form the
// description, except for "key: value" directives recognised in the header:
//
//	# Pinned modules must stay first
//	# severity: error
//	# tags: pinned, ordering
//	package custom.pinned
type Loader struct {
	logger      zerolog.Logger
	reloadDelay time.Duration

	mu    sync.Mutex
	cache map[string]cachedPolicy

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
}

// cachedPolicy is reused while the file's size and modification time are unchanged.
type cachedPolicy struct {
	policy  Policy
	modTime time.Time
	size    int64
}

// regoHeader is what the leading comment block of a .rego file declares.
type regoHeader struct {
	description string
	severity    Severity
	tags        []string
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger:      logger.With().Str("component", "policy-loader").Logger(),
		reloadDelay: DefaultReloadDelay,
		cache:       make(map[string]cachedPolicy),
	}
}

// LoadFromPaths loads the policies found at paths, sorted by name. A broken
// file named directly is an error; inside a directory it is skipped.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var out []Policy
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		policies, err := l.loadFromPath(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to load policies from %s: %w", path, err)
		}
		out = append(out, policies...)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	l.logger.Debug().
		Int("policies", len(out)).
		Int("sources", len(paths)).
		Msg("Custom policies loaded")

	return out, nil
}

func (l *Loader) loadFromPath(ctx context.Context, path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		p, err := l.loadFromFile(ctx, path)
		if err != nil {
			return nil, err
		}
		return []Policy{*p}, nil
	}

	var out []Policy
	err = filepath.WalkDir(path, func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(name) {
			return nil
		}
		p, err := l.loadFromFile(ctx, name)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", name).Msg("Skipping unreadable policy file")
			return nil
		}
		out = append(out, *p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	return out, nil
}

// loadFromFile returns the policy defined by path, from cache when the file
// has not changed since it was last read.
func (l *Loader) loadFromFile(_ context.Context, path string) (*Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	cached, ok := l.cache[path]
	l.mu.Unlock()
	if ok && cached.modTime.Equal(info.ModTime()) && cached.size == info.Size() {
		p := cached.policy
		return &p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p *Policy
	switch filepath.Ext(path) {
	case ".rego":
		p, err = parseRego(path, data)
	case ".json":
		p, err = parseJSON(data)
	default:
		err = fmt.Errorf("unsupported policy file %s", filepath.Base(path))
	}
	if err != nil {
		return nil, err
	}
	if p.Metadata == nil {
		p.Metadata = map[string]interface{}{}
	}
	p.Metadata["source"] = path

	l.mu.Lock()
	l.cache[path] = cachedPolicy{policy: *p, modTime: info.ModTime(), size: info.Size()}
	l.mu.Unlock()

	l.logger.Debug().Str("path", path).Str("policy", p.Name).Msg("Policy file read")
	return p, nil
}

// parseRego checks that data is a Rego module and builds a policy from its header.
func parseRego(path string, data []byte) (*Policy, error) {
	src := string(data)
	if _, err := ast.ParseModule(path, src); err != nil {
		return nil, fmt.Errorf("invalid rego: %w", err)
	}

	header := parseHeader(src)
	now := time.Now()
	return &Policy{
		Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
		Description: header.description,
		Rego:        src,
		Severity:    header.severity,
		Enabled:     true,
		Tags:        header.tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func parseJSON(data []byte) (*Policy, error) {
	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid policy document: %w", err)
	}
	if p.Name == "" {
		return nil, fmt.Errorf("policy name is required")
	}
	if strings.TrimSpace(p.Rego) == "" {
		return nil, fmt.Errorf("policy %s has no rego", p.Name)
	}
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	return &p, nil
}

// parseHeader reads the comment block before the first statement.
func parseHeader(src string) regoHeader {
	h := regoHeader{severity: SeverityWarning}
	var desc []string

	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "#") {
			break
		}
		text := strings.TrimSpace(strings.TrimPrefix(line, "#"))
		if text == "" {
			continue
		}

		key, value, found := strings.Cut(text, ":")
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "severity":
			if found {
				if s := Severity(strings.TrimSpace(value)); s.valid() {
					h.severity = s
					continue
				}
			}
		case "tags":
			if found {
				for _, tag := range strings.Split(value, ",") {
					if tag = strings.TrimSpace(tag); tag != "" {
						h.tags = append(h.tags, tag)
					}
				}
				continue
			}
		}
		desc = append(desc, text)
	}

	h.description = strings.Join(desc, " ")
	return h
}

// Watch reloads the policies at paths after a change and hands them to
// reloadFn. A failed reload keeps the previous policies in place.
func (l *Loader) Watch(ctx context.Context, paths []string, reloadFn func([]Policy) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	watched := 0
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Policy path is not watchable")
			continue
		}
		if !info.IsDir() {
			// Editors replace files on save, so the parent directory is watched.
			path = filepath.Dir(path)
		}
		if err := addTree(watcher, path); err != nil {
			l.logger.Warn().Err(err).Str("path", path).Msg("Failed to watch policy path")
			continue
		}
		watched++
	}

	l.watchMu.Lock()
	l.watcher = watcher
	l.watchMu.Unlock()

	go l.processEvents(ctx, watcher, paths, reloadFn)

	l.logger.Info().Int("paths", watched).Msg("Watching custom policies")
	return nil
}

func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}

func (l *Loader) processEvents(ctx context.Context, w *fsnotify.Watcher, paths []string, reloadFn func([]Policy) error) {
	defer w.Close()

	for {
		select {
		case <-ctx.Done():
			l.stopTimer()
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if !isPolicyFile(event.Name) || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			l.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Policy file changed")
			l.scheduleReload(ctx, paths, reloadFn)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.logger.Error().Err(err).Msg("Policy watcher error")
		}
	}
}

func (l *Loader) scheduleReload(ctx context.Context, paths []string, reloadFn func([]Policy) error) {
	l.watchMu.Lock()
	defer l.watchMu.Unlock()

	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(l.reloadDelay, func() {
		if ctx.Err() != nil {
			return
		}
		policies, err := l.LoadFromPaths(ctx, paths)
		if err == nil {
			err = reloadFn(policies)
		}
		if err != nil {
			l.logger.Error().Err(err).Msg("Policy reload failed, keeping previous policies")
			return
		}
		l.logger.Info().Int("policies", len(policies)).Msg("Custom policies reloaded")
	})
}

func (l *Loader) stopTimer() {
	l.watchMu.Lock()
	defer l.watchMu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// StopWatching stops watching for file changes.
func (l *Loader) StopWatching() error {
	l.stopTimer()

	l.watchMu.Lock()
	w := l.watcher
	l.watcher = nil
	l.watchMu.Unlock()

	if w == nil {
		return nil
	}
	return w.Close()
}

// ClearCache forgets every file read so far.
func (l *Loader) ClearCache() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.cache)
}

func isPolicyFile(path string) bool {
	switch filepath.Ext(path) {
	case ".rego", ".json":
		return true
	}
	return false
}
