package inventory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ordomods/ordo/pkg/telemetry"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestNewWatcher_Validation(t *testing.T) {
	if _, err := NewWatcher(WatcherConfig{Paths: []string{"x"}}); err == nil {
		t.Error("expected error without inventory")
	}
	if _, err := NewWatcher(WatcherConfig{Inventory: NewStatic(nil)}); err == nil {
		t.Error("expected error without paths")
	}
	if _, err := NewWatcher(WatcherConfig{
		Inventory: NewStatic(nil),
		Paths:     []string{filepath.Join(t.TempDir(), "missing.cue")},
	}); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestWatcher_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ordo.cue")
	writeConfig(t, path, `modules: {"A": {}, "B": {dependencies: ["A"]}}`)

	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("NewEventPublisher() returned error: %v", err)
	}
	var published []telemetry.Event
	events.Subscribe(func(e telemetry.Event) { published = append(published, e) }, nil)

	metrics, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: true, Namespace: "test"})
	if err != nil {
		t.Fatalf("NewMetrics() returned error: %v", err)
	}

	inv := NewStatic(nil)
	var versions []uint64
	w, err := NewWatcher(WatcherConfig{
		Paths:     []string{path},
		Inventory: inv,
		Events:    events,
		Metrics:   metrics,
		OnChange: func(_ context.Context, v uint64) {
			versions = append(versions, v)
		},
	})
	if err != nil {
		t.Fatalf("NewWatcher() returned error: %v", err)
	}

	changed, err := w.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload() returned error: %v", err)
	}
	if !changed {
		t.Error("expected first reload to change the inventory")
	}
	if inv.Len() != 2 {
		t.Errorf("expected 2 modules, got %d", inv.Len())
	}

	changed, err = w.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload() returned error: %v", err)
	}
	if changed {
		t.Error("expected unchanged reload")
	}

	if len(versions) != 1 || versions[0] != 2 {
		t.Errorf("expected one change to version 2, got %v", versions)
	}
	if len(published) != 1 || published[0].Type != telemetry.EventTypeInventoryChanged {
		t.Errorf("expected one inventory.changed event, got %+v", published)
	}
}

func TestWatcher_ReloadInvalidKeepsInventory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ordo.cue")
	writeConfig(t, path, `modules: [{id: "A"}, {id: "A"}]`)

	inv := NewStatic(nil)
	w, err := NewWatcher(WatcherConfig{Paths: []string{path}, Inventory: inv})
	if err != nil {
		t.Fatalf("NewWatcher() returned error: %v", err)
	}

	if _, err := w.Reload(context.Background()); err == nil {
		t.Error("expected error for duplicate module ids")
	}
	if inv.Version() != 1 || inv.Len() != 0 {
		t.Errorf("expected inventory to be untouched, got version %d with %d modules", inv.Version(), inv.Len())
	}
}

func TestWatcher_StartReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ordo.cue")
	writeConfig(t, path, `modules: {"A": {}}`)

	inv := NewStatic(nil)
	changes := make(chan uint64, 4)
	w, err := NewWatcher(WatcherConfig{
		Paths:     []string{path},
		Inventory: inv,
		Debounce:  20 * time.Millisecond,
		OnChange: func(_ context.Context, v uint64) {
			changes <- v
		},
	})
	if err != nil {
		t.Fatalf("NewWatcher() returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	defer w.Close()

	writeConfig(t, path, `modules: {"A": {}, "B": {}}`)
	writeConfig(t, filepath.Join(dir, "notes.txt"), "ignored")

	select {
	case v := <-changes:
		if v != 2 {
			t.Errorf("expected version 2, got %d", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for inventory reload")
	}

	if inv.Len() != 2 {
		t.Errorf("expected 2 modules after reload, got %d", inv.Len())
	}
}

func TestWatcher_CloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ordo.cue")
	writeConfig(t, path, ``)

	w, err := NewWatcher(WatcherConfig{Paths: []string{path}, Inventory: NewStatic(nil)})
	if err != nil {
		t.Fatalf("NewWatcher() returned error: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() returned error: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close() returned error: %v", err)
	}
}
