package inventory

import (
	"context"
	"testing"

	"github.com/ordomods/ordo/pkg/engine"
)

func TestStatic_GetAvailableModules(t *testing.T) {
	inv := NewStatic([]engine.ModuleRecord{
		{ID: "A"},
		{ID: "B", Dependencies: []engine.ModuleID{"A"}},
	})

	if inv.Version() != 1 {
		t.Errorf("expected initial version 1, got %d", inv.Version())
	}
	if inv.Len() != 2 {
		t.Errorf("expected 2 modules, got %d", inv.Len())
	}

	mods, err := inv.GetAvailableModules(context.Background())
	if err != nil {
		t.Fatalf("GetAvailableModules() returned error: %v", err)
	}
	mods[1].Dependencies[0] = "mutated"

	again, _ := inv.GetAvailableModules(context.Background())
	if again[1].Dependencies[0] != "A" {
		t.Error("expected returned modules to be a copy")
	}
}

func TestStatic_CancelledContext(t *testing.T) {
	inv := NewStatic(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := inv.GetAvailableModules(ctx); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestStatic_Replace(t *testing.T) {
	inv := NewStatic([]engine.ModuleRecord{{ID: "A"}})

	version, changed := inv.Replace([]engine.ModuleRecord{{ID: "A"}})
	if changed || version != 1 {
		t.Errorf("expected identical set to keep version 1, got %d (changed=%v)", version, changed)
	}

	version, changed = inv.Replace([]engine.ModuleRecord{{ID: "A", IsLocked: true}})
	if !changed || version != 2 {
		t.Errorf("expected version 2 after change, got %d (changed=%v)", version, changed)
	}

	version, changed = inv.Replace([]engine.ModuleRecord{{ID: "A", IsLocked: true}, {ID: "B"}})
	if !changed || version != 3 {
		t.Errorf("expected version 3 after adding a module, got %d (changed=%v)", version, changed)
	}
	if inv.Version() != 3 {
		t.Errorf("expected Version() 3, got %d", inv.Version())
	}
}
