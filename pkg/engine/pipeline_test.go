package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

// topoNormalizer orders the enabled and disabled entries with the local sorter.
func topoNormalizer() NormalizerFunc {
	return func(ctx context.Context, order CanonicalLoadOrder, modules ModuleIndex) (*NormalizeResult, error) {
		sorter := NewTopologicalSorter(NewDependencyGraph(modules.Records()))
		res := sorter.Sort(order.IDs(), SortOptions{})

		sorted := make(CanonicalLoadOrder, len(res.Order))
		for i, id := range res.Order {
			e := order[id]
			e.Index = i
			sorted[id] = e
		}

		before := order.IDs()
		var reasons []string
		for i, id := range res.Order {
			if i < len(before) && before[i] != id {
				reasons = append(reasons, fmt.Sprintf("%s was moved to position %d", id, i))
			}
		}

		return &NormalizeResult{
			Success: true,
			Ordered: CanonicalToPresentation(sorted, modules),
			Reasons: reasons,
		}, nil
	}
}

type staticValidator struct {
	issues []string
	err    error
	calls  [][]ModuleID
}

func (v *staticValidator) ValidateOrder(ctx context.Context, enabled []ModuleRecord) ([]string, error) {
	got := make([]ModuleID, len(enabled))
	for i, m := range enabled {
		got[i] = m.ID
	}
	v.calls = append(v.calls, got)
	return v.issues, v.err
}

type multiplayerValidator struct{}

func (multiplayerValidator) ValidateCrossModule(ctx context.Context, all []ModuleRecord, candidate ModuleRecord) ([]Issue, error) {
	if candidate.IsMultiplayer {
		return nil, nil
	}
	return []Issue{{TargetModuleID: candidate.ID, Reason: "not multiplayer compatible"}}, nil
}

func newTestPipeline(t *testing.T, cfg PipelineConfig) *Pipeline {
	t.Helper()
	if cfg.Session.ProfileID == "" {
		cfg.Session = Session{ProfileID: "default", SessionID: "session-1"}
	}
	p, err := NewPipeline(cfg)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}
	return p
}

func countSeverity(ns []Notification, s Severity) int {
	count := 0
	for _, n := range ns {
		if n.Severity == s {
			count++
		}
	}
	return count
}

func harmonyModules() []ModuleRecord {
	native := mod("Native")
	native.IsOfficial = true
	return []ModuleRecord{native, mod("Harmony", "Native")}
}

func TestNewPipeline_Validation(t *testing.T) {
	if _, err := NewPipeline(PipelineConfig{Session: Session{ProfileID: "p"}}); err == nil {
		t.Error("Expected error without normalizer")
	}
	if _, err := NewPipeline(PipelineConfig{Normalizer: topoNormalizer()}); err == nil {
		t.Error("Expected error without profile id")
	}
	_, err := NewPipeline(PipelineConfig{
		Session:    Session{ProfileID: "p"},
		Normalizer: topoNormalizer(),
		SortMode:   "sideways",
	})
	if ErrorCode(err) != ErrCodeValidation {
		t.Errorf("Expected validation error for bad sort mode, got %v", err)
	}

	p := newTestPipeline(t, PipelineConfig{Normalizer: topoNormalizer()})
	if p.SortMode() != SortModeAuto {
		t.Errorf("Expected default sort mode auto, got %s", p.SortMode())
	}
}

func TestPipeline_HarmonyBeforeNative(t *testing.T) {
	validator := &staticValidator{issues: []string{"Harmony must load after Native"}}
	normalizer := NormalizerFunc(func(ctx context.Context, order CanonicalLoadOrder, modules ModuleIndex) (*NormalizeResult, error) {
		sorted := CanonicalLoadOrder{
			"Native":  {ID: "Native", Name: "Native", IsSelected: true, Index: 0},
			"Harmony": {ID: "Harmony", Name: "Harmony", IsSelected: true, Index: 1},
		}
		return &NormalizeResult{
			Success: true,
			Ordered: CanonicalToPresentation(sorted, modules),
			Reasons: []string{"Harmony was moved below Native"},
		}, nil
	})
	p := newTestPipeline(t, PipelineConfig{Normalizer: normalizer, Validator: validator})

	persisted := []LoadOrderEntry{
		{ID: "Harmony", Name: "Harmony", IsSelected: true, Index: 0},
		{ID: "Native", Name: "Native", IsSelected: true, Index: 1},
	}

	res := p.Reconcile(context.Background(), persisted, harmonyModules())

	if got := res.Order.IDs(); !reflect.DeepEqual(got, ids("Native", "Harmony")) {
		t.Errorf("Expected order [Native Harmony], got %v", got)
	}
	if res.Status != PassStatusNormalized {
		t.Errorf("Expected status normalized, got %s", res.Status)
	}
	if countSeverity(res.Notifications, SeverityWarning) != 1 {
		t.Fatalf("Expected exactly one warning, got %+v", res.Notifications)
	}
	if countSeverity(res.Notifications, SeverityError) != 0 {
		t.Errorf("Expected no errors, got %+v", res.Notifications)
	}
	warning := res.Notifications[0]
	if warning.Message != MessageAutoCorrected {
		t.Errorf("Expected message %q, got %q", MessageAutoCorrected, warning.Message)
	}
	if !strings.Contains(strings.Join(warning.Details, "\n"), "Harmony was moved below Native") {
		t.Errorf("Expected warning to list the reordering reason, got %v", warning.Details)
	}
	if !reflect.DeepEqual(validator.calls, [][]ModuleID{ids("Harmony", "Native")}) {
		t.Errorf("Expected validator to see enabled subset in order, got %v", validator.calls)
	}
	if res.Launch == nil {
		t.Error("Expected first successful pass to qualify for launch")
	}
	if res.Persisted[0].ID != "Native" || res.Persisted[0].Index != 0 {
		t.Errorf("Expected persisted form to follow the new order, got %+v", res.Persisted)
	}
}

func TestPipeline_FallbackOnNormalizerError(t *testing.T) {
	failures := map[string]Normalizer{
		"error": NormalizerFunc(func(context.Context, CanonicalLoadOrder, ModuleIndex) (*NormalizeResult, error) {
			return nil, errors.New("native library unavailable")
		}),
		"unsuccessful": NormalizerFunc(func(context.Context, CanonicalLoadOrder, ModuleIndex) (*NormalizeResult, error) {
			return &NormalizeResult{Success: false}, nil
		}),
		"no ordered view": NormalizerFunc(func(context.Context, CanonicalLoadOrder, ModuleIndex) (*NormalizeResult, error) {
			return &NormalizeResult{Success: true}, nil
		}),
		"nil result": NormalizerFunc(func(context.Context, CanonicalLoadOrder, ModuleIndex) (*NormalizeResult, error) {
			return nil, nil
		}),
		"panic": NormalizerFunc(func(context.Context, CanonicalLoadOrder, ModuleIndex) (*NormalizeResult, error) {
			panic("boom")
		}),
	}

	persisted := []LoadOrderEntry{
		{ID: "Harmony", Name: "Harmony", IsSelected: true, Index: 0},
		{ID: "Native", Name: "Native", IsSelected: true, Index: 1},
	}

	for name, normalizer := range failures {
		t.Run(name, func(t *testing.T) {
			p := newTestPipeline(t, PipelineConfig{Normalizer: normalizer})

			res := p.Reconcile(context.Background(), persisted, harmonyModules())

			if got := res.Order.IDs(); !reflect.DeepEqual(got, ids("Harmony", "Native")) {
				t.Errorf("Expected persisted order to be kept, got %v", got)
			}
			if res.Status != PassStatusFallback {
				t.Errorf("Expected status fallback, got %s", res.Status)
			}
			if len(res.Notifications) != 1 || res.Notifications[0].Severity != SeverityError {
				t.Fatalf("Expected exactly one error notification, got %+v", res.Notifications)
			}
			if res.Notifications[0].Message != MessageOrderFailed {
				t.Errorf("Expected message %q, got %q", MessageOrderFailed, res.Notifications[0].Message)
			}
			if res.Launch != nil {
				t.Error("Expected fallback pass not to qualify for launch")
			}
		})
	}
}

func TestPipeline_FallbackKeepsValidatorWarning(t *testing.T) {
	p := newTestPipeline(t, PipelineConfig{
		Normalizer: NormalizerFunc(func(context.Context, CanonicalLoadOrder, ModuleIndex) (*NormalizeResult, error) {
			return nil, errors.New("down")
		}),
		Validator: &staticValidator{issues: []string{"bad order"}},
	})

	res := p.Reconcile(context.Background(), []LoadOrderEntry{{ID: "Native", IsSelected: true}}, harmonyModules())

	if countSeverity(res.Notifications, SeverityWarning) != 1 || countSeverity(res.Notifications, SeverityError) != 1 {
		t.Errorf("Expected one warning and one error, got %+v", res.Notifications)
	}
}

func TestPipeline_ValidatorFailureIsIgnored(t *testing.T) {
	tests := []struct {
		name  string
		order OrderValidator
		cross CrossModuleValidator
	}{
		{
			name:  "error",
			order: &staticValidator{err: errors.New("validator crashed")},
		},
		{
			name: "panic",
			order: OrderValidatorFunc(func(context.Context, []ModuleRecord) ([]string, error) {
				panic("validator crashed")
			}),
		},
		{
			name: "cross-module panic",
			cross: CrossModuleValidatorFunc(func(context.Context, []ModuleRecord, ModuleRecord) ([]Issue, error) {
				panic("validator crashed")
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(t, PipelineConfig{
				Normalizer:     topoNormalizer(),
				Validator:      tt.order,
				CrossValidator: tt.cross,
			})

			var res *ReconcileResult
			func() {
				defer func() {
					if r := recover(); r != nil {
						t.Fatalf("Expected validator failure to be contained, got panic %v", r)
					}
				}()
				res = p.Reconcile(context.Background(), []LoadOrderEntry{{ID: "Native", IsSelected: true}}, harmonyModules())
			}()

			if res.Status != PassStatusNormalized {
				t.Errorf("Expected status normalized, got %s", res.Status)
			}
			if len(res.Notifications) != 0 {
				t.Errorf("Expected no notifications, got %+v", res.Notifications)
			}
			if got := res.Order.IDs(); !reflect.DeepEqual(got, ids("Native")) {
				t.Errorf("Expected order [Native], got %v", got)
			}
		})
	}
}

func TestPipeline_CycleProducesEmptyOrder(t *testing.T) {
	p := newTestPipeline(t, PipelineConfig{Normalizer: topoNormalizer()})

	persisted := []LoadOrderEntry{
		{ID: "A", IsSelected: true, Index: 0},
		{ID: "B", IsSelected: true, Index: 1},
	}
	res := p.Reconcile(context.Background(), persisted, []ModuleRecord{mod("A", "B"), mod("B", "A")})

	if len(res.Order) != 0 {
		t.Errorf("Expected empty order, got %v", res.Order.IDs())
	}
	if res.Status != PassStatusNormalized {
		t.Errorf("Expected status normalized, got %s", res.Status)
	}
	if !reflect.DeepEqual(res.Excluded, ids("A", "B")) {
		t.Errorf("Expected excluded [A B], got %v", res.Excluded)
	}
}

func TestPipeline_ManualModeKeepsUserOrder(t *testing.T) {
	p := newTestPipeline(t, PipelineConfig{Normalizer: topoNormalizer(), SortMode: SortModeManual})

	modules := []ModuleRecord{mod("A"), mod("B", "A"), mod("X", "missing")}
	persisted := []LoadOrderEntry{
		{ID: "B", IsSelected: true, Index: 0},
		{ID: "X", IsSelected: true, Index: 1},
		{ID: "A", IsSelected: true, Index: 2},
	}

	res := p.Reconcile(context.Background(), persisted, modules)

	if got := res.Order.IDs(); !reflect.DeepEqual(got, ids("B", "A")) {
		t.Errorf("Expected order [B A], got %v", got)
	}
	if len(res.Notifications) != 0 {
		t.Errorf("Expected correction reasons to stay silent in manual mode, got %+v", res.Notifications)
	}
	if !reflect.DeepEqual(res.Excluded, ids("X")) {
		t.Errorf("Expected excluded [X], got %v", res.Excluded)
	}
}

func TestPipeline_RemovedModulesDroppedSilently(t *testing.T) {
	p := newTestPipeline(t, PipelineConfig{Normalizer: topoNormalizer()})

	persisted := []LoadOrderEntry{
		{ID: "Native", IsSelected: true, Index: 0},
		{ID: "Uninstalled", IsSelected: true, Index: 1},
	}

	res := p.Reconcile(context.Background(), persisted, harmonyModules())

	for _, e := range res.Order {
		if e.ID == "Uninstalled" {
			t.Error("Expected uninstalled module to be dropped")
		}
	}
	if len(res.Notifications) != 0 {
		t.Errorf("Expected no notifications, got %+v", res.Notifications)
	}
	if len(res.Excluded) != 0 {
		t.Errorf("Expected no exclusions, got %v", res.Excluded)
	}
}

func TestPipeline_Idempotent(t *testing.T) {
	p := newTestPipeline(t, PipelineConfig{Normalizer: topoNormalizer()})

	modules := []ModuleRecord{mod("A", "B"), mod("B"), mod("C"), mod("D", "C")}
	persisted := []LoadOrderEntry{
		{ID: "D", IsSelected: true, Index: 0},
		{ID: "A", IsSelected: true, Index: 1},
		{ID: "C", IsSelected: false, Index: 2},
		{ID: "B", IsSelected: true, Index: 3},
	}

	first := p.Reconcile(context.Background(), persisted, modules)
	second := p.Reconcile(context.Background(), first.Persisted, modules)

	if !reflect.DeepEqual(first.Order.IDs(), second.Order.IDs()) {
		t.Errorf("Expected identical orders, got %v then %v", first.Order.IDs(), second.Order.IDs())
	}
	if !reflect.DeepEqual(first.Persisted, second.Persisted) {
		t.Errorf("Expected identical persisted forms, got %+v then %+v", first.Persisted, second.Persisted)
	}
	if len(second.Notifications) != 0 {
		t.Errorf("Expected second pass to emit nothing, got %+v", second.Notifications)
	}
}

func TestPipeline_CrossModuleValidity(t *testing.T) {
	p := newTestPipeline(t, PipelineConfig{
		Normalizer:     topoNormalizer(),
		CrossValidator: multiplayerValidator{},
	})

	mp := mod("MP")
	mp.IsMultiplayer = true
	modules := []ModuleRecord{mp, mod("SP"), mod("Off")}
	persisted := []LoadOrderEntry{
		{ID: "MP", IsSelected: true, Index: 0},
		{ID: "SP", IsSelected: true, Index: 1},
		{ID: "Off", IsSelected: false, Index: 2},
	}

	res := p.Reconcile(context.Background(), persisted, modules)

	valid := make(map[ModuleID]bool)
	for _, e := range res.Order {
		valid[e.ID] = e.IsValid
	}
	if !valid["MP"] || valid["SP"] || !valid["Off"] {
		t.Errorf("Unexpected validity flags: %v", valid)
	}
	if res.Report == nil || len(res.Report.Issues) != 1 || res.Report.Issues[0].TargetModuleID != "SP" {
		t.Errorf("Expected one issue for SP, got %+v", res.Report)
	}
}

func TestPipeline_NoIssuesGivesNilReport(t *testing.T) {
	p := newTestPipeline(t, PipelineConfig{
		Normalizer:     topoNormalizer(),
		CrossValidator: CrossModuleValidatorFunc(func(context.Context, []ModuleRecord, ModuleRecord) ([]Issue, error) {
			return nil, nil
		}),
	})

	res := p.Reconcile(context.Background(), []LoadOrderEntry{{ID: "Native", IsSelected: true}}, harmonyModules())

	if res.Report != nil {
		t.Errorf("Expected nil report, got %+v", res.Report)
	}
}

func TestPipeline_ClaimLaunchOnce(t *testing.T) {
	p := newTestPipeline(t, PipelineConfig{Normalizer: topoNormalizer()})

	res := p.Reconcile(context.Background(), nil, harmonyModules())
	if res.Launch == nil {
		t.Fatal("Expected launch candidate before latch trips")
	}

	if !p.ClaimLaunch() {
		t.Fatal("Expected first claim to succeed")
	}
	if p.ClaimLaunch() {
		t.Error("Expected second claim to fail")
	}

	res = p.Reconcile(context.Background(), nil, harmonyModules())
	if res.Launch != nil {
		t.Error("Expected no launch candidate after latch tripped")
	}
}
