package engine

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Mock order store for testing
type mockStore struct {
	mu     sync.Mutex
	orders map[string][]LoadOrderEntry
	saves  int
}

func newMockStore() *mockStore {
	return &mockStore{orders: make(map[string][]LoadOrderEntry)}
}

func (m *mockStore) LoadPersistedOrder(ctx context.Context, profileID string) ([]LoadOrderEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LoadOrderEntry{}, m.orders[profileID]...), nil
}

func (m *mockStore) SavePersistedOrder(ctx context.Context, profileID string, entries []LoadOrderEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[profileID] = append([]LoadOrderEntry{}, entries...)
	m.saves++
	return nil
}

func (m *mockStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// Mock inventory for testing
type mockInventory struct {
	modules []ModuleRecord
	version atomic.Uint64
}

func (m *mockInventory) GetAvailableModules(ctx context.Context) ([]ModuleRecord, error) {
	return m.modules, nil
}

func (m *mockInventory) Version() uint64 {
	return m.version.Load()
}

// Mock notifier and launcher for testing
type mockHost struct {
	mu            sync.Mutex
	notifications []Notification
	launches      [][]LoadOrderEntry
	passes        []*PassRecord
}

func (m *mockHost) Notify(ctx context.Context, profileID string, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications = append(m.notifications, n)
	return nil
}

func (m *mockHost) SetModulesToLaunch(ctx context.Context, session Session, order []LoadOrderEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.launches = append(m.launches, order)
	return nil
}

func (m *mockHost) RecordPass(ctx context.Context, pass *PassRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passes = append(m.passes, pass)
	return nil
}

func (m *mockHost) launchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.launches)
}

func (m *mockHost) passIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.passes))
	for i, p := range m.passes {
		out[i] = p.ID
	}
	return out
}

type schedulerFixture struct {
	scheduler *Scheduler
	store     *mockStore
	inventory *mockInventory
	host      *mockHost
}

func newSchedulerFixture(t *testing.T, normalizer Normalizer) *schedulerFixture {
	t.Helper()

	f := &schedulerFixture{
		store:     newMockStore(),
		inventory: &mockInventory{modules: harmonyModules()},
		host:      &mockHost{},
	}

	s, err := NewScheduler(SchedulerConfig{
		Store:     f.store,
		Inventory: f.inventory,
		Notifier:  f.host,
		Launcher:  f.host,
		History:   f.host,
	})
	if err != nil {
		t.Fatalf("Failed to create scheduler: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	f.scheduler = s

	p, err := NewPipeline(PipelineConfig{
		Session:    Session{ProfileID: "default", SessionID: "s1"},
		Normalizer: normalizer,
	})
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}
	if err := s.Activate(p); err != nil {
		t.Fatalf("Failed to activate profile: %v", err)
	}

	f.store.orders["default"] = []LoadOrderEntry{
		{ID: "Harmony", Name: "Harmony", IsSelected: true, Index: 0},
		{ID: "Native", Name: "Native", IsSelected: true, Index: 1},
	}
	return f
}

// blockingNormalizer signals when a call starts and waits for release.
type blockingNormalizer struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingNormalizer() *blockingNormalizer {
	return &blockingNormalizer{started: make(chan struct{}, 8), release: make(chan struct{})}
}

func (b *blockingNormalizer) Normalize(ctx context.Context, order CanonicalLoadOrder, modules ModuleIndex) (*NormalizeResult, error) {
	b.started <- struct{}{}
	<-b.release
	return topoNormalizer()(ctx, order, modules)
}

func TestNewScheduler_RequiresCollaborators(t *testing.T) {
	if _, err := NewScheduler(SchedulerConfig{Inventory: &mockInventory{}}); err == nil {
		t.Error("Expected error without store")
	}
	if _, err := NewScheduler(SchedulerConfig{Store: newMockStore()}); err == nil {
		t.Error("Expected error without inventory")
	}
}

func TestScheduler_CommitsResult(t *testing.T) {
	f := newSchedulerFixture(t, topoNormalizer())
	ctx := context.Background()

	res, err := f.scheduler.Reconcile(ctx, "default")
	if err != nil {
		t.Fatalf("Failed to reconcile: %v", err)
	}

	if got := res.Order.IDs(); !reflect.DeepEqual(got, ids("Native", "Harmony")) {
		t.Errorf("Expected order [Native Harmony], got %v", got)
	}

	snap, ok := f.scheduler.Committed("default")
	if !ok {
		t.Fatal("Expected committed snapshot")
	}
	if snap.PassID != res.PassID {
		t.Errorf("Expected snapshot of pass %s, got %s", res.PassID, snap.PassID)
	}
	if !reflect.DeepEqual(snap.Order.IDs(), res.Order.IDs()) {
		t.Errorf("Expected snapshot order %v, got %v", res.Order.IDs(), snap.Order.IDs())
	}

	stored, _ := f.store.LoadPersistedOrder(ctx, "default")
	if len(stored) != 2 || stored[0].ID != "Native" {
		t.Errorf("Expected stored order to start with Native, got %+v", stored)
	}

	if len(f.host.notifications) != 1 {
		t.Errorf("Expected 1 delivered notification, got %d", len(f.host.notifications))
	}
}

func TestScheduler_LaunchHandOffOncePerSession(t *testing.T) {
	f := newSchedulerFixture(t, topoNormalizer())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.scheduler.Reconcile(ctx, "default"); err != nil {
			t.Fatalf("Failed to reconcile: %v", err)
		}
	}

	if f.host.launchCount() != 1 {
		t.Errorf("Expected exactly 1 launch hand-off, got %d", f.host.launchCount())
	}
}

func TestScheduler_FIFOPerProfile(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	normalizer := NormalizerFunc(func(ctx context.Context, order CanonicalLoadOrder, modules ModuleIndex) (*NormalizeResult, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return topoNormalizer()(ctx, order, modules)
	})
	f := newSchedulerFixture(t, normalizer)
	ctx := context.Background()

	handles := make([]*PassHandle, 5)
	for i := range handles {
		h, err := f.scheduler.Submit(ctx, "default")
		if err != nil {
			t.Fatalf("Failed to submit pass %d: %v", i, err)
		}
		handles[i] = h
	}

	want := make([]string, len(handles))
	for i, h := range handles {
		if _, err := h.Wait(ctx); err != nil {
			t.Fatalf("Pass %d failed: %v", i, err)
		}
		want[i] = h.ID
	}

	if got := f.host.passIDs(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected passes to finish in submission order %v, got %v", want, got)
	}
	if maxInFlight.Load() != 1 {
		t.Errorf("Expected at most 1 pass in flight, got %d", maxInFlight.Load())
	}
	if f.scheduler.Pending("default") != 0 {
		t.Errorf("Expected no pending passes, got %d", f.scheduler.Pending("default"))
	}
}

func TestScheduler_DiscardsPassWhenInventoryChanges(t *testing.T) {
	normalizer := newBlockingNormalizer()
	f := newSchedulerFixture(t, normalizer)
	ctx := context.Background()

	h, err := f.scheduler.Submit(ctx, "default")
	if err != nil {
		t.Fatalf("Failed to submit: %v", err)
	}

	<-normalizer.started
	f.inventory.version.Add(1)
	close(normalizer.release)

	res, err := h.Wait(ctx)
	if !IsStale(err) {
		t.Fatalf("Expected stale error, got %v", err)
	}
	if res == nil {
		t.Error("Expected discarded pass to still return its result")
	}
	if h.Status() != PassStatusDiscarded {
		t.Errorf("Expected status discarded, got %s", h.Status())
	}
	if f.store.saveCount() != 0 {
		t.Errorf("Expected no save for a stale pass, got %d", f.store.saveCount())
	}
	if _, ok := f.scheduler.Committed("default"); ok {
		t.Error("Expected no committed snapshot")
	}
	if f.host.launchCount() != 0 {
		t.Error("Expected no launch hand-off for a stale pass")
	}

	// A fresh pass against the new inventory version commits normally.
	if _, err := f.scheduler.Reconcile(ctx, "default"); err != nil {
		t.Fatalf("Expected follow-up pass to commit, got %v", err)
	}
	if f.store.saveCount() != 1 {
		t.Errorf("Expected 1 save, got %d", f.store.saveCount())
	}
}

func TestScheduler_DiscardsPassOnDeactivate(t *testing.T) {
	normalizer := newBlockingNormalizer()
	f := newSchedulerFixture(t, normalizer)
	ctx := context.Background()

	h, err := f.scheduler.Submit(ctx, "default")
	if err != nil {
		t.Fatalf("Failed to submit: %v", err)
	}

	<-normalizer.started
	if err := f.scheduler.Deactivate("default"); err != nil {
		t.Fatalf("Failed to deactivate: %v", err)
	}
	close(normalizer.release)

	if _, err := h.Wait(ctx); !IsStale(err) {
		t.Fatalf("Expected stale error, got %v", err)
	}
	if f.store.saveCount() != 0 {
		t.Errorf("Expected no save, got %d", f.store.saveCount())
	}

	_, err = f.scheduler.Submit(ctx, "default")
	if ErrorCode(err) != ErrCodeProfileInactive {
		t.Errorf("Expected %s, got %v", ErrCodeProfileInactive, err)
	}
}

func TestScheduler_UnknownProfile(t *testing.T) {
	f := newSchedulerFixture(t, topoNormalizer())

	_, err := f.scheduler.Submit(context.Background(), "other")
	if ErrorCode(err) != ErrCodeNotFound {
		t.Errorf("Expected %s, got %v", ErrCodeNotFound, err)
	}
	if _, ok := f.scheduler.Committed("other"); ok {
		t.Error("Expected no snapshot for unknown profile")
	}
}

func TestScheduler_ClosedRejectsWork(t *testing.T) {
	f := newSchedulerFixture(t, topoNormalizer())
	if err := f.scheduler.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	_, err := f.scheduler.Submit(context.Background(), "default")
	var engineErr *EngineError
	if !errors.As(err, &engineErr) || engineErr.Code != ErrCodeCancelled {
		t.Errorf("Expected cancelled error, got %v", err)
	}
}

func TestScheduler_CloseFinishesRacingSubmits(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := newSchedulerFixture(t, topoNormalizer())

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			handles []*PassHandle
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				h, err := f.scheduler.Submit(context.Background(), "default")
				if err == nil {
					mu.Lock()
					handles = append(handles, h)
					mu.Unlock()
				}
			}()
		}
		if err := f.scheduler.Close(); err != nil {
			t.Fatalf("Failed to close: %v", err)
		}
		wg.Wait()

		for _, h := range handles {
			select {
			case <-h.Done():
			case <-time.After(2 * time.Second):
				t.Fatalf("Expected pass %s to finish after Close, status %s", h.ID, h.Status())
			}
		}
	}
}

func TestPassStatus(t *testing.T) {
	tests := []struct {
		status    PassStatus
		terminal  bool
		committed bool
	}{
		{PassStatusQueued, false, false},
		{PassStatusRunning, false, false},
		{PassStatusNormalized, true, true},
		{PassStatusFallback, true, true},
		{PassStatusDiscarded, true, false},
		{PassStatusFailed, true, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if tt.status.IsTerminal() != tt.terminal {
				t.Errorf("Expected IsTerminal=%v", tt.terminal)
			}
			if tt.status.IsCommitted() != tt.committed {
				t.Errorf("Expected IsCommitted=%v", tt.committed)
			}
			if err := tt.status.Validate(); err != nil {
				t.Errorf("Expected valid status, got %v", err)
			}
		})
	}

	if err := PassStatus("bogus").Validate(); err == nil {
		t.Error("Expected error for invalid status")
	}
}
