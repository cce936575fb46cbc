package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// Store persists load orders. Required.
	Store OrderStore

	// Inventory provides installed modules and the inventory version. Required.
	Inventory Inventory

	// Notifier receives committed notifications. Optional.
	Notifier Notifier

	// Launcher receives the launch hand-off. Optional.
	Launcher Launcher

	// History records finished passes. Optional.
	History PassRecorder

	// Metrics records queue and pass metrics. Optional.
	Metrics Recorder

	// Logger receives scheduler logs. Defaults to a disabled logger.
	Logger *zerolog.Logger

	// QueueSize bounds the number of queued passes per profile. Defaults to 16.
	QueueSize int
}

// Scheduler serializes reconciliation passes per profile.
// Each profile has one worker draining a FIFO queue, so at most one pass per profile
// is in flight. A pass whose profile was deactivated or whose inventory changed while
// it ran is discarded instead of committed. Committing is the only write path to the
// persisted order, and readers only ever see the last committed snapshot.
type Scheduler struct {
	store     OrderStore
	inventory Inventory
	notifier  Notifier
	launcher  Launcher
	history   PassRecorder
	metrics   Recorder
	logger    zerolog.Logger
	queueSize int

	// mu protects profiles and closed
	mu       sync.Mutex
	profiles map[string]*profileState
	closed   bool

	// submitMu is held shared while a pass is being queued and exclusively by
	// Close before it drains the queues.
	submitMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Snapshot is a committed load order.
type Snapshot struct {
	PassID           string            `json:"passId"`
	ProfileID        string            `json:"profileId"`
	Status           PassStatus        `json:"status"`
	Order            PresentationOrder `json:"order"`
	Persisted        []LoadOrderEntry  `json:"persisted"`
	InventoryVersion uint64            `json:"inventoryVersion"`
	CommittedAt      time.Time         `json:"committedAt"`
}

// profileState is the per-profile queue and committed value.
type profileState struct {
	id    string
	queue chan *PassHandle

	// mu serializes commits against deactivation
	mu         sync.Mutex
	pipeline   *Pipeline
	generation uint64
	active     bool

	pending   atomic.Int64
	committed atomic.Pointer[Snapshot]
}

// passToken captures the inputs a pass was started with.
type passToken struct {
	generation uint64
	inventory  uint64
}

// PassHandle tracks a submitted pass.
type PassHandle struct {
	ID        string
	ProfileID string

	done chan struct{}

	mu     sync.Mutex
	status PassStatus
	result *ReconcileResult
	err    error
}

func newPassHandle(profileID string) *PassHandle {
	return &PassHandle{
		ID:        uuid.New().String(),
		ProfileID: profileID,
		done:      make(chan struct{}),
		status:    PassStatusQueued,
	}
}

// Done is closed when the pass reaches a terminal status.
func (h *PassHandle) Done() <-chan struct{} {
	return h.done
}

// Status returns the current pass status.
func (h *PassHandle) Status() PassStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Wait blocks until the pass finishes or ctx is done.
// Discarded passes return their result together with a stale error.
func (h *PassHandle) Wait(ctx context.Context) (*ReconcileResult, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.result, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *PassHandle) setStatus(status PassStatus) {
	h.mu.Lock()
	h.status = status
	h.mu.Unlock()
}

func (h *PassHandle) finish(status PassStatus, result *ReconcileResult, err error) {
	h.mu.Lock()
	h.status = status
	h.result = result
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

// NewScheduler creates a scheduler. Call Close to stop its workers.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Store == nil {
		return nil, NewPermanentError("scheduler requires an order store", nil).WithCode(ErrCodeValidation)
	}
	if cfg.Inventory == nil {
		return nil, NewPermanentError("scheduler requires an inventory", nil).WithCode(ErrCodeValidation)
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 16 // Default per-profile queue depth
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	var metrics Recorder = nopRecorder{}
	if cfg.Metrics != nil {
		metrics = cfg.Metrics
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		store:     cfg.Store,
		inventory: cfg.Inventory,
		notifier:  cfg.Notifier,
		launcher:  cfg.Launcher,
		history:   cfg.History,
		metrics:   metrics,
		logger:    logger.With().Str("component", "scheduler").Logger(),
		queueSize: queueSize,
		profiles:  make(map[string]*profileState),
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Activate makes a profile eligible for passes using the given pipeline.
// Activating an already active profile switches it to the new pipeline and
// invalidates any pass still running for the old one.
func (s *Scheduler) Activate(pipeline *Pipeline) error {
	if pipeline == nil {
		return NewPermanentError("pipeline is nil", nil).WithCode(ErrCodeValidation)
	}
	profileID := pipeline.Session().ProfileID

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return NewPermanentError("scheduler is closed", nil).WithCode(ErrCodeCancelled)
	}

	ps, ok := s.profiles[profileID]
	if !ok {
		ps = &profileState{
			id:    profileID,
			queue: make(chan *PassHandle, s.queueSize),
		}
		s.profiles[profileID] = ps
		s.wg.Add(1)
		go s.worker(ps)
	}

	ps.mu.Lock()
	ps.pipeline = pipeline
	ps.generation++
	ps.active = true
	ps.mu.Unlock()

	s.logger.Info().Str("profile_id", profileID).Str("session_id", pipeline.Session().SessionID).Msg("Profile activated")
	return nil
}

// Deactivate stops accepting passes for a profile. A running pass is discarded
// at commit time and queued passes are dropped.
func (s *Scheduler) Deactivate(profileID string) error {
	ps, err := s.profile(profileID)
	if err != nil {
		return err
	}

	ps.mu.Lock()
	ps.active = false
	ps.generation++
	ps.mu.Unlock()

	s.logger.Info().Str("profile_id", profileID).Msg("Profile deactivated")
	return nil
}

// Submit queues a reconciliation pass for a profile.
// It blocks only while the profile's queue is full.
func (s *Scheduler) Submit(ctx context.Context, profileID string) (*PassHandle, error) {
	ps, err := s.profile(profileID)
	if err != nil {
		return nil, err
	}

	ps.mu.Lock()
	active := ps.active
	ps.mu.Unlock()
	if !active {
		return nil, NewPermanentError("profile is not active", nil).
			WithCode(ErrCodeProfileInactive).
			WithProfile(profileID)
	}

	s.submitMu.RLock()
	defer s.submitMu.RUnlock()
	if s.ctx.Err() != nil {
		return nil, NewPermanentError("scheduler is closed", nil).WithCode(ErrCodeCancelled)
	}

	h := newPassHandle(profileID)
	depth := ps.pending.Add(1)

	select {
	case ps.queue <- h:
		s.metrics.RecordQueueDepth(profileID, int(depth))
		s.logger.Debug().Str("profile_id", profileID).Str("pass_id", h.ID).Int64("queued", depth).Msg("Pass queued")
		return h, nil
	case <-ctx.Done():
		ps.pending.Add(-1)
		return nil, ctx.Err()
	case <-s.ctx.Done():
		ps.pending.Add(-1)
		return nil, NewPermanentError("scheduler is closed", nil).WithCode(ErrCodeCancelled)
	}
}

// Reconcile submits a pass and waits for it.
func (s *Scheduler) Reconcile(ctx context.Context, profileID string) (*ReconcileResult, error) {
	h, err := s.Submit(ctx, profileID)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

// Committed returns the last committed snapshot for a profile.
func (s *Scheduler) Committed(profileID string) (*Snapshot, bool) {
	ps, err := s.profile(profileID)
	if err != nil {
		return nil, false
	}
	snap := ps.committed.Load()
	return snap, snap != nil
}

// Pending returns the number of queued or running passes for a profile.
func (s *Scheduler) Pending(profileID string) int {
	ps, err := s.profile(profileID)
	if err != nil {
		return 0
	}
	return int(ps.pending.Load())
}

// Close stops all workers. Queued passes finish with a cancellation error.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	// Wait out submissions that started before cancellation.
	s.submitMu.Lock()
	s.submitMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ps := range s.profiles {
		for {
			select {
			case h := <-ps.queue:
				ps.pending.Add(-1)
				h.finish(PassStatusFailed, nil, NewPermanentError("scheduler closed", nil).
					WithCode(ErrCodeCancelled).WithProfile(ps.id))
				continue
			default:
			}
			break
		}
	}
	return nil
}

func (s *Scheduler) profile(profileID string) (*profileState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, NewPermanentError("scheduler is closed", nil).WithCode(ErrCodeCancelled)
	}
	ps, ok := s.profiles[profileID]
	if !ok {
		return nil, NewPermanentError("unknown profile", nil).
			WithCode(ErrCodeNotFound).
			WithProfile(profileID)
	}
	return ps, nil
}

// worker drains one profile's queue in FIFO order.
func (s *Scheduler) worker(ps *profileState) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case h := <-ps.queue:
			s.runPass(s.ctx, ps, h)
			depth := ps.pending.Add(-1)
			s.metrics.RecordQueueDepth(ps.id, int(depth))
		}
	}
}

// runPass executes one pass and commits its result if it is still current.
func (s *Scheduler) runPass(ctx context.Context, ps *profileState, h *PassHandle) {
	startedAt := time.Now()
	logger := s.logger.With().Str("profile_id", ps.id).Str("pass_id", h.ID).Logger()

	ps.mu.Lock()
	pipeline := ps.pipeline
	active := ps.active
	token := passToken{generation: ps.generation, inventory: s.inventory.Version()}
	ps.mu.Unlock()

	record := &PassRecord{
		ID:               h.ID,
		ProfileID:        ps.id,
		SessionID:        pipeline.Session().SessionID,
		InventoryVersion: token.inventory,
		StartedAt:        startedAt,
	}

	if !active {
		err := NewPermanentError("profile is not active", nil).
			WithCode(ErrCodeProfileInactive).
			WithProfile(ps.id)
		s.finishPass(ctx, h, record, PassStatusDiscarded, nil, err)
		return
	}

	h.setStatus(PassStatusRunning)

	persisted, err := s.store.LoadPersistedOrder(ctx, ps.id)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load persisted order")
		s.finishPass(ctx, h, record, PassStatusFailed, nil,
			NewTransientError("failed to load persisted order", err).WithCode(ErrCodeStoreFailed).WithProfile(ps.id))
		return
	}

	available, err := s.inventory.GetAvailableModules(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to read module inventory")
		s.finishPass(ctx, h, record, PassStatusFailed, nil,
			NewTransientError("failed to read module inventory", err).WithCode(ErrCodeNotFound).WithProfile(ps.id))
		return
	}

	result := pipeline.Reconcile(ctx, persisted, available)
	result.PassID = h.ID
	record.Notifications = result.Notifications

	if err := s.commit(ctx, ps, token, result); err != nil {
		if IsStale(err) {
			logger.Info().Msg("Discarding stale pass")
			s.finishPass(ctx, h, record, PassStatusDiscarded, result, err)
			return
		}
		logger.Error().Err(err).Msg("Failed to commit pass")
		s.finishPass(ctx, h, record, PassStatusFailed, result, err)
		return
	}

	for _, n := range result.Notifications {
		if s.notifier == nil {
			break
		}
		if err := s.notifier.Notify(ctx, ps.id, n); err != nil {
			logger.Warn().Err(err).Str("message", n.Message).Msg("Failed to deliver notification")
		}
	}

	if result.Launch != nil && s.launcher != nil && pipeline.ClaimLaunch() {
		if err := s.launcher.SetModulesToLaunch(ctx, pipeline.Session(), result.Launch); err != nil {
			logger.Warn().Err(err).Msg("Launch hand-off failed")
		} else {
			logger.Info().Int("modules", len(result.Launch)).Msg("Handed load order to launcher")
		}
	}

	s.finishPass(ctx, h, record, result.Status, result, nil)
}

// commit is the single write path for a profile's persisted order.
func (s *Scheduler) commit(ctx context.Context, ps *profileState, token passToken, result *ReconcileResult) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if !ps.active || ps.generation != token.generation {
		return NewStaleError("profile changed during pass", nil).WithProfile(ps.id)
	}
	if v := s.inventory.Version(); v != token.inventory {
		return NewStaleError(fmt.Sprintf("inventory changed during pass (version %d -> %d)", token.inventory, v), nil).
			WithProfile(ps.id)
	}

	if err := s.store.SavePersistedOrder(ctx, ps.id, result.Persisted); err != nil {
		return NewTransientError("failed to save persisted order", err).
			WithCode(ErrCodeStoreFailed).
			WithProfile(ps.id)
	}

	ps.committed.Store(&Snapshot{
		PassID:           result.PassID,
		ProfileID:        ps.id,
		Status:           result.Status,
		Order:            result.Order,
		Persisted:        result.Persisted,
		InventoryVersion: token.inventory,
		CommittedAt:      time.Now(),
	})
	return nil
}

func (s *Scheduler) finishPass(ctx context.Context, h *PassHandle, record *PassRecord, status PassStatus, result *ReconcileResult, err error) {
	record.Status = status
	record.CompletedAt = time.Now()
	if err != nil {
		record.Error = err.Error()
	}

	if s.history != nil {
		if herr := s.history.RecordPass(ctx, record); herr != nil {
			s.logger.Warn().Err(herr).Str("pass_id", record.ID).Msg("Failed to record pass history")
		}
	}

	s.metrics.RecordPass(record.ProfileID, string(status), record.CompletedAt.Sub(record.StartedAt))
	h.finish(status, result, err)
}
