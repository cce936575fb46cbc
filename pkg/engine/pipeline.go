package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Notification messages emitted by a reconciliation pass.
const (
	MessageAutoCorrected = "Load order was auto-corrected"
	MessageOrderFailed   = "Failed to order modules"
)

// PipelineConfig configures a reconciliation pipeline.
type PipelineConfig struct {
	// Session is the profile and host session the pipeline reconciles for.
	Session Session

	// Normalizer is the authoritative ordering service. Required.
	Normalizer Normalizer

	// Validator checks the enabled subset before normalization. Optional.
	Validator OrderValidator

	// CrossValidator annotates presentation entries with validity. Optional.
	CrossValidator CrossModuleValidator

	// SortMode selects how a successful normalization is applied. Defaults to SortModeAuto.
	SortMode SortMode

	// Logger receives pipeline logs. Defaults to a disabled logger.
	Logger *zerolog.Logger

	// Tracer creates spans for each pass. Defaults to a no-op tracer.
	Tracer trace.Tracer

	// Metrics records pass metrics. Defaults to a no-op recorder.
	Metrics Recorder
}

// Pipeline reconciles a persisted order with the installed modules and the normalizer.
// A pipeline is bound to one session; its launch latch trips at most once.
type Pipeline struct {
	session        Session
	normalizer     Normalizer
	validator      OrderValidator
	crossValidator CrossModuleValidator
	mode           SortMode
	logger         zerolog.Logger
	tracer         trace.Tracer
	metrics        Recorder

	launched atomic.Bool
}

// ReconcileResult is everything a pass produces.
type ReconcileResult struct {
	// PassID identifies the pass.
	PassID string `json:"passId"`

	// Session is the session the pass ran for.
	Session Session `json:"session"`

	// Status is PassStatusNormalized or PassStatusFallback.
	Status PassStatus `json:"status"`

	// Order is the presentation order to render.
	Order PresentationOrder `json:"order"`

	// Persisted is Order in its persisted form, ready for storage.
	Persisted []LoadOrderEntry `json:"persisted"`

	// Notifications are the user-facing messages of the pass, in emission order.
	Notifications []Notification `json:"notifications,omitempty"`

	// Report holds cross-module findings. Nil when every entry is valid.
	Report *ValidationReport `json:"report,omitempty"`

	// Excluded lists modules dropped because the normalizer deemed them unusable.
	Excluded []ModuleID `json:"excluded,omitempty"`

	// Launch is set when this pass qualifies for the session's launch hand-off.
	Launch []LoadOrderEntry `json:"launch,omitempty"`

	// Duration is the wall time of the pass.
	Duration time.Duration `json:"duration"`
}

// NewPipeline creates a pipeline.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Normalizer == nil {
		return nil, NewPermanentError("pipeline requires a normalizer", nil).
			WithCode(ErrCodeValidation)
	}
	if cfg.Session.ProfileID == "" {
		return nil, NewPermanentError("pipeline requires a profile id", nil).
			WithCode(ErrCodeValidation)
	}

	mode := cfg.SortMode
	if mode == "" {
		mode = SortModeAuto
	}
	if err := mode.Validate(); err != nil {
		return nil, NewPermanentError("invalid pipeline configuration", err).
			WithCode(ErrCodeValidation)
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("ordo/engine")
	}

	var metrics Recorder = nopRecorder{}
	if cfg.Metrics != nil {
		metrics = cfg.Metrics
	}

	return &Pipeline{
		session:        cfg.Session,
		normalizer:     cfg.Normalizer,
		validator:      cfg.Validator,
		crossValidator: cfg.CrossValidator,
		mode:           mode,
		logger: logger.With().
			Str("component", "pipeline").
			Str("profile_id", cfg.Session.ProfileID).
			Str("session_id", cfg.Session.SessionID).
			Logger(),
		tracer:  tracer,
		metrics: metrics,
	}, nil
}

// Session returns the session the pipeline is bound to.
func (p *Pipeline) Session() Session {
	return p.session
}

// SortMode returns the configured sort mode.
func (p *Pipeline) SortMode() SortMode {
	return p.mode
}

// Launched reports whether the launch hand-off already happened in this session.
func (p *Pipeline) Launched() bool {
	return p.launched.Load()
}

// ClaimLaunch trips the launch latch. It returns true only for the first caller.
func (p *Pipeline) ClaimLaunch() bool {
	return p.launched.CompareAndSwap(false, true)
}

// Reconcile runs one reconciliation pass. It never fails: normalizer and validator
// errors are reported through notifications and the persisted order is kept.
func (p *Pipeline) Reconcile(ctx context.Context, persisted []LoadOrderEntry, available []ModuleRecord) *ReconcileResult {
	start := time.Now()
	result := &ReconcileResult{
		PassID:  uuid.New().String(),
		Session: p.session,
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.reconcile", trace.WithAttributes(
		attribute.String("profile.id", p.session.ProfileID),
		attribute.String("pass.id", result.PassID),
		attribute.Int("order.persisted", len(persisted)),
		attribute.Int("modules.available", len(available)),
	))
	defer span.End()

	logger := p.logger.With().Str("pass_id", result.PassID).Logger()

	modules := IndexModules(available)
	canonical := PersistedToCanonical(persisted, modules)
	if dropped := len(persisted) - len(canonical); dropped > 0 {
		logger.Debug().Int("dropped", dropped).Msg("Dropped persisted entries without installed module")
	}

	corrections := p.validateOrder(ctx, logger, canonical, modules)

	norm, err := p.normalize(ctx, canonical, modules)
	switch {
	case err != nil:
		logger.Error().Err(err).Msg("Normalizer failed, keeping persisted order")
		span.RecordError(err)
		span.SetStatus(codes.Error, "normalizer failed")

		result.Status = PassStatusFallback
		result.Order = CanonicalToPresentation(canonical, modules)
		if len(corrections) > 0 {
			result.Notifications = append(result.Notifications, newNotification(SeverityWarning, MessageAutoCorrected, corrections))
		}
		result.Notifications = append(result.Notifications, newNotification(SeverityError, MessageOrderFailed, []string{err.Error()}))

	case p.mode == SortModeAuto:
		result.Status = PassStatusNormalized
		result.Order = adoptOrdered(norm.Ordered, canonical, modules)
		corrections = append(corrections, norm.Reasons...)
		if len(corrections) > 0 {
			result.Notifications = append(result.Notifications, newNotification(SeverityWarning, MessageAutoCorrected, corrections))
		}

	default:
		result.Status = PassStatusNormalized
		result.Order = keepUsable(canonical, norm.Ordered, modules)
		if len(corrections) > 0 {
			result.Notifications = append(result.Notifications, newNotification(SeverityWarning, MessageAutoCorrected, corrections))
		}
	}

	result.Excluded = excludedIDs(canonical, result.Order)
	if len(result.Excluded) > 0 {
		p.metrics.RecordExclusions("unusable", len(result.Excluded))
		logger.Info().Int("excluded", len(result.Excluded)).Msg("Excluded unusable modules from the order")
	}

	result.Order, result.Report = p.annotateValidity(ctx, logger, result.Order)
	result.Persisted = PresentationToPersisted(result.Order)

	if result.Status == PassStatusNormalized && !p.launched.Load() {
		result.Launch = result.Persisted
	}

	result.Duration = time.Since(start)
	span.SetAttributes(
		attribute.String("pass.status", string(result.Status)),
		attribute.Int("order.size", len(result.Order)),
		attribute.Int("notifications", len(result.Notifications)),
	)

	logger.Info().
		Str("status", string(result.Status)).
		Int("entries", len(result.Order)).
		Int("notifications", len(result.Notifications)).
		Dur("duration", result.Duration).
		Msg("Reconciliation pass finished")

	return result
}

// validateOrder runs the order validator on the enabled subset.
// Validator failures are logged and treated as no findings.
func (p *Pipeline) validateOrder(ctx context.Context, logger zerolog.Logger, canonical CanonicalLoadOrder, modules ModuleIndex) []string {
	if p.validator == nil {
		return nil
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.validate")
	defer span.End()

	enabled := make([]ModuleRecord, 0)
	for _, e := range canonical.Enabled() {
		if m, ok := modules.Lookup(e.ID); ok {
			enabled = append(enabled, m)
		}
	}

	issues, err := p.callOrderValidator(ctx, enabled)
	if err != nil {
		logger.Warn().Err(err).Msg("Order validation failed")
		span.RecordError(err)
		return nil
	}
	span.SetAttributes(attribute.Int("issues", len(issues)))
	return issues
}

// callOrderValidator converts a validator panic into an error.
func (p *Pipeline) callOrderValidator(ctx context.Context, enabled []ModuleRecord) (issues []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			issues, err = nil, p.validatorPanic(r)
		}
	}()
	return p.validator.ValidateOrder(ctx, enabled)
}

// callCrossValidator converts a validator panic into an error.
func (p *Pipeline) callCrossValidator(ctx context.Context, enabled []ModuleRecord, candidate ModuleRecord) (issues []Issue, err error) {
	defer func() {
		if r := recover(); r != nil {
			issues, err = nil, p.validatorPanic(r)
		}
	}()
	return p.crossValidator.ValidateCrossModule(ctx, enabled, candidate)
}

func (p *Pipeline) validatorPanic(r interface{}) error {
	return NewPermanentError("validator panicked", fmt.Errorf("%v", r)).
		WithCode(ErrCodeValidatorFailed).
		WithProfile(p.session.ProfileID)
}

// normalize calls the normalizer and folds every kind of failure into a single error.
func (p *Pipeline) normalize(ctx context.Context, canonical CanonicalLoadOrder, modules ModuleIndex) (res *NormalizeResult, err error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.normalize")
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = NewPermanentError("normalizer panicked", fmt.Errorf("%v", r)).
				WithCode(ErrCodeNormalizerFailed).
				WithProfile(p.session.ProfileID)
		}
		p.metrics.RecordNormalizerCall(err == nil, time.Since(start))
		if err != nil {
			span.RecordError(err)
		}
	}()

	res, err = p.normalizer.Normalize(ctx, canonical, modules)
	if err != nil {
		var engineErr *EngineError
		if errors.As(err, &engineErr) {
			return nil, err
		}
		return nil, NewTransientError("normalizer call failed", err).
			WithCode(ErrCodeNormalizerFailed).
			WithProfile(p.session.ProfileID)
	}
	if res == nil || !res.Success {
		return nil, NewPermanentError("normalizer reported failure", nil).
			WithCode(ErrCodeNormalizerFailed).
			WithProfile(p.session.ProfileID)
	}
	if res.Ordered == nil {
		return nil, NewPermanentError("normalizer returned no ordered view", nil).
			WithCode(ErrCodeNormalizerFailed).
			WithProfile(p.session.ProfileID)
	}
	return res, nil
}

// annotateValidity marks each enabled entry with the cross-module validator's verdict.
func (p *Pipeline) annotateValidity(ctx context.Context, logger zerolog.Logger, order PresentationOrder) (PresentationOrder, *ValidationReport) {
	if p.crossValidator == nil || len(order) == 0 {
		return order, nil
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.cross_validate")
	defer span.End()

	enabled := make([]ModuleRecord, 0, len(order))
	for _, e := range order {
		if e.IsSelected {
			enabled = append(enabled, e.Module)
		}
	}

	out := make(PresentationOrder, len(order))
	copy(out, order)

	var all []Issue
	for i := range out {
		if !out[i].IsSelected {
			continue
		}
		issues, err := p.callCrossValidator(ctx, enabled, out[i].Module)
		if err != nil {
			logger.Warn().Err(err).Str("module_id", string(out[i].ID)).Msg("Cross-module validation failed")
			continue
		}
		if len(issues) > 0 {
			out[i].IsValid = false
			all = append(all, issues...)
		}
	}

	span.SetAttributes(attribute.Int("issues", len(all)))
	return out, BuildReport(all)
}

// adoptOrdered resolves the normalizer's ordered view against the installed modules.
// Unknown or repeated ids are dropped; names and locks fall back to the canonical entry.
func adoptOrdered(ordered PresentationOrder, canonical CanonicalLoadOrder, modules ModuleIndex) PresentationOrder {
	out := make(PresentationOrder, 0, len(ordered))
	seen := make(map[ModuleID]bool, len(ordered))
	for _, e := range ordered {
		m, ok := modules.Lookup(e.ID)
		if !ok || seen[e.ID] {
			continue
		}
		seen[e.ID] = true

		base, known := canonical[e.ID]
		if e.Name == "" {
			e.Name = base.Name
			if e.Name == "" {
				e.Name = m.Name()
			}
		}
		if e.Locked == LockNone && known {
			e.Locked = base.Locked
		}
		e.Module = m
		e.IsValid = true
		if e.PackageID == "" {
			e.PackageID = m.PackageID
		}
		out = append(out, e)
	}
	return reindex(out)
}

// keepUsable keeps the canonical order minus the entries the normalizer left out.
func keepUsable(canonical CanonicalLoadOrder, ordered PresentationOrder, modules ModuleIndex) PresentationOrder {
	usable := make(map[ModuleID]bool, len(ordered))
	for _, e := range ordered {
		usable[e.ID] = true
	}
	kept := make(CanonicalLoadOrder, len(canonical))
	for id, e := range canonical {
		if usable[id] {
			kept[id] = e
		}
	}
	return CanonicalToPresentation(kept, modules)
}

func excludedIDs(canonical CanonicalLoadOrder, order PresentationOrder) []ModuleID {
	present := make(map[ModuleID]bool, len(order))
	for _, e := range order {
		present[e.ID] = true
	}
	var out []ModuleID
	for _, id := range canonical.IDs() {
		if !present[id] {
			out = append(out, id)
		}
	}
	return out
}

func newNotification(severity Severity, message string, details []string) Notification {
	var d []string
	if len(details) > 0 {
		d = make([]string, len(details))
		copy(d, details)
	}
	return Notification{
		ID:       uuid.New().String(),
		Severity: severity,
		Message:  message,
		Details:  d,
	}
}
