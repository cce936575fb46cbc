package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/ordomods/ordo/pkg/engine"
)

// Engine evaluates Rego policies against load orders.
// It implements engine.OrderValidator and engine.CrossModuleValidator.
type Engine struct {
	mu          sync.RWMutex
	policies    map[string]*compiledPolicy
	store       storage.Store
	logger      zerolog.Logger
	multiplayer bool
	profileID   string
	onViolation func(Violation)
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMultiplayer marks evaluations as belonging to a multiplayer session.
func WithMultiplayer(enabled bool) Option {
	return func(e *Engine) {
		e.multiplayer = enabled
	}
}

// WithViolationHook registers fn to be called for every violation found.
func WithViolationHook(fn func(Violation)) Option {
	return func(e *Engine) {
		e.onViolation = fn
	}
}

// WithProfile sets the profile id passed to policies.
func WithProfile(profileID string) Option {
	return func(e *Engine) {
		e.profileID = profileID
	}
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store:    inmem.New(),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// ValidateOrder implements engine.OrderValidator. It returns the finding messages
// of every enabled policy for the enabled list.
func (e *Engine) ValidateOrder(ctx context.Context, enabled []engine.ModuleRecord) ([]string, error) {
	result, err := e.Evaluate(ctx, &Input{
		Mode:    ModeOrder,
		Enabled: toModuleInputs(enabled),
	})
	if err != nil {
		return nil, engine.NewTransientError("order validation failed", err).
			WithCode(engine.ErrCodeValidatorFailed)
	}

	var issues []string
	for _, v := range result.Violations {
		issues = append(issues, v.Message)
	}
	return issues, nil
}

// ValidateCrossModule implements engine.CrossModuleValidator.
func (e *Engine) ValidateCrossModule(ctx context.Context, allEnabled []engine.ModuleRecord, candidate engine.ModuleRecord) ([]engine.Issue, error) {
	c := toModuleInput(candidate)
	result, err := e.Evaluate(ctx, &Input{
		Mode:      ModeModule,
		Enabled:   toModuleInputs(allEnabled),
		Candidate: &c,
	})
	if err != nil {
		return nil, engine.NewTransientError("cross-module validation failed", err).
			WithCode(engine.ErrCodeValidatorFailed).
			WithModule(candidate.ID)
	}

	var issues []engine.Issue
	for _, v := range result.Violations {
		target := v.Module
		if target == "" {
			target = candidate.ID
		}
		issues = append(issues, engine.Issue{TargetModuleID: target, Reason: v.Message})
	}
	return issues, nil
}

// Evaluate runs every enabled policy against input. Policies that fail to evaluate
// are logged and listed in Result.Failed; only context cancellation is an error.
func (e *Engine) Evaluate(ctx context.Context, input *Input) (*Result, error) {
	startTime := time.Now()

	if input.Context == nil {
		input.Context = &Context{
			ProfileID:   e.profileID,
			Multiplayer: e.multiplayer,
			Timestamp:   startTime,
		}
	}
	if input.Enabled == nil {
		input.Enabled = []ModuleInput{}
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &Result{EvaluatedAt: startTime}
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)
		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", name).
				Str("mode", string(input.Mode)).
				Msg("Policy evaluation failed")
			result.Failed = append(result.Failed, name)
			continue
		}
		result.Violations = append(result.Violations, violations...)
		if e.onViolation != nil {
			for _, v := range violations {
				e.onViolation(v)
			}
		}
	}

	result.Duration = time.Since(startTime)
	e.logger.Debug().
		Str("mode", string(input.Mode)).
		Int("violations", len(result.Violations)).
		Dur("duration", result.Duration).
		Msg("Policy evaluation completed")

	return result, nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d, input))
		}
	}

	return violations, nil
}

// createViolation creates a Violation from a deny set member.
func createViolation(policy *Policy, result interface{}, input *Input) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}
	if input.Candidate != nil {
		violation.Module = engine.ModuleID(input.Candidate.ID)
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if mod, ok := v["module"].(string); ok {
			violation.Module = engine.ModuleID(mod)
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy compiles a policy and stores it under its name.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Store(e.store),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    query,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Str("package", module.Package.Path.String()).
		Msg("Policy compiled successfully")

	return nil
}

// loadBuiltinPolicies compiles the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	builtins := GetBuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStorePolicy(ctx, &builtins[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")

	return nil
}

// LoadPolicies loads and compiles custom policies from files and directories.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.AddPolicies(ctx, policies)
}

// AddPolicies compiles policies and adds them to the engine. Nothing is added
// when any policy fails to compile.
func (e *Engine) AddPolicies(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	previous := e.snapshot()
	for i := range policies {
		if existing, ok := e.policies[policies[i].Name]; ok && existing.policy.Builtin {
			e.policies = previous
			return fmt.Errorf("policy %s would replace a built-in policy", policies[i].Name)
		}
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.policies = previous
			e.logger.Error().Err(err).
				Str("policy", policies[i].Name).
				Msg("Failed to compile policy")
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// ReplaceCustomPolicies swaps every non-built-in policy for the given set.
// It is the reload hook used by Watch.
func (e *Engine) ReplaceCustomPolicies(ctx context.Context, policies []Policy) error {
	e.mu.Lock()
	previous := e.snapshot()
	for name, cp := range e.policies {
		if !cp.policy.Builtin {
			delete(e.policies, name)
		}
	}
	e.mu.Unlock()

	if err := e.AddPolicies(ctx, policies); err != nil {
		e.mu.Lock()
		e.policies = previous
		e.mu.Unlock()
		return err
	}
	return nil
}

// Watch loads custom policies from paths and reloads them whenever a file changes.
func (e *Engine) Watch(ctx context.Context, paths []string) (*Loader, error) {
	if err := e.LoadPolicies(ctx, paths); err != nil {
		return nil, err
	}

	loader := NewLoader(e.logger)
	err := loader.Watch(ctx, paths, func(policies []Policy) error {
		return e.ReplaceCustomPolicies(ctx, policies)
	})
	if err != nil {
		return nil, err
	}
	return loader, nil
}

func (e *Engine) snapshot() map[string]*compiledPolicy {
	out := make(map[string]*compiledPolicy, len(e.policies))
	for k, v := range e.policies {
		out[k] = v
	}
	return out
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}

	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")

	return nil
}
