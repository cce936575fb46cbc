package policy

import (
	"time"

	"github.com/ordomods/ordo/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational findings.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for findings that make an order or module unusable.
	SeverityError Severity = "error"
)

func (s Severity) valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError:
		return true
	}
	return false
}

// Mode selects which question a policy evaluation answers.
type Mode string

const (
	// ModeOrder checks the enabled list as a whole.
	ModeOrder Mode = "order"

	// ModeModule checks one candidate module against the enabled list.
	ModeModule Mode = "module"
)

// Policy represents a policy rule with its Rego code.
// A policy package contributes findings through a deny set whose members are
// either a message string or an object with message, module and severity keys.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with ordo.
	Builtin bool `json:"builtin,omitempty"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single policy finding.
type Violation struct {
	// Policy is the name of the policy that produced the finding.
	Policy string `json:"policy"`

	// Module is the module the finding is about, if any.
	Module engine.ModuleID `json:"module,omitempty"`

	// Message is a human-readable finding.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result represents the outcome of one evaluation across all enabled policies.
type Result struct {
	// Violations lists every finding in policy name order.
	Violations []Violation `json:"violations,omitempty"`

	// Failed lists the policies whose evaluation errored.
	Failed []string `json:"failed,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the evaluation happened.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is the document policies are evaluated against.
type Input struct {
	// Mode selects order or module checks.
	Mode Mode `json:"mode"`

	// Enabled is the enabled module list in load order.
	Enabled []ModuleInput `json:"enabled"`

	// Candidate is the module under test in ModeModule.
	Candidate *ModuleInput `json:"candidate,omitempty"`

	// Context provides session information.
	Context *Context `json:"context"`
}

// ModuleInput is the policy view of a module record.
type ModuleInput struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Version      string   `json:"version,omitempty"`
	Dependencies []string `json:"dependencies"`
	Official     bool     `json:"official"`
	Locked       bool     `json:"locked"`
	Multiplayer  bool     `json:"multiplayer"`
}

// Context provides session information for policy evaluation.
type Context struct {
	// ProfileID is the profile being reconciled, when known.
	ProfileID string `json:"profile_id,omitempty"`

	// Multiplayer is set for multiplayer sessions.
	Multiplayer bool `json:"multiplayer"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}

func toModuleInput(m engine.ModuleRecord) ModuleInput {
	deps := make([]string, len(m.Dependencies))
	for i, d := range m.Dependencies {
		deps[i] = string(d)
	}
	return ModuleInput{
		ID:           string(m.ID),
		Name:         m.Name(),
		Version:      m.Version,
		Dependencies: deps,
		Official:     m.IsOfficial,
		Locked:       m.IsLocked,
		Multiplayer:  m.IsMultiplayer,
	}
}

func toModuleInputs(modules []engine.ModuleRecord) []ModuleInput {
	out := make([]ModuleInput, len(modules))
	for i, m := range modules {
		out[i] = toModuleInput(m)
	}
	return out
}
