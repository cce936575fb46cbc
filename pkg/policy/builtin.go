package policy

import (
	"time"
)

// Built-in policy names.
const (
	PolicyMissingDependency = "missing-dependency"
	PolicyDependencyOrder   = "dependency-order"
	PolicyMultiplayer       = "multiplayer-compatibility"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		missingDependencyPolicy(),
		dependencyOrderPolicy(),
		multiplayerPolicy(),
	}
}

// missingDependencyPolicy reports enabled modules whose dependencies are not enabled.
func missingDependencyPolicy() Policy {
	return Policy{
		Name:        PolicyMissingDependency,
		Description: "Every dependency of an enabled module must be enabled",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"dependencies"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package ordo.policies.dependencies

import rego.v1

enabled_ids contains m.id if {
	some m in input.enabled
}

deny contains violation if {
	input.mode == "order"
	some m in input.enabled
	some dep in m.dependencies
	not enabled_ids[dep]
	violation := {
		"message": sprintf("%s requires %s, which is not enabled", [m.name, dep]),
		"module": m.id,
	}
}

deny contains violation if {
	input.mode == "module"
	c := input.candidate
	some dep in c.dependencies
	not enabled_ids[dep]
	violation := {
		"message": sprintf("%s requires %s, which is not enabled", [c.name, dep]),
		"module": c.id,
	}
}
`,
	}
}

// dependencyOrderPolicy reports modules that load before one of their dependencies.
func dependencyOrderPolicy() Policy {
	return Policy{
		Name:        PolicyDependencyOrder,
		Description: "Modules must load after the modules they depend on",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"dependencies", "order"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package ordo.policies.order

import rego.v1

position[m.id] := i if {
	some i, m in input.enabled
}

names[m.id] := m.name if {
	some m in input.enabled
}

deny contains violation if {
	input.mode == "order"
	some i, m in input.enabled
	some dep in m.dependencies
	position[dep] > i
	violation := {
		"message": sprintf("%s must load after %s", [m.name, names[dep]]),
		"module": m.id,
	}
}

deny contains violation if {
	input.mode == "module"
	c := input.candidate
	some dep in c.dependencies
	position[dep] > position[c.id]
	violation := {
		"message": sprintf("%s must load after %s", [c.name, names[dep]]),
		"module": c.id,
	}
}
`,
	}
}

// multiplayerPolicy reports modules that cannot be used in a multiplayer session.
func multiplayerPolicy() Policy {
	return Policy{
		Name:        PolicyMultiplayer,
		Description: "Only multiplayer compatible modules may be enabled in multiplayer sessions",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"multiplayer"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package ordo.policies.multiplayer

import rego.v1

deny contains violation if {
	input.mode == "module"
	input.context.multiplayer
	c := input.candidate
	not c.multiplayer
	not c.official
	violation := {
		"message": sprintf("%s is not multiplayer compatible", [c.name]),
		"module": c.id,
	}
}
`,
	}
}
