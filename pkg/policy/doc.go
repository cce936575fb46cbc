// Package policy validates load orders with Open Policy Agent.
//
// Engine implements both validator contracts of the reconciliation pipeline on top
// of Rego policies: engine.OrderValidator checks the enabled list as a whole and
// engine.CrossModuleValidator checks one candidate module against it.
//
// # Usage
//
//	eng, err := policy.NewEngine(logger, policy.WithMultiplayer(true))
//	if err != nil {
//	    return err
//	}
//	issues, err := eng.ValidateOrder(ctx, enabled)
//
// # Built-in Policies
//
//  1. missing-dependency - every dependency of an enabled module must be enabled
//  2. dependency-order - a module must load after the modules it depends on
//  3. multiplayer-compatibility - multiplayer sessions only accept compatible modules
//
// # Custom Policies
//
// Custom policies are Rego v1 modules loaded from .rego files, or JSON policy
// definitions, and contribute findings through a deny set. Each member is a
// message or an object with message, module and severity keys:
//
//	package custom.policies.versions
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.mode == "module"
//	    input.candidate.version == ""
//	    violation := {
//	        "message": sprintf("%s does not declare a version", [input.candidate.name]),
//	        "module": input.candidate.id,
//	        "severity": "warning",
//	    }
//	}
//
// The input document carries mode ("order" or "module"), the enabled modules in load
// order, the candidate in module mode, and a context with the profile id and the
// multiplayer flag.
//
// # Hot Reload
//
// Engine.Watch loads custom policies from paths and swaps them in whenever a policy
// file is written, created, removed or renamed. Bursts of events are debounced.
package policy
