package engine

import (
	"fmt"
	"strings"
)

// ValidationReport is the structured form of cross-module validation findings.
// A nil *ValidationReport means the order was checked and is valid.
type ValidationReport struct {
	Issues []Issue `json:"issues"`
}

// BuildReport converts raw validator issues into a report.
// It returns nil when there are no issues. Multiple issues for the same module are kept.
func BuildReport(issues []Issue) *ValidationReport {
	if len(issues) == 0 {
		return nil
	}
	out := make([]Issue, len(issues))
	copy(out, issues)
	return &ValidationReport{Issues: out}
}

// Valid reports whether the report carries no issues.
func (r *ValidationReport) Valid() bool {
	return r == nil || len(r.Issues) == 0
}

// ForModule returns the issues targeting a single module, in report order.
func (r *ValidationReport) ForModule(id ModuleID) []Issue {
	if r == nil {
		return nil
	}
	out := make([]Issue, 0)
	for _, issue := range r.Issues {
		if issue.TargetModuleID == id {
			out = append(out, issue)
		}
	}
	return out
}

// Modules returns the distinct targeted module ids in first-seen order.
func (r *ValidationReport) Modules() []ModuleID {
	if r == nil {
		return nil
	}
	seen := make(map[ModuleID]bool)
	out := make([]ModuleID, 0)
	for _, issue := range r.Issues {
		if !seen[issue.TargetModuleID] {
			seen[issue.TargetModuleID] = true
			out = append(out, issue.TargetModuleID)
		}
	}
	return out
}

// Lines renders one "module: reason" line per issue.
func (r *ValidationReport) Lines() []string {
	if r == nil {
		return nil
	}
	out := make([]string, len(r.Issues))
	for i, issue := range r.Issues {
		out[i] = fmt.Sprintf("%s: %s", issue.TargetModuleID, issue.Reason)
	}
	return out
}

// String implements fmt.Stringer.
func (r *ValidationReport) String() string {
	if r.Valid() {
		return "valid"
	}
	return strings.Join(r.Lines(), "\n")
}
