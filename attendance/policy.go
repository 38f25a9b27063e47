/*
policy.go - Policy validation

PURPOSE:
  Validates a branch policy snapshot before the engine evaluates against
  it. A policy with non-positive thresholds or a minimum exceeding the
  maximum is rejected at load time; silently misclassifying visits is
  worse than refusing the configuration.

SEE ALSO:
  - factory/policy.go: JSON branch config -> Policy conversion
  - errors.go: ErrInvalidPolicy, PolicyValidationError
*/
package attendance

import (
	"fmt"
	"time"
)

// Validate checks the policy thresholds. Returns a PolicyValidationError
// (unwrapping to ErrInvalidPolicy) listing every problem found.
func (p Policy) Validate() error {
	var problems []string

	if p.MinVisitMinutes <= 0 {
		problems = append(problems, fmt.Sprintf("min_visit_minutes must be positive, got %d", p.MinVisitMinutes))
	}
	if p.MaxVisitHours <= 0 {
		problems = append(problems, fmt.Sprintf("max_visit_hours must be positive, got %d", p.MaxVisitHours))
	}
	if p.AutoPunchOutHours <= 0 {
		problems = append(problems, fmt.Sprintf("auto_punch_out_hours must be positive, got %d", p.AutoPunchOutHours))
	}
	if p.GracePeriodMinutes < 0 {
		problems = append(problems, fmt.Sprintf("grace_period_minutes must not be negative, got %d", p.GracePeriodMinutes))
	}
	if p.MinVisitMinutes > 0 && p.MaxVisitHours > 0 && p.MinVisitMinutes > p.MaxVisitHours*60 {
		problems = append(problems, fmt.Sprintf("min_visit_minutes (%d) exceeds max_visit_hours in minutes (%d)",
			p.MinVisitMinutes, p.MaxVisitHours*60))
	}
	if p.Timezone != "" {
		if _, err := time.LoadLocation(p.Timezone); err != nil {
			problems = append(problems, fmt.Sprintf("unknown timezone %q", p.Timezone))
		}
	}

	if len(problems) > 0 {
		return &PolicyValidationError{BranchID: p.BranchID, Problems: problems}
	}
	return nil
}
