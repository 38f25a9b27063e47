/*
Package factory provides JSON to Go policy conversion.

PURPOSE:
  Converts JSON branch configuration into attendance.Policy values. This
  enables policy changes without code changes - branch admins edit the
  config through the management UI, and the factory produces the validated
  snapshot the engine evaluates against.

JSON SCHEMA:
  {
    "branch_id": "downtown",
    "min_visit_duration": 15,
    "max_visit_duration": 4,
    "auto_punch_out": 6,
    "grace_period": 30,
    "require_biometric": true,
    "allow_manual_checkin": false,
    "send_notifications": true,
    "timezone": "America/New_York"
  }

  Durations follow the admin screen's units: min_visit_duration and
  grace_period are minutes; max_visit_duration and auto_punch_out are
  hours.

VALIDATION:
  Parsed policies are validated before use. Non-positive thresholds or a
  minimum exceeding the maximum are rejected with ErrInvalidPolicy at load
  time instead of silently misclassifying visits.

USAGE:
  f := factory.NewPolicyFactory()
  policy, err := f.ParsePolicy(configJSON)

SEE ALSO:
  - attendance/policy.go: Validation rules
  - store/sqlite: Persistence of the raw config JSON
*/
package factory

import (
	"encoding/json"
	"fmt"

	"github.com/clubsync/attendance-engine/attendance"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the JSON representation of a branch policy. Field names
// match the admin-editable branch configuration keys.
type PolicyJSON struct {
	BranchID           string `json:"branch_id"`
	MinVisitDuration   int    `json:"min_visit_duration"` // minutes
	MaxVisitDuration   int    `json:"max_visit_duration"` // hours
	AutoPunchOut       int    `json:"auto_punch_out"`     // hours
	GracePeriod        int    `json:"grace_period"`       // minutes
	RequireBiometric   bool   `json:"require_biometric"`
	AllowManualCheckIn bool   `json:"allow_manual_checkin"`
	SendNotifications  bool   `json:"send_notifications"`
	Timezone           string `json:"timezone,omitempty"`
}

// =============================================================================
// POLICY FACTORY
// =============================================================================

// PolicyFactory converts JSON branch configs to attendance.Policy values.
type PolicyFactory struct{}

// NewPolicyFactory creates a new policy factory.
func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy parses and validates a branch policy config.
// Returns ErrInvalidPolicy (wrapped) for malformed or inconsistent configs.
func (f *PolicyFactory) ParsePolicy(configJSON string) (*attendance.Policy, error) {
	var raw PolicyJSON
	if err := json.Unmarshal([]byte(configJSON), &raw); err != nil {
		return nil, fmt.Errorf("%w: malformed config: %v", attendance.ErrInvalidPolicy, err)
	}

	policy := &attendance.Policy{
		BranchID:           attendance.BranchID(raw.BranchID),
		MinVisitMinutes:    raw.MinVisitDuration,
		MaxVisitHours:      raw.MaxVisitDuration,
		AutoPunchOutHours:  raw.AutoPunchOut,
		GracePeriodMinutes: raw.GracePeriod,
		RequireBiometric:   raw.RequireBiometric,
		AllowManualCheckIn: raw.AllowManualCheckIn,
		SendNotifications:  raw.SendNotifications,
		Timezone:           raw.Timezone,
	}

	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return policy, nil
}

// EncodePolicy renders a policy back to its config JSON.
func (f *PolicyFactory) EncodePolicy(p attendance.Policy) (string, error) {
	raw := PolicyJSON{
		BranchID:           string(p.BranchID),
		MinVisitDuration:   p.MinVisitMinutes,
		MaxVisitDuration:   p.MaxVisitHours,
		AutoPunchOut:       p.AutoPunchOutHours,
		GracePeriod:        p.GracePeriodMinutes,
		RequireBiometric:   p.RequireBiometric,
		AllowManualCheckIn: p.AllowManualCheckIn,
		SendNotifications:  p.SendNotifications,
		Timezone:           p.Timezone,
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// =============================================================================
// PRESETS
// =============================================================================

// DefaultPolicyJSON returns the standard club configuration for a branch:
// 15-minute minimum, 4-hour maximum, 6-hour auto punch-out with a
// 30-minute grace period.
func DefaultPolicyJSON(branchID string) string {
	b, _ := json.Marshal(PolicyJSON{
		BranchID:           branchID,
		MinVisitDuration:   15,
		MaxVisitDuration:   4,
		AutoPunchOut:       6,
		GracePeriod:        30,
		RequireBiometric:   true,
		AllowManualCheckIn: true,
		SendNotifications:  false,
	})
	return string(b)
}
