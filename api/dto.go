/*
dto.go - Request/response data structures for the HTTP API

PURPOSE:
  JSON shapes exchanged with the reporting UI and the ingestion boundary.
  DTOs are presentation: they carry the raw integer minute values the
  domain guarantees plus display conveniences (formatted duration,
  open/closed status). FormatDuration lives here and not in the domain -
  consumers that need the raw minutes read DurationMinutes.

SEE ALSO:
  - handlers.go: Where these are produced and consumed
*/
package api

import (
	"fmt"
	"time"

	"github.com/clubsync/attendance-engine/attendance"
)

// =============================================================================
// REQUESTS
// =============================================================================

// RecordPunchRequest is the ingestion payload. Timestamp is optional and
// defaults to the server clock; the identity collaborator has already
// resolved member_id before this arrives.
type RecordPunchRequest struct {
	MemberID   string `json:"member_id"`
	FacilityID string `json:"facility_id"`
	BranchID   string `json:"branch_id"`
	Direction  string `json:"direction"` // "in" | "out"
	Method     string `json:"method"`    // "biometric" | "manual"
	Timestamp  string `json:"timestamp,omitempty"`
}

// SaveMemberRequest creates or updates a member directory entry.
type SaveMemberRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// SavePolicyRequest carries the admin-edited branch config JSON.
type SavePolicyRequest struct {
	ConfigJSON string `json:"config_json"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// VisitDTO is the API representation of a visit record.
type VisitDTO struct {
	ID                string `json:"id"`
	MemberID          string `json:"member_id"`
	FacilityID        string `json:"facility_id"`
	BranchID          string `json:"branch_id"`
	Date              string `json:"date"`
	PunchIn           string `json:"punch_in"`
	PunchOut          string `json:"punch_out,omitempty"`
	DurationMinutes   *int   `json:"duration_minutes,omitempty"`
	Duration          string `json:"duration,omitempty"` // display helper, e.g. "1h 30m"
	Status            string `json:"status"`             // "active" | "closed"
	CloseReason       string `json:"close_reason"`
	BiometricVerified bool   `json:"biometric_verified"`
	Classification    string `json:"classification,omitempty"`
}

// SummaryDTO is the API representation of an attendance summary.
type SummaryDTO struct {
	TotalVisits        int    `json:"total_visits"`
	UniqueMembers      int    `json:"unique_members"`
	AvgDurationMinutes int    `json:"avg_duration_minutes"`
	AnomalyCount       int    `json:"anomaly_count"`
	Source             string `json:"source"` // "precomputed" | "fallback"
}

// PunchEventDTO is the API representation of an audit log entry.
type PunchEventDTO struct {
	ID         string `json:"id"`
	MemberID   string `json:"member_id"`
	FacilityID string `json:"facility_id"`
	BranchID   string `json:"branch_id"`
	Direction  string `json:"direction"`
	Method     string `json:"method"`
	Timestamp  string `json:"timestamp"`
}

// MemberDTO is the API representation of a directory entry.
type MemberDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// PolicyDTO is the API representation of a branch policy.
type PolicyDTO struct {
	BranchID   string `json:"branch_id"`
	ConfigJSON string `json:"config_json"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

// ScenarioDTO describes a loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION
// =============================================================================

func visitToDTO(v attendance.VisitRecord, policy attendance.Policy) VisitDTO {
	dto := VisitDTO{
		ID:                string(v.ID),
		MemberID:          string(v.MemberID),
		FacilityID:        string(v.FacilityID),
		BranchID:          string(v.BranchID),
		Date:              v.Date,
		PunchIn:           v.PunchIn.Format(time.RFC3339),
		Status:            "active",
		CloseReason:       string(v.CloseReason),
		BiometricVerified: v.BiometricVerified,
	}

	if v.PunchOut != nil {
		dto.PunchOut = v.PunchOut.Format(time.RFC3339)
		dto.Status = "closed"
	}
	if v.DurationMinutes != nil {
		d := *v.DurationMinutes
		dto.DurationMinutes = &d
		dto.Duration = FormatDuration(d)
		dto.Classification = string(attendance.Classify(d, policy))
	}
	return dto
}

func summaryToDTO(s attendance.Summary, source string) SummaryDTO {
	return SummaryDTO{
		TotalVisits:        s.TotalVisits,
		UniqueMembers:      s.UniqueMembers,
		AvgDurationMinutes: s.AvgDurationMinutes,
		AnomalyCount:       s.AnomalyCount,
		Source:             source,
	}
}

// FormatDuration renders whole minutes as an hours/minutes string for
// display. Presentation only; the raw minute value stays on the DTO.
func FormatDuration(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	if minutes%60 == 0 {
		return fmt.Sprintf("%dh", minutes/60)
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}
