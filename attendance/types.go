/*
Package attendance provides the core attendance processing engine.

PURPOSE:
  This package contains the domain types and algorithms for turning raw
  biometric punch events into visit records: duration arithmetic,
  threshold-based anomaly classification, policy-driven automatic session
  closure, and derived attendance statistics.

KEY CONCEPTS IN THIS FILE (types.go):
  - PunchEvent: An immutable directional (in/out) attendance signal
  - VisitRecord: The derived in/out pairing, open until closed
  - Policy: Per-branch thresholds and feature toggles (immutable snapshot)
  - Classification: short / normal / extended duration band
  - Summary: Aggregate statistics over a filtered set of visits

DESIGN PRINCIPLES:
  1. Immutability: Punch events are never modified; visits are only closed
  2. Determinism: Classification and aggregation are pure functions of
     their inputs - the Policy is a value, never a live reference
  3. Type Safety: Strong typing for member/facility/branch identifiers
  4. Auditability: Every ledger mutation traces back to a retained event

USAGE:
  ledger := attendance.NewLedger(store, nil)
  visit, err := ledger.RecordPunch(ctx, attendance.PunchEvent{
      MemberID:   "mem-1",
      FacilityID: "gym",
      Direction:  attendance.DirectionIn,
      Timestamp:  time.Now(),
  }, policy)

SEE ALSO:
  - classify.go: Duration & anomaly classification
  - aggregate.go: Summary computation from raw visits
  - ledger.go: Punch ingestion and the open-visit invariant
*/
package attendance

import "time"

// =============================================================================
// IDENTIFIERS
// =============================================================================

type MemberID string
type FacilityID string
type BranchID string
type VisitID string

// =============================================================================
// PUNCH EVENT - Immutable attendance fact
// =============================================================================

// Direction indicates whether a punch opens or closes a visit.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// VerificationMethod records how the member was identified at the reader.
type VerificationMethod string

const (
	MethodBiometric VerificationMethod = "biometric"
	MethodManual    VerificationMethod = "manual"
)

// PunchEvent is a single directional attendance signal. Events arrive with
// an already-resolved member identity; this engine never performs matching.
// Events are retained for audit and never mutated.
type PunchEvent struct {
	ID         string
	MemberID   MemberID
	FacilityID FacilityID
	BranchID   BranchID
	Direction  Direction
	Timestamp  time.Time
	Method     VerificationMethod
}

// =============================================================================
// VISIT RECORD - Derived in/out pairing
// =============================================================================

// CloseReason records how a visit was closed.
type CloseReason string

const (
	ClosePending CloseReason = "pending" // still open
	CloseManual  CloseReason = "manual"  // matching punch-out captured
	CloseAuto    CloseReason = "auto"    // forced by the auto-closure sweep
)

// VisitRecord is one facility visit, derived from punch events.
// Mutable only until closed; never deleted.
//
// INVARIANT: at most one open VisitRecord per (MemberID, FacilityID)
// at any time. The Ledger enforces this at the ingestion boundary and
// the store backs it with a uniqueness constraint on open visits.
type VisitRecord struct {
	ID                VisitID
	MemberID          MemberID
	FacilityID        FacilityID
	BranchID          BranchID
	Date              string // facility-local date of the punch-in (YYYY-MM-DD)
	PunchIn           time.Time
	PunchOut          *time.Time // nil while open
	DurationMinutes   *int       // nil while open
	BiometricVerified bool
	CloseReason       CloseReason
}

// IsOpen reports whether the visit has not yet been closed.
func (v VisitRecord) IsOpen() bool { return v.PunchOut == nil }

// =============================================================================
// POLICY - Per-branch configuration snapshot
// =============================================================================

// Policy is the per-branch configuration the engine evaluates against.
// Loaded once per request or batch and treated as a value, so that
// classification stays deterministic even if branch configuration
// changes mid-batch. The engine only reads policies, never writes them.
type Policy struct {
	BranchID           BranchID
	MinVisitMinutes    int
	MaxVisitHours      int
	AutoPunchOutHours  int
	GracePeriodMinutes int
	RequireBiometric   bool
	AllowManualCheckIn bool
	SendNotifications  bool
	Timezone           string // IANA name; empty means UTC
}

// Location resolves the facility time zone used for date attribution.
// Punch events spanning midnight remain attributed to the punch-in date
// in this zone.
func (p Policy) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// MaxVisitMinutes is the extended-visit threshold in minutes.
func (p Policy) MaxVisitMinutes() int { return p.MaxVisitHours * 60 }

// AutoCloseAfter is the open duration past which a visit is eligible for
// forced closure, grace period included.
func (p Policy) AutoCloseAfter() time.Duration {
	return time.Duration(p.AutoPunchOutHours)*time.Hour +
		time.Duration(p.GracePeriodMinutes)*time.Minute
}

// =============================================================================
// CLASSIFICATION - Derived duration band (not persisted)
// =============================================================================

type Classification string

const (
	ClassShort    Classification = "short"
	ClassNormal   Classification = "normal"
	ClassExtended Classification = "extended"
)

// =============================================================================
// SUMMARY - Aggregate statistics over a filtered window
// =============================================================================

// Summary holds derived attendance statistics. Recomputed on demand from
// raw visits; a precomputed version may be served upstream but is never
// the source of truth.
type Summary struct {
	TotalVisits        int
	UniqueMembers      int
	AvgDurationMinutes int
	AnomalyCount       int
}

// =============================================================================
// FILTERS
// =============================================================================

// VisitFilter selects visits for listing and aggregation.
// Zero values mean "no constraint".
type VisitFilter struct {
	BranchID   BranchID
	FacilityID FacilityID
	MemberID   MemberID
	From       time.Time // inclusive, on punch-in
	To         time.Time // inclusive, on punch-in
	Search     string    // free-text match on member name/email
	OpenOnly   bool
}
