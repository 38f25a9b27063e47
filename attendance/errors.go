/*
errors.go - Centralized error types for the attendance engine

PURPOSE:
  All engine error types in one place for consistency and discoverability.
  Classification and aggregation are pure and cannot fail on well-formed
  input; failure is concentrated in the Ledger write path and the
  auto-closure persistence step.

ERROR CATEGORIES:
  1. Ingestion errors - Punch events the Ledger rejects (caller-recoverable)
  2. Policy errors    - Invalid branch configuration, rejected at load time
  3. Store errors     - Persistence failures, retried by the scheduler

USAGE:
  visit, err := ledger.RecordPunch(ctx, event)
  if errors.Is(err, attendance.ErrDuplicatePunchIn) {
      // surface as a non-blocking warning; the member is not locked out
  }

SEE ALSO:
  - ledger.go: Produces ingestion errors
  - policy.go: Produces ErrInvalidPolicy
*/
package attendance

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicatePunchIn is returned when a punch-in arrives while a visit
	// is already open for that member/facility. The existing open record is
	// left untouched; resolution is up to the caller.
	ErrDuplicatePunchIn = errors.New("duplicate punch-in: visit already open")

	// ErrNoOpenVisit is returned when a punch-out arrives with no matching
	// open visit. Non-fatal; hardware or clock skew is the likely cause.
	ErrNoOpenVisit = errors.New("no open visit for punch-out")

	// ErrManualCheckInDisabled is returned when a manual punch arrives at a
	// branch that requires biometric verification and disallows manual
	// check-in.
	ErrManualCheckInDisabled = errors.New("manual check-in disabled for branch")

	// ErrPersistenceFailure wraps any ledger write that failed to persist.
	// The auto-closure sweep retries these on its next tick.
	ErrPersistenceFailure = errors.New("persistence failure")

	// ErrInvalidPolicy is returned when a policy snapshot has non-positive
	// thresholds or a minimum exceeding the maximum. Rejected at load time
	// rather than silently misclassifying visits.
	ErrInvalidPolicy = errors.New("invalid policy")

	// ErrVisitNotFound is returned when a referenced visit doesn't exist.
	ErrVisitNotFound = errors.New("visit not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// DuplicatePunchInError identifies the open visit blocking a new punch-in.
type DuplicatePunchInError struct {
	MemberID   MemberID
	FacilityID FacilityID
	OpenSince  time.Time
	OpenVisit  VisitID
}

func (e *DuplicatePunchInError) Error() string {
	return fmt.Sprintf("duplicate punch-in: %s already has an open visit at %s since %s (visit: %s)",
		e.MemberID, e.FacilityID, e.OpenSince.Format(time.RFC3339), e.OpenVisit)
}

func (e *DuplicatePunchInError) Unwrap() error { return ErrDuplicatePunchIn }

// NoOpenVisitError identifies an unmatched punch-out.
type NoOpenVisitError struct {
	MemberID   MemberID
	FacilityID FacilityID
	At         time.Time
}

func (e *NoOpenVisitError) Error() string {
	return fmt.Sprintf("no open visit: punch-out for %s at %s (%s) matches nothing",
		e.MemberID, e.FacilityID, e.At.Format(time.RFC3339))
}

func (e *NoOpenVisitError) Unwrap() error { return ErrNoOpenVisit }

// PolicyValidationError lists what is wrong with a policy snapshot.
type PolicyValidationError struct {
	BranchID BranchID
	Problems []string
}

func (e *PolicyValidationError) Error() string {
	return fmt.Sprintf("invalid policy for branch %s: %v", e.BranchID, e.Problems)
}

func (e *PolicyValidationError) Unwrap() error { return ErrInvalidPolicy }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the punch stream or
// configuration, not the engine. These surface as non-blocking warnings.
func IsClientError(err error) bool {
	return errors.Is(err, ErrDuplicatePunchIn) ||
		errors.Is(err, ErrNoOpenVisit) ||
		errors.Is(err, ErrManualCheckInDisabled) ||
		errors.Is(err, ErrInvalidPolicy)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistenceFailure)
}
