/*
ledger.go - Visit ledger: punch ingestion and the open-visit invariant

PURPOSE:
  The Ledger is the single mutable source of truth for visits. It ingests
  punch events, maintains the at-most-one-open-visit invariant, and is the
  only component allowed to create or close VisitRecords. Visits are never
  deleted, only closed.

CRITICAL INVARIANTS:
  1. At most one open visit per (MemberID, FacilityID) at any time
  2. Punch events are append-only and retained even when rejected
  3. Closure sets the duration exactly once; closed visits are immutable
  4. A rejected punch never silently overwrites existing state

CONCURRENCY:
  Writes are serialized per (member, facility) key via striped locks, so
  two concurrent punch-ins for the same member cannot both succeed, while
  punches for unrelated members proceed in parallel. The store backs the
  invariant with a uniqueness constraint on open visits as a second line
  of defense.

ERROR HANDLING:
  Rejections (DuplicatePunchIn, NoOpenVisit, ManualCheckInDisabled) are
  caller-recoverable warnings - a data-processing error must never lock a
  member out of a facility. Store failures wrap ErrPersistenceFailure.

SEE ALSO:
  - store/memory.go: In-memory VisitStore for tests
  - store/sqlite: Production store with the open-visit unique index
  - api/scheduler.go: Auto-closure sweep built on AutoClose
*/
package attendance

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// STORE - Persistence interface for events and visits
// =============================================================================

// VisitStore handles persistence of punch events and visit records.
// Events are append-only. Visits support exactly two mutations: creation
// (open) and closure. No update or delete beyond that exists.
type VisitStore interface {
	// AppendEvent records a punch event for audit. Always called, even for
	// punches the ledger rejects.
	AppendEvent(ctx context.Context, event PunchEvent) error

	// FindOpenVisit returns the open visit for member+facility, or nil.
	FindOpenVisit(ctx context.Context, memberID MemberID, facilityID FacilityID) (*VisitRecord, error)

	// CreateVisit persists a new open visit. Implementations must reject a
	// second open visit for the same member+facility.
	CreateVisit(ctx context.Context, visit VisitRecord) error

	// CloseVisit sets punch-out, duration, and close reason on an open
	// visit. Closing an already-closed visit is a no-op so the auto-closure
	// sweep stays idempotent across retries.
	CloseVisit(ctx context.Context, id VisitID, punchOut time.Time, durationMinutes int, reason CloseReason) error

	// ListOpenVisits returns open visits with a punch-in before the cutoff,
	// oldest first. Used by the auto-closure sweep.
	ListOpenVisits(ctx context.Context, openedBefore time.Time) ([]VisitRecord, error)

	// ListVisits returns visits matching the filter, punch-in ascending.
	ListVisits(ctx context.Context, filter VisitFilter) ([]VisitRecord, error)
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger ingests punch events against a policy snapshot and owns the
// VisitRecord lifecycle.
type Ledger struct {
	store    VisitStore
	notifier Notifier

	// Striped per-key locks serialize writes for the same member+facility.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLedger creates a ledger over the given store. The notifier may be nil
// when the branch never sends notifications.
func NewLedger(store VisitStore, notifier Notifier) *Ledger {
	return &Ledger{
		store:    store,
		notifier: notifier,
		locks:    make(map[string]*sync.Mutex),
	}
}

func (l *Ledger) keyLock(memberID MemberID, facilityID FacilityID) *sync.Mutex {
	k := string(memberID) + "|" + string(facilityID)
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[k]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[k] = lock
	}
	return lock
}

// RecordPunch ingests one punch event under the given policy snapshot.
//
// Direction in:  creates an open visit, or fails with DuplicatePunchIn if
// one is already open (the existing record is left untouched).
// Direction out: closes the matching open visit with the floor-minute
// duration and CloseReason manual, or fails with NoOpenVisit.
//
// The event itself is appended for audit in every case, rejection included.
func (l *Ledger) RecordPunch(ctx context.Context, event PunchEvent, policy Policy) (*VisitRecord, error) {
	if event.Direction != DirectionIn && event.Direction != DirectionOut {
		return nil, fmt.Errorf("unknown punch direction %q", event.Direction)
	}

	lock := l.keyLock(event.MemberID, event.FacilityID)
	lock.Lock()
	defer lock.Unlock()

	if err := l.store.AppendEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("%w: append event: %v", ErrPersistenceFailure, err)
	}

	if event.Method == MethodManual && policy.RequireBiometric && !policy.AllowManualCheckIn {
		return nil, ErrManualCheckInDisabled
	}

	if event.Direction == DirectionIn {
		return l.punchIn(ctx, event, policy)
	}
	return l.punchOut(ctx, event, policy)
}

func (l *Ledger) punchIn(ctx context.Context, event PunchEvent, policy Policy) (*VisitRecord, error) {
	existing, err := l.store.FindOpenVisit(ctx, event.MemberID, event.FacilityID)
	if err != nil {
		return nil, fmt.Errorf("%w: find open visit: %v", ErrPersistenceFailure, err)
	}
	if existing != nil {
		return nil, &DuplicatePunchInError{
			MemberID:   event.MemberID,
			FacilityID: event.FacilityID,
			OpenSince:  existing.PunchIn,
			OpenVisit:  existing.ID,
		}
	}

	visit := VisitRecord{
		ID:                newVisitID(),
		MemberID:          event.MemberID,
		FacilityID:        event.FacilityID,
		BranchID:          event.BranchID,
		Date:              event.Timestamp.In(policy.Location()).Format("2006-01-02"),
		PunchIn:           event.Timestamp,
		BiometricVerified: event.Method == MethodBiometric,
		CloseReason:       ClosePending,
	}

	if err := l.store.CreateVisit(ctx, visit); err != nil {
		if IsClientError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: create visit: %v", ErrPersistenceFailure, err)
	}

	if policy.SendNotifications && l.notifier != nil {
		l.notifier.VisitOpened(ctx, visit)
	}
	return &visit, nil
}

func (l *Ledger) punchOut(ctx context.Context, event PunchEvent, policy Policy) (*VisitRecord, error) {
	open, err := l.store.FindOpenVisit(ctx, event.MemberID, event.FacilityID)
	if err != nil {
		return nil, fmt.Errorf("%w: find open visit: %v", ErrPersistenceFailure, err)
	}
	if open == nil {
		return nil, &NoOpenVisitError{
			MemberID:   event.MemberID,
			FacilityID: event.FacilityID,
			At:         event.Timestamp,
		}
	}

	duration := DurationMinutes(open.PunchIn, event.Timestamp)
	if err := l.store.CloseVisit(ctx, open.ID, event.Timestamp, duration, CloseManual); err != nil {
		return nil, fmt.Errorf("%w: close visit: %v", ErrPersistenceFailure, err)
	}

	out := event.Timestamp
	open.PunchOut = &out
	open.DurationMinutes = &duration
	open.CloseReason = CloseManual

	if policy.SendNotifications && l.notifier != nil {
		l.notifier.VisitClosed(ctx, *open)
	}
	return open, nil
}

// =============================================================================
// AUTO-CLOSURE
// =============================================================================

// Overdue reports whether an open visit has exceeded the auto-punch-out
// ceiling plus the grace period at the given instant.
func Overdue(v VisitRecord, policy Policy, now time.Time) bool {
	return v.IsOpen() && now.Sub(v.PunchIn) > policy.AutoCloseAfter()
}

// AutoClose forcibly closes an overdue visit. The punch-out is set to
// punch-in plus the configured ceiling - not to the discovery time - so
// duration statistics stay policy-consistent regardless of how often the
// sweep runs. The resulting duration is always AutoPunchOutHours*60.
func (l *Ledger) AutoClose(ctx context.Context, v VisitRecord, policy Policy) (*VisitRecord, error) {
	lock := l.keyLock(v.MemberID, v.FacilityID)
	lock.Lock()
	defer lock.Unlock()

	punchOut := v.PunchIn.Add(time.Duration(policy.AutoPunchOutHours) * time.Hour)
	duration := policy.AutoPunchOutHours * 60

	if err := l.store.CloseVisit(ctx, v.ID, punchOut, duration, CloseAuto); err != nil {
		return nil, fmt.Errorf("%w: auto-close visit %s: %v", ErrPersistenceFailure, v.ID, err)
	}

	v.PunchOut = &punchOut
	v.DurationMinutes = &duration
	v.CloseReason = CloseAuto

	if policy.SendNotifications && l.notifier != nil {
		l.notifier.VisitClosed(ctx, v)
	}
	return &v, nil
}

// OpenVisits returns open visits with a punch-in before the cutoff.
func (l *Ledger) OpenVisits(ctx context.Context, openedBefore time.Time) ([]VisitRecord, error) {
	return l.store.ListOpenVisits(ctx, openedBefore)
}

// =============================================================================
// HELPERS
// =============================================================================

// DurationMinutes computes the whole-minute visit duration, rounded down.
// Reader clock skew can timestamp a punch-out before its punch-in; the
// duration clamps to zero instead of going negative, and the punch-out
// still closes the visit rather than locking the member in.
func DurationMinutes(punchIn, punchOut time.Time) int {
	if punchOut.Before(punchIn) {
		return 0
	}
	return int(punchOut.Sub(punchIn) / time.Minute)
}

var visitSeq uint64

func newVisitID() VisitID {
	return VisitID(fmt.Sprintf("visit-%d-%d", time.Now().UnixNano(), atomic.AddUint64(&visitSeq, 1)))
}
