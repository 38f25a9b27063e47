// Package store provides VisitStore implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/clubsync/attendance-engine/attendance"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu     sync.RWMutex
	events []attendance.PunchEvent
	visits map[attendance.VisitID]*attendance.VisitRecord
	// open visit index keyed by member|facility, backing the invariant
	open map[memKey]attendance.VisitID

	// member directory for search filters
	members map[attendance.MemberID]Member
}

type memKey struct {
	MemberID   attendance.MemberID
	FacilityID attendance.FacilityID
}

// Member is a minimal directory entry used for free-text search.
type Member struct {
	ID    attendance.MemberID
	Name  string
	Email string
}

func NewMemory() *Memory {
	return &Memory{
		visits:  make(map[attendance.VisitID]*attendance.VisitRecord),
		open:    make(map[memKey]attendance.VisitID),
		members: make(map[attendance.MemberID]Member),
	}
}

// AppendEvent records a punch event. Append-only.
func (m *Memory) AppendEvent(_ context.Context, event attendance.PunchEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of all recorded punch events.
func (m *Memory) Events(_ context.Context) ([]attendance.PunchEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]attendance.PunchEvent, len(m.events))
	copy(out, m.events)
	return out, nil
}

func (m *Memory) FindOpenVisit(_ context.Context, memberID attendance.MemberID, facilityID attendance.FacilityID) (*attendance.VisitRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.open[memKey{memberID, facilityID}]
	if !ok {
		return nil, nil
	}
	v := *m.visits[id]
	return &v, nil
}

func (m *Memory) CreateVisit(_ context.Context, visit attendance.VisitRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := memKey{visit.MemberID, visit.FacilityID}
	if existing, ok := m.open[k]; ok {
		open := m.visits[existing]
		return &attendance.DuplicatePunchInError{
			MemberID:   visit.MemberID,
			FacilityID: visit.FacilityID,
			OpenSince:  open.PunchIn,
			OpenVisit:  open.ID,
		}
	}

	v := visit
	m.visits[v.ID] = &v
	m.open[k] = v.ID
	return nil
}

func (m *Memory) CloseVisit(_ context.Context, id attendance.VisitID, punchOut time.Time, durationMinutes int, reason attendance.CloseReason) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.visits[id]
	if !ok {
		return attendance.ErrVisitNotFound
	}
	if !v.IsOpen() {
		// Idempotent for sweep retries.
		return nil
	}

	out := punchOut
	d := durationMinutes
	v.PunchOut = &out
	v.DurationMinutes = &d
	v.CloseReason = reason
	delete(m.open, memKey{v.MemberID, v.FacilityID})
	return nil
}

func (m *Memory) ListOpenVisits(_ context.Context, openedBefore time.Time) ([]attendance.VisitRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []attendance.VisitRecord
	for _, id := range m.open {
		v := m.visits[id]
		if v.PunchIn.Before(openedBefore) {
			result = append(result, *v)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PunchIn.Before(result[j].PunchIn) })
	return result, nil
}

func (m *Memory) ListVisits(_ context.Context, filter attendance.VisitFilter) ([]attendance.VisitRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []attendance.VisitRecord
	for _, v := range m.visits {
		if !m.matches(*v, filter) {
			continue
		}
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PunchIn.Before(result[j].PunchIn) })
	return result, nil
}

func (m *Memory) matches(v attendance.VisitRecord, f attendance.VisitFilter) bool {
	if f.BranchID != "" && v.BranchID != f.BranchID {
		return false
	}
	if f.FacilityID != "" && v.FacilityID != f.FacilityID {
		return false
	}
	if f.MemberID != "" && v.MemberID != f.MemberID {
		return false
	}
	if !f.From.IsZero() && v.PunchIn.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && v.PunchIn.After(f.To) {
		return false
	}
	if f.OpenOnly && !v.IsOpen() {
		return false
	}
	if f.Search != "" {
		member, ok := m.members[v.MemberID]
		needle := strings.ToLower(f.Search)
		if !ok || (!strings.Contains(strings.ToLower(member.Name), needle) &&
			!strings.Contains(strings.ToLower(member.Email), needle)) {
			return false
		}
	}
	return true
}

// SaveMember adds or updates a directory entry.
func (m *Memory) SaveMember(_ context.Context, member Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members[member.ID] = member
	return nil
}
