/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	punch data for testing and demos. Each scenario creates members, branch
	policies, and a punch stream that demonstrates specific engine behavior.

AVAILABLE SCENARIOS:

	morning-rush:  Normal weekday traffic, clean in/out pairs
	anomaly-day:   Short, extended, and duplicate punches in one day
	multi-branch:  Two branches with different thresholds and toggles

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Save branch policies via factory JSON
 3. Create member directory entries
 4. Replay a punch stream through the ledger (rejections included)
 5. Optionally leave visits open for the auto-closure sweep to find

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "anomaly-day"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler context and policy cache
  - factory/policy.go: Branch policy JSON definitions
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/clubsync/attendance-engine/attendance"
	"github.com/clubsync/attendance-engine/store/sqlite"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "morning-rush",
		Name:        "Morning Rush",
		Description: "A normal weekday morning: clean punch-in/punch-out pairs",
	},
	{
		ID:          "anomaly-day",
		Name:        "Anomaly Day",
		Description: "Short and extended visits, a duplicate punch-in, and a forgotten punch-out",
	},
	{
		ID:          "multi-branch",
		Name:        "Multi-Branch",
		Description: "Two branches with different thresholds and manual check-in toggles",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	current := h.currentScenario
	h.mu.RUnlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()

	// Reset first
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.policies = make(map[attendance.BranchID]attendance.Policy)
	h.currentScenario = ""
	h.mu.Unlock()

	var err error
	switch req.ScenarioID {
	case "morning-rush":
		err = h.loadMorningRushScenario(ctx)
	case "anomaly-day":
		err = h.loadAnomalyDayScenario(ctx)
	case "multi-branch":
		err = h.loadMultiBranchScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadMorningRushScenario(ctx context.Context) error {
	config := `{
		"branch_id": "downtown",
		"min_visit_duration": 15,
		"max_visit_duration": 4,
		"auto_punch_out": 6,
		"grace_period": 30,
		"require_biometric": true,
		"allow_manual_checkin": true
	}`
	if err := h.seedPolicy(ctx, "downtown", config); err != nil {
		return err
	}

	members := []sqlite.Member{
		{ID: "mem-001", Name: "Alice Moreau", Email: "alice@example.com"},
		{ID: "mem-002", Name: "Bruno Costa", Email: "bruno@example.com"},
		{ID: "mem-003", Name: "Chen Wei", Email: "chen@example.com"},
		{ID: "mem-004", Name: "Dana Petrova", Email: "dana@example.com"},
	}
	for _, m := range members {
		if err := h.Store.SaveMember(ctx, m); err != nil {
			return err
		}
	}

	// Staggered arrivals from 06:30, visits between 45 and 105 minutes.
	day := sixAM(time.Now().UTC())
	for i, m := range members {
		in := day.Add(30*time.Minute + time.Duration(i)*20*time.Minute)
		out := in.Add(time.Duration(45+i*20) * time.Minute)
		if err := h.seedVisit(ctx, "downtown", "gym", m.ID, in, &out); err != nil {
			return err
		}
	}

	// One member is still in the building.
	return h.seedVisit(ctx, "downtown", "gym", "mem-001", day.Add(4*time.Hour), nil)
}

func (h *Handler) loadAnomalyDayScenario(ctx context.Context) error {
	config := `{
		"branch_id": "downtown",
		"min_visit_duration": 15,
		"max_visit_duration": 4,
		"auto_punch_out": 6,
		"grace_period": 30,
		"require_biometric": true,
		"allow_manual_checkin": true
	}`
	if err := h.seedPolicy(ctx, "downtown", config); err != nil {
		return err
	}

	members := []sqlite.Member{
		{ID: "mem-101", Name: "Erik Lund", Email: "erik@example.com"},
		{ID: "mem-102", Name: "Fatima Noor", Email: "fatima@example.com"},
		{ID: "mem-103", Name: "Goran Ilic", Email: "goran@example.com"},
	}
	for _, m := range members {
		if err := h.Store.SaveMember(ctx, m); err != nil {
			return err
		}
	}

	day := sixAM(time.Now().UTC())

	// Short visit: badge-in, forgot something, badge-out after 8 minutes.
	in := day.Add(30 * time.Minute)
	out := in.Add(8 * time.Minute)
	if err := h.seedVisit(ctx, "downtown", "gym", "mem-101", in, &out); err != nil {
		return err
	}

	// Extended visit: 4.5 hours, past the 4-hour maximum.
	in = day.Add(time.Hour)
	out = in.Add(4*time.Hour + 30*time.Minute)
	if err := h.seedVisit(ctx, "downtown", "gym", "mem-102", in, &out); err != nil {
		return err
	}

	// Duplicate punch-in: second badge read while already inside. The
	// rejection stays in the audit log.
	in = day.Add(2 * time.Hour)
	if err := h.seedVisit(ctx, "downtown", "gym", "mem-103", in, nil); err != nil {
		return err
	}
	err := h.seedVisit(ctx, "downtown", "gym", "mem-103", in.Add(10*time.Minute), nil)
	if err != nil && !errors.Is(err, attendance.ErrDuplicatePunchIn) {
		return err
	}

	// Forgotten punch-out from yesterday evening, overdue for the sweep.
	return h.seedVisit(ctx, "downtown", "gym", "mem-101", day.Add(-12*time.Hour), nil)
}

func (h *Handler) loadMultiBranchScenario(ctx context.Context) error {
	downtown := `{
		"branch_id": "downtown",
		"min_visit_duration": 15,
		"max_visit_duration": 4,
		"auto_punch_out": 6,
		"grace_period": 30,
		"require_biometric": true,
		"allow_manual_checkin": true,
		"timezone": "America/New_York"
	}`
	// Express branch: stricter ceiling, biometric only.
	express := `{
		"branch_id": "express",
		"min_visit_duration": 10,
		"max_visit_duration": 2,
		"auto_punch_out": 3,
		"grace_period": 15,
		"require_biometric": true,
		"allow_manual_checkin": false
	}`
	if err := h.seedPolicy(ctx, "downtown", downtown); err != nil {
		return err
	}
	if err := h.seedPolicy(ctx, "express", express); err != nil {
		return err
	}

	members := []sqlite.Member{
		{ID: "mem-201", Name: "Hana Sato", Email: "hana@example.com"},
		{ID: "mem-202", Name: "Ivan Orlov", Email: "ivan@example.com"},
	}
	for _, m := range members {
		if err := h.Store.SaveMember(ctx, m); err != nil {
			return err
		}
	}

	day := sixAM(time.Now().UTC())

	// 90 minutes is normal downtown.
	in := day.Add(time.Hour)
	out := in.Add(90 * time.Minute)
	if err := h.seedVisit(ctx, "downtown", "gym", "mem-201", in, &out); err != nil {
		return err
	}

	// The same 2.5-hour duration reads extended under the express ceiling.
	in = day.Add(2 * time.Hour)
	out = in.Add(2*time.Hour + 30*time.Minute)
	return h.seedVisit(ctx, "express", "gym", "mem-202", in, &out)
}

// =============================================================================
// SEEDING HELPERS
// =============================================================================

// seedPolicy validates, persists, and caches a branch policy config.
func (h *Handler) seedPolicy(ctx context.Context, branchID, configJSON string) error {
	policy, err := h.PolicyFactory.ParsePolicy(configJSON)
	if err != nil {
		return err
	}
	if err := h.Store.SavePolicy(ctx, sqlite.PolicyRecord{
		BranchID:   branchID,
		ConfigJSON: configJSON,
	}); err != nil {
		return err
	}

	h.mu.Lock()
	h.policies[policy.BranchID] = *policy
	h.mu.Unlock()
	return nil
}

// seedVisit replays a punch-in (and optional punch-out) through the
// ledger, so seeded data obeys the same invariants as live traffic.
func (h *Handler) seedVisit(ctx context.Context, branchID, facilityID, memberID string, punchIn time.Time, punchOut *time.Time) error {
	policy := h.policyFor(attendance.BranchID(branchID))

	event := attendance.PunchEvent{
		ID:         newEventID(),
		MemberID:   attendance.MemberID(memberID),
		FacilityID: attendance.FacilityID(facilityID),
		BranchID:   attendance.BranchID(branchID),
		Direction:  attendance.DirectionIn,
		Timestamp:  punchIn,
		Method:     attendance.MethodBiometric,
	}
	if _, err := h.Ledger.RecordPunch(ctx, event, policy); err != nil {
		return err
	}
	if punchOut == nil {
		return nil
	}

	event.ID = newEventID()
	event.Direction = attendance.DirectionOut
	event.Timestamp = *punchOut
	_, err := h.Ledger.RecordPunch(ctx, event, policy)
	return err
}

// sixAM returns 06:00 UTC on the given day.
func sixAM(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 6, 0, 0, 0, time.UTC)
}
