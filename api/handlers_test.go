package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clubsync/attendance-engine/attendance"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	handler *Handler
	router  http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	h := newTestHandler(t)
	scheduler := NewAutoCloseScheduler(h)
	return &testServer{handler: h, router: NewRouter(h, scheduler)}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func punchRequest(member, direction string, at time.Time) RecordPunchRequest {
	return RecordPunchRequest{
		MemberID:   member,
		FacilityID: "gym",
		BranchID:   "downtown",
		Direction:  direction,
		Method:     "biometric",
		Timestamp:  at.Format(time.RFC3339),
	}
}

// =============================================================================
// PUNCH INGESTION
// =============================================================================

func TestAPI_PunchInThenOut(t *testing.T) {
	// GIVEN: a punch-in followed by a punch-out 90 minutes later
	// THEN: the first response is an active visit and the second a closed
	// one carrying duration and classification
	ts := newTestServer(t)
	in := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

	rec := ts.do(t, "POST", "/api/punches", punchRequest("mem-1", "in", in))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	opened := decode[VisitDTO](t, rec)
	assert.Equal(t, "active", opened.Status)
	assert.Equal(t, "2026-03-10", opened.Date)
	assert.Nil(t, opened.DurationMinutes)

	rec = ts.do(t, "POST", "/api/punches", punchRequest("mem-1", "out", in.Add(90*time.Minute)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	closed := decode[VisitDTO](t, rec)
	assert.Equal(t, "closed", closed.Status)
	assert.Equal(t, "manual", closed.CloseReason)
	require.NotNil(t, closed.DurationMinutes)
	assert.Equal(t, 90, *closed.DurationMinutes)
	assert.Equal(t, "1h 30m", closed.Duration)
	assert.Equal(t, "normal", closed.Classification)
}

func TestAPI_DuplicatePunchIn_Conflict(t *testing.T) {
	ts := newTestServer(t)
	in := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

	rec := ts.do(t, "POST", "/api/punches", punchRequest("mem-1", "in", in))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, "POST", "/api/punches", punchRequest("mem-1", "in", in.Add(time.Hour)))
	assert.Equal(t, http.StatusConflict, rec.Code)

	errResp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "Punch rejected", errResp.Error)
	assert.Contains(t, errResp.Details, "duplicate punch-in")
}

func TestAPI_UnmatchedPunchOut_Conflict(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "POST", "/api/punches",
		punchRequest("mem-1", "out", time.Date(2026, time.March, 10, 17, 0, 0, 0, time.UTC)))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_PunchValidation(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "POST", "/api/punches", RecordPunchRequest{Direction: "in"})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing member_id/facility_id")

	req := punchRequest("mem-1", "in", time.Now())
	req.Timestamp = "yesterday"
	rec = ts.do(t, "POST", "/api/punches", req)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unparseable timestamp")
}

// =============================================================================
// VISIT QUERIES
// =============================================================================

// seedVisits punches three members in and out with short/normal/extended
// durations and leaves a fourth visit open.
func seedVisits(t *testing.T, ts *testServer, base time.Time) {
	t.Helper()
	for i, minutes := range []int{10, 60, 300} {
		member := fmt.Sprintf("mem-%d", i+1)
		in := base.Add(time.Duration(i) * time.Minute)
		rec := ts.do(t, "POST", "/api/punches", punchRequest(member, "in", in))
		require.Equal(t, http.StatusCreated, rec.Code)
		rec = ts.do(t, "POST", "/api/punches", punchRequest(member, "out", in.Add(time.Duration(minutes)*time.Minute)))
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := ts.do(t, "POST", "/api/punches", punchRequest("mem-open", "in", base))
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestAPI_ListVisits_Filters(t *testing.T) {
	ts := newTestServer(t)
	base := time.Date(2026, time.March, 10, 8, 0, 0, 0, time.UTC)
	seedVisits(t, ts, base)

	rec := ts.do(t, "GET", "/api/visits", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]VisitDTO](t, rec), 4)

	rec = ts.do(t, "GET", "/api/visits?open=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	open := decode[[]VisitDTO](t, rec)
	require.Len(t, open, 1)
	assert.Equal(t, "mem-open", open[0].MemberID)

	rec = ts.do(t, "GET", "/api/visits?member=mem-2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]VisitDTO](t, rec), 1)

	// Plain dates are accepted; "to" is inclusive of the whole day.
	rec = ts.do(t, "GET", "/api/visits?from=2026-03-10&to=2026-03-10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]VisitDTO](t, rec), 4)

	rec = ts.do(t, "GET", "/api/visits?from=notadate", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_ListAnomalies(t *testing.T) {
	// Only the short and extended closed visits come back; the open visit
	// is never an anomaly.
	ts := newTestServer(t)
	base := time.Date(2026, time.March, 10, 8, 0, 0, 0, time.UTC)
	seedVisits(t, ts, base)

	rec := ts.do(t, "GET", "/api/visits/anomalies", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	anomalies := decode[[]VisitDTO](t, rec)
	require.Len(t, anomalies, 2)
	assert.Equal(t, "short", anomalies[0].Classification)
	assert.Equal(t, "extended", anomalies[1].Classification)
}

func TestAPI_Summary(t *testing.T) {
	ts := newTestServer(t)
	base := time.Date(2026, time.March, 10, 8, 0, 0, 0, time.UTC)
	seedVisits(t, ts, base)

	// A single-branch query takes the SQL-side precomputed path.
	rec := ts.do(t, "GET", "/api/visits/summary?branch=downtown", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	summary := decode[SummaryDTO](t, rec)
	assert.Equal(t, 4, summary.TotalVisits)
	assert.Equal(t, 4, summary.UniqueMembers)
	assert.Equal(t, 123, summary.AvgDurationMinutes, "(10+60+300)/3 rounded; open visit excluded")
	assert.Equal(t, 2, summary.AnomalyCount)
	assert.Equal(t, "precomputed", summary.Source)

	// A branch-less query may span policies, so it aggregates in Go.
	// The numbers must match the precomputed path over the same records.
	rec = ts.do(t, "GET", "/api/visits/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	summary = decode[SummaryDTO](t, rec)
	assert.Equal(t, 4, summary.TotalVisits)
	assert.Equal(t, 4, summary.UniqueMembers)
	assert.Equal(t, 123, summary.AvgDurationMinutes)
	assert.Equal(t, 2, summary.AnomalyCount)
	assert.Equal(t, "fallback", summary.Source)
}

// failingSummarizer stands in for a store whose SQL summary path errors.
type failingSummarizer struct{}

func (failingSummarizer) SummarizeVisits(context.Context, attendance.VisitFilter, attendance.Policy) (attendance.Summary, error) {
	return attendance.Summary{}, errors.New("no such table: visits")
}

func TestAPI_Summary_FallsBackWhenPrecomputedPathFails(t *testing.T) {
	// GIVEN: the SQL-side summary path erroring out
	// THEN: the request still succeeds with the same numbers from the
	// in-memory aggregation, labeled as the fallback source
	ts := newTestServer(t)
	base := time.Date(2026, time.March, 10, 8, 0, 0, 0, time.UTC)
	seedVisits(t, ts, base)
	ts.handler.summarizer = failingSummarizer{}

	rec := ts.do(t, "GET", "/api/visits/summary?branch=downtown", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	summary := decode[SummaryDTO](t, rec)
	assert.Equal(t, 4, summary.TotalVisits)
	assert.Equal(t, 4, summary.UniqueMembers)
	assert.Equal(t, 123, summary.AvgDurationMinutes)
	assert.Equal(t, 2, summary.AnomalyCount)
	assert.Equal(t, "fallback", summary.Source)
}

func TestAPI_CrossBranch_ClassifiesPerBranchPolicy(t *testing.T) {
	// GIVEN: an express branch capped at 2 hours alongside the default
	// 4-hour downtown policy, with one 150-minute visit in each
	// THEN: queries spanning both branches judge each visit under its own
	// branch's thresholds
	ts := newTestServer(t)

	config := `{"branch_id":"express","min_visit_duration":10,"max_visit_duration":2,"auto_punch_out":3,"grace_period":15}`
	rec := ts.do(t, "PUT", "/api/policies/express", SavePolicyRequest{ConfigJSON: config})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	in := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	for _, seed := range []struct{ member, branch string }{
		{"mem-dt", "downtown"},
		{"mem-ex", "express"},
	} {
		punch := punchRequest(seed.member, "in", in)
		punch.BranchID = seed.branch
		rec = ts.do(t, "POST", "/api/punches", punch)
		require.Equal(t, http.StatusCreated, rec.Code)

		punch = punchRequest(seed.member, "out", in.Add(150*time.Minute))
		punch.BranchID = seed.branch
		rec = ts.do(t, "POST", "/api/punches", punch)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	// 150 minutes is normal downtown but extended express.
	rec = ts.do(t, "GET", "/api/visits", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	visits := decode[[]VisitDTO](t, rec)
	require.Len(t, visits, 2)
	for _, v := range visits {
		switch v.BranchID {
		case "downtown":
			assert.Equal(t, "normal", v.Classification)
		case "express":
			assert.Equal(t, "extended", v.Classification)
		}
	}

	rec = ts.do(t, "GET", "/api/visits/anomalies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	anomalies := decode[[]VisitDTO](t, rec)
	require.Len(t, anomalies, 1)
	assert.Equal(t, "mem-ex", anomalies[0].MemberID)
	assert.Equal(t, "extended", anomalies[0].Classification)

	rec = ts.do(t, "GET", "/api/visits/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[SummaryDTO](t, rec)
	assert.Equal(t, 2, summary.TotalVisits)
	assert.Equal(t, 1, summary.AnomalyCount, "only the express visit breaches its own cap")
	assert.Equal(t, "fallback", summary.Source)

	// Scoping to one branch still uses that branch's policy alone.
	rec = ts.do(t, "GET", "/api/visits/summary?branch=express", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary = decode[SummaryDTO](t, rec)
	assert.Equal(t, 1, summary.TotalVisits)
	assert.Equal(t, 1, summary.AnomalyCount)
	assert.Equal(t, "precomputed", summary.Source)
}

func TestAPI_SearchVisitsByMemberName(t *testing.T) {
	ts := newTestServer(t)
	base := time.Date(2026, time.March, 10, 8, 0, 0, 0, time.UTC)
	seedVisits(t, ts, base)

	rec := ts.do(t, "POST", "/api/members", SaveMemberRequest{ID: "mem-2", Name: "Alice Moreau", Email: "alice@club.test"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, "GET", "/api/visits?search=moreau", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	matches := decode[[]VisitDTO](t, rec)
	require.Len(t, matches, 1)
	assert.Equal(t, "mem-2", matches[0].MemberID)
}

// =============================================================================
// MEMBERS AND AUDIT LOG
// =============================================================================

func TestAPI_MemberDirectory(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "POST", "/api/members", SaveMemberRequest{ID: "mem-1", Name: "Alice Moreau"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, "POST", "/api/members", SaveMemberRequest{Name: "No ID"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, "GET", "/api/members", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	members := decode[[]MemberDTO](t, rec)
	require.Len(t, members, 1)
	assert.Equal(t, "Alice Moreau", members[0].Name)
}

func TestAPI_MemberEvents_IncludesRejectedPunches(t *testing.T) {
	// The audit log keeps every punch, including the rejected duplicate.
	ts := newTestServer(t)
	in := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)

	ts.do(t, "POST", "/api/punches", punchRequest("mem-1", "in", in))
	ts.do(t, "POST", "/api/punches", punchRequest("mem-1", "in", in.Add(time.Hour))) // rejected
	ts.do(t, "POST", "/api/punches", punchRequest("mem-1", "out", in.Add(2*time.Hour)))

	rec := ts.do(t, "GET", "/api/members/mem-1/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	events := decode[[]PunchEventDTO](t, rec)
	require.Len(t, events, 3)
	assert.Equal(t, "in", events[0].Direction)
	assert.Equal(t, "in", events[1].Direction)
	assert.Equal(t, "out", events[2].Direction)
}

// =============================================================================
// POLICIES
// =============================================================================

func TestAPI_PolicyLifecycle(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "GET", "/api/policies/downtown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "nothing saved yet")

	config := `{"branch_id":"downtown","min_visit_duration":20,"max_visit_duration":3,"auto_punch_out":5,"grace_period":15}`
	rec = ts.do(t, "PUT", "/api/policies/downtown", SavePolicyRequest{ConfigJSON: config})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, "GET", "/api/policies/downtown", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[PolicyDTO](t, rec)
	assert.Contains(t, got.ConfigJSON, `"min_visit_duration":20`)

	rec = ts.do(t, "GET", "/api/policies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]PolicyDTO](t, rec), 1)
}

func TestAPI_SavePolicy_RejectsInvalidConfig(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "PUT", "/api/policies/downtown", SavePolicyRequest{
		ConfigJSON: `{"branch_id":"downtown","min_visit_duration":0,"max_visit_duration":3,"auto_punch_out":5}`,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, "PUT", "/api/policies/downtown", SavePolicyRequest{
		ConfigJSON: `{"branch_id":"uptown","min_visit_duration":15,"max_visit_duration":3,"auto_punch_out":5}`,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code, "branch mismatch")
}

func TestAPI_SavePolicy_AffectsClassification(t *testing.T) {
	// GIVEN: the branch minimum raised to 120 minutes
	// THEN: a 90-minute visit that was normal under defaults reads as short
	ts := newTestServer(t)

	config := `{"branch_id":"downtown","min_visit_duration":120,"max_visit_duration":4,"auto_punch_out":6,"grace_period":30}`
	rec := ts.do(t, "PUT", "/api/policies/downtown", SavePolicyRequest{ConfigJSON: config})
	require.Equal(t, http.StatusOK, rec.Code)

	in := time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
	ts.do(t, "POST", "/api/punches", punchRequest("mem-1", "in", in))
	rec = ts.do(t, "POST", "/api/punches", punchRequest("mem-1", "out", in.Add(90*time.Minute)))
	require.Equal(t, http.StatusCreated, rec.Code)

	closed := decode[VisitDTO](t, rec)
	assert.Equal(t, "short", closed.Classification)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestAPI_TriggerSweep(t *testing.T) {
	ts := newTestServer(t)

	in := time.Now().UTC().Add(-8 * time.Hour)
	rec := ts.do(t, "POST", "/api/punches", punchRequest("mem-1", "in", in))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, "POST", "/api/admin/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, "GET", "/api/visits?member=mem-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	visits := decode[[]VisitDTO](t, rec)
	require.Len(t, visits, 1)
	assert.Equal(t, "closed", visits[0].Status)
	assert.Equal(t, "auto", visits[0].CloseReason)
	require.NotNil(t, visits[0].DurationMinutes)
	assert.Equal(t, 360, *visits[0].DurationMinutes)
}
