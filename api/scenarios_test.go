package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPI_ListScenarios(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "GET", "/api/scenarios", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ScenarioDTO](t, rec), 3)
}

func TestAPI_LoadScenario_AnomalyDay(t *testing.T) {
	// GIVEN: the anomaly-day scenario
	// THEN: the anomalies view shows the short and extended visits, the
	// audit log keeps the rejected duplicate, and one overdue visit waits
	// for the sweep
	ts := newTestServer(t)

	rec := ts.do(t, "POST", "/api/scenarios/load", map[string]string{"scenario_id": "anomaly-day"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, "GET", "/api/scenarios/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "anomaly-day", decode[ScenarioDTO](t, rec).ID)

	rec = ts.do(t, "GET", "/api/visits/anomalies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	anomalies := decode[[]VisitDTO](t, rec)
	require.Len(t, anomalies, 2)

	rec = ts.do(t, "GET", "/api/members/mem-103/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]PunchEventDTO](t, rec), 2, "rejected duplicate stays in the audit log")

	// The forgotten punch-out from last night gets swept.
	rec = ts.do(t, "POST", "/api/admin/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, "GET", "/api/visits?member=mem-101", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	swept := 0
	for _, v := range decode[[]VisitDTO](t, rec) {
		if v.CloseReason == "auto" {
			swept++
		}
	}
	assert.Equal(t, 1, swept)
}

func TestAPI_LoadScenario_ResetsPreviousData(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "POST", "/api/scenarios/load", map[string]string{"scenario_id": "morning-rush"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, "POST", "/api/scenarios/load", map[string]string{"scenario_id": "multi-branch"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, "GET", "/api/visits", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]VisitDTO](t, rec), 2, "only multi-branch visits remain")
}

func TestAPI_LoadScenario_Unknown(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "POST", "/api/scenarios/load", map[string]string{"scenario_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
