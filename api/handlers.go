/*
handlers.go - HTTP API handlers for the attendance engine

PURPOSE:
  Exposes the attendance engine via REST. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic. This is the
  collaborator boundary the engine serves - rendering lives elsewhere.

ENDPOINTS:
  Punches:
    POST   /api/punches                 Ingest a punch event

  Visits:
    GET    /api/visits                  List visits (filters: branch,
                                        facility, member, from, to,
                                        search, open)
    GET    /api/visits/anomalies        Closed visits outside the normal band
    GET    /api/visits/summary          Attendance summary (dual path)

  Members:
    GET    /api/members                 List directory entries
    POST   /api/members                 Create/update directory entry
    GET    /api/members/{id}/events     Punch audit log for a member

  Policies:
    GET    /api/policies                List branch configs
    GET    /api/policies/{branchID}     Get one branch config
    PUT    /api/policies/{branchID}     Save branch config (validated)

  Scenarios (development):
    GET    /api/scenarios               List demo scenarios
    GET    /api/scenarios/current       Currently loaded scenario
    POST   /api/scenarios/load          Reset the DB and load a scenario

  Admin:
    POST   /api/admin/sweep             Trigger the auto-closure sweep

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, invalid policy
  - 404: Resource not found
  - 409: Rejected punches (duplicate punch-in, unmatched punch-out)
  - 500: Internal errors
  A rejected punch is a non-blocking warning to the originating
  collaborator; the member is never locked out over a data error.

DUAL-PATH SUMMARY:
  GetSummary prefers the store's SQL-side aggregation and falls back to
  the pure attendance.Summarize over raw records when the precomputed
  path is unavailable. Both must agree on identical input.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scheduler.go: Auto-closure sweep
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clubsync/attendance-engine/attendance"
	"github.com/clubsync/attendance-engine/factory"
	"github.com/clubsync/attendance-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// visitSummarizer is the precomputed-summary path of the dual-path
// contract. *sqlite.Store implements it.
type visitSummarizer interface {
	SummarizeVisits(ctx context.Context, filter attendance.VisitFilter, policy attendance.Policy) (attendance.Summary, error)
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store         *sqlite.Store
	Ledger        *attendance.Ledger
	PolicyFactory *factory.PolicyFactory

	summarizer visitSummarizer

	// Cached policy snapshots per branch. A request reads the snapshot
	// once and evaluates against it throughout, so a concurrent config
	// change cannot split one batch across two policies.
	mu       sync.RWMutex
	policies map[attendance.BranchID]attendance.Policy

	currentScenario string
}

// NewHandler creates a new handler with the given store.
func NewHandler(store *sqlite.Store) *Handler {
	return &Handler{
		Store:         store,
		Ledger:        attendance.NewLedger(store, attendance.LogNotifier{}),
		PolicyFactory: factory.NewPolicyFactory(),
		summarizer:    store,
		policies:      make(map[attendance.BranchID]attendance.Policy),
	}
}

// LoadPolicies loads all branch policies from the database into cache.
// Invalid configs are skipped with a log line; they cannot be used to
// classify visits.
func (h *Handler) LoadPolicies(ctx context.Context) error {
	records, err := h.Store.ListPolicies(ctx)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range records {
		policy, err := h.PolicyFactory.ParsePolicy(r.ConfigJSON)
		if err != nil {
			log.Printf("[API] skipping invalid policy for branch %s: %v", r.BranchID, err)
			continue
		}
		h.policies[policy.BranchID] = *policy
	}
	return nil
}

// policyFor returns the policy snapshot for a branch, falling back to the
// default club configuration when the branch has none saved.
func (h *Handler) policyFor(branchID attendance.BranchID) attendance.Policy {
	h.mu.RLock()
	policy, ok := h.policies[branchID]
	h.mu.RUnlock()
	if ok {
		return policy
	}

	fallback, _ := h.PolicyFactory.ParsePolicy(factory.DefaultPolicyJSON(string(branchID)))
	return *fallback
}

// =============================================================================
// PUNCH INGESTION
// =============================================================================

// RecordPunch ingests one punch event.
func (h *Handler) RecordPunch(w http.ResponseWriter, r *http.Request) {
	var req RecordPunchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.MemberID == "" || req.FacilityID == "" {
		writeError(w, http.StatusBadRequest, "member_id and facility_id are required", nil)
		return
	}

	timestamp := time.Now().UTC()
	if req.Timestamp != "" {
		var err error
		timestamp, err = time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid timestamp (use RFC3339)", err)
			return
		}
	}

	method := attendance.MethodBiometric
	if req.Method == string(attendance.MethodManual) {
		method = attendance.MethodManual
	}

	event := attendance.PunchEvent{
		ID:         newEventID(),
		MemberID:   attendance.MemberID(req.MemberID),
		FacilityID: attendance.FacilityID(req.FacilityID),
		BranchID:   attendance.BranchID(req.BranchID),
		Direction:  attendance.Direction(req.Direction),
		Timestamp:  timestamp,
		Method:     method,
	}

	policy := h.policyFor(event.BranchID)
	visit, err := h.Ledger.RecordPunch(r.Context(), event, policy)
	if err != nil {
		if attendance.IsClientError(err) {
			writeError(w, http.StatusConflict, "Punch rejected", err)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to record punch", err)
		return
	}

	writeJSON(w, http.StatusCreated, visitToDTO(*visit, policy))
}

// =============================================================================
// VISIT QUERIES
// =============================================================================

// ListVisits returns visits matching the query filters.
func (h *Handler) ListVisits(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}

	visits, err := h.Store.ListVisits(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list visits", err)
		return
	}

	dtos := make([]VisitDTO, len(visits))
	for i, v := range visits {
		dtos[i] = visitToDTO(v, h.policyFor(v.BranchID))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListAnomalies returns closed visits classified outside the normal band.
// Each visit is classified under its own branch policy, so a cross-branch
// query never judges one branch's visits by another branch's thresholds.
func (h *Handler) ListAnomalies(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}

	visits, err := h.Store.ListVisits(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list visits", err)
		return
	}

	anomalies := attendance.FilterAnomaliesWith(visits, h.policyFor)
	dtos := make([]VisitDTO, len(anomalies))
	for i, v := range anomalies {
		dtos[i] = visitToDTO(v, h.policyFor(v.BranchID))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSummary returns the attendance summary for the filtered window.
// A single-branch query prefers the SQL-side precomputed path and falls
// back to the pure aggregation over raw records when it fails. A query
// spanning branches always aggregates in Go, looking up each visit's own
// branch policy: the SQL path bakes one threshold pair into the query and
// cannot classify a mixed-policy result set.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	filter, err := filterFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid filter", err)
		return
	}

	if filter.BranchID != "" {
		policy := h.policyFor(filter.BranchID)
		summary, err := h.summarizer.SummarizeVisits(r.Context(), filter, policy)
		if err == nil {
			writeJSON(w, http.StatusOK, summaryToDTO(summary, "precomputed"))
			return
		}
		log.Printf("[API] precomputed summary unavailable, falling back: %v", err)
	}

	visits, err := h.Store.ListVisits(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute summary", err)
		return
	}
	writeJSON(w, http.StatusOK, summaryToDTO(attendance.SummarizeWith(visits, h.policyFor), "fallback"))
}

// =============================================================================
// MEMBER DIRECTORY
// =============================================================================

// ListMembers returns all directory entries.
func (h *Handler) ListMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.Store.ListMembers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list members", err)
		return
	}

	dtos := make([]MemberDTO, len(members))
	for i, m := range members {
		dtos[i] = MemberDTO{ID: m.ID, Name: m.Name, Email: m.Email}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SaveMember creates or updates a directory entry.
func (h *Handler) SaveMember(w http.ResponseWriter, r *http.Request) {
	var req SaveMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required", nil)
		return
	}

	m := sqlite.Member{ID: req.ID, Name: req.Name, Email: req.Email}
	if err := h.Store.SaveMember(r.Context(), m); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save member", err)
		return
	}
	writeJSON(w, http.StatusCreated, MemberDTO{ID: m.ID, Name: m.Name, Email: m.Email})
}

// ListMemberEvents returns the punch audit log for one member.
func (h *Handler) ListMemberEvents(w http.ResponseWriter, r *http.Request) {
	memberID := attendance.MemberID(chi.URLParam(r, "id"))

	from, to, err := timeRangeFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid time range", err)
		return
	}

	events, err := h.Store.ListEvents(r.Context(), memberID, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list events", err)
		return
	}

	dtos := make([]PunchEventDTO, len(events))
	for i, e := range events {
		dtos[i] = PunchEventDTO{
			ID:         e.ID,
			MemberID:   string(e.MemberID),
			FacilityID: string(e.FacilityID),
			BranchID:   string(e.BranchID),
			Direction:  string(e.Direction),
			Method:     string(e.Method),
			Timestamp:  e.Timestamp.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// BRANCH POLICIES
// =============================================================================

// ListPolicies returns all branch configs.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListPolicies(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list policies", err)
		return
	}

	dtos := make([]PolicyDTO, len(records))
	for i, rec := range records {
		dtos[i] = PolicyDTO{
			BranchID:   rec.BranchID,
			ConfigJSON: rec.ConfigJSON,
			UpdatedAt:  rec.UpdatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetPolicy returns one branch config.
func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	branchID := chi.URLParam(r, "branchID")

	rec, err := h.Store.GetPolicy(r.Context(), branchID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get policy", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "Policy not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, PolicyDTO{
		BranchID:   rec.BranchID,
		ConfigJSON: rec.ConfigJSON,
		UpdatedAt:  rec.UpdatedAt.Format(time.RFC3339),
	})
}

// SavePolicy validates and saves a branch config, then refreshes the
// cached snapshot. Invalid configs never reach the cache.
func (h *Handler) SavePolicy(w http.ResponseWriter, r *http.Request) {
	branchID := chi.URLParam(r, "branchID")

	var req SavePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	policy, err := h.PolicyFactory.ParsePolicy(req.ConfigJSON)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid policy", err)
		return
	}
	if string(policy.BranchID) != branchID {
		writeError(w, http.StatusBadRequest, "branch_id in config does not match URL", nil)
		return
	}

	if err := h.Store.SavePolicy(r.Context(), sqlite.PolicyRecord{
		BranchID:   branchID,
		ConfigJSON: req.ConfigJSON,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save policy", err)
		return
	}

	h.mu.Lock()
	h.policies[policy.BranchID] = *policy
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, PolicyDTO{BranchID: branchID, ConfigJSON: req.ConfigJSON})
}

// =============================================================================
// QUERY PARSING HELPERS
// =============================================================================

func filterFromQuery(r *http.Request) (attendance.VisitFilter, error) {
	q := r.URL.Query()

	filter := attendance.VisitFilter{
		BranchID:   attendance.BranchID(q.Get("branch")),
		FacilityID: attendance.FacilityID(q.Get("facility")),
		MemberID:   attendance.MemberID(q.Get("member")),
		Search:     q.Get("search"),
		OpenOnly:   q.Get("open") == "true",
	}

	from, to, err := timeRangeFromQuery(r)
	if err != nil {
		return attendance.VisitFilter{}, err
	}
	filter.From = from
	filter.To = to
	return filter, nil
}

func timeRangeFromQuery(r *http.Request) (from, to time.Time, err error) {
	q := r.URL.Query()
	if s := q.Get("from"); s != "" {
		from, err = parseQueryTime(s, false)
		if err != nil {
			return
		}
	}
	if s := q.Get("to"); s != "" {
		to, err = parseQueryTime(s, true)
		if err != nil {
			return
		}
	}
	return
}

// parseQueryTime accepts RFC3339 or a plain date. A plain "to" date is
// extended to the end of that day so date-range filters are inclusive.
func parseQueryTime(s string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Second)
	}
	return t, nil
}

var eventSeq uint64

func newEventID() string {
	return fmt.Sprintf("evt-%d-%d", time.Now().UnixNano(), atomic.AddUint64(&eventSeq, 1))
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
