/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements persistence for punch events, visit records, branch policies,
  and the member directory using SQLite. In production the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  attendance.VisitStore: Event audit log and visit lifecycle

APPEND-ONLY ENFORCEMENT:
  punch_events is append-only: nothing updates or deletes rows outside the
  demo-only Reset. visits supports exactly two mutations - creation (open)
  and closure.
  Closed visits are never touched again; closure of an already-closed
  visit is a no-op so the auto-closure sweep is safe to retry.

KEY TABLES:
  punch_events: Immutable audit log of every punch, rejected ones included
  visits:       Derived visit records (open until punch_out is set)
  policies:     Per-branch configuration JSON (admin-editable)
  members:      Directory entries backing free-text search

INVARIANT INDEX:
  idx_visits_single_open is a partial unique index on
  (member_id, facility_id) WHERE punch_out IS NULL. It is the database-level
  backstop for the at-most-one-open-visit invariant; the ledger's per-key
  locks are the first line of defense.

PRECOMPUTED SUMMARY:
  SummarizeVisits computes the attendance summary in SQL. This is the
  cheap "precomputed" path of the dual-path contract; it must agree with
  attendance.Summarize over the same record set, and the tests check that
  equivalence.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so aggregation reads do
  not block punch ingestion. Stale statistic reads are acceptable; the
  open/closed invariant itself is guarded by the unique index.

USAGE:
  store, err := sqlite.New("./data/attendance.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := attendance.NewLedger(store, attendance.LogNotifier{})

SEE ALSO:
  - attendance/ledger.go: Interface definition and ingestion logic
  - attendance/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/clubsync/attendance-engine/attendance"
)

// Store implements attendance.VisitStore plus policy and member
// persistence using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Reset clears all data. Demo scenario loading only; production code
// never deletes events or visits.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{"punch_events", "visits", "policies", "members"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to reset %s: %w", table, err)
		}
	}
	return nil
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Punch events (append-only audit log)
	CREATE TABLE IF NOT EXISTS punch_events (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		facility_id TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		method TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_member
		ON punch_events(member_id, facility_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_timestamp
		ON punch_events(timestamp);

	-- Visits (derived records; open while punch_out is NULL)
	CREATE TABLE IF NOT EXISTS visits (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		facility_id TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		date TEXT NOT NULL,
		punch_in TEXT NOT NULL,
		punch_out TEXT,
		duration_minutes INTEGER,
		biometric_verified BOOLEAN NOT NULL DEFAULT FALSE,
		close_reason TEXT NOT NULL DEFAULT 'pending',
		created_at TEXT NOT NULL
	);

	-- CRITICAL: at most one open visit per member+facility.
	-- Partial unique index applies only while punch_out is NULL.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_visits_single_open
		ON visits(member_id, facility_id)
		WHERE punch_out IS NULL;

	CREATE INDEX IF NOT EXISTS idx_visits_member
		ON visits(member_id, punch_in);
	CREATE INDEX IF NOT EXISTS idx_visits_facility_date
		ON visits(facility_id, punch_in);
	CREATE INDEX IF NOT EXISTS idx_visits_branch
		ON visits(branch_id, punch_in);
	CREATE INDEX IF NOT EXISTS idx_visits_open
		ON visits(punch_in) WHERE punch_out IS NULL;

	-- Branch policies (admin-editable JSON config)
	CREATE TABLE IF NOT EXISTS policies (
		branch_id TEXT PRIMARY KEY,
		config_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Member directory (backs free-text search)
	CREATE TABLE IF NOT EXISTS members (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// PUNCH EVENTS (append-only)
// =============================================================================

// AppendEvent records a punch event. Append-only.
func (s *Store) AppendEvent(ctx context.Context, event attendance.PunchEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO punch_events (id, member_id, facility_id, branch_id, direction, method, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.MemberID,
		event.FacilityID,
		event.BranchID,
		event.Direction,
		event.Method,
		event.Timestamp.UTC().Format(time.RFC3339),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append punch event: %w", err)
	}
	return nil
}

// ListEvents returns punch events for a member, oldest first. Zero time
// bounds mean no constraint.
func (s *Store) ListEvents(ctx context.Context, memberID attendance.MemberID, from, to time.Time) ([]attendance.PunchEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, member_id, facility_id, branch_id, direction, method, timestamp
		FROM punch_events
		WHERE member_id = ?`
	args := []any{memberID}
	if !from.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, from.UTC().Format(time.RFC3339))
	}
	if !to.IsZero() {
		query += " AND timestamp <= ?"
		args = append(args, to.UTC().Format(time.RFC3339))
	}
	query += " ORDER BY timestamp ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query punch events: %w", err)
	}
	defer rows.Close()

	var events []attendance.PunchEvent
	for rows.Next() {
		var e attendance.PunchEvent
		var ts string
		if err := rows.Scan(&e.ID, &e.MemberID, &e.FacilityID, &e.BranchID, &e.Direction, &e.Method, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan punch event: %w", err)
		}
		e.Timestamp, _ = time.Parse(time.RFC3339, ts)
		events = append(events, e)
	}
	return events, rows.Err()
}

// =============================================================================
// VISITS (attendance.VisitStore)
// =============================================================================

// FindOpenVisit returns the open visit for member+facility, or nil.
func (s *Store) FindOpenVisit(ctx context.Context, memberID attendance.MemberID, facilityID attendance.FacilityID) (*attendance.VisitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, member_id, facility_id, branch_id, date, punch_in, punch_out, duration_minutes, biometric_verified, close_reason
		FROM visits
		WHERE member_id = ? AND facility_id = ? AND punch_out IS NULL`,
		memberID, facilityID,
	)

	v, err := scanVisitRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// CreateVisit persists a new open visit. The partial unique index rejects
// a second open visit for the same member+facility.
func (s *Store) CreateVisit(ctx context.Context, visit attendance.VisitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO visits (id, member_id, facility_id, branch_id, date, punch_in, punch_out, duration_minutes, biometric_verified, close_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL, NULL, ?, ?, ?)`,
		visit.ID,
		visit.MemberID,
		visit.FacilityID,
		visit.BranchID,
		visit.Date,
		visit.PunchIn.UTC().Format(time.RFC3339),
		visit.BiometricVerified,
		attendance.ClosePending,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &attendance.DuplicatePunchInError{
				MemberID:   visit.MemberID,
				FacilityID: visit.FacilityID,
				OpenSince:  visit.PunchIn,
			}
		}
		return fmt.Errorf("failed to create visit: %w", err)
	}
	return nil
}

// CloseVisit sets punch-out, duration, and close reason on an open visit.
// Closing an already-closed visit is a no-op.
func (s *Store) CloseVisit(ctx context.Context, id attendance.VisitID, punchOut time.Time, durationMinutes int, reason attendance.CloseReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE visits
		SET punch_out = ?, duration_minutes = ?, close_reason = ?
		WHERE id = ? AND punch_out IS NULL`,
		punchOut.UTC().Format(time.RFC3339),
		durationMinutes,
		reason,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to close visit: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Either already closed (idempotent retry) or missing.
		var count int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM visits WHERE id = ?", id).Scan(&count); err != nil {
			return err
		}
		if count == 0 {
			return attendance.ErrVisitNotFound
		}
	}
	return nil
}

// ListOpenVisits returns open visits with a punch-in before the cutoff.
func (s *Store) ListOpenVisits(ctx context.Context, openedBefore time.Time) ([]attendance.VisitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, member_id, facility_id, branch_id, date, punch_in, punch_out, duration_minutes, biometric_verified, close_reason
		FROM visits
		WHERE punch_out IS NULL AND punch_in < ?
		ORDER BY punch_in ASC`,
		openedBefore.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query open visits: %w", err)
	}
	defer rows.Close()

	return scanVisits(rows)
}

// ListVisits returns visits matching the filter, punch-in ascending.
// The search term matches member name or email via the directory table.
func (s *Store) ListVisits(ctx context.Context, filter attendance.VisitFilter) ([]attendance.VisitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query, args := buildVisitQuery(`
		SELECT v.id, v.member_id, v.facility_id, v.branch_id, v.date, v.punch_in, v.punch_out, v.duration_minutes, v.biometric_verified, v.close_reason
		FROM visits v`, filter, nil)
	query += " ORDER BY v.punch_in ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query visits: %w", err)
	}
	defer rows.Close()

	return scanVisits(rows)
}

// buildVisitQuery appends the filter's WHERE clause (and the members join
// when searching) to the given SELECT head. headArgs are placeholders
// already present in the head.
func buildVisitQuery(head string, filter attendance.VisitFilter, headArgs []any) (string, []any) {
	var conds []string
	args := headArgs

	if filter.Search != "" {
		head += " JOIN members m ON m.id = v.member_id"
		needle := "%" + strings.ToLower(filter.Search) + "%"
		conds = append(conds, "(LOWER(m.name) LIKE ? OR LOWER(COALESCE(m.email, '')) LIKE ?)")
		args = append(args, needle, needle)
	}
	if filter.BranchID != "" {
		conds = append(conds, "v.branch_id = ?")
		args = append(args, filter.BranchID)
	}
	if filter.FacilityID != "" {
		conds = append(conds, "v.facility_id = ?")
		args = append(args, filter.FacilityID)
	}
	if filter.MemberID != "" {
		conds = append(conds, "v.member_id = ?")
		args = append(args, filter.MemberID)
	}
	if !filter.From.IsZero() {
		conds = append(conds, "v.punch_in >= ?")
		args = append(args, filter.From.UTC().Format(time.RFC3339))
	}
	if !filter.To.IsZero() {
		conds = append(conds, "v.punch_in <= ?")
		args = append(args, filter.To.UTC().Format(time.RFC3339))
	}
	if filter.OpenOnly {
		conds = append(conds, "v.punch_out IS NULL")
	}

	if len(conds) > 0 {
		head += " WHERE " + strings.Join(conds, " AND ")
	}
	return head, args
}

// =============================================================================
// PRECOMPUTED SUMMARY (SQL-side aggregation)
// =============================================================================

// SummarizeVisits computes the attendance summary in SQL for the filtered
// window. This is the preferred path of the dual-path contract; it must
// produce the same result as attendance.Summarize over the records
// returned by ListVisits with the same filter. AVG-style division ignores
// open visits because their duration_minutes is NULL.
func (s *Store) SummarizeVisits(ctx context.Context, filter attendance.VisitFilter, policy attendance.Policy) (attendance.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	head := `
		SELECT
			COUNT(*),
			COUNT(DISTINCT v.member_id),
			COALESCE(ROUND(CAST(SUM(v.duration_minutes) AS REAL) / COUNT(v.duration_minutes)), 0),
			COALESCE(SUM(CASE WHEN v.duration_minutes IS NOT NULL
				AND (v.duration_minutes < ? OR v.duration_minutes > ?) THEN 1 ELSE 0 END), 0)
		FROM visits v`

	query, args := buildVisitQuery(head, filter, []any{policy.MinVisitMinutes, policy.MaxVisitMinutes()})

	var summary attendance.Summary
	var avg float64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&summary.TotalVisits,
		&summary.UniqueMembers,
		&avg,
		&summary.AnomalyCount,
	)
	if err != nil {
		return attendance.Summary{}, fmt.Errorf("failed to summarize visits: %w", err)
	}
	summary.AvgDurationMinutes = int(avg)
	return summary, nil
}

// =============================================================================
// BRANCH POLICIES
// =============================================================================

// PolicyRecord is a stored branch policy with its JSON config.
type PolicyRecord struct {
	BranchID   string
	ConfigJSON string
	UpdatedAt  time.Time
}

// SavePolicy saves a branch policy config.
func (s *Store) SavePolicy(ctx context.Context, record PolicyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO policies (branch_id, config_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(branch_id) DO UPDATE SET
			config_json = excluded.config_json,
			updated_at = excluded.updated_at`,
		record.BranchID,
		record.ConfigJSON,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetPolicy retrieves a branch policy config, or nil when absent.
func (s *Store) GetPolicy(ctx context.Context, branchID string) (*PolicyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p PolicyRecord
	var updatedAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT branch_id, config_json, updated_at FROM policies WHERE branch_id = ?",
		branchID,
	).Scan(&p.BranchID, &p.ConfigJSON, &updatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &p, nil
}

// ListPolicies returns all branch policy configs.
func (s *Store) ListPolicies(ctx context.Context) ([]PolicyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT branch_id, config_json, updated_at FROM policies ORDER BY branch_id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []PolicyRecord
	for rows.Next() {
		var p PolicyRecord
		var updatedAt string
		if err := rows.Scan(&p.BranchID, &p.ConfigJSON, &updatedAt); err != nil {
			return nil, err
		}
		p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// =============================================================================
// MEMBER DIRECTORY
// =============================================================================

// Member is a directory entry backing the free-text search filter.
type Member struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}

// SaveMember saves a member directory entry.
func (s *Store) SaveMember(ctx context.Context, m Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO members (id, name, email, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email`,
		m.ID, m.Name, m.Email,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetMember retrieves a member by ID, or nil when absent.
func (s *Store) GetMember(ctx context.Context, id string) (*Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var m Member
	var email sql.NullString
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, email, created_at FROM members WHERE id = ?",
		id,
	).Scan(&m.ID, &m.Name, &email, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.Email = email.String
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &m, nil
}

// ListMembers returns all members ordered by name.
func (s *Store) ListMembers(ctx context.Context) ([]Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, email, created_at FROM members ORDER BY name",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []Member
	for rows.Next() {
		var m Member
		var email sql.NullString
		var createdAt string
		if err := rows.Scan(&m.ID, &m.Name, &email, &createdAt); err != nil {
			return nil, err
		}
		m.Email = email.String
		m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		members = append(members, m)
	}
	return members, rows.Err()
}

// =============================================================================
// SCANNING HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVisitRow(row rowScanner) (*attendance.VisitRecord, error) {
	var (
		v               attendance.VisitRecord
		punchIn         string
		punchOut        sql.NullString
		durationMinutes sql.NullInt64
	)

	err := row.Scan(
		&v.ID, &v.MemberID, &v.FacilityID, &v.BranchID, &v.Date,
		&punchIn, &punchOut, &durationMinutes, &v.BiometricVerified, &v.CloseReason,
	)
	if err != nil {
		return nil, err
	}

	v.PunchIn, _ = time.Parse(time.RFC3339, punchIn)
	if punchOut.Valid {
		t, _ := time.Parse(time.RFC3339, punchOut.String)
		v.PunchOut = &t
	}
	if durationMinutes.Valid {
		d := int(durationMinutes.Int64)
		v.DurationMinutes = &d
	}
	return &v, nil
}

func scanVisits(rows *sql.Rows) ([]attendance.VisitRecord, error) {
	var visits []attendance.VisitRecord
	for rows.Next() {
		v, err := scanVisitRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan visit: %w", err)
		}
		visits = append(visits, *v)
	}
	return visits, rows.Err()
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
