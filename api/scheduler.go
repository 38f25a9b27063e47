/*
scheduler.go - Automated visit closure scheduler

PURPOSE:
  Periodically sweeps for visits left open past the branch's auto
  punch-out ceiling plus grace period and forcibly closes them. Missed
  punch-outs otherwise leave sessions open forever and poison the
  duration statistics.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Closes each overdue visit individually; one slow or failing record
    never starves punch ingestion behind a sweep-wide lock
  - Closure sets punch-out to punch-in + ceiling, not to discovery time,
    so the recorded duration is the configured ceiling regardless of tick
    granularity
  - A failed close is logged and left open; the next tick retries it.
    Closure is idempotent at the store, so at-least-once is safe

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 5 minutes)
  - Enabled: Whether the scheduler is active (default: true)

USAGE:
  scheduler := NewAutoCloseScheduler(handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - attendance/ledger.go: Overdue check and AutoClose
  - handlers.go: TriggerSweep endpoint (manual sweep)
*/
package api

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/clubsync/attendance-engine/attendance"
)

// AutoCloseScheduler enforces the auto punch-out policy against
// long-open visits.
type AutoCloseScheduler struct {
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewAutoCloseScheduler creates a new scheduler.
func NewAutoCloseScheduler(handler *Handler) *AutoCloseScheduler {
	return &AutoCloseScheduler{
		Handler:       handler,
		CheckInterval: 5 * time.Minute,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (s *AutoCloseScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)

	go s.run()

	log.Printf("[Scheduler] Started with check interval: %v", s.CheckInterval)
}

// Stop stops the scheduler.
func (s *AutoCloseScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (s *AutoCloseScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.Sweep(context.Background(), time.Now())

	for {
		select {
		case <-s.ticker.C:
			s.Sweep(context.Background(), time.Now())
		case <-s.stop:
			return
		}
	}
}

// Sweep closes every visit that is overdue at the given instant. Exported
// with an explicit clock so the closure behavior is testable without a
// running ticker. Records that fail to persist stay open and are retried
// on the next sweep.
func (s *AutoCloseScheduler) Sweep(ctx context.Context, now time.Time) {
	open, err := s.Handler.Ledger.OpenVisits(ctx, now)
	if err != nil {
		log.Printf("[Scheduler] Error listing open visits: %v", err)
		return
	}

	closedCount := 0
	failedCount := 0

	for _, visit := range open {
		policy := s.Handler.policyFor(visit.BranchID)
		if !attendance.Overdue(visit, policy, now) {
			continue
		}

		if _, err := s.Handler.Ledger.AutoClose(ctx, visit, policy); err != nil {
			failedCount++
			log.Printf("[Scheduler] Error auto-closing visit %s: %v (will retry)", visit.ID, err)
			continue
		}
		closedCount++
		log.Printf("[Scheduler] Auto-closed visit %s: member=%s facility=%s duration=%dm",
			visit.ID, visit.MemberID, visit.FacilityID, policy.AutoPunchOutHours*60)
	}

	if closedCount > 0 || failedCount > 0 {
		log.Printf("[Scheduler] Sweep completed: %d closed, %d failed", closedCount, failedCount)
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (s *AutoCloseScheduler) RunNow() {
	s.Sweep(context.Background(), time.Now())
}

// TriggerSweep is the admin endpoint for a manual sweep.
func (s *AutoCloseScheduler) TriggerSweep(w http.ResponseWriter, r *http.Request) {
	s.Sweep(r.Context(), time.Now())
	writeJSON(w, http.StatusOK, map[string]any{"status": "sweep completed"})
}
