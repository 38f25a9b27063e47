/*
notify.go - Notification emission on punch-in/punch-out

PURPOSE:
  When a branch enables send_notifications, the ledger emits an event to
  the notification collaborator on every visit open and close. This
  engine's only obligation is emission; delivery (SMS, push, email) lives
  with the collaborator and is out of scope.

  Emission must never fail or block ingestion, so implementations are
  expected to be fire-and-forget.
*/
package attendance

import (
	"context"
	"log"
)

// Notifier receives visit lifecycle events for the notification
// collaborator. Implementations must not block the ingestion path.
type Notifier interface {
	VisitOpened(ctx context.Context, visit VisitRecord)
	VisitClosed(ctx context.Context, visit VisitRecord)
}

// LogNotifier is the default emission sink: it writes the event to the
// process log. Deployments replace it with a real collaborator adapter.
type LogNotifier struct{}

func (LogNotifier) VisitOpened(_ context.Context, v VisitRecord) {
	log.Printf("[Notify] visit opened: member=%s facility=%s at=%s", v.MemberID, v.FacilityID, v.PunchIn.Format("15:04:05"))
}

func (LogNotifier) VisitClosed(_ context.Context, v VisitRecord) {
	minutes := 0
	if v.DurationMinutes != nil {
		minutes = *v.DurationMinutes
	}
	log.Printf("[Notify] visit closed: member=%s facility=%s duration=%dm reason=%s", v.MemberID, v.FacilityID, minutes, v.CloseReason)
}
