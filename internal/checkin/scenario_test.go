package checkin

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"myqueue/checkin-service/internal/models"
	"myqueue/checkin-service/internal/store"
	"myqueue/checkin-service/internal/store/memory"
	"myqueue/checkin-service/internal/tracker"
)

// Follows two patients through a whole morning: both check in, staff calls
// the first, finishes the visit, and each side observes the right states.
func TestTwoPatientFlow(t *testing.T) {
	st := memory.New()
	service := NewService(st)
	ctx := context.Background()

	seedAppointment(t, st, "apt1", models.Appointment{
		UID: patient1, ServiceType: models.ServiceGeneral, Date: testDate, Status: models.AppointmentConfirmed,
	})
	seedAppointment(t, st, "apt2", models.Appointment{
		UID: patient2, ServiceType: models.ServiceGeneral, Date: testDate, Status: models.AppointmentConfirmed,
	})

	first, err := service.CheckIn(ctx, patient1, "TYPE=GENERAL", testDate)
	if err != nil {
		t.Fatalf("first check in: %v", err)
	}
	second, err := service.CheckIn(ctx, patient2, "TYPE=GENERAL", testDate)
	if err != nil {
		t.Fatalf("second check in: %v", err)
	}
	if first.Ticket.DisplayText != "G001" || second.Ticket.DisplayText != "G002" {
		t.Fatalf("unexpected tickets: %q %q", first.Ticket.DisplayText, second.Ticket.DisplayText)
	}

	session1 := tracker.Session{Date: testDate, ServiceType: models.ServiceGeneral, TicketKey: 1, DisplayText: "G001"}
	session2 := tracker.Session{Date: testDate, ServiceType: models.ServiceGeneral, TicketKey: 2, DisplayText: "G002"}
	opts := tracker.Options{CompletionGrace: 10 * time.Millisecond}

	tr1 := tracker.New(st, session1, nil, opts)
	tr2 := tracker.New(st, session2, nil, opts)
	done1 := make(chan error, 1)
	go func() { done1 <- tr1.Run(ctx) }()
	go func() { _ = tr2.Run(ctx) }()

	waitState(t, tr1.Updates(), func(s tracker.DerivedState) bool {
		return s.Status == models.StatusWaiting && s.Position == 0
	})
	waitState(t, tr2.Updates(), func(s tracker.DerivedState) bool {
		return s.Status == models.StatusWaiting && s.Position == 1 && s.ETAMinutes == 5
	})

	// staff calls G001
	pointer, _ := json.Marshal(models.CurrentServing{CurrentNumber: 1})
	if err := st.Set(ctx, store.CurrentServingPath(testDate, models.ServiceGeneral), pointer); err != nil {
		t.Fatalf("set pointer: %v", err)
	}
	waitState(t, tr1.Updates(), func(s tracker.DerivedState) bool {
		return s.Status == models.StatusServing
	})

	// visit done, record removed
	if err := st.Delete(ctx, store.TicketPath(testDate, models.ServiceGeneral, 1)); err != nil {
		t.Fatalf("delete ticket: %v", err)
	}

	select {
	case err := <-done1:
		if err != nil {
			t.Fatalf("first tracker: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("first tracker did not complete")
	}

	// the queue in front of the second patient is now empty
	waitState(t, tr2.Updates(), func(s tracker.DerivedState) bool {
		return s.Status == models.StatusWaiting && s.Position == 0
	})
}

func waitState(t *testing.T, updates <-chan tracker.DerivedState, match func(tracker.DerivedState) bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case state, ok := <-updates:
			if !ok {
				t.Fatalf("updates channel closed before expected state")
			}
			if match(state) {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state")
		}
	}
}
