package checkin

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"myqueue/checkin-service/internal/models"
	"myqueue/checkin-service/internal/store"
	"myqueue/checkin-service/internal/store/memory"
)

const (
	testDate = "2026-08-29"
	patient1 = "11111111-1111-1111-1111-111111111111"
	patient2 = "22222222-2222-2222-2222-222222222222"
)

func seedAppointment(t *testing.T, st store.Store, id string, appt models.Appointment) {
	t.Helper()
	encoded, err := json.Marshal(appt)
	if err != nil {
		t.Fatalf("marshal appointment: %v", err)
	}
	if err := st.Set(context.Background(), store.AppointmentPath(id), encoded); err != nil {
		t.Fatalf("seed appointment: %v", err)
	}
}

func counterValue(t *testing.T, st store.Store, serviceType models.ServiceType) int {
	t.Helper()
	raw, err := st.Get(context.Background(), store.CounterPath(testDate, serviceType))
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	if raw == nil {
		return 0
	}
	var value int
	if err := json.Unmarshal(raw, &value); err != nil {
		t.Fatalf("decode counter: %v", err)
	}
	return value
}

func TestParseToken(t *testing.T) {
	tests := []struct {
		input string
		want  models.ServiceType
		ok    bool
	}{
		{"TYPE=GENERAL", models.ServiceGeneral, true},
		{"type=dental", models.ServiceDental, true},
		{"GENERAL", models.ServiceGeneral, true},
		{"vaccine", models.ServiceVaccination, true},
		{" TYPE=chronic ", models.ServiceChronic, true},
		{"TYPE=", "", false},
		{"TYPE=cardiology", "", false},
		{"", "", false},
		{"   ", "", false},
	}
	for _, tc := range tests {
		got, err := ParseToken(tc.input)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("ParseToken(%q)=(%q, %v), want %q", tc.input, got, err, tc.want)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidCheckInToken) {
			t.Fatalf("ParseToken(%q) expected ErrInvalidCheckInToken, got %v", tc.input, err)
		}
	}
}

func TestCheckInIssuesFirstTicket(t *testing.T) {
	st := memory.New()
	service := NewService(st)
	seedAppointment(t, st, "appt-1", models.Appointment{
		UID:         patient1,
		ServiceType: models.ServiceGeneral,
		Date:        testDate,
		Status:      models.AppointmentConfirmed,
	})

	result, err := service.CheckIn(context.Background(), patient1, "TYPE=GENERAL", testDate)
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if result.Resumed {
		t.Fatalf("expected fresh ticket, got resumed")
	}
	if result.Ticket.Key != 1 || result.Ticket.DisplayText != "G001" {
		t.Fatalf("unexpected ticket: %+v", result.Ticket)
	}
	if result.Ticket.Status != models.StatusWaiting {
		t.Fatalf("expected waiting status, got %s", result.Ticket.Status)
	}

	// appointment flips to checked_in with the ticket reference
	raw, _ := st.Get(context.Background(), store.AppointmentPath("appt-1"))
	var appt models.Appointment
	if err := json.Unmarshal(raw, &appt); err != nil {
		t.Fatalf("decode appointment: %v", err)
	}
	if appt.Status != models.AppointmentCheckedIn || appt.TicketKey != 1 || appt.TicketDisplay != "G001" {
		t.Fatalf("appointment not updated: %+v", appt)
	}
	if appt.CheckedInAt.IsZero() {
		t.Fatalf("expected checkedInAt to be set")
	}
}

func TestCheckInFCFSOrder(t *testing.T) {
	st := memory.New()
	service := NewService(st)
	seedAppointment(t, st, "appt-1", models.Appointment{
		UID: patient1, ServiceType: models.ServiceDental, Date: testDate, Status: models.AppointmentConfirmed,
	})
	seedAppointment(t, st, "appt-2", models.Appointment{
		UID: patient2, ServiceType: models.ServiceDental, Date: testDate, Status: models.AppointmentConfirmed,
	})

	first, err := service.CheckIn(context.Background(), patient1, "dental", testDate)
	if err != nil {
		t.Fatalf("first check in: %v", err)
	}
	second, err := service.CheckIn(context.Background(), patient2, "dental", testDate)
	if err != nil {
		t.Fatalf("second check in: %v", err)
	}
	if first.Ticket.Key != 1 || second.Ticket.Key != 2 {
		t.Fatalf("expected keys 1 and 2, got %d and %d", first.Ticket.Key, second.Ticket.Key)
	}
	if second.Ticket.DisplayText != "D002" {
		t.Fatalf("unexpected display text %q", second.Ticket.DisplayText)
	}
}

func TestCheckInRetryReturnsSameTicket(t *testing.T) {
	st := memory.New()
	service := NewService(st)
	seedAppointment(t, st, "appt-1", models.Appointment{
		UID: patient1, ServiceType: models.ServiceGeneral, Date: testDate, Status: models.AppointmentConfirmed,
	})

	first, err := service.CheckIn(context.Background(), patient1, "general", testDate)
	if err != nil {
		t.Fatalf("first check in: %v", err)
	}
	second, err := service.CheckIn(context.Background(), patient1, "general", testDate)
	if err != nil {
		t.Fatalf("second check in: %v", err)
	}
	if !second.Resumed {
		t.Fatalf("expected resumed result")
	}
	if second.Ticket.Key != first.Ticket.Key {
		t.Fatalf("expected same ticket, got %d then %d", first.Ticket.Key, second.Ticket.Key)
	}
	if got := counterValue(t, st, models.ServiceGeneral); got != 1 {
		t.Fatalf("counter advanced on retry: %d", got)
	}
}

func TestCheckInNoAppointment(t *testing.T) {
	st := memory.New()
	service := NewService(st)

	_, err := service.CheckIn(context.Background(), patient1, "general", testDate)
	if !errors.Is(err, ErrNoEligibleAppointment) {
		t.Fatalf("expected ErrNoEligibleAppointment, got %v", err)
	}
}

func TestCheckInWrongDateOrStatus(t *testing.T) {
	st := memory.New()
	service := NewService(st)
	seedAppointment(t, st, "appt-1", models.Appointment{
		UID: patient1, ServiceType: models.ServiceGeneral, Date: "2026-08-30", Status: models.AppointmentConfirmed,
	})
	seedAppointment(t, st, "appt-2", models.Appointment{
		UID: patient1, ServiceType: models.ServiceGeneral, Date: testDate, Status: models.AppointmentCancelled,
	})

	_, err := service.CheckIn(context.Background(), patient1, "general", testDate)
	if !errors.Is(err, ErrNoEligibleAppointment) {
		t.Fatalf("expected ErrNoEligibleAppointment, got %v", err)
	}
}

func TestCheckInTokenServiceMismatch(t *testing.T) {
	st := memory.New()
	service := NewService(st)
	seedAppointment(t, st, "appt-1", models.Appointment{
		UID: patient1, ServiceType: models.ServiceGeneral, Date: testDate, Status: models.AppointmentConfirmed,
	})

	_, err := service.CheckIn(context.Background(), patient1, "TYPE=DENTAL", testDate)
	if !errors.Is(err, ErrInvalidCheckInToken) {
		t.Fatalf("expected ErrInvalidCheckInToken, got %v", err)
	}

	// rejection leaves the store untouched
	if got := counterValue(t, st, models.ServiceDental); got != 0 {
		t.Fatalf("counter advanced on rejected token: %d", got)
	}
	raw, _ := st.Get(context.Background(), store.AppointmentPath("appt-1"))
	var appt models.Appointment
	_ = json.Unmarshal(raw, &appt)
	if appt.Status != models.AppointmentConfirmed {
		t.Fatalf("appointment mutated on rejected token: %+v", appt)
	}
}

func TestCheckInInvalidToken(t *testing.T) {
	st := memory.New()
	service := NewService(st)
	seedAppointment(t, st, "appt-1", models.Appointment{
		UID: patient1, ServiceType: models.ServiceGeneral, Date: testDate, Status: models.AppointmentConfirmed,
	})

	_, err := service.CheckIn(context.Background(), patient1, "TYPE=UNKNOWN", testDate)
	if !errors.Is(err, ErrInvalidCheckInToken) {
		t.Fatalf("expected ErrInvalidCheckInToken, got %v", err)
	}
	if got := counterValue(t, st, models.ServiceGeneral); got != 0 {
		t.Fatalf("counter advanced on invalid token: %d", got)
	}
}

func TestCheckInResumeAfterVisitFinished(t *testing.T) {
	st := memory.New()
	service := NewService(st)
	// checked in earlier today; staff already removed the ticket record
	seedAppointment(t, st, "appt-1", models.Appointment{
		UID:           patient1,
		ServiceType:   models.ServiceGeneral,
		Date:          testDate,
		Status:        models.AppointmentCheckedIn,
		TicketKey:     7,
		TicketDisplay: "G007",
	})

	result, err := service.CheckIn(context.Background(), patient1, "general", testDate)
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if !result.Resumed {
		t.Fatalf("expected resumed result")
	}
	if result.Ticket.Key != 7 || result.Ticket.DisplayText != "G007" {
		t.Fatalf("unexpected ticket: %+v", result.Ticket)
	}
	if result.Ticket.Status != models.StatusCompleted {
		t.Fatalf("expected completed status for missing record, got %s", result.Ticket.Status)
	}
	if got := counterValue(t, st, models.ServiceGeneral); got != 0 {
		t.Fatalf("counter advanced on resume: %d", got)
	}
}

func TestCheckInResumeWithLiveTicket(t *testing.T) {
	st := memory.New()
	service := NewService(st)
	seedAppointment(t, st, "appt-1", models.Appointment{
		UID:           patient1,
		ServiceType:   models.ServiceGeneral,
		Date:          testDate,
		Status:        models.AppointmentCheckedIn,
		TicketKey:     3,
		TicketDisplay: "G003",
	})
	ticket := models.Ticket{
		UID:           patient1,
		AppointmentID: "appt-1",
		Status:        models.StatusServing,
		DisplayText:   "G003",
	}
	encoded, _ := json.Marshal(ticket)
	if err := st.Set(context.Background(), store.TicketPath(testDate, models.ServiceGeneral, 3), encoded); err != nil {
		t.Fatalf("seed ticket: %v", err)
	}

	result, err := service.CheckIn(context.Background(), patient1, "general", testDate)
	if err != nil {
		t.Fatalf("check in: %v", err)
	}
	if !result.Resumed {
		t.Fatalf("expected resumed result")
	}
	if result.Ticket.Key != 3 || result.Ticket.Status != models.StatusServing {
		t.Fatalf("unexpected ticket: %+v", result.Ticket)
	}
}

// uncommittedStore reports every transaction as contended, the way a
// backend does once its retry budget runs out.
type uncommittedStore struct {
	*memory.Store
}

func (s *uncommittedStore) Transaction(ctx context.Context, path string, fn store.UpdateFunc) (store.TxnResult, error) {
	return store.TxnResult{Committed: false}, nil
}

func TestCheckInAllocationNotCommitted(t *testing.T) {
	st := &uncommittedStore{Store: memory.New()}
	service := NewService(st)
	seedAppointment(t, st, "appt-1", models.Appointment{
		UID: patient1, ServiceType: models.ServiceGeneral, Date: testDate, Status: models.AppointmentConfirmed,
	})

	_, err := service.CheckIn(context.Background(), patient1, "general", testDate)
	if !errors.Is(err, ErrAllocationFailed) {
		t.Fatalf("expected ErrAllocationFailed, got %v", err)
	}

	// nothing written: no ticket, appointment untouched
	children, err := st.List(context.Background(), store.QueuePath(testDate, models.ServiceGeneral))
	if err != nil {
		t.Fatalf("list queue: %v", err)
	}
	if len(children) != 0 {
		t.Fatalf("tickets written after failed allocation: %v", children)
	}
	raw, _ := st.Get(context.Background(), store.AppointmentPath("appt-1"))
	var appt models.Appointment
	_ = json.Unmarshal(raw, &appt)
	if appt.Status != models.AppointmentConfirmed || appt.TicketKey != 0 {
		t.Fatalf("appointment mutated after failed allocation: %+v", appt)
	}
}

func TestValidatorPrefersLowestAppointmentID(t *testing.T) {
	st := memory.New()
	validator := NewValidator(st)
	seedAppointment(t, st, "appt-b", models.Appointment{
		UID: patient1, ServiceType: models.ServiceGeneral, Date: testDate, Status: models.AppointmentConfirmed,
	})
	seedAppointment(t, st, "appt-a", models.Appointment{
		UID: patient1, ServiceType: models.ServiceDental, Date: testDate, Status: models.AppointmentConfirmed,
	})

	appt, err := validator.FindEligible(context.Background(), patient1, testDate)
	if err != nil {
		t.Fatalf("find eligible: %v", err)
	}
	if appt.AppointmentID != "appt-a" {
		t.Fatalf("expected appt-a to win, got %s", appt.AppointmentID)
	}
}
