package tracker

import (
	"testing"

	"myqueue/checkin-service/internal/models"
)

func ticketMap(keys ...int) map[int]models.Ticket {
	tickets := map[int]models.Ticket{}
	for _, key := range keys {
		tickets[key] = models.Ticket{
			Key:         key,
			Status:      models.StatusWaiting,
			DisplayText: models.FormatTicketNumber(models.ServiceGeneral, key),
		}
	}
	return tickets
}

func testSession(key int) Session {
	return Session{
		Date:        "2026-08-29",
		ServiceType: models.ServiceGeneral,
		TicketKey:   key,
		DisplayText: models.FormatTicketNumber(models.ServiceGeneral, key),
	}
}

func TestDeriveWaitingPositionAndETA(t *testing.T) {
	tickets := ticketMap(1, 2, 3, 4)
	state := Derive(tickets, 0, testSession(4), 5, 4)

	if state.Status != models.StatusWaiting {
		t.Fatalf("expected waiting, got %s", state.Status)
	}
	if state.Position != 3 {
		t.Fatalf("expected 3 ahead, got %d", state.Position)
	}
	if state.ETAMinutes != 15 {
		t.Fatalf("expected eta 15, got %d", state.ETAMinutes)
	}
}

func TestDerivePositionIgnoresNonWaiting(t *testing.T) {
	tickets := ticketMap(1, 2, 3)
	serving := tickets[1]
	serving.Status = models.StatusServing
	tickets[1] = serving

	state := Derive(tickets, 1, testSession(3), 5, 4)
	if state.Position != 1 {
		t.Fatalf("expected 1 ahead (ticket 2 only), got %d", state.Position)
	}
}

func TestDeriveServingFromPointer(t *testing.T) {
	tickets := ticketMap(2, 3)
	state := Derive(tickets, 2, testSession(2), 5, 4)

	if state.Status != models.StatusServing {
		t.Fatalf("expected serving via pointer, got %s", state.Status)
	}
	if state.Position != 0 || state.ETAMinutes != 0 {
		t.Fatalf("serving state should carry no position/eta: %+v", state)
	}
}

func TestDeriveServingFromRecord(t *testing.T) {
	tickets := ticketMap(2, 3)
	mine := tickets[2]
	mine.Status = models.StatusServing
	tickets[2] = mine

	// pointer not updated yet; the record alone marks serving
	state := Derive(tickets, 0, testSession(2), 5, 4)
	if state.Status != models.StatusServing {
		t.Fatalf("expected serving via record, got %s", state.Status)
	}
}

func TestDeriveCompletedWhenAbsent(t *testing.T) {
	tickets := ticketMap(3, 4)
	state := Derive(tickets, 3, testSession(2), 5, 4)

	if state.Status != models.StatusCompleted {
		t.Fatalf("expected completed for missing record, got %s", state.Status)
	}
}

func TestDeriveCompletedFromRecord(t *testing.T) {
	tickets := ticketMap(2)
	mine := tickets[2]
	mine.Status = models.StatusCompleted
	tickets[2] = mine

	// completed record wins even when the pointer still names me
	state := Derive(tickets, 2, testSession(2), 5, 4)
	if state.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", state.Status)
	}
}

func TestDeriveUpcomingOrder(t *testing.T) {
	tickets := ticketMap(1, 2, 3, 4, 5, 6, 7)
	serving := tickets[1]
	serving.Status = models.StatusServing
	tickets[1] = serving

	state := Derive(tickets, 1, testSession(3), 5, 4)

	if len(state.Upcoming) != 5 {
		t.Fatalf("expected serving + 4 upcoming, got %d", len(state.Upcoming))
	}
	if !state.Upcoming[0].IsServing || state.Upcoming[0].Key != 1 {
		t.Fatalf("first entry should be the serving ticket: %+v", state.Upcoming[0])
	}
	wantKeys := []int{1, 2, 3, 4, 5}
	for i, entry := range state.Upcoming {
		if entry.Key != wantKeys[i] {
			t.Fatalf("upcoming[%d]=%d, want %d", i, entry.Key, wantKeys[i])
		}
	}
	if !state.Upcoming[2].IsMe {
		t.Fatalf("expected entry for key 3 to be marked mine")
	}
}

func TestDeriveServingDisplayFallback(t *testing.T) {
	// pointer names a ticket with no record yet
	state := Derive(ticketMap(5), 4, testSession(5), 5, 4)
	if state.CurrentServingDisplay != "G004" {
		t.Fatalf("expected fallback display G004, got %q", state.CurrentServingDisplay)
	}
}
