package checkin

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"myqueue/checkin-service/internal/models"
	"myqueue/checkin-service/internal/store"
)

// Allocator issues FCFS ticket numbers from the per-(date, serviceType)
// counter. The counter transaction is the only write this core contends on;
// everything after it is single-writer.
type Allocator struct {
	store store.Store
	now   func() time.Time
}

func NewAllocator(st store.Store) *Allocator {
	return &Allocator{store: st, now: func() time.Time { return time.Now().UTC() }}
}

// Allocate returns the ticket for appointmentID, creating it if needed. The
// bool reports whether a new ticket was issued; false means a pre-existing
// ticket was returned (retried check-in).
func (a *Allocator) Allocate(ctx context.Context, date string, serviceType models.ServiceType, appointmentID, patientUID string) (models.Ticket, bool, error) {
	existing, found, err := a.findByAppointment(ctx, date, serviceType, appointmentID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if found {
		return existing, false, nil
	}

	// The transaction body is side-effect free; the store may re-run it
	// any number of times before committing.
	result, err := a.store.Transaction(ctx, store.CounterPath(date, serviceType), func(current []byte) ([]byte, error) {
		last := 0
		if current != nil {
			if err := json.Unmarshal(current, &last); err != nil {
				log.Printf("allocator anomaly: counter %s/%s not a number, resetting: %v", date, serviceType, err)
				last = 0
			}
		}
		return json.Marshal(last + 1)
	})
	if err != nil {
		return models.Ticket{}, false, err
	}
	if !result.Committed {
		return models.Ticket{}, false, ErrAllocationFailed
	}

	var key int
	if err := json.Unmarshal(result.Value, &key); err != nil {
		return models.Ticket{}, false, fmt.Errorf("allocator: counter value: %w", err)
	}

	ticket := models.Ticket{
		Key:           key,
		UID:           patientUID,
		AppointmentID: appointmentID,
		Status:        models.StatusWaiting,
		DisplayText:   models.FormatTicketNumber(serviceType, key),
		CheckInAt:     a.now(),
	}

	encoded, err := json.Marshal(ticket)
	if err != nil {
		return models.Ticket{}, false, err
	}
	// Ticket write before appointment update: a crash in between leaves a
	// ticket the duplicate scan above will find on retry.
	if err := a.store.Set(ctx, store.TicketPath(date, serviceType, key), encoded); err != nil {
		return models.Ticket{}, false, err
	}

	fields := map[string]json.RawMessage{
		"status":        mustRaw(models.AppointmentCheckedIn),
		"ticketKey":     mustRaw(key),
		"ticketDisplay": mustRaw(ticket.DisplayText),
		"checkedInAt":   mustRaw(ticket.CheckInAt),
	}
	if err := a.store.Update(ctx, store.AppointmentPath(appointmentID), fields); err != nil {
		return models.Ticket{}, false, err
	}

	return ticket, true, nil
}

func (a *Allocator) findByAppointment(ctx context.Context, date string, serviceType models.ServiceType, appointmentID string) (models.Ticket, bool, error) {
	children, err := a.store.List(ctx, store.QueuePath(date, serviceType))
	if err != nil {
		return models.Ticket{}, false, err
	}
	for name, raw := range children {
		var ticket models.Ticket
		if err := json.Unmarshal(raw, &ticket); err != nil {
			log.Printf("allocator skip malformed ticket %s/%s/%s: %v", date, serviceType, name, err)
			continue
		}
		if ticket.AppointmentID != appointmentID {
			continue
		}
		key, err := strconv.Atoi(name)
		if err != nil {
			log.Printf("allocator anomaly: non-numeric ticket key %q for appointment %s", name, appointmentID)
			continue
		}
		ticket.Key = key
		return ticket, true, nil
	}
	return models.Ticket{}, false, nil
}

func mustRaw(value interface{}) json.RawMessage {
	raw, err := json.Marshal(value)
	if err != nil {
		panic(err)
	}
	return raw
}
