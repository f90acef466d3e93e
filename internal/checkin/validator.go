package checkin

import (
	"context"
	"encoding/json"
	"log"
	"sort"

	"myqueue/checkin-service/internal/models"
	"myqueue/checkin-service/internal/store"
)

// Validator is the pure query guard run before ticket allocation. It never
// writes.
type Validator struct {
	store store.Store
}

func NewValidator(st store.Store) *Validator {
	return &Validator{store: st}
}

// FindEligible returns the patient's single appointment for today with
// status confirmed or checked_in. Two matches on the same day is a data
// integrity condition: the lowest appointment ID wins deterministically and
// the anomaly is logged, never resolved by issuing a second ticket.
func (v *Validator) FindEligible(ctx context.Context, patientUID, today string) (models.Appointment, error) {
	children, err := v.store.List(ctx, store.AppointmentsPath)
	if err != nil {
		return models.Appointment{}, err
	}

	var matches []models.Appointment
	for id, raw := range children {
		var appt models.Appointment
		if err := json.Unmarshal(raw, &appt); err != nil {
			log.Printf("checkin skip malformed appointment id=%s: %v", id, err)
			continue
		}
		if appt.UID != patientUID || appt.Date != today {
			continue
		}
		if appt.Status != models.AppointmentConfirmed && appt.Status != models.AppointmentCheckedIn {
			continue
		}
		appt.AppointmentID = id
		matches = append(matches, appt)
	}

	if len(matches) == 0 {
		return models.Appointment{}, ErrNoEligibleAppointment
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].AppointmentID < matches[j].AppointmentID
	})
	if len(matches) > 1 {
		log.Printf("checkin anomaly: patient=%s has %d appointments for %s, using %s", patientUID, len(matches), today, matches[0].AppointmentID)
	}
	return matches[0], nil
}
