package checkin

import (
	"context"
	"encoding/json"
	"log"

	"myqueue/checkin-service/internal/models"
	"myqueue/checkin-service/internal/store"
)

// Service runs the full check-in flow: token decode, appointment
// validation, then ticket allocation. Validation failures leave the store
// untouched.
type Service struct {
	store     store.Store
	validator *Validator
	allocator *Allocator
}

func NewService(st store.Store) *Service {
	return &Service{
		store:     st,
		validator: NewValidator(st),
		allocator: NewAllocator(st),
	}
}

// Result carries everything a client needs to start tracking its ticket.
type Result struct {
	Ticket      models.Ticket
	ServiceType models.ServiceType
	Date        string
	Resumed     bool
}

func (s *Service) CheckIn(ctx context.Context, patientUID, token, today string) (Result, error) {
	serviceType, err := ParseToken(token)
	if err != nil {
		return Result{}, err
	}

	appt, err := s.validator.FindEligible(ctx, patientUID, today)
	if err != nil {
		return Result{}, err
	}
	if appt.ServiceType != serviceType {
		return Result{}, ErrInvalidCheckInToken
	}

	if appt.Status == models.AppointmentCheckedIn && appt.TicketKey > 0 {
		return s.resume(ctx, appt, patientUID)
	}

	ticket, created, err := s.allocator.Allocate(ctx, appt.Date, appt.ServiceType, appt.AppointmentID, patientUID)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Ticket:      ticket,
		ServiceType: appt.ServiceType,
		Date:        appt.Date,
		Resumed:     !created,
	}, nil
}

// resume returns the existing ticket reference for an already-checked-in
// appointment so the tracker can pick the session back up. A missing ticket
// record means the visit already finished.
func (s *Service) resume(ctx context.Context, appt models.Appointment, patientUID string) (Result, error) {
	raw, err := s.store.Get(ctx, store.TicketPath(appt.Date, appt.ServiceType, appt.TicketKey))
	if err != nil {
		return Result{}, err
	}

	ticket := models.Ticket{
		Key:           appt.TicketKey,
		UID:           patientUID,
		AppointmentID: appt.AppointmentID,
		Status:        models.StatusCompleted,
		DisplayText:   appt.TicketDisplay,
		CheckInAt:     appt.CheckedInAt,
	}
	if raw != nil {
		if err := json.Unmarshal(raw, &ticket); err != nil {
			log.Printf("checkin anomaly: malformed ticket %s/%s/%d: %v", appt.Date, appt.ServiceType, appt.TicketKey, err)
		}
		ticket.Key = appt.TicketKey
	}
	return Result{
		Ticket:      ticket,
		ServiceType: appt.ServiceType,
		Date:        appt.Date,
		Resumed:     true,
	}, nil
}
