package models

import (
	"fmt"
	"time"
)

// Appointment statuses. confirmed → checked_in is owned by this service;
// checked_in → completed and any → cancelled belong to the staff system.
const (
	AppointmentConfirmed = "confirmed"
	AppointmentCheckedIn = "checked_in"
	AppointmentCompleted = "completed"
	AppointmentCancelled = "cancelled"
)

// Ticket statuses. Only `waiting` is ever written by this service; the
// staff-facing counter system owns the rest.
const (
	StatusWaiting   = "waiting"
	StatusServing   = "serving"
	StatusCompleted = "completed"
)

type Appointment struct {
	AppointmentID string      `json:"-"`
	UID           string      `json:"uid"`
	ServiceType   ServiceType `json:"serviceType"`
	Date          string      `json:"date"`
	Time          string      `json:"time,omitempty"`
	Status        string      `json:"status"`
	TicketKey     int         `json:"ticketKey,omitempty"`
	TicketDisplay string      `json:"ticketDisplay,omitempty"`
	CheckedInAt   time.Time   `json:"checkedInAt,omitempty"`
}

type Ticket struct {
	Key           int       `json:"-"`
	UID           string    `json:"uid"`
	AppointmentID string    `json:"appointmentId"`
	Status        string    `json:"status"`
	DisplayText   string    `json:"displayText"`
	CheckInAt     time.Time `json:"checkInAt"`
}

// CurrentServing mirrors the pointer record written by the staff system.
// A zero CurrentNumber means nobody is being served.
type CurrentServing struct {
	CurrentNumber int `json:"currentNumber"`
}

const ticketNumberPad = 3

// FormatTicketNumber renders the human ticket number, e.g. G001.
func FormatTicketNumber(serviceType ServiceType, key int) string {
	return fmt.Sprintf("%s%0*d", serviceType.Prefix(), ticketNumberPad, key)
}
