package tracker

import (
	"errors"
	"fmt"

	"myqueue/checkin-service/internal/models"
)

var ErrSessionNotFound = errors.New("session not found")

// Session identifies the ticket a client is tracking. It is a flat value:
// serialize it, persist it wherever the platform keeps local state, and a
// Tracker can be rebuilt from it alone.
type Session struct {
	Date        string             `json:"date"`
	ServiceType models.ServiceType `json:"serviceType"`
	TicketKey   int                `json:"ticketKey"`
	DisplayText string             `json:"displayText"`
}

func (s Session) Valid() bool {
	return s.Date != "" && s.ServiceType != "" && s.TicketKey > 0
}

// ID is the stable identity used to deduplicate per-session alerts.
func (s Session) ID() string {
	return fmt.Sprintf("%s/%s/%d", s.Date, s.ServiceType, s.TicketKey)
}
