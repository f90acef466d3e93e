package tracker

import (
	"sort"

	"myqueue/checkin-service/internal/models"
)

type UpcomingEntry struct {
	Key         int    `json:"key"`
	DisplayText string `json:"displayText"`
	IsMe        bool   `json:"isMe"`
	IsServing   bool   `json:"isServing"`
}

type DerivedState struct {
	Status                string          `json:"status"`
	Position              int             `json:"position"`
	ETAMinutes            int             `json:"etaMinutes"`
	CurrentServingKey     int             `json:"currentServingKey"`
	CurrentServingDisplay string          `json:"currentServingDisplay"`
	Upcoming              []UpcomingEntry `json:"upcoming"`
}

// Derive computes the client-facing queue state from one snapshot of the
// ticket list and the serving pointer. It is pure: the two watched inputs
// may arrive in any relative order and re-running with the latest pair is
// always correct.
//
// Serving is recognized from either signal (pointer equal to my key, or my
// own record marked serving) because the staff system writes them
// independently. A deleted or explicitly completed record wins over both.
func Derive(tickets map[int]models.Ticket, servingKey int, session Session, avgServiceMinutes, upcomingCount int) DerivedState {
	state := DerivedState{CurrentServingKey: servingKey}
	if servingKey > 0 {
		state.CurrentServingDisplay = displayFor(tickets, servingKey, session.ServiceType)
	}

	mine, exists := tickets[session.TicketKey]
	switch {
	case !exists || mine.Status == models.StatusCompleted:
		state.Status = models.StatusCompleted
	case servingKey == session.TicketKey || mine.Status == models.StatusServing:
		state.Status = models.StatusServing
	default:
		state.Status = models.StatusWaiting
	}

	if state.Status == models.StatusWaiting {
		ahead := 0
		for key, ticket := range tickets {
			if key < session.TicketKey && ticket.Status == models.StatusWaiting {
				ahead++
			}
		}
		state.Position = ahead
		state.ETAMinutes = ahead * avgServiceMinutes
	}

	state.Upcoming = buildUpcoming(tickets, servingKey, session, upcomingCount)
	return state
}

// buildUpcoming produces the board view: the ticket being served followed
// by the next waiting tickets in key order.
func buildUpcoming(tickets map[int]models.Ticket, servingKey int, session Session, count int) []UpcomingEntry {
	var upcoming []UpcomingEntry
	if serving, ok := tickets[servingKey]; ok && servingKey > 0 {
		upcoming = append(upcoming, UpcomingEntry{
			Key:         servingKey,
			DisplayText: serving.DisplayText,
			IsMe:        servingKey == session.TicketKey,
			IsServing:   true,
		})
	}

	keys := make([]int, 0, len(tickets))
	for key, ticket := range tickets {
		if ticket.Status == models.StatusWaiting && key != servingKey {
			keys = append(keys, key)
		}
	}
	sort.Ints(keys)
	for _, key := range keys {
		if len(upcoming) >= count+1 {
			break
		}
		upcoming = append(upcoming, UpcomingEntry{
			Key:         key,
			DisplayText: tickets[key].DisplayText,
			IsMe:        key == session.TicketKey,
		})
	}
	return upcoming
}

func displayFor(tickets map[int]models.Ticket, key int, serviceType models.ServiceType) string {
	if ticket, ok := tickets[key]; ok && ticket.DisplayText != "" {
		return ticket.DisplayText
	}
	return models.FormatTicketNumber(serviceType, key)
}

func (s DerivedState) equal(other DerivedState) bool {
	if s.Status != other.Status || s.Position != other.Position ||
		s.ETAMinutes != other.ETAMinutes || s.CurrentServingKey != other.CurrentServingKey ||
		s.CurrentServingDisplay != other.CurrentServingDisplay || len(s.Upcoming) != len(other.Upcoming) {
		return false
	}
	for i := range s.Upcoming {
		if s.Upcoming[i] != other.Upcoming[i] {
			return false
		}
	}
	return true
}
