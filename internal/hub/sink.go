package hub

import (
	"log"
	"time"

	"myqueue/checkin-service/internal/models"
)

// AlertSink broadcasts turn alerts to board subscribers for the matching
// queue, so a called number can flash on waiting-room displays.
type AlertSink struct {
	hub *Hub
	now func() time.Time
}

func NewAlertSink(h *Hub) *AlertSink {
	return &AlertSink{hub: h, now: time.Now}
}

type alertPayload struct {
	DisplayText string `json:"displayText"`
	ServiceType string `json:"serviceType,omitempty"`
	Ahead       int    `json:"ahead,omitempty"`
}

func (s *AlertSink) FireTurnAlert(displayText string, serviceType models.ServiceType) {
	s.broadcast("queue.turn", alertPayload{DisplayText: displayText, ServiceType: string(serviceType)}, string(serviceType))
}

func (s *AlertSink) FireAlmostTurnAlert(displayText string, serviceType models.ServiceType, ahead int) {
	s.broadcast("queue.almost_turn", alertPayload{DisplayText: displayText, ServiceType: string(serviceType), Ahead: ahead}, string(serviceType))
}

func (s *AlertSink) FireCompletionAlert(displayText string, serviceType models.ServiceType) {
	s.broadcast("queue.completed", alertPayload{DisplayText: displayText, ServiceType: string(serviceType)}, string(serviceType))
}

func (s *AlertSink) broadcast(eventType string, payload alertPayload, serviceType string) {
	frame, err := MarshalEnvelope(eventType, payload)
	if err != nil {
		log.Printf("alert sink marshal error: %v", err)
		return
	}
	// alerts only ever concern today's queues
	date := s.now().Format("2006-01-02")
	s.hub.Broadcast(frame, Subscription{Date: date, ServiceType: serviceType})
}
