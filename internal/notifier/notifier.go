// Package notifier turns tracker milestones into one-shot user alerts.
package notifier

import (
	"log"
	"sync"

	"myqueue/checkin-service/internal/models"
	"myqueue/checkin-service/internal/tracker"
)

// AlertSink is the push/alert channel. Calls are fire-and-forget: failures
// stay inside the sink or are swallowed here, never surfaced to the
// status-derivation pipeline.
type AlertSink interface {
	FireTurnAlert(displayText string, serviceType models.ServiceType)
	FireAlmostTurnAlert(displayText string, serviceType models.ServiceType, ahead int)
	FireCompletionAlert(displayText string, serviceType models.ServiceType)
}

// TurnNotifier deduplicates alerts per session. The same serving state is
// observed repeatedly from two independently watched paths; only the first
// observation fires.
type TurnNotifier struct {
	sink AlertSink

	mu    sync.Mutex
	fired map[string]bool
}

var _ tracker.TurnAlerter = (*TurnNotifier)(nil)

func New(sink AlertSink) *TurnNotifier {
	return &TurnNotifier{sink: sink, fired: make(map[string]bool)}
}

func (n *TurnNotifier) TurnReached(session tracker.Session) {
	if !n.once("turn/" + session.ID()) {
		return
	}
	n.dispatch(func() {
		n.sink.FireTurnAlert(session.DisplayText, session.ServiceType)
	})
}

func (n *TurnNotifier) AlmostTurn(session tracker.Session, ahead int) {
	if !n.once("almost/" + session.ID()) {
		return
	}
	n.dispatch(func() {
		n.sink.FireAlmostTurnAlert(session.DisplayText, session.ServiceType, ahead)
	})
}

func (n *TurnNotifier) Completed(session tracker.Session) {
	if !n.once("completed/" + session.ID()) {
		return
	}
	n.dispatch(func() {
		n.sink.FireCompletionAlert(session.DisplayText, session.ServiceType)
	})
}

// Forget drops dedup state for a session, e.g. after its day has passed.
func (n *TurnNotifier) Forget(session tracker.Session) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, kind := range []string{"turn/", "almost/", "completed/"} {
		delete(n.fired, kind+session.ID())
	}
}

func (n *TurnNotifier) once(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fired[key] {
		return false
	}
	n.fired[key] = true
	return true
}

// dispatch runs the sink call off the caller's goroutine so a slow or
// broken sink cannot stall status derivation.
func (n *TurnNotifier) dispatch(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("alert sink panic: %v", r)
			}
		}()
		fn()
	}()
}

// LogSink writes alerts to the process log. It is the default sink when no
// realtime channel is attached.
type LogSink struct{}

func (LogSink) FireTurnAlert(displayText string, serviceType models.ServiceType) {
	log.Printf("alert turn ticket=%s service=%s", displayText, serviceType)
}

func (LogSink) FireAlmostTurnAlert(displayText string, serviceType models.ServiceType, ahead int) {
	log.Printf("alert almost-turn ticket=%s service=%s ahead=%d", displayText, serviceType, ahead)
}

func (LogSink) FireCompletionAlert(displayText string, serviceType models.ServiceType) {
	log.Printf("alert completed ticket=%s service=%s", displayText, serviceType)
}
