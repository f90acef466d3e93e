package tracker

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"time"

	"myqueue/checkin-service/internal/models"
	"myqueue/checkin-service/internal/store"
)

// TurnAlerter receives queue milestones for one tracked session. Calls may
// repeat; implementations are expected to deduplicate per session.
type TurnAlerter interface {
	TurnReached(session Session)
	AlmostTurn(session Session, ahead int)
	Completed(session Session)
}

type Options struct {
	AvgServiceMinutes    int           // minutes per waiting ticket, default 5
	UpcomingCount        int           // waiting tickets shown after the serving one, default 4
	CompletionGrace      time.Duration // delay before teardown after completion, default 3s
	AlmostAheadThreshold int           // people ahead that triggers the heads-up alert, default 3
}

func (o Options) withDefaults() Options {
	if o.AvgServiceMinutes <= 0 {
		o.AvgServiceMinutes = 5
	}
	if o.UpcomingCount <= 0 {
		o.UpcomingCount = 4
	}
	if o.CompletionGrace <= 0 {
		o.CompletionGrace = 3 * time.Second
	}
	if o.AlmostAheadThreshold <= 0 {
		o.AlmostAheadThreshold = 3
	}
	return o
}

// Tracker keeps the derived queue state for one session current by watching
// the ticket list and the serving pointer. It only ever reads the store;
// stopping a tracker never touches shared state, so a session can be
// resumed later from its serialized value.
type Tracker struct {
	store   store.Store
	session Session
	alerter TurnAlerter
	opts    Options
	updates chan DerivedState
}

func New(st store.Store, session Session, alerter TurnAlerter, opts Options) *Tracker {
	return &Tracker{
		store:   st,
		session: session,
		alerter: alerter,
		opts:    opts.withDefaults(),
		updates: make(chan DerivedState, 4),
	}
}

// Updates delivers derived states as they change. Slow consumers observe
// the latest state rather than every intermediate one. The channel closes
// when Run returns.
func (t *Tracker) Updates() <-chan DerivedState {
	return t.updates
}

// Run blocks until the session reaches a terminal state, the session turns
// out not to exist, or ctx is cancelled. It returns ErrSessionNotFound when
// the very first list snapshot has no ticket for the session; the caller
// should clear its persisted session either way once Run returns.
func (t *Tracker) Run(ctx context.Context) error {
	defer close(t.updates)

	if !t.session.Valid() {
		return ErrSessionNotFound
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	queueCh, stopQueue, err := t.store.Watch(watchCtx, store.QueuePath(t.session.Date, t.session.ServiceType))
	if err != nil {
		return err
	}
	defer stopQueue()

	servingCh, stopServing, err := t.store.Watch(watchCtx, store.CurrentServingPath(t.session.Date, t.session.ServiceType))
	if err != nil {
		return err
	}
	defer stopServing()

	var (
		tickets    map[int]models.Ticket
		servingKey int
		haveList   bool
		current    DerivedState
		haveState  bool
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-queueCh:
			if !ok {
				return nil
			}
			tickets = decodeTickets(snap, t.session)
			if !haveList {
				haveList = true
				if _, exists := tickets[t.session.TicketKey]; !exists {
					log.Printf("tracker session=%s: no ticket in first snapshot, treating as expired", t.session.ID())
					t.emit(DerivedState{Status: models.StatusCompleted, CurrentServingKey: servingKey})
					return ErrSessionNotFound
				}
			}
		case snap, ok := <-servingCh:
			if !ok {
				return nil
			}
			servingKey = decodeServingKey(snap)
		}

		// Derivation waits for the first ticket-list snapshot; an empty
		// list is indistinguishable from "not loaded yet" before that.
		if !haveList {
			continue
		}

		next := Derive(tickets, servingKey, t.session, t.opts.AvgServiceMinutes, t.opts.UpcomingCount)
		if haveState && models.StatusRank(next.Status) < models.StatusRank(current.Status) {
			log.Printf("tracker anomaly: session=%s observed %s after %s, keeping %s", t.session.ID(), next.Status, current.Status, current.Status)
			next.Status = current.Status
		}

		changed := !haveState || !next.equal(current)
		entered := !haveState || next.Status != current.Status
		current = next
		haveState = true
		if !changed {
			continue
		}

		if t.alerter != nil {
			if current.Status == models.StatusWaiting && current.Position == t.opts.AlmostAheadThreshold {
				t.alerter.AlmostTurn(t.session, current.Position)
			}
			if current.Status == models.StatusServing {
				t.alerter.TurnReached(t.session)
			}
		}
		t.emit(current)

		if entered && current.Status == models.StatusCompleted {
			if t.alerter != nil {
				t.alerter.Completed(t.session)
			}
			// Grace period so a completion message can be shown before
			// the local session is cleared.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(t.opts.CompletionGrace):
			}
			return nil
		}
	}
}

func (t *Tracker) emit(state DerivedState) {
	for {
		select {
		case t.updates <- state:
			return
		default:
			select {
			case <-t.updates:
			default:
			}
		}
	}
}

func decodeTickets(snap store.Snapshot, session Session) map[int]models.Ticket {
	tickets := map[int]models.Ticket{}
	for name, raw := range snap.Children {
		key, err := strconv.Atoi(name)
		if err != nil {
			log.Printf("tracker anomaly: session=%s non-numeric ticket key %q", session.ID(), name)
			continue
		}
		var ticket models.Ticket
		if err := json.Unmarshal(raw, &ticket); err != nil {
			log.Printf("tracker skip malformed ticket %s/%d: %v", snap.Path, key, err)
			continue
		}
		ticket.Key = key
		tickets[key] = ticket
	}
	return tickets
}

func decodeServingKey(snap store.Snapshot) int {
	if snap.Value == nil {
		return 0
	}
	var pointer models.CurrentServing
	if err := json.Unmarshal(snap.Value, &pointer); err != nil {
		log.Printf("tracker skip malformed serving pointer at %s: %v", snap.Path, err)
		return 0
	}
	if pointer.CurrentNumber < 0 {
		return 0
	}
	return pointer.CurrentNumber
}
