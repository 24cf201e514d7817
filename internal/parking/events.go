package parking

import (
	"context"
	"time"
)

// EventType names a committed state change.
type EventType string

const (
	EventReservationCreated   EventType = "reservation.created"
	EventReservationActivated EventType = "reservation.activated"
	EventReservationCancelled EventType = "reservation.cancelled"
	EventReservationFinished  EventType = "reservation.finished"
	EventSessionStarted       EventType = "session.started"
	EventSessionEnded         EventType = "session.ended"
	EventSessionExtended      EventType = "session.extended"
)

// Event describes one state change. Only the fields relevant to Type are
// set.
type Event struct {
	Type            EventType
	At              time.Time
	UserID          uint64
	ReservationCode int64
	ParkingCode     int
	SpotID          int
	// Reason is set on cancellations: "user", "no-show" or "grace-expired".
	Reason       string
	Late         bool
	EstimatedEnd time.Time
}

// Publisher delivers committed events to the outside world, for example a
// message broker. Publish errors are logged and never undo the change.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Observer is notified of every committed event and every failed command.
type Observer interface {
	Committed(e Event)
	Failed(op string, kind Kind)
}

// Outbox collects the events raised inside one transaction. The service
// hands them to publishers only after the transaction commits.
type Outbox struct {
	events []Event
}

func (o *Outbox) add(e Event) {
	if o == nil {
		return
	}
	o.events = append(o.events, e)
}

// Events returns the collected events in the order they were raised.
func (o *Outbox) Events() []Event {
	if o == nil {
		return nil
	}
	return o.events
}
