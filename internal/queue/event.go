// Package queue defines message payloads exchanged over the message broker
// and the consumer that turns them into subscriber notifications.
package queue

// EventsQueue is the default durable queue for parking lifecycle events.
const EventsQueue = "parking.events"

// ParkingEvent is published after a reservation or session changes state.
// It carries enough information for downstream consumers to notify the
// subscriber without querying the primary database.  Times are RFC 3339
// strings in the facility time zone.
type ParkingEvent struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	OccurredAt      string `json:"occurred_at"`
	UserID          uint64 `json:"user_id"`
	ReservationCode int64  `json:"reservation_code,omitempty"`
	ParkingCode     int    `json:"parking_code,omitempty"`
	SpotID          int    `json:"spot_id,omitempty"`
	Reason          string `json:"reason,omitempty"`
	Late            bool   `json:"late,omitempty"`
	EstimatedEnd    string `json:"estimated_end,omitempty"`
}
