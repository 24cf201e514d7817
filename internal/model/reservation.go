package model

import "time"

// ReservationStatus is the lifecycle state of a reservation.
type ReservationStatus string

const (
	StatusPreorder  ReservationStatus = "preorder"
	StatusActive    ReservationStatus = "active"
	StatusCancelled ReservationStatus = "cancelled"
	StatusFinished  ReservationStatus = "finished"
)

// Terminal reports whether no further transition is possible from s.
func (s ReservationStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusFinished
}

// Holding reports whether a reservation in state s still claims its spot.
func (s ReservationStatus) Holding() bool {
	return s == StatusPreorder || s == StatusActive
}

// ReservationKind distinguishes the two booking products.
type ReservationKind string

const (
	// KindStandard is a date-only booking. It is created directly in the
	// active state, covers the whole calendar day and has no grace rule.
	KindStandard ReservationKind = "standard"
	// KindPrecision is a booking on the 15-minute grid. It starts in the
	// preorder state and is cancelled when the holder does not arrive
	// within the grace period.
	KindPrecision ReservationKind = "precision"
)

// Reservation is an advance claim on a spot for a time window on a given
// calendar day. Reservations are never deleted; terminal states are kept
// for audit.
//
// Fields:
//  Code     – server generated reservation code.
//  UserID   – subscriber who owns the reservation.
//  Date     – calendar day of the reservation (midnight, facility location).
//  Start    – wall-clock time of day the window starts (hours and minutes
//             since 00:00, not elapsed time, so DST days stay aligned).
//  End      – time of day the window ends. End <= Start means the window
//             runs past midnight into the next day.
//  PlacedAt – when the reservation was submitted.
//  SpotID   – assigned spot, nil until allocated.
//  Status   – preorder, active, cancelled or finished.
//  Kind     – standard or precision.
type Reservation struct {
	Code     int64             // reservations.code
	UserID   uint64            // reservations.user_id
	Date     time.Time         // reservations.reservation_date
	Start    time.Duration     // reservations.start_time
	End      time.Duration     // reservations.end_time
	PlacedAt time.Time         // reservations.placed_at
	SpotID   *int              // reservations.spot_id (nullable)
	Status   ReservationStatus // reservations.status
	Kind     ReservationKind   // reservations.kind
}

// StartAt returns the absolute start of the reservation window.
func (r Reservation) StartAt() time.Time { return At(r.Date, r.Start) }

// Window returns the absolute [start, end) interval of the reservation.
// A window whose end time of day is not after its start wraps past
// midnight.
func (r Reservation) Window() (time.Time, time.Time) {
	start := At(r.Date, r.Start)
	day := r.Date
	if r.End <= r.Start {
		day = day.AddDate(0, 0, 1)
	}
	return start, At(day, r.End)
}

// Overnight reports whether the window crosses midnight.
func (r Reservation) Overnight() bool {
	_, end := r.Window()
	return !sameDay(r.Date, end.Add(-time.Nanosecond))
}

// Midnight truncates t to the start of its calendar day in t's location.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// TimeOfDay returns the wall-clock time of t as hours, minutes and
// seconds since 00:00. On a DST change day this differs from the time
// elapsed since midnight.
func TimeOfDay(t time.Time) time.Duration {
	h, m, sec := t.Clock()
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(sec)*time.Second + time.Duration(t.Nanosecond())
}

// At returns the instant on day's calendar date whose wall clock reads
// tod, in day's location.
func At(day time.Time, tod time.Duration) time.Time {
	y, mo, d := day.Date()
	h := int(tod / time.Hour)
	m := int(tod % time.Hour / time.Minute)
	sec := int(tod % time.Minute / time.Second)
	return time.Date(y, mo, d, h, m, sec, int(tod%time.Second), day.Location())
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
