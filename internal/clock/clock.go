// Package clock abstracts the wall clock so that grace periods, booking
// windows and the auto-cancel sweep can be driven by simulated time in
// tests.
package clock

import "time"

// Clock supplies the current time and timer channels.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// Real implements Clock using the standard library. Times are reported in
// the configured location so that calendar-day comparisons (today,
// tomorrow) match the parking facility's local day.
type Real struct {
	Loc *time.Location
}

// Now returns the current time in r.Loc (local time when unset).
func (r Real) Now() time.Time {
	if r.Loc == nil {
		return time.Now()
	}
	return time.Now().In(r.Loc)
}

// After mirrors time.After.
func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
