package parking

import (
	"math"
	"time"
)

// Policy holds the allocation constants of the facility. DefaultPolicy
// returns the production values; tests shrink TotalSpots to exercise edge
// cases.
type Policy struct {
	TotalSpots        int           // size of the spot pool
	AdmissionRatio    float64       // share of the pool that must stay free to admit a reservation
	StandardDuration  time.Duration // length of a reservation window and of a walk-in estimate
	PreferredDuration time.Duration // informational "long stay" window for walk-ins
	MinSpontaneous    time.Duration // shortest walk-in allocation
	SlotStep          time.Duration // booking grid granularity
	SlotSpan          time.Duration // slots are listed this far either side of the preferred time
	GracePeriod       time.Duration // allowed lateness before a preorder is cancelled
	MinAdvance        time.Duration // earliest precision booking, relative to now
	MaxAdvance        time.Duration // latest precision booking, relative to now
	ExtensionWindow   time.Duration // extensions may be requested this close to the estimated end
	ExtensionSteps    []time.Duration
	MaxFixedExtension int // hours
	SweepInterval     time.Duration
}

// DefaultPolicy returns the facility defaults.
func DefaultPolicy() Policy {
	return Policy{
		TotalSpots:        100,
		AdmissionRatio:    0.4,
		StandardDuration:  4 * time.Hour,
		PreferredDuration: 8 * time.Hour,
		MinSpontaneous:    2 * time.Hour,
		SlotStep:          15 * time.Minute,
		SlotSpan:          time.Hour,
		GracePeriod:       15 * time.Minute,
		MinAdvance:        24 * time.Hour,
		MaxAdvance:        7 * 24 * time.Hour,
		ExtensionWindow:   time.Hour,
		ExtensionSteps:    []time.Duration{4 * time.Hour, 3 * time.Hour, 2 * time.Hour},
		MaxFixedExtension: 4,
		SweepInterval:     time.Minute,
	}
}

// AdmissionThreshold returns ceil(n * AdmissionRatio) for a pool of n spots.
func (p Policy) AdmissionThreshold(n int) int {
	return int(math.Ceil(float64(n)*p.AdmissionRatio - 1e-9))
}

// spontaneousSteps lists walk-in durations from StandardDuration down to
// MinSpontaneous in whole hours.
func (p Policy) spontaneousSteps() []time.Duration {
	var out []time.Duration
	for d := p.StandardDuration; d >= p.MinSpontaneous; d -= time.Hour {
		out = append(out, d)
	}
	return out
}

// Window is a half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowFrom returns [start, start+d).
func WindowFrom(start time.Time, d time.Duration) Window {
	return Window{Start: start, End: start.Add(d)}
}

// Overlaps reports whether w intersects [start, end).
func (w Window) Overlaps(start, end time.Time) bool {
	return start.Before(w.End) && w.Start.Before(end)
}

// Contains reports whether t lies in w.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}
