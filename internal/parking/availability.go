package parking

import (
	"context"

	"github.com/iliyamo/parkb/internal/clock"
	"github.com/iliyamo/parkb/internal/model"
	"github.com/iliyamo/parkb/internal/repository"
)

// Availability answers "how many" and "which" spots are free for a window.
// It only reads through the transaction it is given.
type Availability struct {
	clock  clock.Clock
	policy Policy
}

// NewAvailability returns an engine bound to c and p.
func NewAvailability(c clock.Clock, p Policy) *Availability {
	return &Availability{clock: c, policy: p}
}

// blockers is the set of spots that cannot be handed out for a window.
type blockers struct {
	spots   []model.Spot
	blocked map[int]bool
}

func (b blockers) free() int {
	n := len(b.spots) - len(b.blocked)
	if n < 0 {
		return 0
	}
	return n
}

// conflicts reports whether r claims its spot during w. A reservation
// conflicts when its window intersects w or when it starts within the
// grace period after w.Start.
func (a *Availability) conflicts(r model.Reservation, w Window) bool {
	start, end := r.Window()
	if w.Overlaps(start, end) {
		return true
	}
	return !start.Before(w.Start) && !start.After(w.Start.Add(a.policy.GracePeriod))
}

// holding loads reservations that may intersect w. Windows are at most one
// day long, so the day before w.Start is the earliest date to consider.
func (a *Availability) holding(ctx context.Context, tx repository.Tx, w Window) ([]model.Reservation, error) {
	from := model.Midnight(w.Start).AddDate(0, 0, -1)
	to := model.Midnight(w.End)
	return tx.HoldingReservations(ctx, from, to)
}

func (a *Availability) collect(ctx context.Context, tx repository.Tx, w Window, ignore []int64) (blockers, error) {
	spots, err := tx.ListSpots(ctx)
	if err != nil {
		return blockers{}, err
	}
	b := blockers{spots: spots, blocked: make(map[int]bool)}
	for _, sp := range spots {
		if sp.Occupied {
			b.blocked[sp.ID] = true
		}
	}
	rs, err := a.holding(ctx, tx, w)
	if err != nil {
		return blockers{}, err
	}
	for _, r := range rs {
		if r.SpotID == nil || ignored(r.Code, ignore) {
			continue
		}
		if a.conflicts(r, w) {
			b.blocked[*r.SpotID] = true
		}
	}
	return b, nil
}

// AvailableSpots returns the pool size minus the union of spots occupied
// now, spots reserved during w and spots whose reservation starts within
// the grace period after w.Start. The result is never negative.
func (a *Availability) AvailableSpots(ctx context.Context, tx repository.Tx, w Window) (int, error) {
	b, err := a.collect(ctx, tx, w, nil)
	if err != nil {
		return 0, err
	}
	return b.free(), nil
}

// IsSpotFreeForWindow reports whether spotID has no conflicting holding
// reservation during w and, when w includes the current time, is not
// occupied. Reservations whose codes are listed in ignore are skipped.
func (a *Availability) IsSpotFreeForWindow(ctx context.Context, tx repository.Tx, spotID int, w Window, ignore ...int64) (bool, error) {
	sp, err := tx.SpotByID(ctx, spotID)
	if err != nil {
		return false, err
	}
	if sp.Occupied && w.Contains(a.clock.Now()) {
		return false, nil
	}
	rs, err := a.holding(ctx, tx, w)
	if err != nil {
		return false, err
	}
	for _, r := range rs {
		if r.SpotID == nil || *r.SpotID != spotID || ignored(r.Code, ignore) {
			continue
		}
		if a.conflicts(r, w) {
			return false, nil
		}
	}
	return true, nil
}

// CanAdmitReservation applies the admission rule: at least
// ceil(N × AdmissionRatio) spots must be free for the next
// StandardDuration.
func (a *Availability) CanAdmitReservation(ctx context.Context, tx repository.Tx) (bool, error) {
	b, err := a.collect(ctx, tx, WindowFrom(a.clock.Now(), a.policy.StandardDuration), nil)
	if err != nil {
		return false, err
	}
	return b.free() >= a.policy.AdmissionThreshold(len(b.spots)), nil
}

func ignored(code int64, ignore []int64) bool {
	for _, c := range ignore {
		if c == code {
			return true
		}
	}
	return false
}
