package parking

import (
	"context"
	"fmt"
	"time"

	"github.com/iliyamo/parkb/internal/model"
	"github.com/iliyamo/parkb/internal/repository"
)

// TimeSlot is one candidate start on the booking grid.
type TimeSlot struct {
	Time      time.Time `json:"time"`
	Available bool      `json:"available"`
	SpotCount int       `json:"spot_count"`
	MeetsRule bool      `json:"meets_rule"`
}

// Allocation is the outcome of a walk-in allocation.
type Allocation struct {
	SpotID   int
	Duration time.Duration
	// LongStay reports that the chosen spot is also free for
	// PreferredDuration. It does not change the allocated duration.
	LongStay bool
}

// Allocator chooses spots and creates reservations.
type Allocator struct {
	*Availability
}

// NewAllocator returns an allocator using a.
func NewAllocator(a *Availability) *Allocator { return &Allocator{Availability: a} }

// FindAvailableSpot returns the lowest spot id that is not occupied and
// has no conflicting reservation during w.
func (a *Allocator) FindAvailableSpot(ctx context.Context, tx repository.Tx, w Window, ignore ...int64) (int, bool, error) {
	b, err := a.collect(ctx, tx, w, ignore)
	if err != nil {
		return 0, false, err
	}
	for _, sp := range b.spots {
		if !b.blocked[sp.ID] {
			return sp.ID, true, nil
		}
	}
	return 0, false, nil
}

// GenerateTimeSlots evaluates the grid points within SlotSpan of preferred
// on date. Each slot carries the free spot count for a StandardDuration
// window starting there, whether that count satisfies the admission rule
// and whether the slot is bookable (a spot exists and the rule holds).
func (a *Allocator) GenerateTimeSlots(ctx context.Context, tx repository.Tx, date time.Time, preferred time.Duration) ([]TimeSlot, error) {
	if preferred < 0 || preferred >= 24*time.Hour {
		return nil, fmt.Errorf("%w: preferred time %s out of range", ErrInvalidWindow, preferred)
	}
	center := model.At(date, preferred.Truncate(a.policy.SlotStep))
	first := center.Add(-a.policy.SlotSpan)
	last := center.Add(a.policy.SlotSpan)

	spots, err := tx.ListSpots(ctx)
	if err != nil {
		return nil, err
	}
	threshold := a.policy.AdmissionThreshold(len(spots))

	var out []TimeSlot
	for t := first; !t.After(last); t = t.Add(a.policy.SlotStep) {
		w := WindowFrom(t, a.policy.StandardDuration)
		b, err := a.collect(ctx, tx, w, nil)
		if err != nil {
			return nil, err
		}
		count := b.free()
		meets := count >= threshold
		out = append(out, TimeSlot{
			Time:      t,
			Available: count > 0 && meets,
			SpotCount: count,
			MeetsRule: meets,
		})
	}
	return out, nil
}

// MakePreBooking creates a precision reservation starting at `at`. The
// start must lie on the booking grid and within [now+MinAdvance,
// now+MaxAdvance]; the admission rule must hold and a spot must be free for
// the whole window. The reservation starts in the preorder state.
func (a *Allocator) MakePreBooking(ctx context.Context, tx repository.Tx, out *Outbox, userID uint64, at time.Time) (model.Reservation, error) {
	now := a.clock.Now()
	at = at.In(now.Location())
	if model.TimeOfDay(at)%a.policy.SlotStep != 0 {
		return model.Reservation{}, fmt.Errorf("%w: %s is not on the %s grid", ErrInvalidWindow, at.Format("15:04"), a.policy.SlotStep)
	}
	if at.Before(now.Add(a.policy.MinAdvance)) || at.After(now.Add(a.policy.MaxAdvance)) {
		return model.Reservation{}, fmt.Errorf("%w: booking must start between %s and %s ahead", ErrInvalidWindow, a.policy.MinAdvance, a.policy.MaxAdvance)
	}
	if _, err := userExists(ctx, tx, userID); err != nil {
		return model.Reservation{}, err
	}
	ok, err := a.CanAdmitReservation(ctx, tx)
	if err != nil {
		return model.Reservation{}, err
	}
	if !ok {
		return model.Reservation{}, fmt.Errorf("%w: fewer than %.0f%% of spots free", ErrCapacityRule, a.policy.AdmissionRatio*100)
	}
	w := WindowFrom(at, a.policy.StandardDuration)
	spot, found, err := a.FindAvailableSpot(ctx, tx, w)
	if err != nil {
		return model.Reservation{}, err
	}
	if !found {
		return model.Reservation{}, fmt.Errorf("%w: no spot free from %s", ErrNoAvailability, at.Format("2006-01-02 15:04"))
	}
	r := model.Reservation{
		UserID:   userID,
		Date:     model.Midnight(at),
		Start:    model.TimeOfDay(at),
		End:      model.TimeOfDay(w.End),
		PlacedAt: now,
		SpotID:   &spot,
		Status:   model.StatusPreorder,
		Kind:     model.KindPrecision,
	}
	if err := tx.CreateReservation(ctx, &r); err != nil {
		return model.Reservation{}, err
	}
	out.add(reservationEvent(EventReservationCreated, r, now))
	return r, nil
}

// MakeStandardBooking creates a date-only reservation for the whole of
// date. It must be between one and seven calendar days ahead. The booking
// is created directly in the active state and is not subject to the grace
// rule.
func (a *Allocator) MakeStandardBooking(ctx context.Context, tx repository.Tx, out *Outbox, userID uint64, date time.Time) (model.Reservation, error) {
	now := a.clock.Now()
	today := model.Midnight(now)
	day := model.Midnight(date.In(now.Location()))
	minDays := int(a.policy.MinAdvance / (24 * time.Hour))
	maxDays := int(a.policy.MaxAdvance / (24 * time.Hour))
	if day.Before(today.AddDate(0, 0, minDays)) || day.After(today.AddDate(0, 0, maxDays)) {
		return model.Reservation{}, fmt.Errorf("%w: reservation date must be %d to %d days ahead", ErrInvalidWindow, minDays, maxDays)
	}
	if _, err := userExists(ctx, tx, userID); err != nil {
		return model.Reservation{}, err
	}
	ok, err := a.CanAdmitReservation(ctx, tx)
	if err != nil {
		return model.Reservation{}, err
	}
	if !ok {
		return model.Reservation{}, fmt.Errorf("%w: fewer than %.0f%% of spots free", ErrCapacityRule, a.policy.AdmissionRatio*100)
	}
	r := model.Reservation{
		UserID:   userID,
		Date:     day,
		PlacedAt: now,
		Status:   model.StatusActive,
		Kind:     model.KindStandard,
	}
	start, end := r.Window()
	spot, found, err := a.FindAvailableSpot(ctx, tx, Window{Start: start, End: end})
	if err != nil {
		return model.Reservation{}, err
	}
	if !found {
		return model.Reservation{}, fmt.Errorf("%w: no spot free on %s", ErrNoAvailability, day.Format("2006-01-02"))
	}
	r.SpotID = &spot
	if err := tx.CreateReservation(ctx, &r); err != nil {
		return model.Reservation{}, err
	}
	out.add(reservationEvent(EventReservationCreated, r, now))
	return r, nil
}

// AllocateSpontaneous tries StandardDuration down to MinSpontaneous in
// one-hour steps and returns the first spot found.
func (a *Allocator) AllocateSpontaneous(ctx context.Context, tx repository.Tx, now time.Time) (Allocation, error) {
	for _, d := range a.policy.spontaneousSteps() {
		spot, found, err := a.FindAvailableSpot(ctx, tx, WindowFrom(now, d))
		if err != nil {
			return Allocation{}, err
		}
		if !found {
			continue
		}
		long, err := a.IsSpotFreeForWindow(ctx, tx, spot, WindowFrom(now, a.policy.PreferredDuration))
		if err != nil {
			return Allocation{}, err
		}
		return Allocation{SpotID: spot, Duration: d, LongStay: long}, nil
	}
	return Allocation{}, fmt.Errorf("%w: no spot free for %s", ErrNoAvailability, a.policy.MinSpontaneous)
}

func userExists(ctx context.Context, tx repository.Tx, userID uint64) (model.User, error) {
	u, err := tx.UserByID(ctx, userID)
	if err != nil {
		return model.User{}, notFound(err, "user %d", userID)
	}
	return u, nil
}

// notFound rewrites a repository miss into ErrNotFound with a description.
func notFound(err error, format string, args ...interface{}) error {
	if KindOf(err) == KindNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
	}
	return err
}

func reservationEvent(t EventType, r model.Reservation, at time.Time) Event {
	e := Event{Type: t, At: at, UserID: r.UserID, ReservationCode: r.Code}
	if r.SpotID != nil {
		e.SpotID = *r.SpotID
	}
	return e
}
