package parking

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/iliyamo/parkb/internal/model"
	"github.com/iliyamo/parkb/internal/repository"
)

const (
	minParkingCode = 100000
	maxParkingCode = 999999 // exclusive
	codeAttempts   = 64
)

// Actor is the authenticated caller of a command.
type Actor struct {
	UserID uint64
	Role   model.Role
}

// may reports whether a acts on a reservation or session owned by owner.
func (a *Actor) may(owner uint64) bool {
	return a == nil || a.Role.Staff() || a.UserID == owner
}

// Entry is the result of a successful entry.
type Entry struct {
	ParkingCode     int           `json:"parking_code"`
	SpotID          int           `json:"spot_id"`
	EstimatedEnd    time.Time     `json:"estimated_end"`
	Duration        time.Duration `json:"-"`
	LongStay        bool          `json:"long_stay"`
	ReservationCode int64         `json:"reservation_code,omitempty"`
}

// ExitResult is the result of a successful exit.
type ExitResult struct {
	ParkingCode         int       `json:"parking_code"`
	SpotID              int       `json:"spot_id"`
	Late                bool      `json:"late"`
	EndedAt             time.Time `json:"ended_at"`
	ReservationFinished bool      `json:"reservation_finished"`
}

// Lifecycle enacts reservation and session state transitions and keeps the
// spot occupancy flag consistent with open sessions. Callers serialize
// calls and run each inside one store transaction.
type Lifecycle struct {
	alloc *Allocator
	rng   *rand.Rand
}

// NewLifecycle returns a lifecycle manager. rng draws parking codes.
func NewLifecycle(alloc *Allocator, rng *rand.Rand) *Lifecycle {
	return &Lifecycle{alloc: alloc, rng: rng}
}

func (l *Lifecycle) policy() Policy { return l.alloc.policy }

// parkingCode draws a code that no open session uses.
func (l *Lifecycle) parkingCode(ctx context.Context, tx repository.Tx) (int, error) {
	for i := 0; i < codeAttempts; i++ {
		code := minParkingCode + l.rng.Intn(maxParkingCode-minParkingCode)
		_, err := tx.OpenSessionByCode(ctx, code)
		if errors.Is(err, repository.ErrNotFound) {
			return code, nil
		}
		if err != nil {
			return 0, err
		}
	}
	return 0, fmt.Errorf("no free parking code after %d attempts", codeAttempts)
}

// ensureNotParked fails when the user already has an open session.
func ensureNotParked(ctx context.Context, tx repository.Tx, userID uint64) error {
	s, err := tx.OpenSessionByUser(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: user %d is already parked with code %d", ErrStateConflict, userID, s.Code)
}

// openSession creates the session, marks the spot occupied and raises
// session.started.
func (l *Lifecycle) openSession(ctx context.Context, tx repository.Tx, out *Outbox, s model.ParkingSession) error {
	if err := tx.CreateSession(ctx, &s); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return fmt.Errorf("%w: spot %d already holds an open session", ErrStateConflict, s.SpotID)
		}
		return err
	}
	if err := tx.SetSpotOccupied(ctx, s.SpotID, true); err != nil {
		return err
	}
	e := Event{Type: EventSessionStarted, At: s.StartedAt, UserID: s.UserID, ParkingCode: s.Code, SpotID: s.SpotID, EstimatedEnd: s.EstimatedEnd}
	if s.ReservationCode != nil {
		e.ReservationCode = *s.ReservationCode
	}
	out.add(e)
	return nil
}

// EnterWalkIn admits a user without a reservation. A spot must be free for
// at least MinSpontaneous; the session estimate is the allocated duration.
func (l *Lifecycle) EnterWalkIn(ctx context.Context, tx repository.Tx, out *Outbox, userID uint64) (Entry, error) {
	now := l.alloc.clock.Now()
	if _, err := userExists(ctx, tx, userID); err != nil {
		return Entry{}, err
	}
	if err := ensureNotParked(ctx, tx, userID); err != nil {
		return Entry{}, err
	}
	free, err := l.alloc.AvailableSpots(ctx, tx, WindowFrom(now, l.policy().MinSpontaneous))
	if err != nil {
		return Entry{}, err
	}
	if free <= 0 {
		return Entry{}, fmt.Errorf("%w: parking is full", ErrNoAvailability)
	}
	alloc, err := l.alloc.AllocateSpontaneous(ctx, tx, now)
	if err != nil {
		return Entry{}, err
	}
	code, err := l.parkingCode(ctx, tx)
	if err != nil {
		return Entry{}, err
	}
	s := model.ParkingSession{
		Code:         code,
		SpotID:       alloc.SpotID,
		UserID:       userID,
		Date:         model.Midnight(now),
		StartedAt:    now,
		EstimatedEnd: now.Add(alloc.Duration),
	}
	if err := l.openSession(ctx, tx, out, s); err != nil {
		return Entry{}, err
	}
	return Entry{
		ParkingCode:  code,
		SpotID:       alloc.SpotID,
		EstimatedEnd: s.EstimatedEnd,
		Duration:     alloc.Duration,
		LongStay:     alloc.LongStay,
	}, nil
}

// EnterWithReservation admits the holder of reservation code. actor may be
// nil for gate terminals; otherwise a subscriber may only use their own
// reservation.
//
// Precision reservations must be in preorder; standard bookings must be
// active and not yet used. A reservation dated after today is rejected
// with ErrInvalidWindow. A precision holder arriving more than GracePeriod
// after the start loses the reservation: it is cancelled and
// ErrGraceExpired is returned. A standard booking from a past day is
// cancelled the same way. When
// ErrGraceExpired is returned the cancellation must be committed.
func (l *Lifecycle) EnterWithReservation(ctx context.Context, tx repository.Tx, out *Outbox, code int64, actor *Actor) (Entry, error) {
	now := l.alloc.clock.Now()
	r, err := tx.ReservationByCode(ctx, code)
	if err != nil {
		return Entry{}, notFound(err, "reservation %d", code)
	}
	if !actor.may(r.UserID) {
		return Entry{}, fmt.Errorf("%w: reservation %d belongs to another user", ErrForbidden, code)
	}
	switch {
	case r.Kind == model.KindPrecision && r.Status != model.StatusPreorder:
		return Entry{}, fmt.Errorf("%w: reservation %d is %s", ErrStateConflict, code, r.Status)
	case r.Kind == model.KindStandard && r.Status != model.StatusActive:
		return Entry{}, fmt.Errorf("%w: reservation %d is %s", ErrStateConflict, code, r.Status)
	case r.Kind == model.KindStandard:
		_, err := tx.OpenSessionByReservation(ctx, code)
		if err == nil {
			return Entry{}, fmt.Errorf("%w: reservation %d is already in use", ErrStateConflict, code)
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return Entry{}, err
		}
	}

	today := model.Midnight(now)
	day := model.Midnight(r.Date)
	if day.After(today) {
		return Entry{}, fmt.Errorf("%w: reservation %d is for %s", ErrInvalidWindow, code, day.Format("2006-01-02"))
	}
	if r.Kind == model.KindPrecision {
		// Lateness runs across midnight: a 23:45 start is still valid at 00:00.
		if late := now.Sub(r.StartAt()); late > l.policy().GracePeriod {
			if err := l.cancel(ctx, tx, out, r, "grace-expired"); err != nil {
				return Entry{}, err
			}
			return Entry{}, fmt.Errorf("%w: arrived %s after start", ErrGraceExpired, late.Truncate(time.Second))
		}
	} else if day.Before(today) {
		if err := l.cancel(ctx, tx, out, r, "grace-expired"); err != nil {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("%w: reservation %d was for %s", ErrGraceExpired, code, day.Format("2006-01-02"))
	}
	if err := ensureNotParked(ctx, tx, r.UserID); err != nil {
		return Entry{}, err
	}

	w := WindowFrom(now, l.policy().StandardDuration)
	spot, err := l.spotFor(ctx, tx, r, w)
	if err != nil {
		return Entry{}, err
	}
	if r.Status == model.StatusPreorder {
		ok, err := tx.UpdateReservationStatus(ctx, code, []model.ReservationStatus{model.StatusPreorder}, model.StatusActive)
		if err != nil {
			return Entry{}, err
		}
		if !ok {
			return Entry{}, fmt.Errorf("%w: reservation %d changed state", ErrStateConflict, code)
		}
	}
	r.Status = model.StatusActive
	r.SpotID = &spot
	out.add(reservationEvent(EventReservationActivated, r, now))

	pcode, err := l.parkingCode(ctx, tx)
	if err != nil {
		return Entry{}, err
	}
	rc := code
	s := model.ParkingSession{
		Code:            pcode,
		SpotID:          spot,
		UserID:          r.UserID,
		Date:            today,
		StartedAt:       now,
		EstimatedEnd:    w.End,
		Ordered:         true,
		ReservationCode: &rc,
	}
	if err := l.openSession(ctx, tx, out, s); err != nil {
		return Entry{}, err
	}
	return Entry{
		ParkingCode:     pcode,
		SpotID:          spot,
		EstimatedEnd:    w.End,
		Duration:        l.policy().StandardDuration,
		ReservationCode: code,
	}, nil
}

// spotFor keeps the reservation's spot when it is still free for w and
// reassigns the lowest free spot otherwise.
func (l *Lifecycle) spotFor(ctx context.Context, tx repository.Tx, r model.Reservation, w Window) (int, error) {
	if r.SpotID != nil {
		free, err := l.alloc.IsSpotFreeForWindow(ctx, tx, *r.SpotID, w, r.Code)
		if err != nil {
			return 0, err
		}
		if free {
			return *r.SpotID, nil
		}
	}
	spot, found, err := l.alloc.FindAvailableSpot(ctx, tx, w, r.Code)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("%w: no spot free for reservation %d", ErrNoAvailability, r.Code)
	}
	if err := tx.AssignReservationSpot(ctx, r.Code, spot); err != nil {
		return 0, err
	}
	return spot, nil
}

// openSessionFor loads the open session with parkingCode and checks that
// actor may act on it.
func openSessionFor(ctx context.Context, tx repository.Tx, parkingCode int, actor *Actor) (model.ParkingSession, error) {
	s, err := tx.OpenSessionByCode(ctx, parkingCode)
	if err != nil {
		return model.ParkingSession{}, notFound(err, "parking code %d", parkingCode)
	}
	if !actor.may(s.UserID) {
		return model.ParkingSession{}, fmt.Errorf("%w: parking code %d belongs to another user", ErrForbidden, parkingCode)
	}
	return s, nil
}

// Exit closes the open session with parkingCode, frees its spot and
// finishes the reservation it came from. actor is nil at the gate.
func (l *Lifecycle) Exit(ctx context.Context, tx repository.Tx, out *Outbox, parkingCode int, actor *Actor) (ExitResult, error) {
	now := l.alloc.clock.Now()
	s, err := openSessionFor(ctx, tx, parkingCode, actor)
	if err != nil {
		return ExitResult{}, err
	}
	late := now.After(s.EstimatedEnd)
	if err := tx.CloseSession(ctx, s.Code, now, late); err != nil {
		return ExitResult{}, err
	}
	if err := tx.SetSpotOccupied(ctx, s.SpotID, false); err != nil {
		return ExitResult{}, err
	}
	out.add(Event{Type: EventSessionEnded, At: now, UserID: s.UserID, ParkingCode: s.Code, SpotID: s.SpotID, Late: late, EstimatedEnd: s.EstimatedEnd})

	res := ExitResult{ParkingCode: s.Code, SpotID: s.SpotID, Late: late, EndedAt: now}
	if s.Ordered && s.ReservationCode != nil {
		ok, err := tx.UpdateReservationStatus(ctx, *s.ReservationCode, []model.ReservationStatus{model.StatusActive}, model.StatusFinished)
		if err != nil {
			return ExitResult{}, err
		}
		if ok {
			res.ReservationFinished = true
			out.add(Event{Type: EventReservationFinished, At: now, UserID: s.UserID, ReservationCode: *s.ReservationCode, SpotID: s.SpotID})
		}
	}
	return res, nil
}

// Cancel cancels a preorder or an unused active reservation.
func (l *Lifecycle) Cancel(ctx context.Context, tx repository.Tx, out *Outbox, code int64, actor *Actor) error {
	r, err := tx.ReservationByCode(ctx, code)
	if err != nil {
		return notFound(err, "reservation %d", code)
	}
	if !actor.may(r.UserID) {
		return fmt.Errorf("%w: reservation %d belongs to another user", ErrForbidden, code)
	}
	if !r.Status.Holding() {
		return fmt.Errorf("%w: reservation %d is %s", ErrStateConflict, code, r.Status)
	}
	_, err = tx.OpenSessionByReservation(ctx, code)
	if err == nil {
		return fmt.Errorf("%w: reservation %d is in use; exit instead", ErrStateConflict, code)
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	return l.cancel(ctx, tx, out, r, "user")
}

// CancelOverdue cancels code only if it is still a preorder. It reports
// whether the reservation was cancelled by this call.
func (l *Lifecycle) CancelOverdue(ctx context.Context, tx repository.Tx, out *Outbox, code int64) (bool, error) {
	r, err := tx.ReservationByCode(ctx, code)
	if err != nil {
		return false, notFound(err, "reservation %d", code)
	}
	if r.Status != model.StatusPreorder {
		return false, nil
	}
	if err := l.cancel(ctx, tx, out, r, "no-show"); err != nil {
		if errors.Is(err, ErrStateConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// cancel moves r from preorder or active to cancelled and releases its
// spot unless an open session still occupies it.
func (l *Lifecycle) cancel(ctx context.Context, tx repository.Tx, out *Outbox, r model.Reservation, reason string) error {
	ok, err := tx.UpdateReservationStatus(ctx, r.Code,
		[]model.ReservationStatus{model.StatusPreorder, model.StatusActive}, model.StatusCancelled)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: reservation %d changed state", ErrStateConflict, r.Code)
	}
	if r.SpotID != nil {
		_, err := tx.OpenSessionBySpot(ctx, *r.SpotID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			if err := tx.SetSpotOccupied(ctx, *r.SpotID, false); err != nil {
				return err
			}
		case err != nil:
			return err
		}
	}
	e := reservationEvent(EventReservationCancelled, r, l.alloc.clock.Now())
	e.Reason = reason
	out.add(e)
	return nil
}
