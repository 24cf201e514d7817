// Package parking implements spot allocation for a single parking
// facility: availability over time windows, the reservation admission rule,
// grid-based slot search, the reservation and session lifecycle, automatic
// cancellation of no-shows and session extensions.
//
// Service is the command interface. Every command runs under one mutex and
// inside one store transaction, so a free check and the allocation that
// depends on it can never interleave with another command.
package parking

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/labstack/gommon/log"

	"github.com/iliyamo/parkb/internal/clock"
	"github.com/iliyamo/parkb/internal/model"
	"github.com/iliyamo/parkb/internal/repository"
)

// Service is the parking command interface.
type Service struct {
	mu     sync.Mutex
	store  repository.Store
	clock  clock.Clock
	policy Policy
	log    *log.Logger
	rng    *rand.Rand

	avail *Availability
	alloc *Allocator
	life  *Lifecycle
	ext   *Extender

	publishers []Publisher
	observers  []Observer
}

// Option configures a Service.
type Option func(*Service)

// WithPolicy replaces DefaultPolicy.
func WithPolicy(p Policy) Option { return func(s *Service) { s.policy = p } }

// WithLogger sets the logger. The default logs with prefix "parking".
func WithLogger(l *log.Logger) Option { return func(s *Service) { s.log = l } }

// WithPublisher adds a publisher for committed events.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publishers = append(s.publishers, p) }
}

// WithObserver adds an observer for events and failures.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observers = append(s.observers, o) }
}

// WithRand sets the source of parking codes.
func WithRand(r *rand.Rand) Option { return func(s *Service) { s.rng = r } }

// NewService wires the allocation components over store and c.
func NewService(store repository.Store, c clock.Clock, opts ...Option) *Service {
	s := &Service{store: store, clock: c, policy: DefaultPolicy()}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = log.New("parking")
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	s.avail = NewAvailability(c, s.policy)
	s.alloc = NewAllocator(s.avail)
	s.life = NewLifecycle(s.alloc, s.rng)
	s.ext = NewExtender(s.avail)
	return s
}

// Policy returns the active policy.
func (s *Service) Policy() Policy { return s.policy }

// Location is the facility time zone used to interpret dates.
func (s *Service) Location() *time.Location { return s.clock.Now().Location() }

// exec runs fn in a transaction under the service mutex. Events collected
// in the outbox are delivered after commit. ErrGraceExpired is an outcome
// that still commits (the reservation is cancelled) and is returned after
// delivery.
func (s *Service) exec(ctx context.Context, op string, fn func(tx repository.Tx, out *Outbox) error) error {
	var (
		out      Outbox
		deferred error
	)
	err := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.store.InTx(ctx, func(tx repository.Tx) error {
			out = Outbox{}
			deferred = nil
			err := fn(tx, &out)
			if errors.Is(err, ErrGraceExpired) {
				deferred = err
				return nil
			}
			return err
		})
	}()

	if err == nil {
		s.deliver(ctx, out.Events())
		err = deferred
	}
	if err != nil {
		s.failed(op, err)
	}
	return err
}

func (s *Service) deliver(ctx context.Context, events []Event) {
	for _, e := range events {
		for _, o := range s.observers {
			o.Committed(e)
		}
		for _, p := range s.publishers {
			if err := p.Publish(ctx, e); err != nil {
				s.log.Warnf("publish %s: %v", e.Type, err)
			}
		}
	}
}

func (s *Service) failed(op string, err error) {
	kind := KindOf(err)
	if kind == KindInternal {
		s.log.Errorf("%s: %v", op, err)
	} else {
		s.log.Debugf("%s: %s: %v", op, kind, err)
	}
	for _, o := range s.observers {
		o.Failed(op, kind)
	}
}

// Init creates the spot pool if it does not exist yet.
func (s *Service) Init(ctx context.Context) error {
	err := s.exec(ctx, "init", func(tx repository.Tx, _ *Outbox) error {
		return tx.EnsureSpots(ctx, s.policy.TotalSpots)
	})
	if err == nil {
		s.log.Infof("spot pool ready: %d spots", s.policy.TotalSpots)
	}
	return err
}

// CheckAvailability returns the number of spots free for the next
// StandardDuration.
func (s *Service) CheckAvailability(ctx context.Context) (int, error) {
	var n int
	err := s.exec(ctx, "check_availability", func(tx repository.Tx, _ *Outbox) error {
		var err error
		n, err = s.avail.AvailableSpots(ctx, tx, WindowFrom(s.clock.Now(), s.policy.StandardDuration))
		return err
	})
	return n, err
}

// Reserve books for userID. A bare date creates a standard booking; a date
// and time creates a precision booking.
func (s *Service) Reserve(ctx context.Context, userID uint64, when string) (model.Reservation, error) {
	t, dateOnly, err := ParseWhen(when, s.Location())
	if err != nil {
		s.failed("reserve", err)
		return model.Reservation{}, err
	}
	if dateOnly {
		return s.BookDay(ctx, userID, t)
	}
	return s.PreBook(ctx, userID, t)
}

// PreBook creates a precision reservation starting at `at`.
func (s *Service) PreBook(ctx context.Context, userID uint64, at time.Time) (model.Reservation, error) {
	var r model.Reservation
	err := s.exec(ctx, "prebook", func(tx repository.Tx, out *Outbox) error {
		var err error
		r, err = s.alloc.MakePreBooking(ctx, tx, out, userID, at)
		return err
	})
	return r, err
}

// BookDay creates a standard whole-day reservation.
func (s *Service) BookDay(ctx context.Context, userID uint64, date time.Time) (model.Reservation, error) {
	var r model.Reservation
	err := s.exec(ctx, "book_day", func(tx repository.Tx, out *Outbox) error {
		var err error
		r, err = s.alloc.MakeStandardBooking(ctx, tx, out, userID, date)
		return err
	})
	return r, err
}

// EnterWalkIn admits userID without a reservation.
func (s *Service) EnterWalkIn(ctx context.Context, userID uint64) (Entry, error) {
	var e Entry
	err := s.exec(ctx, "enter_walk_in", func(tx repository.Tx, out *Outbox) error {
		var err error
		e, err = s.life.EnterWalkIn(ctx, tx, out, userID)
		return err
	})
	return e, err
}

// EnterWithReservation admits the holder of reservation code at the gate.
func (s *Service) EnterWithReservation(ctx context.Context, code int64) (Entry, error) {
	var e Entry
	err := s.exec(ctx, "enter_with_reservation", func(tx repository.Tx, out *Outbox) error {
		var err error
		e, err = s.life.EnterWithReservation(ctx, tx, out, code, nil)
		return err
	})
	return e, err
}

// Activate is EnterWithReservation on behalf of actor. Subscribers may
// only activate their own reservations.
func (s *Service) Activate(ctx context.Context, actor Actor, code int64) (Entry, error) {
	var e Entry
	err := s.exec(ctx, "activate", func(tx repository.Tx, out *Outbox) error {
		var err error
		e, err = s.life.EnterWithReservation(ctx, tx, out, code, &actor)
		return err
	})
	return e, err
}

// Exit closes the session with parkingCode at the gate.
func (s *Service) Exit(ctx context.Context, parkingCode int) (ExitResult, error) {
	return s.exit(ctx, parkingCode, nil)
}

// ExitAs closes the session on behalf of actor. Subscribers may only close
// their own session.
func (s *Service) ExitAs(ctx context.Context, actor Actor, parkingCode int) (ExitResult, error) {
	return s.exit(ctx, parkingCode, &actor)
}

func (s *Service) exit(ctx context.Context, parkingCode int, actor *Actor) (ExitResult, error) {
	var r ExitResult
	err := s.exec(ctx, "exit", func(tx repository.Tx, out *Outbox) error {
		var err error
		r, err = s.life.Exit(ctx, tx, out, parkingCode, actor)
		return err
	})
	return r, err
}

// Extend adds a fixed number of hours to a session without checking
// reservations.
func (s *Service) Extend(ctx context.Context, parkingCode, hours int) (Extension, error) {
	var x Extension
	err := s.exec(ctx, "extend", func(tx repository.Tx, out *Outbox) error {
		var err error
		x, err = s.ext.ExtendByFixedAmount(ctx, tx, out, parkingCode, hours)
		return err
	})
	return x, err
}

// RequestExtension grants the longest feasible extension during the final
// hour of a session.
func (s *Service) RequestExtension(ctx context.Context, parkingCode int) (Extension, error) {
	return s.requestExtension(ctx, parkingCode, nil)
}

// RequestExtensionAs is RequestExtension on behalf of actor.
func (s *Service) RequestExtensionAs(ctx context.Context, actor Actor, parkingCode int) (Extension, error) {
	return s.requestExtension(ctx, parkingCode, &actor)
}

func (s *Service) requestExtension(ctx context.Context, parkingCode int, actor *Actor) (Extension, error) {
	var x Extension
	err := s.exec(ctx, "request_extension", func(tx repository.Tx, out *Outbox) error {
		var err error
		x, err = s.ext.RequestExtension(ctx, tx, out, parkingCode, actor)
		return err
	})
	return x, err
}

// Cancel cancels reservation code on behalf of actor.
func (s *Service) Cancel(ctx context.Context, actor Actor, code int64) error {
	return s.exec(ctx, "cancel", func(tx repository.Tx, out *Outbox) error {
		return s.life.Cancel(ctx, tx, out, code, &actor)
	})
}

// GetTimeSlots lists booking grid slots around preferred on date.
func (s *Service) GetTimeSlots(ctx context.Context, date time.Time, preferred time.Duration) ([]TimeSlot, error) {
	var slots []TimeSlot
	err := s.exec(ctx, "time_slots", func(tx repository.Tx, _ *Outbox) error {
		var err error
		slots, err = s.alloc.GenerateTimeSlots(ctx, tx, date.In(s.Location()), preferred)
		return err
	})
	return slots, err
}

// OverdueReservations lists preorders whose grace period has run out. It
// covers yesterday as well as today, so a late evening booking is still
// swept after midnight.
func (s *Service) OverdueReservations(ctx context.Context) ([]model.Reservation, error) {
	var rs []model.Reservation
	err := s.exec(ctx, "overdue", func(tx repository.Tx, _ *Outbox) error {
		now := s.clock.Now()
		cutoff := now.Add(-s.policy.GracePeriod)
		today := model.Midnight(now)
		rs = nil
		for _, day := range []time.Time{today.AddDate(0, 0, -1), today} {
			found, err := tx.OverduePreorders(ctx, day, cutoff)
			if err != nil {
				return err
			}
			rs = append(rs, found...)
		}
		return nil
	})
	return rs, err
}

// CancelOverdue cancels code if it is still a preorder.
func (s *Service) CancelOverdue(ctx context.Context, code int64) (bool, error) {
	var cancelled bool
	err := s.exec(ctx, "cancel_overdue", func(tx repository.Tx, out *Outbox) error {
		var err error
		cancelled, err = s.life.CancelOverdue(ctx, tx, out, code)
		return err
	})
	return cancelled, err
}

// Status summarizes the facility.
type Status struct {
	Total            int       `json:"total"`
	Occupied         int       `json:"occupied"`
	Available        int       `json:"available"`
	PercentAvailable float64   `json:"percent_available"`
	AdmissionOpen    bool      `json:"admission_open"`
	At               time.Time `json:"at"`
}

// Status returns occupancy and the availability for the next
// StandardDuration.
func (s *Service) Status(ctx context.Context) (Status, error) {
	var st Status
	err := s.exec(ctx, "status", func(tx repository.Tx, _ *Outbox) error {
		spots, err := tx.ListSpots(ctx)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		st = Status{Total: len(spots), At: now}
		for _, sp := range spots {
			if sp.Occupied {
				st.Occupied++
			}
		}
		if st.Available, err = s.avail.AvailableSpots(ctx, tx, WindowFrom(now, s.policy.StandardDuration)); err != nil {
			return err
		}
		if st.Total > 0 {
			st.PercentAvailable = float64(st.Available) * 100 / float64(st.Total)
		}
		st.AdmissionOpen = st.Available >= s.policy.AdmissionThreshold(st.Total)
		return nil
	})
	return st, err
}

// History returns the user's sessions, newest first.
func (s *Service) History(ctx context.Context, userID uint64, limit int) ([]model.ParkingSession, error) {
	var out []model.ParkingSession
	err := s.exec(ctx, "history", func(tx repository.Tx, _ *Outbox) error {
		var err error
		out, err = tx.SessionsByUser(ctx, userID, limit)
		return err
	})
	return out, err
}

// Reservations returns every reservation of userID.
func (s *Service) Reservations(ctx context.Context, userID uint64) ([]model.Reservation, error) {
	var out []model.Reservation
	err := s.exec(ctx, "reservations", func(tx repository.Tx, _ *Outbox) error {
		var err error
		out, err = tx.ReservationsByUser(ctx, userID)
		return err
	})
	return out, err
}

// Reservation returns one reservation.
func (s *Service) Reservation(ctx context.Context, code int64) (model.Reservation, error) {
	var r model.Reservation
	err := s.exec(ctx, "reservation", func(tx repository.Tx, _ *Outbox) error {
		var err error
		r, err = tx.ReservationByCode(ctx, code)
		return notFound(err, "reservation %d", code)
	})
	return r, err
}

// ActiveSessions lists open sessions ordered by spot.
func (s *Service) ActiveSessions(ctx context.Context) ([]model.ParkingSession, error) {
	var out []model.ParkingSession
	err := s.exec(ctx, "active_sessions", func(tx repository.Tx, _ *Outbox) error {
		var err error
		out, err = tx.ListOpenSessions(ctx)
		return err
	})
	return out, err
}

// LostCode returns the parking code of the user's open session.
func (s *Service) LostCode(ctx context.Context, userID uint64) (model.ParkingSession, error) {
	var sess model.ParkingSession
	err := s.exec(ctx, "lost_code", func(tx repository.Tx, _ *Outbox) error {
		var err error
		sess, err = tx.OpenSessionByUser(ctx, userID)
		return notFound(err, "no open session for user %d", userID)
	})
	return sess, err
}
