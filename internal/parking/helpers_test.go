package parking_test

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/parkb/internal/clock"
	"github.com/iliyamo/parkb/internal/model"
	"github.com/iliyamo/parkb/internal/parking"
	"github.com/iliyamo/parkb/internal/repository"
)

// base is 08:00 on the test day.
var base = time.Date(2025, 5, 10, 8, 0, 0, 0, time.UTC)

var today = model.Midnight(base)

type recorder struct {
	mu       sync.Mutex
	events   []parking.Event
	failures []parking.Kind
	failPub  bool
}

func (r *recorder) Publish(_ context.Context, e parking.Event) error {
	if r.failPub {
		return errors.New("broker down")
	}
	return nil
}

func (r *recorder) Committed(e parking.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Failed(_ string, k parking.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, k)
}

func (r *recorder) count(t parking.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) last(t parking.EventType) (parking.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Type == t {
			return r.events[i], true
		}
	}
	return parking.Event{}, false
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  repository.Store
	clock  *clock.Manual
	policy parking.Policy
	svc    *parking.Service
	rec    *recorder
}

func quietLogger() *log.Logger {
	l := log.New("test")
	l.SetOutput(io.Discard)
	return l
}

func newFixture(t *testing.T, spots int) *fixture {
	return newFixtureWithStore(t, spots, repository.NewMemoryStore())
}

func newFixtureWithStore(t *testing.T, spots int, store repository.Store) *fixture {
	t.Helper()
	p := parking.DefaultPolicy()
	p.TotalSpots = spots
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  store,
		clock:  clock.NewManual(base),
		policy: p,
		rec:    &recorder{},
	}
	f.svc = parking.NewService(store, f.clock,
		parking.WithPolicy(p),
		parking.WithRand(rand.New(rand.NewSource(1))),
		parking.WithLogger(quietLogger()),
		parking.WithPublisher(f.rec),
		parking.WithObserver(f.rec),
	)
	require.NoError(t, f.svc.Init(f.ctx))
	return f
}

func (f *fixture) tx(fn func(tx repository.Tx)) {
	f.t.Helper()
	require.NoError(f.t, f.store.InTx(f.ctx, func(tx repository.Tx) error {
		fn(tx)
		return nil
	}))
}

func (f *fixture) user(name string, role model.Role) uint64 {
	f.t.Helper()
	u := &model.User{Username: name, Name: name, Role: role}
	f.tx(func(tx repository.Tx) { require.NoError(f.t, tx.CreateUser(f.ctx, u)) })
	return u.ID
}

func (f *fixture) subscriber(name string) uint64 { return f.user(name, model.RoleSubscriber) }

func (f *fixture) occupy(ids ...int) {
	f.t.Helper()
	f.tx(func(tx repository.Tx) {
		for _, id := range ids {
			require.NoError(f.t, tx.SetSpotOccupied(f.ctx, id, true))
		}
	})
}

func (f *fixture) occupyFirst(n int) {
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i + 1
	}
	f.occupy(ids...)
}

// seed inserts a reservation directly.
func (f *fixture) seed(r model.Reservation) model.Reservation {
	f.t.Helper()
	if r.Kind == "" {
		r.Kind = model.KindPrecision
	}
	if r.Status == "" {
		r.Status = model.StatusPreorder
	}
	if r.PlacedAt.IsZero() {
		r.PlacedAt = base.Add(-48 * time.Hour)
	}
	f.tx(func(tx repository.Tx) { require.NoError(f.t, tx.CreateReservation(f.ctx, &r)) })
	return r
}

// precision returns a four-hour precision preorder on spot for day at start.
func precision(code int64, user uint64, day time.Time, start time.Duration, spot int) model.Reservation {
	return model.Reservation{
		Code:   code,
		UserID: user,
		Date:   day,
		Start:  start,
		End:    (start + 4*time.Hour) % (24 * time.Hour),
		SpotID: &spot,
	}
}

func (f *fixture) reservation(code int64) model.Reservation {
	f.t.Helper()
	r, err := f.svc.Reservation(f.ctx, code)
	require.NoError(f.t, err)
	return r
}

func (f *fixture) spot(id int) model.Spot {
	f.t.Helper()
	var sp model.Spot
	f.tx(func(tx repository.Tx) {
		var err error
		sp, err = tx.SpotByID(f.ctx, id)
		require.NoError(f.t, err)
	})
	return sp
}

func (f *fixture) available() int {
	f.t.Helper()
	n, err := f.svc.CheckAvailability(f.ctx)
	require.NoError(f.t, err)
	return n
}

func (f *fixture) occupiedCount() int {
	f.t.Helper()
	n := 0
	f.tx(func(tx repository.Tx) {
		spots, err := tx.ListSpots(f.ctx)
		require.NoError(f.t, err)
		for _, sp := range spots {
			if sp.Occupied {
				n++
			}
		}
	})
	return n
}

// at moves the manual clock to today at the given time of day.
func (f *fixture) at(d time.Duration) {
	f.clock.Set(today.Add(d))
}

func hm(h, m int) time.Duration { return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute }
