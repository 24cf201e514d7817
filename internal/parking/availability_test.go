package parking_test

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/parkb/internal/model"
	"github.com/iliyamo/parkb/internal/parking"
	"github.com/iliyamo/parkb/internal/repository"
)

func TestOvernightReservationConflicts(t *testing.T) {
	f := newFixture(t, 5)
	u := f.subscriber("night-owl")
	f.seed(precision(1, u, today, hm(22, 0), 1))

	avail := parking.NewAvailability(f.clock, f.policy)
	alloc := parking.NewAllocator(avail)

	tests := []struct {
		name     string
		window   parking.Window
		conflict bool
	}{
		{"inside same night", parking.Window{Start: today.Add(hm(23, 0)), End: today.Add(hm(25, 0))}, true},
		{"starts after midnight", parking.Window{Start: today.Add(hm(24, 30)), End: today.Add(hm(27, 0))}, true},
		{"evening before start", parking.Window{Start: today.Add(hm(18, 0)), End: today.Add(hm(21, 0))}, false},
		{"touching the end", parking.Window{Start: today.Add(hm(26, 0)), End: today.Add(hm(30, 0))}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.tx(func(tx repository.Tx) {
				free, err := avail.IsSpotFreeForWindow(f.ctx, tx, 1, tt.window)
				require.NoError(t, err)
				assert.Equal(t, !tt.conflict, free)

				n, err := avail.AvailableSpots(f.ctx, tx, tt.window)
				require.NoError(t, err)
				if tt.conflict {
					assert.Equal(t, 4, n)
				} else {
					assert.Equal(t, 5, n)
				}

				spot, ok, err := alloc.FindAvailableSpot(f.ctx, tx, tt.window)
				require.NoError(t, err)
				require.True(t, ok)
				if tt.conflict {
					assert.Equal(t, 2, spot)
				} else {
					assert.Equal(t, 1, spot)
				}
			})
		})
	}
}

func TestReservationStartingWithinGraceBlocksSpot(t *testing.T) {
	f := newFixture(t, 3)
	u := f.subscriber("soon")
	f.seed(precision(1, u, today, hm(8, 10), 2))

	avail := parking.NewAvailability(f.clock, f.policy)
	f.tx(func(tx repository.Tx) {
		// The window ends before the reservation starts but the start falls
		// inside the grace period after the window start.
		w := parking.WindowFrom(base, 5*time.Minute)
		n, err := avail.AvailableSpots(f.ctx, tx, w)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		free, err := avail.IsSpotFreeForWindow(f.ctx, tx, 2, w)
		require.NoError(t, err)
		assert.False(t, free)
	})
}

func TestTerminalReservationsDoNotBlock(t *testing.T) {
	f := newFixture(t, 2)
	u := f.subscriber("gone")
	r := precision(1, u, today, hm(9, 0), 1)
	r.Status = model.StatusCancelled
	f.seed(r)
	r = precision(2, u, today, hm(9, 0), 2)
	r.Status = model.StatusFinished
	f.seed(r)

	avail := parking.NewAvailability(f.clock, f.policy)
	f.tx(func(tx repository.Tx) {
		n, err := avail.AvailableSpots(f.ctx, tx, parking.WindowFrom(base, 4*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}

func TestOccupiedAndReservedSpotIsCountedOnce(t *testing.T) {
	f := newFixture(t, 4)
	u := f.subscriber("holder")
	f.seed(precision(1, u, today, hm(7, 55), 1))
	f.at(hm(8, 0))
	_, err := f.svc.EnterWithReservation(f.ctx, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, f.occupiedCount())
	assert.Equal(t, 3, f.available())
}

func TestCanAdmitReservationThreshold(t *testing.T) {
	tests := []struct {
		occupied int
		want     bool
	}{
		{0, true},
		{60, true},
		{61, false},
		{100, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d occupied", tt.occupied), func(t *testing.T) {
			f := newFixture(t, 100)
			f.occupyFirst(tt.occupied)
			avail := parking.NewAvailability(f.clock, f.policy)
			f.tx(func(tx repository.Tx) {
				ok, err := avail.CanAdmitReservation(f.ctx, tx)
				require.NoError(t, err)
				assert.Equal(t, tt.want, ok)
			})
		})
	}
}

func TestAdmissionThreshold(t *testing.T) {
	p := parking.DefaultPolicy()
	assert.Equal(t, 40, p.AdmissionThreshold(100))
	assert.Equal(t, 4, p.AdmissionThreshold(10))
	assert.Equal(t, 3, p.AdmissionThreshold(7))
	assert.Equal(t, 1, p.AdmissionThreshold(1))
	assert.Equal(t, 0, p.AdmissionThreshold(0))
}

// Random walk over entries, exits and bookings; occupancy plus
// availability must never exceed the pool.
func TestOccupiedPlusAvailableNeverExceedsPool(t *testing.T) {
	const spots = 8
	f := newFixture(t, spots)
	rng := rand.New(rand.NewSource(42))
	users := make([]uint64, 12)
	for i := range users {
		users[i] = f.subscriber(fmt.Sprintf("u%d", i))
	}
	var codes []int
	for step := 0; step < 200; step++ {
		switch rng.Intn(4) {
		case 0, 1:
			if e, err := f.svc.EnterWalkIn(f.ctx, users[rng.Intn(len(users))]); err == nil {
				codes = append(codes, e.ParkingCode)
			}
		case 2:
			if len(codes) > 0 {
				i := rng.Intn(len(codes))
				_, err := f.svc.Exit(f.ctx, codes[i])
				require.NoError(t, err)
				codes = append(codes[:i], codes[i+1:]...)
			}
		case 3:
			at := model.Midnight(f.clock.Now()).Add(48*time.Hour + time.Duration(rng.Intn(96))*15*time.Minute)
			_, _ = f.svc.PreBook(f.ctx, users[rng.Intn(len(users))], at)
		}
		f.clock.Advance(time.Duration(rng.Intn(30)) * time.Minute)
		require.LessOrEqual(t, f.occupiedCount()+f.available(), spots, "step %d", step)
	}
}
