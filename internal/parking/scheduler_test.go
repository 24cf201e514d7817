package parking_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/parkb/internal/model"
	"github.com/iliyamo/parkb/internal/parking"
	"github.com/iliyamo/parkb/internal/repository"
)

func TestRunOnceCancelsOverduePreorders(t *testing.T) {
	f := newFixture(t, 3)
	u := f.subscriber("late")
	f.seed(precision(1, u, today, hm(7, 30), 1))
	f.seed(precision(2, u, today, hm(7, 50), 2))
	f.seed(precision(3, u, today.AddDate(0, 0, 1), hm(7, 0), 3))

	sched := parking.NewScheduler(f.svc, f.clock, quietLogger())
	n, err := sched.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.StatusCancelled, f.reservation(1).Status)
	assert.Equal(t, model.StatusPreorder, f.reservation(2).Status)
	assert.Equal(t, model.StatusPreorder, f.reservation(3).Status)

	ev, ok := f.rec.last(parking.EventReservationCancelled)
	require.True(t, ok)
	assert.Equal(t, "no-show", ev.Reason)
	assert.Equal(t, int64(1), ev.ReservationCode)

	// A second sweep at the same instant changes nothing.
	n, err = sched.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, f.rec.count(parking.EventReservationCancelled))
}

func TestRunOnceCutoffIsInclusive(t *testing.T) {
	f := newFixture(t, 2)
	u := f.subscriber("late")
	f.seed(precision(1, u, today, hm(7, 45), 1))
	f.seed(precision(2, u, today, hm(7, 46), 2))

	sched := parking.NewScheduler(f.svc, f.clock, quietLogger())
	n, err := sched.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.StatusCancelled, f.reservation(1).Status)
	assert.Equal(t, model.StatusPreorder, f.reservation(2).Status)
}

func TestRunOnceSweepsPreviousDayAfterMidnight(t *testing.T) {
	f := newFixture(t, 3)
	u := f.subscriber("late")
	yesterday := today.AddDate(0, 0, -1)
	f.seed(precision(1, u, yesterday, hm(23, 50), 1))
	f.seed(precision(2, u, yesterday, hm(23, 55), 2))
	sched := parking.NewScheduler(f.svc, f.clock, quietLogger())

	f.at(hm(0, 5))
	n, err := sched.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.StatusCancelled, f.reservation(1).Status)
	assert.Equal(t, model.StatusPreorder, f.reservation(2).Status)

	f.at(hm(0, 10))
	n, err = sched.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.StatusCancelled, f.reservation(2).Status)
}

func TestRunOnceSkipsActiveReservations(t *testing.T) {
	f := newFixture(t, 2)
	u := f.subscriber("on-time")
	f.seed(precision(1, u, today, hm(7, 50), 1))
	_, err := f.svc.EnterWithReservation(f.ctx, 1)
	require.NoError(t, err)

	f.at(hm(9, 0))
	n, err := parking.NewScheduler(f.svc, f.clock, quietLogger()).RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, model.StatusActive, f.reservation(1).Status)
	assert.True(t, f.spot(1).Occupied)
}

func TestSchedulerLoopRunsOnClock(t *testing.T) {
	f := newFixture(t, 2)
	u := f.subscriber("late")
	f.seed(precision(1, u, today, hm(7, 30), 1))

	sched := parking.NewScheduler(f.svc, f.clock, quietLogger())
	sched.Start(context.Background())
	sched.Start(context.Background())

	require.Eventually(t, func() bool { return f.clock.Pending() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, model.StatusPreorder, f.reservation(1).Status, "no run before the interval elapses")

	f.clock.Advance(f.policy.SweepInterval)
	require.Eventually(t, func() bool {
		return f.reservation(1).Status == model.StatusCancelled
	}, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sched.Stop(ctx))
	require.NoError(t, sched.Stop(ctx))
}

// gateStore blocks the first transaction after arm until release is closed.
type gateStore struct {
	repository.Store
	armed   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (s *gateStore) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	if s.armed.CompareAndSwap(true, false) {
		s.entered <- struct{}{}
		<-s.release
	}
	return s.Store.InTx(ctx, fn)
}

func TestSchedulerRestartWaitsForPreviousLoop(t *testing.T) {
	gs := &gateStore{
		Store:   repository.NewMemoryStore(),
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	f := newFixtureWithStore(t, 2, gs)
	sched := parking.NewScheduler(f.svc, f.clock, quietLogger())
	sched.Start(context.Background())
	require.Eventually(t, func() bool { return f.clock.Pending() == 1 }, time.Second, time.Millisecond)

	gs.armed.Store(true)
	f.clock.Advance(f.policy.SweepInterval)
	select {
	case <-gs.entered:
	case <-time.After(time.Second):
		t.Fatal("sweep did not start")
	}

	expired, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sched.Stop(expired), context.Canceled)

	sched.Start(context.Background())
	assert.Never(t, func() bool { return f.clock.Pending() > 0 }, 50*time.Millisecond, 5*time.Millisecond,
		"new loop must not start while the old sweep runs")

	close(gs.release)
	require.Eventually(t, func() bool { return f.clock.Pending() == 1 }, time.Second, time.Millisecond)
	assert.Never(t, func() bool { return f.clock.Pending() > 1 }, 50*time.Millisecond, 5*time.Millisecond)

	ctx, stop := context.WithTimeout(context.Background(), time.Second)
	defer stop()
	require.NoError(t, sched.Stop(ctx))
}

func TestSchedulerStopWithoutStart(t *testing.T) {
	f := newFixture(t, 1)
	sched := parking.NewScheduler(f.svc, f.clock, nil)
	assert.NoError(t, sched.Stop(context.Background()))
}

// flakyStore fails status updates for one reservation code.
type flakyStore struct {
	repository.Store
	failCode int64
}

func (s flakyStore) InTx(ctx context.Context, fn func(tx repository.Tx) error) error {
	return s.Store.InTx(ctx, func(tx repository.Tx) error {
		return fn(flakyTx{Tx: tx, failCode: s.failCode})
	})
}

type flakyTx struct {
	repository.Tx
	failCode int64
}

func (t flakyTx) UpdateReservationStatus(ctx context.Context, code int64, from []model.ReservationStatus, to model.ReservationStatus) (bool, error) {
	if code == t.failCode {
		return false, errors.New("lock wait timeout")
	}
	return t.Tx.UpdateReservationStatus(ctx, code, from, to)
}

func TestRunOnceContinuesAfterFailure(t *testing.T) {
	f := newFixtureWithStore(t, 2, flakyStore{Store: repository.NewMemoryStore(), failCode: 1})
	u := f.subscriber("late")
	f.seed(precision(1, u, today, hm(7, 0), 1))
	f.seed(precision(2, u, today, hm(7, 15), 2))

	n, err := parking.NewScheduler(f.svc, f.clock, quietLogger()).RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.StatusPreorder, f.reservation(1).Status)
	assert.Equal(t, model.StatusCancelled, f.reservation(2).Status)
	assert.Contains(t, f.rec.failures, parking.KindInternal)
}
