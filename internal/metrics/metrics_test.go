package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/parkb/internal/clock"
	"github.com/iliyamo/parkb/internal/model"
	"github.com/iliyamo/parkb/internal/parking"
	"github.com/iliyamo/parkb/internal/repository"
)

func TestRecorderCountsEvents(t *testing.T) {
	r := New(prometheus.NewRegistry(), nil)

	r.Committed(parking.Event{Type: parking.EventReservationCreated})
	r.Committed(parking.Event{Type: parking.EventReservationCancelled, Reason: "no-show"})
	r.Committed(parking.Event{Type: parking.EventReservationCancelled, Reason: "user"})
	r.Committed(parking.Event{Type: parking.EventSessionStarted})
	r.Committed(parking.Event{Type: parking.EventSessionStarted, ReservationCode: 4})
	r.Committed(parking.Event{Type: parking.EventSessionEnded, Late: true})
	r.Committed(parking.Event{Type: parking.EventSessionExtended})
	r.Failed("prebook", parking.KindCapacityRuleViolation)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.reservations.WithLabelValues("created")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.reservations.WithLabelValues("cancelled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.autoCancels))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.entries.WithLabelValues("walk_in")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.entries.WithLabelValues("reservation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.exits.WithLabelValues("late")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.exits.WithLabelValues("on_time")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.extensions))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.failures.WithLabelValues("prebook", "CapacityRuleViolation")))
}

func TestRecorderAsServiceObserver(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	quiet := log.New("test")
	quiet.SetOutput(io.Discard)

	reg := prometheus.NewRegistry()
	var svc *parking.Service
	r := New(reg, func() float64 {
		n, err := svc.CheckAvailability(context.Background())
		if err != nil {
			return 0
		}
		return float64(n)
	})
	p := parking.DefaultPolicy()
	p.TotalSpots = 4
	svc = parking.NewService(store, clock.NewManual(time.Date(2025, 5, 10, 8, 0, 0, 0, time.UTC)),
		parking.WithPolicy(p), parking.WithLogger(quiet), parking.WithObserver(r))
	require.NoError(t, svc.Init(ctx))

	u := &model.User{Username: "m", Role: model.RoleSubscriber}
	require.NoError(t, store.InTx(ctx, func(tx repository.Tx) error { return tx.CreateUser(ctx, u) }))
	_, err := svc.EnterWalkIn(ctx, u.ID)
	require.NoError(t, err)
	_, err = svc.Exit(ctx, 999)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.entries.WithLabelValues("walk_in")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.failures.WithLabelValues("exit", "NotFound")))

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "parkb_available_spots 3")
	assert.Contains(t, rec.Body.String(), `parkb_sessions_entries_total{mode="walk_in"} 1`)
}
