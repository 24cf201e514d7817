package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/parkb/internal/model"
)

var day = time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC)

func intp(v int) *int { return &v }

func TestMemoryStoreRollsBackFailedTx(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.InTx(ctx, func(tx Tx) error { return tx.EnsureSpots(ctx, 3) }))

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.SetSpotOccupied(ctx, 2, true))
		require.NoError(t, tx.CreateReservation(ctx, &model.Reservation{UserID: 1, Date: day, Status: model.StatusActive}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		sp, err := tx.SpotByID(ctx, 2)
		require.NoError(t, err)
		assert.False(t, sp.Occupied)
		rs, err := tx.ReservationsByUser(ctx, 1)
		require.NoError(t, err)
		assert.Empty(t, rs)
		return nil
	}))
}

func TestMemoryStoreEnsureSpotsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		require.NoError(t, tx.EnsureSpots(ctx, 2))
		require.NoError(t, tx.SetSpotOccupied(ctx, 1, true))
		require.NoError(t, tx.EnsureSpots(ctx, 4))
		spots, err := tx.ListSpots(ctx)
		require.NoError(t, err)
		require.Len(t, spots, 4)
		assert.True(t, spots[0].Occupied)
		assert.Equal(t, 4, spots[3].ID)
		_, err = tx.SpotByID(ctx, 9)
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	}))
}

func TestMemoryStoreConditionalStatusUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		r := &model.Reservation{Code: 552310, UserID: 1, Date: day, Start: 9 * time.Hour, End: 13 * time.Hour, Status: model.StatusPreorder}
		require.NoError(t, tx.CreateReservation(ctx, r))
		assert.ErrorIs(t, tx.CreateReservation(ctx, &model.Reservation{Code: 552310}), ErrDuplicate)

		from := []model.ReservationStatus{model.StatusPreorder}
		ok, err := tx.UpdateReservationStatus(ctx, 552310, from, model.StatusCancelled)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.UpdateReservationStatus(ctx, 552310, from, model.StatusCancelled)
		require.NoError(t, err)
		assert.False(t, ok, "second transition must be a no-op")
		return nil
	}))
}

func TestMemoryStoreOverduePreorders(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		seed := []model.Reservation{
			{Code: 1, Date: day, Start: 9 * time.Hour, End: 13 * time.Hour, SpotID: intp(1), Status: model.StatusPreorder},
			{Code: 2, Date: day, Start: 10 * time.Hour, End: 14 * time.Hour, SpotID: intp(2), Status: model.StatusPreorder},
			{Code: 3, Date: day, Start: 9 * time.Hour, End: 13 * time.Hour, Status: model.StatusPreorder},
			{Code: 4, Date: day, Start: 9 * time.Hour, End: 13 * time.Hour, SpotID: intp(4), Status: model.StatusActive},
			{Code: 5, Date: day.AddDate(0, 0, -1), Start: 9 * time.Hour, End: 13 * time.Hour, SpotID: intp(5), Status: model.StatusPreorder},
		}
		for i := range seed {
			require.NoError(t, tx.CreateReservation(ctx, &seed[i]))
		}
		cutoff := day.Add(9*time.Hour + 45*time.Minute)
		got, err := tx.OverduePreorders(ctx, day, cutoff)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, int64(1), got[0].Code)

		held, err := tx.HoldingReservations(ctx, day.AddDate(0, 0, -1), day)
		require.NoError(t, err)
		assert.Len(t, held, 5)
		return nil
	}))
}

func TestMemoryStoreSessions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := day.Add(8 * time.Hour)
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		sess := &model.ParkingSession{Code: 123456, SpotID: 3, UserID: 7, Date: day, StartedAt: now, EstimatedEnd: now.Add(4 * time.Hour)}
		require.NoError(t, tx.CreateSession(ctx, sess))
		assert.ErrorIs(t, tx.CreateSession(ctx, &model.ParkingSession{Code: 654321, SpotID: 3}), ErrDuplicate)

		got, err := tx.OpenSessionBySpot(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, 123456, got.Code)

		require.NoError(t, tx.ExtendSession(ctx, 123456, now.Add(6*time.Hour)))
		require.NoError(t, tx.CloseSession(ctx, 123456, now.Add(7*time.Hour), true))

		_, err = tx.OpenSessionByCode(ctx, 123456)
		assert.ErrorIs(t, err, ErrNotFound)

		hist, err := tx.SessionsByUser(ctx, 7, 10)
		require.NoError(t, err)
		require.Len(t, hist, 1)
		assert.True(t, hist[0].Late)
		assert.True(t, hist[0].Extended)
		assert.Equal(t, now.Add(6*time.Hour), hist[0].EstimatedEnd)

		// The code becomes reusable once the session is closed.
		return tx.CreateSession(ctx, &model.ParkingSession{Code: 123456, SpotID: 3, UserID: 8})
	}))
}

func TestMemoryStoreUsersAndTokens(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now().UTC()
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		u := &model.User{Username: "sub-1", Role: model.RoleSubscriber}
		require.NoError(t, tx.CreateUser(ctx, u))
		assert.NotZero(t, u.ID)
		assert.ErrorIs(t, tx.CreateUser(ctx, &model.User{Username: "sub-1"}), ErrDuplicate)

		got, err := tx.UserByUsername(ctx, "sub-1")
		require.NoError(t, err)
		assert.Equal(t, u.ID, got.ID)

		require.NoError(t, tx.StoreRefresh(ctx, u.ID, "h1", now.Add(time.Hour)))
		uid, err := tx.ValidateRefresh(ctx, "h1", now)
		require.NoError(t, err)
		assert.Equal(t, u.ID, uid)

		_, err = tx.ValidateRefresh(ctx, "h1", now.Add(2*time.Hour))
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, tx.RevokeAllForUser(ctx, u.ID))
		_, err = tx.ValidateRefresh(ctx, "h1", now)
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	}))
}

func TestMemoryStoreUpdateContact(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		u := &model.User{Username: "alice", Role: model.RoleSubscriber}
		require.NoError(t, tx.CreateUser(ctx, u))
		require.NoError(t, tx.UpdateContact(ctx, u.ID, " 050-1 ", " A@ParkB.io "))
		got, err := tx.UserByID(ctx, u.ID)
		require.NoError(t, err)
		assert.Equal(t, "050-1", got.Phone)
		assert.Equal(t, "a@parkb.io", got.Email)

		assert.ErrorIs(t, tx.UpdateContact(ctx, 99, "1", "x@y.z"), ErrNotFound)
		return nil
	}))
}
