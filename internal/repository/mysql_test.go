package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/parkb/internal/model"
)

// facility is three hours ahead of UTC, so UTC and local calendar days
// differ in the early morning.
var facility = time.FixedZone("facility", 3*60*60)

var reservationCols = []string{"code", "user_id", "reservation_date", "start_time", "end_time", "placed_at", "spot_id", "status", "kind"}

func newMockStore(t *testing.T) (*MySQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewMySQLStore(db, facility), mock
}

const overdueQuery = `WHERE status = 'preorder' AND reservation_date = \? AND spot_id IS NOT NULL AND start_time <= \?`

func TestMySQLOverduePreordersSameDay(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	d := time.Date(2025, 5, 10, 0, 0, 0, 0, facility)
	// 04:45 UTC is 07:45 at the facility.
	cutoff := time.Date(2025, 5, 10, 4, 45, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(overdueQuery).
		WithArgs("2025-05-10", "07:45:00").
		WillReturnRows(sqlmock.NewRows(reservationCols).
			AddRow(int64(11), uint64(4), time.Date(2025, 5, 10, 0, 0, 0, 0, time.UTC), "07:30:00", "11:30:00",
				time.Date(2025, 5, 8, 9, 0, 0, 0, time.UTC), int64(3), "preorder", "precision"))
	mock.ExpectCommit()

	var got []model.Reservation
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		var err error
		got, err = tx.OverduePreorders(ctx, d, cutoff)
		return err
	}))
	require.Len(t, got, 1)
	r := got[0]
	assert.Equal(t, int64(11), r.Code)
	assert.Equal(t, facility, r.Date.Location())
	assert.True(t, r.Date.Equal(d), "date %v", r.Date)
	assert.Equal(t, 7*time.Hour+30*time.Minute, r.Start)
	assert.True(t, r.StartAt().Equal(time.Date(2025, 5, 10, 7, 30, 0, 0, facility)))
	require.NotNil(t, r.SpotID)
	assert.Equal(t, 3, *r.SpotID)
	assert.Equal(t, model.StatusPreorder, r.Status)
	assert.Equal(t, model.KindPrecision, r.Kind)
}

func TestMySQLOverduePreordersCutoffOnNextDay(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	yesterday := time.Date(2025, 5, 9, 0, 0, 0, 0, facility)
	cutoff := time.Date(2025, 5, 10, 0, 5, 0, 0, facility)

	mock.ExpectBegin()
	mock.ExpectQuery(overdueQuery).
		WithArgs("2025-05-09", "23:59:59").
		WillReturnRows(sqlmock.NewRows(reservationCols))
	mock.ExpectCommit()

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		got, err := tx.OverduePreorders(ctx, yesterday, cutoff)
		assert.Empty(t, got)
		return err
	}))
}

func TestMySQLOverduePreordersFutureDaySkipsQuery(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectCommit()

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		got, err := tx.OverduePreorders(ctx,
			time.Date(2025, 5, 11, 0, 0, 0, 0, facility),
			time.Date(2025, 5, 10, 23, 0, 0, 0, facility))
		assert.Nil(t, got)
		return err
	}))
}

func TestMySQLUpdateReservationStatusIsConditional(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	update := regexp.QuoteMeta(`UPDATE reservations SET status = ? WHERE code = ? AND status IN (?,?)`)

	mock.ExpectBegin()
	mock.ExpectExec(update).
		WithArgs("cancelled", int64(7), "preorder", "active").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(update).
		WithArgs("cancelled", int64(7), "preorder", "active").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	from := []model.ReservationStatus{model.StatusPreorder, model.StatusActive}
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		ok, err := tx.UpdateReservationStatus(ctx, 7, from, model.StatusCancelled)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.UpdateReservationStatus(ctx, 7, from, model.StatusCancelled)
		require.NoError(t, err)
		assert.False(t, ok, "second transition must lose")

		ok, err = tx.UpdateReservationStatus(ctx, 7, nil, model.StatusCancelled)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))
}

func TestMySQLCreateSessionMapsDuplicateKey(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantDup bool
	}{
		{"open code taken", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry '412345' for key 'uq_sessions_open_code'"}, true},
		{"open spot taken", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry '3' for key 'uq_sessions_open_spot'"}, true},
		{"foreign key", &mysql.MySQLError{Number: 1452, Message: "Cannot add or update a child row"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			ctx := context.Background()

			mock.ExpectBegin()
			mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO parking_sessions (` + sessionColumns + `)`)).
				WillReturnError(tt.err)
			mock.ExpectRollback()

			err := s.InTx(ctx, func(tx Tx) error {
				return tx.CreateSession(ctx, &model.ParkingSession{
					Code:         412345,
					SpotID:       3,
					UserID:       4,
					Date:         time.Date(2025, 5, 10, 0, 0, 0, 0, facility),
					StartedAt:    time.Date(2025, 5, 10, 8, 0, 0, 0, facility),
					EstimatedEnd: time.Date(2025, 5, 10, 12, 0, 0, 0, facility),
				})
			})
			require.Error(t, err)
			assert.Equal(t, tt.wantDup, errors.Is(err, ErrDuplicate), "err=%v", err)
		})
	}
}

func TestMySQLUpdateContact(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	update := regexp.QuoteMeta(`UPDATE users SET phone = ?, email = ? WHERE id = ?`)
	byID := regexp.QuoteMeta(`FROM users WHERE id = ? LIMIT 1`)
	userCols := []string{"id", "username", "name", "email", "phone", "car_number", "password_hash", "role", "created_at"}

	mock.ExpectBegin()
	// Unchanged values: zero rows affected, but the user exists.
	mock.ExpectExec(update).WithArgs("050-1", "a@parkb.io", uint64(1)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(byID).WithArgs(uint64(1)).WillReturnRows(sqlmock.NewRows(userCols).
		AddRow(uint64(1), "alice", "Alice", "a@parkb.io", "050-1", "", "hash", "sub", time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)))
	mock.ExpectExec(update).WithArgs("050-1", "a@parkb.io", uint64(9)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(byID).WithArgs(uint64(9)).WillReturnRows(sqlmock.NewRows(userCols))
	mock.ExpectCommit()

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		assert.NoError(t, tx.UpdateContact(ctx, 1, " 050-1 ", "A@ParkB.io"))
		assert.ErrorIs(t, tx.UpdateContact(ctx, 9, "050-1", "a@parkb.io"), ErrNotFound)
		return nil
	}))
}
