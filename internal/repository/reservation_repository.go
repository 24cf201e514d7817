package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/parkb/internal/model"
)

const reservationColumns = `code, user_id, reservation_date, start_time, end_time, placed_at, spot_id, status, kind`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanReservation reads one reservations row selected with
// reservationColumns.
func (t *mysqlTx) scanReservation(row rowScanner) (model.Reservation, error) {
	var (
		r          model.Reservation
		date       time.Time
		start, end string
		placedAt   time.Time
		spotID     sql.NullInt64
		status     string
		kind       string
	)
	if err := row.Scan(&r.Code, &r.UserID, &date, &start, &end, &placedAt, &spotID, &status, &kind); err != nil {
		return model.Reservation{}, err
	}
	var err error
	if r.Start, err = parseClock(start); err != nil {
		return model.Reservation{}, err
	}
	if r.End, err = parseClock(end); err != nil {
		return model.Reservation{}, err
	}
	r.Date = t.localDate(date)
	r.PlacedAt = placedAt.In(t.loc)
	if spotID.Valid {
		id := int(spotID.Int64)
		r.SpotID = &id
	}
	r.Status = model.ReservationStatus(status)
	r.Kind = model.ReservationKind(kind)
	return r, nil
}

func (t *mysqlTx) queryReservations(ctx context.Context, q string, args ...interface{}) ([]model.Reservation, error) {
	rows, err := t.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Reservation
	for rows.Next() {
		r, err := t.scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CreateReservation inserts r. When r.Code is zero the auto-increment value
// is written back to r.Code.
func (t *mysqlTx) CreateReservation(ctx context.Context, r *model.Reservation) error {
	var spot interface{}
	if r.SpotID != nil {
		spot = *r.SpotID
	}
	var code interface{}
	if r.Code != 0 {
		code = r.Code
	}
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO reservations (`+reservationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		code, r.UserID, r.Date.Format(dateLayout), formatClock(r.Start), formatClock(r.End),
		r.PlacedAt.UTC(), spot, string(r.Status), string(r.Kind))
	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	if r.Code == 0 {
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		r.Code = id
	}
	return nil
}

// ReservationByCode locks and returns one reservation.
func (t *mysqlTx) ReservationByCode(ctx context.Context, code int64) (model.Reservation, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE code = ? FOR UPDATE`, code)
	r, err := t.scanReservation(row)
	return r, notFound(err)
}

func (t *mysqlTx) HoldingReservations(ctx context.Context, from, to time.Time) ([]model.Reservation, error) {
	return t.queryReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE status IN ('preorder','active') AND reservation_date BETWEEN ? AND ?
		 ORDER BY code`,
		from.Format(dateLayout), to.Format(dateLayout))
}

// UpdateReservationStatus performs a conditional transition; the WHERE
// clause on the current status makes a concurrent transition lose cleanly.
func (t *mysqlTx) UpdateReservationStatus(ctx context.Context, code int64, from []model.ReservationStatus, to model.ReservationStatus) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	args := make([]interface{}, 0, len(from)+2)
	args = append(args, string(to), code)
	for _, f := range from {
		args = append(args, string(f))
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE reservations SET status = ? WHERE code = ? AND status IN (`+placeholders(len(from))+`)`,
		args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (t *mysqlTx) AssignReservationSpot(ctx context.Context, code int64, spotID int) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE reservations SET spot_id = ? WHERE code = ?`, spotID, code)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := t.ReservationByCode(ctx, code); err != nil {
			return err
		}
	}
	return nil
}

// OverduePreorders selects today's preorders with an assigned spot whose
// start time is at or before cutoff.
func (t *mysqlTx) OverduePreorders(ctx context.Context, day, cutoff time.Time) ([]model.Reservation, error) {
	cutoff = cutoff.In(t.loc)
	day = t.localDate(day)
	if model.Midnight(cutoff).Before(day) {
		return nil, nil
	}
	cutoffClock := formatClock(model.TimeOfDay(cutoff))
	if model.Midnight(cutoff).After(day) {
		// cutoff already lies on the next day: every start time qualifies.
		cutoffClock = "23:59:59"
	}
	return t.queryReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations
		 WHERE status = 'preorder' AND reservation_date = ? AND spot_id IS NOT NULL AND start_time <= ?
		 ORDER BY code`,
		day.Format(dateLayout), cutoffClock)
}

func (t *mysqlTx) ReservationsByUser(ctx context.Context, userID uint64) ([]model.Reservation, error) {
	return t.queryReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE user_id = ? ORDER BY code`, userID)
}
