package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/parkb/internal/model"
)

const sessionColumns = `code, spot_id, user_id, entry_date, started_at, estimated_end, ended_at, is_ordered, reservation_code, is_late, is_extended`

func (t *mysqlTx) scanSession(row rowScanner) (model.ParkingSession, error) {
	var (
		s       model.ParkingSession
		date    time.Time
		endedAt sql.NullTime
		resCode sql.NullInt64
	)
	err := row.Scan(&s.Code, &s.SpotID, &s.UserID, &date, &s.StartedAt, &s.EstimatedEnd,
		&endedAt, &s.Ordered, &resCode, &s.Late, &s.Extended)
	if err != nil {
		return model.ParkingSession{}, err
	}
	s.Date = t.localDate(date)
	s.StartedAt = s.StartedAt.In(t.loc)
	s.EstimatedEnd = s.EstimatedEnd.In(t.loc)
	if endedAt.Valid {
		e := endedAt.Time.In(t.loc)
		s.EndedAt = &e
	}
	if resCode.Valid {
		c := resCode.Int64
		s.ReservationCode = &c
	}
	return s, nil
}

func (t *mysqlTx) querySessions(ctx context.Context, q string, args ...interface{}) ([]model.ParkingSession, error) {
	rows, err := t.tx.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ParkingSession
	for rows.Next() {
		s, err := t.scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *mysqlTx) openSessionWhere(ctx context.Context, cond string, arg interface{}) (model.ParkingSession, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM parking_sessions WHERE ended_at IS NULL AND `+cond+` LIMIT 1 FOR UPDATE`, arg)
	s, err := t.scanSession(row)
	return s, notFound(err)
}

// CreateSession inserts s. The open_code and open_spot unique columns
// reject a second open session with the same code or spot.
func (t *mysqlTx) CreateSession(ctx context.Context, s *model.ParkingSession) error {
	var resCode interface{}
	if s.ReservationCode != nil {
		resCode = *s.ReservationCode
	}
	var endedAt interface{}
	if s.EndedAt != nil {
		endedAt = s.EndedAt.UTC()
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO parking_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Code, s.SpotID, s.UserID, s.Date.Format(dateLayout), s.StartedAt.UTC(), s.EstimatedEnd.UTC(),
		endedAt, s.Ordered, resCode, s.Late, s.Extended)
	if isDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

func (t *mysqlTx) OpenSessionByCode(ctx context.Context, code int) (model.ParkingSession, error) {
	return t.openSessionWhere(ctx, "code = ?", code)
}

func (t *mysqlTx) OpenSessionBySpot(ctx context.Context, spotID int) (model.ParkingSession, error) {
	return t.openSessionWhere(ctx, "spot_id = ?", spotID)
}

func (t *mysqlTx) OpenSessionByReservation(ctx context.Context, reservationCode int64) (model.ParkingSession, error) {
	return t.openSessionWhere(ctx, "reservation_code = ?", reservationCode)
}

func (t *mysqlTx) OpenSessionByUser(ctx context.Context, userID uint64) (model.ParkingSession, error) {
	return t.openSessionWhere(ctx, "user_id = ?", userID)
}

func (t *mysqlTx) CloseSession(ctx context.Context, code int, endedAt time.Time, late bool) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE parking_sessions SET ended_at = ?, is_late = ? WHERE code = ? AND ended_at IS NULL`,
		endedAt.UTC(), late, code)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *mysqlTx) ExtendSession(ctx context.Context, code int, estimatedEnd time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE parking_sessions SET estimated_end = ?, is_extended = TRUE WHERE code = ? AND ended_at IS NULL`,
		estimatedEnd.UTC(), code)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *mysqlTx) ListOpenSessions(ctx context.Context) ([]model.ParkingSession, error) {
	return t.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM parking_sessions WHERE ended_at IS NULL ORDER BY spot_id`)
}

// SessionsByUser returns the user's sessions, newest first. A limit of
// zero or less means no limit.
func (t *mysqlTx) SessionsByUser(ctx context.Context, userID uint64, limit int) ([]model.ParkingSession, error) {
	if limit <= 0 {
		return t.querySessions(ctx,
			`SELECT `+sessionColumns+` FROM parking_sessions WHERE user_id = ? ORDER BY started_at DESC, id DESC`,
			userID)
	}
	return t.querySessions(ctx,
		`SELECT `+sessionColumns+` FROM parking_sessions WHERE user_id = ? ORDER BY started_at DESC, id DESC LIMIT ?`,
		userID, limit)
}
