package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQLStore implements Store on top of database/sql and the MySQL driver.
// DATETIME columns are written and read in UTC (see database.Open) and
// converted to loc on the way out; DATE and TIME columns hold facility
// local calendar days and times of day.
type MySQLStore struct {
	db  *sql.DB
	loc *time.Location
}

// NewMySQLStore wraps db. A nil loc means UTC.
func NewMySQLStore(db *sql.DB, loc *time.Location) *MySQLStore {
	if loc == nil {
		loc = time.UTC
	}
	return &MySQLStore{db: db, loc: loc}
}

// InTx begins a transaction, runs fn and commits. Any error from fn, or a
// panic, rolls the transaction back.
func (s *MySQLStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(&mysqlTx{tx: tx, loc: s.loc}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// mysqlTx implements Tx. Its methods are spread over the *_repository.go
// files, one per table.
type mysqlTx struct {
	tx  *sql.Tx
	loc *time.Location
}

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04:05"
)

// isDuplicate reports whether err is a MySQL unique key violation.
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}

// notFound maps sql.ErrNoRows to ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// formatClock renders a time-of-day offset as a TIME literal.
func formatClock(d time.Duration) string {
	d = d % (24 * time.Hour)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	sec := (d % time.Minute) / time.Second
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}

// parseClock parses a TIME column value ("HH:MM:SS") into an offset from
// midnight.
func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse(clockLayout, strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse TIME %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second, nil
}

// localDate reinterprets a DATE value as midnight in the facility location.
func (t *mysqlTx) localDate(d time.Time) time.Time {
	y, m, dd := d.Date()
	return time.Date(y, m, dd, 0, 0, 0, 0, t.loc)
}

// placeholders returns "?,?,?" with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
