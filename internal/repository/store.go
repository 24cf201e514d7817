package repository

import (
	"context"
	"time"

	"github.com/iliyamo/parkb/internal/model"
)

// Store is the durable source of truth for spots, reservations, sessions
// and users. Every unit of work runs inside InTx: when fn returns an error
// nothing it wrote is kept.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of operations available inside a transaction.
type Tx interface {
	SpotTx
	ReservationTx
	SessionTx
	UserTx
	TokenTx
}

// SpotTx reads and writes the fixed pool of spots.
type SpotTx interface {
	// EnsureSpots creates spots 1..n that do not exist yet.
	EnsureSpots(ctx context.Context, n int) error
	// ListSpots returns every spot ordered by id.
	ListSpots(ctx context.Context) ([]model.Spot, error)
	SpotByID(ctx context.Context, id int) (model.Spot, error)
	SetSpotOccupied(ctx context.Context, id int, occupied bool) error
}

// ReservationTx reads and writes the reservation ledger.
type ReservationTx interface {
	// CreateReservation inserts r and fills in r.Code when it is zero.
	CreateReservation(ctx context.Context, r *model.Reservation) error
	ReservationByCode(ctx context.Context, code int64) (model.Reservation, error)
	// HoldingReservations returns preorder and active reservations whose
	// date lies in [from, to] (both calendar days, inclusive).
	HoldingReservations(ctx context.Context, from, to time.Time) ([]model.Reservation, error)
	// UpdateReservationStatus moves the reservation to `to` only when its
	// current status is one of `from`. It reports whether a row changed.
	UpdateReservationStatus(ctx context.Context, code int64, from []model.ReservationStatus, to model.ReservationStatus) (bool, error)
	AssignReservationSpot(ctx context.Context, code int64, spotID int) error
	// OverduePreorders returns preorder reservations dated `day` with an
	// assigned spot whose start is at or before cutoff.
	OverduePreorders(ctx context.Context, day, cutoff time.Time) ([]model.Reservation, error)
	ReservationsByUser(ctx context.Context, userID uint64) ([]model.Reservation, error)
}

// SessionTx reads and writes parking sessions.
type SessionTx interface {
	// CreateSession inserts s. It fails with ErrDuplicate when an open
	// session already uses s.Code or s.SpotID.
	CreateSession(ctx context.Context, s *model.ParkingSession) error
	OpenSessionByCode(ctx context.Context, code int) (model.ParkingSession, error)
	OpenSessionBySpot(ctx context.Context, spotID int) (model.ParkingSession, error)
	OpenSessionByReservation(ctx context.Context, reservationCode int64) (model.ParkingSession, error)
	OpenSessionByUser(ctx context.Context, userID uint64) (model.ParkingSession, error)
	CloseSession(ctx context.Context, code int, endedAt time.Time, late bool) error
	ExtendSession(ctx context.Context, code int, estimatedEnd time.Time) error
	ListOpenSessions(ctx context.Context) ([]model.ParkingSession, error)
	SessionsByUser(ctx context.Context, userID uint64, limit int) ([]model.ParkingSession, error)
}

// UserTx reads and writes subscribers and staff.
type UserTx interface {
	// CreateUser inserts u and fills in u.ID. It fails with ErrDuplicate
	// when the username is taken.
	CreateUser(ctx context.Context, u *model.User) error
	UserByID(ctx context.Context, id uint64) (model.User, error)
	UserByUsername(ctx context.Context, username string) (model.User, error)
	// UpdateContact replaces the phone and email of user id.
	UpdateContact(ctx context.Context, id uint64, phone, email string) error
}

// TokenTx persists refresh token hashes.
type TokenTx interface {
	StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error
	// ValidateRefresh returns the owner of a non-revoked token that has not
	// expired at now. Unknown, revoked and expired tokens yield ErrNotFound.
	ValidateRefresh(ctx context.Context, tokenHash string, now time.Time) (uint64, error)
	RevokeByHash(ctx context.Context, tokenHash string) error
	RevokeAllForUser(ctx context.Context, userID uint64) error
}
