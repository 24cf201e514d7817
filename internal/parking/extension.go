package parking

import (
	"context"
	"fmt"
	"time"

	"github.com/iliyamo/parkb/internal/model"
	"github.com/iliyamo/parkb/internal/repository"
)

// Extension is the result of a granted extension.
type Extension struct {
	ParkingCode  int           `json:"parking_code"`
	SpotID       int           `json:"spot_id"`
	EstimatedEnd time.Time     `json:"estimated_end"`
	Granted      time.Duration `json:"-"`
}

// HoursGranted returns Granted in whole hours.
func (e Extension) HoursGranted() int { return int(e.Granted / time.Hour) }

// Extender moves the estimated end of open sessions.
type Extender struct {
	avail *Availability
}

// NewExtender returns an extension manager using a.
func NewExtender(a *Availability) *Extender { return &Extender{avail: a} }

// RequestExtension grants the longest of ExtensionSteps for which the
// session's spot has no conflicting reservation. It is only allowed during
// the last ExtensionWindow before the estimated end. A non-nil actor must
// own the session or be staff.
func (x *Extender) RequestExtension(ctx context.Context, tx repository.Tx, out *Outbox, parkingCode int, actor *Actor) (Extension, error) {
	now := x.avail.clock.Now()
	s, err := openSessionFor(ctx, tx, parkingCode, actor)
	if err != nil {
		return Extension{}, err
	}
	if !now.Before(s.EstimatedEnd) {
		return Extension{}, fmt.Errorf("%w: estimated end %s has passed", ErrStateConflict, s.EstimatedEnd.Format("15:04"))
	}
	if now.Before(s.EstimatedEnd.Add(-x.avail.policy.ExtensionWindow)) {
		return Extension{}, fmt.Errorf("%w: extensions open %s before the estimated end", ErrInvalidWindow, x.avail.policy.ExtensionWindow)
	}
	var ignore []int64
	if s.ReservationCode != nil {
		ignore = append(ignore, *s.ReservationCode)
	}
	for _, d := range x.avail.policy.ExtensionSteps {
		free, err := x.avail.IsSpotFreeForWindow(ctx, tx, s.SpotID, WindowFrom(s.EstimatedEnd, d), ignore...)
		if err != nil {
			return Extension{}, err
		}
		if free {
			return x.apply(ctx, tx, out, s, d)
		}
	}
	return Extension{}, fmt.Errorf("%w: spot %d is reserved after %s", ErrNoAvailability, s.SpotID, s.EstimatedEnd.Format("15:04"))
}

// ExtendByFixedAmount adds hours to the estimated end without checking
// reservations. hours must be between 1 and MaxFixedExtension.
func (x *Extender) ExtendByFixedAmount(ctx context.Context, tx repository.Tx, out *Outbox, parkingCode, hours int) (Extension, error) {
	if hours < 1 || hours > x.avail.policy.MaxFixedExtension {
		return Extension{}, fmt.Errorf("%w: extension must be 1 to %d hours", ErrInvalidWindow, x.avail.policy.MaxFixedExtension)
	}
	s, err := tx.OpenSessionByCode(ctx, parkingCode)
	if err != nil {
		return Extension{}, notFound(err, "parking code %d", parkingCode)
	}
	return x.apply(ctx, tx, out, s, time.Duration(hours)*time.Hour)
}

func (x *Extender) apply(ctx context.Context, tx repository.Tx, out *Outbox, s model.ParkingSession, d time.Duration) (Extension, error) {
	end := s.EstimatedEnd.Add(d)
	if err := tx.ExtendSession(ctx, s.Code, end); err != nil {
		return Extension{}, err
	}
	out.add(Event{
		Type:         EventSessionExtended,
		At:           x.avail.clock.Now(),
		UserID:       s.UserID,
		ParkingCode:  s.Code,
		SpotID:       s.SpotID,
		EstimatedEnd: end,
	})
	return Extension{ParkingCode: s.Code, SpotID: s.SpotID, EstimatedEnd: end, Granted: d}, nil
}
