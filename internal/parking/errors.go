package parking

import (
	"errors"

	"github.com/iliyamo/parkb/internal/repository"
)

// Failure sentinels. Operations wrap them with fmt.Errorf("%w: ...") so that
// callers can match with errors.Is and still read a specific message.
var (
	ErrNotFound       = errors.New("not found")
	ErrCapacityRule   = errors.New("capacity rule not met")
	ErrNoAvailability = errors.New("no spot available")
	ErrInvalidWindow  = errors.New("invalid window")
	ErrStateConflict  = errors.New("state conflict")
	ErrGraceExpired   = errors.New("grace period expired")
	ErrForbidden      = errors.New("forbidden")
)

// Kind is the reportable failure category of an error.
type Kind string

const (
	KindNone                  Kind = ""
	KindNotFound              Kind = "NotFound"
	KindCapacityRuleViolation Kind = "CapacityRuleViolation"
	KindNoAvailability        Kind = "NoAvailability"
	KindInvalidWindow         Kind = "InvalidWindow"
	KindStateConflict         Kind = "StateConflict"
	KindGraceExpired          Kind = "GraceExpired"
	KindForbidden             Kind = "Forbidden"
	KindInternal              Kind = "Internal"
)

// KindOf classifies err. Errors that carry no parking sentinel, such as
// storage failures, are KindInternal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrNotFound), errors.Is(err, repository.ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrCapacityRule):
		return KindCapacityRuleViolation
	case errors.Is(err, ErrNoAvailability):
		return KindNoAvailability
	case errors.Is(err, ErrInvalidWindow):
		return KindInvalidWindow
	case errors.Is(err, ErrStateConflict):
		return KindStateConflict
	case errors.Is(err, ErrGraceExpired):
		return KindGraceExpired
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	}
	return KindInternal
}
