package errs

import (
	"fmt"
	"strings"
	"time"

	cr "github.com/cockroachdb/errors"
)

// Error kinds surfaced to the API boundary. Concrete errors are marked with
// one of these so callers can branch with errors.Is regardless of wrapping.
var (
	ErrConflict           = cr.New("conflict")
	ErrNotFound           = cr.New("not found")
	ErrForbidden          = cr.New("forbidden")
	ErrUnavailable        = cr.New("unavailable")
	ErrInvariantViolation = cr.New("invariant violation")
	ErrValidation         = cr.New("validation failed")
)

type Kind string

const (
	KindConflict           Kind = "conflict"
	KindNotFound           Kind = "not_found"
	KindForbidden          Kind = "forbidden"
	KindUnavailable        Kind = "unavailable"
	KindInvariantViolation Kind = "invariant_violation"
	KindValidation         Kind = "validation"
	KindInternal           Kind = "internal"
)

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return cr.Wrap(err, msg)
}

func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return cr.Wrapf(err, format, args...)
}

func New(msg string) error {
	return cr.New(msg)
}

func Newf(format string, args ...interface{}) error {
	return cr.Newf(format, args...)
}

func Mark(err error, markErr error) error {
	if err == nil {
		return markErr
	}
	return cr.Mark(err, markErr)
}

func Is(err, reference error) bool {
	return cr.Is(err, reference)
}

func As(err error, target interface{}) bool {
	return cr.As(err, target)
}

// Convenience constructors, one per kind.

func NotFound(format string, args ...interface{}) error {
	return cr.Mark(cr.Newf(format, args...), ErrNotFound)
}

func Forbidden(format string, args ...interface{}) error {
	return cr.Mark(cr.Newf(format, args...), ErrForbidden)
}

func Unavailable(err error, msg string) error {
	if err == nil {
		err = cr.New(msg)
	} else {
		err = cr.Wrap(err, msg)
	}
	return cr.Mark(err, ErrUnavailable)
}

func InvariantViolation(format string, args ...interface{}) error {
	return cr.Mark(cr.Newf(format, args...), ErrInvariantViolation)
}

func Validation(format string, args ...interface{}) error {
	return cr.Mark(cr.Newf(format, args...), ErrValidation)
}

func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case cr.Is(err, ErrConflict):
		return KindConflict
	case cr.Is(err, ErrNotFound):
		return KindNotFound
	case cr.Is(err, ErrForbidden):
		return KindForbidden
	case cr.Is(err, ErrUnavailable):
		return KindUnavailable
	case cr.Is(err, ErrInvariantViolation):
		return KindInvariantViolation
	case cr.Is(err, ErrValidation):
		return KindValidation
	default:
		return KindInternal
	}
}

// SeatConflict is the observed state of a seat that could not be acquired or verified.
type SeatConflict struct {
	SeatID        string     `json:"seat_id"`
	Code          string     `json:"code,omitempty"`
	State         string     `json:"state"`
	HoldOwner     string     `json:"hold_owner,omitempty"`
	HoldExpiresAt *time.Time `json:"hold_expires_at,omitempty"`
}

// ConflictError reports every seat that failed, so a client can refresh exactly those.
type ConflictError struct {
	Reason string
	Seats  []SeatConflict
}

func (e *ConflictError) Error() string {
	if len(e.Seats) == 0 {
		return e.Reason
	}
	ids := make([]string, 0, len(e.Seats))
	for _, s := range e.Seats {
		ids = append(ids, fmt.Sprintf("%s(%s)", s.SeatID, s.State))
	}
	return fmt.Sprintf("%s: %s", e.Reason, strings.Join(ids, ", "))
}

// Conflict builds a ConflictError marked with ErrConflict.
func Conflict(reason string, seats ...SeatConflict) error {
	return cr.Mark(&ConflictError{Reason: reason, Seats: seats}, ErrConflict)
}

// ConflictSeats extracts the seat details of a conflict, if any.
func ConflictSeats(err error) []SeatConflict {
	var ce *ConflictError
	if cr.As(err, &ce) {
		return ce.Seats
	}
	return nil
}

func ExtractStackLines(err error, maxLines int) []string {
	if err == nil {
		return nil
	}
	s := fmt.Sprintf("%+v", err)
	lines := strings.Split(s, "\n")
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	return lines
}
