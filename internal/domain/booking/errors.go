package booking

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict means an occupying reservation already holds the instant.
	// The caller should re-read the day view and pick again.
	ErrConflict = errors.New("slot already taken")

	// ErrSlotUnavailable means the instant is not an available slot of the
	// doctor's grid: it was never generated, is blocked, or has elapsed.
	ErrSlotUnavailable = errors.New("slot is not available")

	ErrPastAppointment   = errors.New("appointment time has already passed")
	ErrInvalidWindow     = errors.New("invalid availability window")
	ErrDuplicateWindow   = errors.New("an active window already exists for this weekday and shift")
	ErrSlotExists        = errors.New("slot already exists on this day")
	ErrAddedSlot         = errors.New("added slots cannot be blocked, remove them instead")
	ErrInvalidTransition = errors.New("reservation status does not allow this change")
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")

	ErrCodeMismatch    = errors.New("verification code does not match")
	ErrCodeExpired     = errors.New("verification code expired, request a new one")
	ErrTooManyAttempts = errors.New("too many wrong verification codes, reservation released")
)

// SystemError reports that the store could not complete an operation. The
// store's error is kept for logging and errors.Is/As.
type SystemError struct {
	Op  string
	Err error
}

func (e *SystemError) Error() string {
	return fmt.Sprintf("%s: store failure: %v", e.Op, e.Err)
}

func (e *SystemError) Unwrap() error { return e.Err }

var domainErrors = []error{
	ErrConflict, ErrSlotUnavailable, ErrPastAppointment, ErrInvalidWindow,
	ErrDuplicateWindow, ErrSlotExists, ErrAddedSlot, ErrInvalidTransition, ErrInvalidInput,
	ErrNotFound, ErrCodeMismatch, ErrCodeExpired, ErrTooManyAttempts,
}

func isDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// systemFailure passes domain errors through and wraps everything else.
func systemFailure(op string, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	var se *SystemError
	if errors.As(err, &se) {
		return err
	}
	return &SystemError{Op: op, Err: err}
}
