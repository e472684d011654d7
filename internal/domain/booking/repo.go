package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repositories return ErrNotFound for missing rows and ErrConflict when a
// write would give an instant a second occupying reservation.

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	// List returns the doctors whose name, specialty or address contains
	// every term, ignoring case. No terms lists everyone.
	List(ctx context.Context, terms []string, limit, offset int) ([]*Doctor, int, error)

	// PutInsuranceFee creates or replaces the fee of one insurer.
	PutInsuranceFee(ctx context.Context, fee *InsuranceFee) error
	DeleteInsuranceFee(ctx context.Context, doctorID uuid.UUID, insurance Insurance) error
	ListInsuranceFees(ctx context.Context, doctorID uuid.UUID) ([]*InsuranceFee, error)
}

type WindowRepository interface {
	Create(ctx context.Context, w *AvailabilityWindow) error
	GetByID(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error)
	Update(ctx context.Context, w *AvailabilityWindow) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*AvailabilityWindow, error)
	ListActive(ctx context.Context, doctorID uuid.UUID, weekday Weekday) ([]*AvailabilityWindow, error)
}

type ExceptionRepository interface {
	// Put creates the exception or replaces the one at the same instant.
	Put(ctx context.Context, ex *SlotException) error
	Delete(ctx context.Context, doctorID uuid.UUID, instant time.Time) error
	ListBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*SlotException, error)
}

type ReservationRepository interface {
	Create(ctx context.Context, r *Reservation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Reservation, error)
	HasOccupying(ctx context.Context, doctorID uuid.UUID, instant time.Time) (bool, error)
	ListBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time, statuses ...Status) ([]*Reservation, error)
	// Transition moves id from status from to status to and reports whether
	// the row was still in from.
	Transition(ctx context.Context, id uuid.UUID, from, to Status) (bool, error)
	MarkVerified(ctx context.Context, id uuid.UUID, at time.Time) error
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]*Reservation, error)
	Search(ctx context.Context, doctorID uuid.UUID, query string, limit, offset int) ([]*Reservation, int, error)
}

// UnitOfWork runs fn so that all of its writes commit together or not at all.
type UnitOfWork interface {
	Atomic(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store bundles the repositories of one backing store.
type Store struct {
	Doctors      DoctorRepository
	Windows      WindowRepository
	Exceptions   ExceptionRepository
	Reservations ReservationRepository
	UoW          UnitOfWork
}
