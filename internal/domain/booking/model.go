package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Doctor owns every window, exception and reservation in this package.
type Doctor struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Specialty   *string         `db:"specialty" json:"specialty,omitempty"`
	Address     *string         `db:"address" json:"address,omitempty"`
	Timezone    string          `db:"timezone" json:"timezone,omitempty"`
	VisitFee    decimal.Decimal `db:"visit_fee" json:"visit_fee"`
	BookingDays int             `db:"booking_days" json:"booking_days"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

type Shift string

const (
	ShiftMorning   Shift = "morning"
	ShiftAfternoon Shift = "afternoon"
)

func (s Shift) Valid() bool { return s == ShiftMorning || s == ShiftAfternoon }

// AvailabilityWindow is a recurring weekly span split into SlotCount equal
// slots. At most one active window exists per (doctor, weekday, shift).
type AvailabilityWindow struct {
	ID        uuid.UUID `db:"id" json:"id"`
	DoctorID  uuid.UUID `db:"doctor_id" json:"doctor_id"`
	Weekday   Weekday   `db:"weekday" json:"weekday"`
	Shift     Shift     `db:"shift" json:"shift"`
	Start     Clock     `db:"start_time" json:"start_time"`
	End       Clock     `db:"end_time" json:"end_time"`
	SlotCount int       `db:"slot_count" json:"slot_count"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Interval is the spacing between consecutive slots, truncated to the
// microsecond. A window with one slot (or none) spans its whole duration.
func (w *AvailabilityWindow) Interval() time.Duration {
	d := time.Duration(w.End - w.Start)
	if w.SlotCount > 1 {
		d /= time.Duration(w.SlotCount)
	}
	return d.Truncate(time.Microsecond)
}

// Validate rejects windows that cannot produce a well-formed grid.
func (w *AvailabilityWindow) Validate() error {
	if !w.Weekday.Valid() {
		return fmt.Errorf("%w: weekday %d out of range", ErrInvalidWindow, int(w.Weekday))
	}
	if !w.Shift.Valid() {
		return fmt.Errorf("%w: unknown shift %q", ErrInvalidWindow, w.Shift)
	}
	if w.Start < 0 || w.End > Clock(24*time.Hour) {
		return fmt.Errorf("%w: times must fall within one day", ErrInvalidWindow)
	}
	if w.Start >= w.End {
		return fmt.Errorf("%w: start %s must be before end %s", ErrInvalidWindow, w.Start, w.End)
	}
	if w.SlotCount < 0 {
		return fmt.Errorf("%w: slot count %d is negative", ErrInvalidWindow, w.SlotCount)
	}
	if w.SlotCount > 0 && w.Interval() <= 0 {
		return fmt.Errorf("%w: %d slots leave no time per slot", ErrInvalidWindow, w.SlotCount)
	}
	return nil
}

// SlotException overrides the grid at one instant: a cancellation blocks a
// generated slot, an addition injects an extra one.
type SlotException struct {
	ID           uuid.UUID `db:"id" json:"id"`
	DoctorID     uuid.UUID `db:"doctor_id" json:"doctor_id"`
	Instant      time.Time `db:"slot_at" json:"instant"`
	Cancellation bool      `db:"is_cancellation" json:"cancellation"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusBooked         Status = "booked"
	StatusCompleted      Status = "completed"
	StatusCanceled       Status = "canceled"
)

// OccupyingStatuses hold a slot; a canceled reservation frees it.
var OccupyingStatuses = []Status{StatusPendingPayment, StatusBooked, StatusCompleted}

func (s Status) Occupying() bool {
	return s == StatusPendingPayment || s == StatusBooked || s == StatusCompleted
}

type Insurance string

const (
	InsuranceTamin    Insurance = "tamin"
	InsuranceSalamat  Insurance = "salamat"
	InsuranceKhadamat Insurance = "khadamat"
	InsuranceArtesh   Insurance = "artesh"
	InsuranceAzad     Insurance = "azad"
)

func (i Insurance) Valid() bool {
	switch i {
	case InsuranceTamin, InsuranceSalamat, InsuranceKhadamat, InsuranceArtesh, InsuranceAzad:
		return true
	}
	return false
}

// InsuranceFee overrides a doctor's visit fee for patients of one insurer.
type InsuranceFee struct {
	DoctorID  uuid.UUID       `db:"doctor_id" json:"doctor_id"`
	Insurance Insurance       `db:"insurance" json:"insurance"`
	Fee       decimal.Decimal `db:"fee" json:"fee"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// PatientInfo is the contact data captured with a reservation.
type PatientInfo struct {
	Name               string    `db:"patient_name" json:"patient_name" validate:"required,max=100"`
	Phone              string    `db:"patient_phone" json:"patient_phone" validate:"required,numeric,min=10,max=15"`
	NationalID         string    `db:"patient_national_id" json:"patient_national_id,omitempty" validate:"omitempty,numeric,len=10"`
	Insurance          Insurance `db:"insurance" json:"insurance,omitempty" validate:"omitempty,oneof=tamin salamat khadamat artesh azad"`
	ProblemDescription string    `db:"problem_description" json:"problem_description,omitempty" validate:"max=2000"`
}

func (p *PatientInfo) normalize() error {
	p.Name = strings.TrimSpace(p.Name)
	p.Phone = strings.TrimSpace(p.Phone)
	if p.Name == "" || p.Phone == "" {
		return fmt.Errorf("%w: patient name and phone are required", ErrInvalidInput)
	}
	if p.Insurance == "" {
		p.Insurance = InsuranceAzad
	}
	return nil
}

// Reservation ties a patient to one slot instant of one doctor.
type Reservation struct {
	ID       uuid.UUID `db:"id" json:"id"`
	DoctorID uuid.UUID `db:"doctor_id" json:"doctor_id"`
	Instant  time.Time `db:"slot_at" json:"instant"`
	Status   Status    `db:"status" json:"status"`
	PatientInfo
	// Amount is the visit fee for the patient's insurance when the slot was
	// reserved; the payment collaborator charges it before calling confirm.
	Amount     decimal.Decimal `db:"amount" json:"amount"`
	VerifiedAt *time.Time      `db:"verified_at" json:"verified_at,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBooked    SlotStatus = "booked"
	SlotCanceled  SlotStatus = "canceled"
)

// Slot is one classified instant of a day view.
type Slot struct {
	Instant time.Time  `json:"instant"`
	Status  SlotStatus `json:"status"`
	Shift   Shift      `json:"shift,omitempty"`
	Added   bool       `json:"added,omitempty"`
}

// DaySummary is one row of a doctor's upcoming calendar.
type DaySummary struct {
	Date             string  `json:"date"`
	Weekday          Weekday `json:"weekday"`
	WeekdayName      string  `json:"weekday_name"`
	Capacity         int     `json:"capacity"`
	Occupied         int     `json:"occupied"`
	BookedPercentage int     `json:"booked_percentage"`
	Bookable         bool    `json:"bookable"`
}
