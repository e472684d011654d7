package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/nobat/nobat/internal/platform/notification"
	"github.com/nobat/nobat/internal/platform/otp"
)

const (
	// addedSlotGap separates an appended slot from the last one of the day.
	addedSlotGap = 10 * time.Minute
	// transitionAttempts bounds how often a status change is re-read after
	// losing a race, so repeated releases settle instead of conflicting.
	transitionAttempts = 3
	maxUpcomingDays    = 366
)

var firstAddedSlot = NewClock(9, 0)

type Options struct {
	DefaultLocation    *time.Location
	DefaultBookingDays int
	PendingTTL         time.Duration
}

type Service struct {
	store    *Store
	codes    *otp.Manager
	notifier *notification.Notifier
	opts     Options
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(store *Store, codes *otp.Manager, notifier *notification.Notifier, opts Options, logger zerolog.Logger) *Service {
	if opts.DefaultLocation == nil {
		opts.DefaultLocation = time.UTC
	}
	if opts.DefaultBookingDays <= 0 {
		opts.DefaultBookingDays = 45
	}
	if opts.PendingTTL <= 0 {
		opts.PendingTTL = 15 * time.Minute
	}
	return &Service{
		store:    store,
		codes:    codes,
		notifier: notifier,
		opts:     opts,
		logger:   logger.With().Str("component", "booking").Logger(),
		now:      time.Now,
	}
}

func (s *Service) location(d *Doctor) *time.Location {
	if d.Timezone == "" {
		return s.opts.DefaultLocation
	}
	loc, err := time.LoadLocation(d.Timezone)
	if err != nil {
		s.logger.Warn().Err(err).Str("doctor_id", d.ID.String()).Msg("unknown doctor timezone, using clinic default")
		return s.opts.DefaultLocation
	}
	return loc
}

func (s *Service) bookingDays(d *Doctor) int {
	if d.BookingDays > 0 {
		return d.BookingDays
	}
	return s.opts.DefaultBookingDays
}

// -- Doctors --

func (s *Service) CreateDoctor(ctx context.Context, d *Doctor) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Address != nil {
		addr := strings.TrimSpace(*d.Address)
		d.Address = &addr
	}
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if d.Timezone != "" {
		if _, err := time.LoadLocation(d.Timezone); err != nil {
			return fmt.Errorf("%w: unknown timezone %q", ErrInvalidInput, d.Timezone)
		}
	}
	if d.VisitFee.IsNegative() {
		return fmt.Errorf("%w: visit fee cannot be negative", ErrInvalidInput)
	}
	if d.BookingDays < 0 {
		return fmt.Errorf("%w: booking days cannot be negative", ErrInvalidInput)
	}
	if d.BookingDays == 0 {
		d.BookingDays = s.opts.DefaultBookingDays
	}
	return systemFailure("create doctor", s.store.Doctors.Create(ctx, d))
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	d, err := s.store.Doctors.GetByID(ctx, id)
	return d, systemFailure("get doctor", err)
}

// ListDoctors searches doctors by the whitespace-separated words of query.
// A doctor matches when every word appears in its name, specialty or address.
func (s *Service) ListDoctors(ctx context.Context, query string, limit, offset int) ([]*Doctor, int, error) {
	items, total, err := s.store.Doctors.List(ctx, strings.Fields(query), limit, offset)
	return items, total, systemFailure("list doctors", err)
}

// -- Insurance fees --

// SetInsuranceFee sets what patients of one insurer pay this doctor.
func (s *Service) SetInsuranceFee(ctx context.Context, doctorID uuid.UUID, insurance Insurance, fee decimal.Decimal) (*InsuranceFee, error) {
	if !insurance.Valid() {
		return nil, fmt.Errorf("%w: unknown insurance %q", ErrInvalidInput, insurance)
	}
	if fee.IsNegative() {
		return nil, fmt.Errorf("%w: fee cannot be negative", ErrInvalidInput)
	}
	out := &InsuranceFee{DoctorID: doctorID, Insurance: insurance, Fee: fee}
	err := s.store.UoW.Atomic(ctx, func(ctx context.Context) error {
		if _, err := s.store.Doctors.GetByID(ctx, doctorID); err != nil {
			return err
		}
		return s.store.Doctors.PutInsuranceFee(ctx, out)
	})
	if err != nil {
		return nil, systemFailure("set insurance fee", err)
	}
	return out, nil
}

// RemoveInsuranceFee makes patients of insurance pay the doctor's visit fee
// again. Removing a fee that was never set is harmless.
func (s *Service) RemoveInsuranceFee(ctx context.Context, doctorID uuid.UUID, insurance Insurance) error {
	return systemFailure("remove insurance fee", s.store.Doctors.DeleteInsuranceFee(ctx, doctorID, insurance))
}

func (s *Service) ListInsuranceFees(ctx context.Context, doctorID uuid.UUID) ([]*InsuranceFee, error) {
	if _, err := s.store.Doctors.GetByID(ctx, doctorID); err != nil {
		return nil, systemFailure("list insurance fees", err)
	}
	fees, err := s.store.Doctors.ListInsuranceFees(ctx, doctorID)
	return fees, systemFailure("list insurance fees", err)
}

// visitFee is the fee for insurance, or the doctor's visit fee when that
// insurer has none.
func (s *Service) visitFee(ctx context.Context, d *Doctor, insurance Insurance) (decimal.Decimal, error) {
	fees, err := s.store.Doctors.ListInsuranceFees(ctx, d.ID)
	if err != nil {
		return decimal.Zero, err
	}
	for _, f := range fees {
		if f.Insurance == insurance {
			return f.Fee, nil
		}
	}
	return d.VisitFee, nil
}

// -- Availability windows --

func (s *Service) CreateWindow(ctx context.Context, w *AvailabilityWindow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	err := s.store.UoW.Atomic(ctx, func(ctx context.Context) error {
		if _, err := s.store.Doctors.GetByID(ctx, w.DoctorID); err != nil {
			return err
		}
		return s.store.Windows.Create(ctx, w)
	})
	return systemFailure("create window", err)
}

func (s *Service) GetWindow(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	w, err := s.store.Windows.GetByID(ctx, id)
	return w, systemFailure("get window", err)
}

// UpdateWindow replaces the schedule of an existing window. The owning
// doctor cannot change.
func (s *Service) UpdateWindow(ctx context.Context, w *AvailabilityWindow) error {
	err := s.store.UoW.Atomic(ctx, func(ctx context.Context) error {
		existing, err := s.store.Windows.GetByID(ctx, w.ID)
		if err != nil {
			return err
		}
		w.DoctorID = existing.DoctorID
		if err := w.Validate(); err != nil {
			return err
		}
		return s.store.Windows.Update(ctx, w)
	})
	return systemFailure("update window", err)
}

func (s *Service) ToggleWindow(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	var w *AvailabilityWindow
	err := s.store.UoW.Atomic(ctx, func(ctx context.Context) error {
		var err error
		if w, err = s.store.Windows.GetByID(ctx, id); err != nil {
			return err
		}
		w.Active = !w.Active
		return s.store.Windows.Update(ctx, w)
	})
	if err != nil {
		return nil, systemFailure("toggle window", err)
	}
	return w, nil
}

func (s *Service) DeleteWindow(ctx context.Context, id uuid.UUID) error {
	return systemFailure("delete window", s.store.Windows.Delete(ctx, id))
}

func (s *Service) ListWindows(ctx context.Context, doctorID uuid.UUID) ([]*AvailabilityWindow, error) {
	items, err := s.store.Windows.ListByDoctor(ctx, doctorID)
	return items, systemFailure("list windows", err)
}

// WindowsFor returns the active windows of doctorID on weekday. An empty
// result means the day is not bookable.
func (s *Service) WindowsFor(ctx context.Context, doctorID uuid.UUID, weekday Weekday) ([]*AvailabilityWindow, error) {
	items, err := s.store.Windows.ListActive(ctx, doctorID, weekday)
	return items, systemFailure("list active windows", err)
}

// -- Day view --

// DayView lists the classified slots of doctorID on the calendar day named
// by date, in the doctor's timezone.
func (s *Service) DayView(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error) {
	d, err := s.store.Doctors.GetByID(ctx, doctorID)
	if err != nil {
		return nil, systemFailure("day view", err)
	}
	loc := s.location(d)
	slots, err := s.dayView(ctx, d, CivilDate(date, loc), loc)
	return slots, systemFailure("day view", err)
}

func (s *Service) dayView(ctx context.Context, d *Doctor, day time.Time, loc *time.Location) ([]Slot, error) {
	in, err := s.dayInputs(ctx, d, day, loc)
	if err != nil {
		return nil, err
	}
	return BuildDayView(in), nil
}

func (s *Service) dayInputs(ctx context.Context, d *Doctor, day time.Time, loc *time.Location) (DayInputs, error) {
	in := DayInputs{Date: day, Location: loc}
	var err error
	if in.Windows, err = s.store.Windows.ListActive(ctx, d.ID, WeekdayOf(day)); err != nil {
		return in, err
	}
	from, to := dayRange(day)
	if in.Exceptions, err = s.store.Exceptions.ListBetween(ctx, d.ID, from, to); err != nil {
		return in, err
	}
	in.Reservations, err = s.store.Reservations.ListBetween(ctx, d.ID, from, to, OccupyingStatuses...)
	return in, err
}

// UpcomingDays summarizes the days starting at from that have capacity. A
// zero from means today; days <= 0 means the doctor's booking horizon.
func (s *Service) UpcomingDays(ctx context.Context, doctorID uuid.UUID, from time.Time, days int) ([]DaySummary, error) {
	d, err := s.store.Doctors.GetByID(ctx, doctorID)
	if err != nil {
		return nil, systemFailure("upcoming days", err)
	}
	loc := s.location(d)
	if days <= 0 {
		days = s.bookingDays(d)
	}
	if days > maxUpcomingDays {
		days = maxUpcomingDays
	}
	start := DateOf(s.now(), loc)
	if !from.IsZero() {
		start = CivilDate(from, loc)
	}

	windows, err := s.store.Windows.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, systemFailure("upcoming days", err)
	}
	capacity := make(map[Weekday]int)
	for _, w := range windows {
		if w.Active {
			capacity[w.Weekday] += w.SlotCount
		}
	}

	rangeStart, _ := dayRange(start)
	rangeEnd, _ := dayRange(start.AddDate(0, 0, days))
	reservations, err := s.store.Reservations.ListBetween(ctx, doctorID, rangeStart, rangeEnd, OccupyingStatuses...)
	if err != nil {
		return nil, systemFailure("upcoming days", err)
	}
	occupied := make(map[string]int)
	for _, r := range reservations {
		occupied[r.Instant.In(loc).Format(DateLayout)]++
	}

	var out []DaySummary
	for i := 0; i < days; i++ {
		day := start.AddDate(0, 0, i)
		wd := WeekdayOf(day)
		c := capacity[wd]
		if c <= 0 {
			continue
		}
		key := day.Format(DateLayout)
		n := occupied[key]
		pct := n * 100 / c
		if pct > 100 {
			pct = 100
		}
		out = append(out, DaySummary{
			Date:             key,
			Weekday:          wd,
			WeekdayName:      wd.String(),
			Capacity:         c,
			Occupied:         n,
			BookedPercentage: pct,
			Bookable:         n < c,
		})
	}
	return out, nil
}

// -- Booking --

// AttemptReserve holds instant for a patient as pending payment. It fails
// with ErrConflict when another reservation already occupies the instant and
// with ErrSlotUnavailable when the instant is not an available slot.
func (s *Service) AttemptReserve(ctx context.Context, doctorID uuid.UUID, instant time.Time, patient PatientInfo) (*Reservation, error) {
	return s.reserve(ctx, "attempt reserve", doctorID, instant, patient, StatusPendingPayment)
}

// BookDirect is the staff path: the reservation is created already booked.
func (s *Service) BookDirect(ctx context.Context, doctorID uuid.UUID, instant time.Time, patient PatientInfo) (*Reservation, error) {
	res, err := s.reserve(ctx, "book direct", doctorID, instant, patient, StatusBooked)
	if err == nil {
		s.notify(ctx, notification.TemplateReservationBooked, res)
	}
	return res, err
}

func (s *Service) reserve(ctx context.Context, op string, doctorID uuid.UUID, instant time.Time, patient PatientInfo, status Status) (*Reservation, error) {
	if err := patient.normalize(); err != nil {
		return nil, err
	}
	at := Canonical(instant)

	var res *Reservation
	err := s.store.UoW.Atomic(ctx, func(ctx context.Context) error {
		d, err := s.store.Doctors.GetByID(ctx, doctorID)
		if err != nil {
			return err
		}
		loc := s.location(d)
		now := s.now()
		if !at.After(now) {
			return fmt.Errorf("%w: %s has already passed", ErrSlotUnavailable, at.In(loc).Format(time.DateTime))
		}
		if horizon := DateOf(now, loc).AddDate(0, 0, s.bookingDays(d)); !at.Before(horizon) {
			return fmt.Errorf("%w: bookings open %d days ahead", ErrSlotUnavailable, s.bookingDays(d))
		}

		taken, err := s.store.Reservations.HasOccupying(ctx, doctorID, at)
		if err != nil {
			return err
		}
		if taken {
			return ErrConflict
		}

		slots, err := s.dayView(ctx, d, DateOf(at, loc), loc)
		if err != nil {
			return err
		}
		if slot, ok := slotAt(slots, at); !ok || slot.Status != SlotAvailable {
			return ErrSlotUnavailable
		}

		amount, err := s.visitFee(ctx, d, patient.Insurance)
		if err != nil {
			return err
		}
		res = &Reservation{
			DoctorID:    doctorID,
			Instant:     at,
			Status:      status,
			PatientInfo: patient,
			Amount:      amount,
		}
		return s.store.Reservations.Create(ctx, res)
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			s.logger.Info().Str("doctor_id", doctorID.String()).Time("instant", at).Msg("slot already taken")
		}
		return nil, systemFailure(op, err)
	}

	s.logger.Info().
		Str("reservation_id", res.ID.String()).
		Str("doctor_id", doctorID.String()).
		Time("instant", at).
		Str("status", string(res.Status)).
		Msg("reservation created")
	return res, nil
}

func (s *Service) GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	res, err := s.store.Reservations.GetByID(ctx, id)
	return res, systemFailure("get reservation", err)
}

// decision picks the next status for a reservation. A nil decision leaves
// the reservation unchanged.
type decision func(ctx context.Context, res *Reservation) (*Status, error)

func moveTo(st Status) (*Status, error) { return &st, nil }

// transition applies decide with a compare-and-set on the current status. A
// change lost to a concurrent writer is re-read and decided again.
func (s *Service) transition(ctx context.Context, op string, id uuid.UUID, decide decision) (*Reservation, bool, error) {
	var res *Reservation
	var changed bool
	var err error
	for attempt := 0; attempt < transitionAttempts; attempt++ {
		changed = false
		err = s.store.UoW.Atomic(ctx, func(ctx context.Context) error {
			var err error
			if res, err = s.store.Reservations.GetByID(ctx, id); err != nil {
				return err
			}
			next, err := decide(ctx, res)
			if err != nil || next == nil {
				return err
			}
			ok, err := s.store.Reservations.Transition(ctx, id, res.Status, *next)
			if err != nil {
				return err
			}
			if !ok {
				return ErrConflict
			}
			res.Status = *next
			changed = true
			return nil
		})
		if !errors.Is(err, ErrConflict) {
			break
		}
	}
	if err != nil {
		return nil, false, systemFailure(op, err)
	}
	if changed {
		s.logger.Info().
			Str("reservation_id", id.String()).
			Str("doctor_id", res.DoctorID.String()).
			Str("op", op).
			Str("status", string(res.Status)).
			Msg("reservation status changed")
	}
	return res, changed, nil
}

// Release frees the slot of a reservation that has not been confirmed.
// Releasing an already canceled reservation succeeds without change.
func (s *Service) Release(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	res, _, err := s.transition(ctx, "release", id, func(_ context.Context, r *Reservation) (*Status, error) {
		switch r.Status {
		case StatusCanceled:
			return nil, nil
		case StatusPendingPayment:
			return moveTo(StatusCanceled)
		default:
			return nil, fmt.Errorf("%w: cannot release a %s reservation", ErrInvalidTransition, r.Status)
		}
	})
	if err != nil {
		return nil, err
	}
	s.revokeCode(ctx, id)
	return res, nil
}

// Confirm marks a pending reservation booked once payment or verification
// has succeeded elsewhere.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	res, changed, err := s.transition(ctx, "confirm", id, func(_ context.Context, r *Reservation) (*Status, error) {
		switch r.Status {
		case StatusBooked:
			return nil, nil
		case StatusPendingPayment:
			return moveTo(StatusBooked)
		default:
			return nil, fmt.Errorf("%w: cannot confirm a %s reservation", ErrInvalidTransition, r.Status)
		}
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.revokeCode(ctx, id)
		s.notify(ctx, notification.TemplateReservationBooked, res)
	}
	return res, nil
}

// CancelFuture cancels a reservation whose instant falls on or after the
// start of asOf in the doctor's timezone. A zero asOf means today.
func (s *Service) CancelFuture(ctx context.Context, id uuid.UUID, asOf time.Time) (*Reservation, error) {
	res, changed, err := s.transition(ctx, "cancel", id, func(ctx context.Context, r *Reservation) (*Status, error) {
		switch r.Status {
		case StatusCanceled:
			return nil, nil
		case StatusCompleted:
			return nil, fmt.Errorf("%w: cannot cancel a completed reservation", ErrInvalidTransition)
		}
		d, err := s.store.Doctors.GetByID(ctx, r.DoctorID)
		if err != nil {
			return nil, err
		}
		loc := s.location(d)
		cutoff := DateOf(s.now(), loc)
		if !asOf.IsZero() {
			cutoff = CivilDate(asOf, loc)
		}
		if r.Instant.Before(cutoff) {
			return nil, fmt.Errorf("%w: appointment was on %s", ErrPastAppointment, r.Instant.In(loc).Format(DateLayout))
		}
		return moveTo(StatusCanceled)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.revokeCode(ctx, id)
		s.notify(ctx, notification.TemplateReservationCanceled, res)
	}
	return res, nil
}

// Complete records that a booked appointment took place.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	res, _, err := s.transition(ctx, "complete", id, func(_ context.Context, r *Reservation) (*Status, error) {
		switch r.Status {
		case StatusCompleted:
			return nil, nil
		case StatusBooked:
			return moveTo(StatusCompleted)
		default:
			return nil, fmt.Errorf("%w: cannot complete a %s reservation", ErrInvalidTransition, r.Status)
		}
	})
	return res, err
}

// -- Exceptions --

// BlockSlot cancels the slot at instant. Blocking twice is harmless. An
// added slot cannot be blocked; unblocking removes it instead.
func (s *Service) BlockSlot(ctx context.Context, doctorID uuid.UUID, instant time.Time) (*SlotException, error) {
	ex := &SlotException{DoctorID: doctorID, Instant: Canonical(instant), Cancellation: true}
	err := s.store.UoW.Atomic(ctx, func(ctx context.Context) error {
		if _, err := s.store.Doctors.GetByID(ctx, doctorID); err != nil {
			return err
		}
		existing, err := s.store.Exceptions.ListBetween(ctx, doctorID, ex.Instant, ex.Instant.Add(time.Microsecond))
		if err != nil {
			return err
		}
		for _, e := range existing {
			if !e.Cancellation {
				return ErrAddedSlot
			}
		}
		return s.store.Exceptions.Put(ctx, ex)
	})
	if err != nil {
		return nil, systemFailure("block slot", err)
	}
	return ex, nil
}

// UnblockSlot removes whatever exception exists at instant.
func (s *Service) UnblockSlot(ctx context.Context, doctorID uuid.UUID, instant time.Time) error {
	return systemFailure("unblock slot", s.store.Exceptions.Delete(ctx, doctorID, instant))
}

// AddSlot injects an extra slot on date. Without an instant it goes
// addedSlotGap after the day's last slot, or at 09:00 on an empty day. The
// last slot counts reservations and exceptions that the day view hides.
func (s *Service) AddSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, instant *time.Time) (*SlotException, error) {
	var ex *SlotException
	err := s.store.UoW.Atomic(ctx, func(ctx context.Context) error {
		d, err := s.store.Doctors.GetByID(ctx, doctorID)
		if err != nil {
			return err
		}
		loc := s.location(d)
		day := CivilDate(date, loc)
		in, err := s.dayInputs(ctx, d, day, loc)
		if err != nil {
			return err
		}

		taken := make(map[time.Time]bool)
		var last time.Time
		mark := func(t time.Time) {
			t = Canonical(t)
			taken[t] = true
			if t.After(last) {
				last = t
			}
		}
		for _, slot := range BuildDayView(in) {
			mark(slot.Instant)
		}
		for _, e := range in.Exceptions {
			mark(e.Instant)
		}
		for _, r := range in.Reservations {
			mark(r.Instant)
		}

		var at time.Time
		switch {
		case instant != nil:
			at = Canonical(*instant)
			if from, to := dayRange(day); at.Before(from) || !at.Before(to) {
				return fmt.Errorf("%w: %s is not on %s", ErrInvalidInput, at.In(loc).Format(time.DateTime), day.Format(DateLayout))
			}
		case last.IsZero():
			at = Canonical(firstAddedSlot.On(day, loc))
		default:
			at = last.Add(addedSlotGap)
		}
		if taken[at] {
			return fmt.Errorf("%w: %s", ErrSlotExists, at.In(loc).Format("15:04"))
		}

		ex = &SlotException{DoctorID: doctorID, Instant: at}
		return s.store.Exceptions.Put(ctx, ex)
	})
	if err != nil {
		return nil, systemFailure("add slot", err)
	}
	return ex, nil
}

// -- Patient lists --

// DailyPatients lists the booked and completed reservations of a day.
func (s *Service) DailyPatients(ctx context.Context, doctorID uuid.UUID, date time.Time) (*Doctor, []*Reservation, error) {
	d, err := s.store.Doctors.GetByID(ctx, doctorID)
	if err != nil {
		return nil, nil, systemFailure("daily patients", err)
	}
	from, to := dayRange(CivilDate(date, s.location(d)))
	items, err := s.store.Reservations.ListBetween(ctx, doctorID, from, to, StatusBooked, StatusCompleted)
	if err != nil {
		return nil, nil, systemFailure("daily patients", err)
	}
	return d, items, nil
}

func (s *Service) SearchReservations(ctx context.Context, doctorID uuid.UUID, query string, limit, offset int) ([]*Reservation, int, error) {
	items, total, err := s.store.Reservations.Search(ctx, doctorID, strings.TrimSpace(query), limit, offset)
	return items, total, systemFailure("search reservations", err)
}

// -- Side effects --

func (s *Service) revokeCode(ctx context.Context, id uuid.UUID) {
	if s.codes == nil {
		return
	}
	if err := s.codes.Revoke(ctx, id.String()); err != nil {
		s.logger.Warn().Err(err).Str("reservation_id", id.String()).Msg("revoke verification code")
	}
}

func (s *Service) notify(ctx context.Context, templateID string, res *Reservation) {
	if s.notifier == nil {
		return
	}
	data := s.messageData(ctx, res)
	if err := s.notifier.Send(ctx, templateID, res.Phone, data); err != nil {
		s.logger.Warn().Err(err).Str("reservation_id", res.ID.String()).Str("template", templateID).Msg("notify patient")
	}
}

func (s *Service) messageData(ctx context.Context, res *Reservation) map[string]string {
	data := map[string]string{"patient_name": res.Name, "when": res.Instant.Format(time.DateTime)}
	if d, err := s.store.Doctors.GetByID(ctx, res.DoctorID); err == nil {
		data["doctor"] = d.Name
		data["when"] = res.Instant.In(s.location(d)).Format("2006-01-02 15:04")
	}
	return data
}
