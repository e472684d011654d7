package booking

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/nobat/nobat/internal/platform/notification"
	"github.com/nobat/nobat/internal/platform/otp"
)

// fixedNow is the Saturday before the scenario Monday.
var fixedNow = time.Date(2030, 1, 5, 8, 0, 0, 0, time.UTC)

type fixture struct {
	svc    *Service
	store  *Store
	sms    *notification.RecordingSender
	doctor *Doctor
	window *AvailabilityWindow
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore()
	sms := &notification.RecordingSender{}
	codes := otp.NewManager(otp.NewMemoryStore(), 2*time.Minute, 3).WithCost(bcrypt.MinCost)
	svc := NewService(store, codes, notification.NewNotifier(notification.NewCatalog(), sms), Options{
		DefaultLocation:    time.UTC,
		DefaultBookingDays: 45,
		PendingTTL:         15 * time.Minute,
	}, zerolog.Nop())
	svc.now = func() time.Time { return fixedNow }

	d := &Doctor{Name: "Dr. Karimi", VisitFee: decimal.NewFromInt(350000)}
	if err := svc.CreateDoctor(ctx, d); err != nil {
		t.Fatalf("CreateDoctor: %v", err)
	}
	w := &AvailabilityWindow{
		DoctorID:  d.ID,
		Weekday:   Monday,
		Shift:     ShiftMorning,
		Start:     NewClock(9, 0),
		End:       NewClock(10, 0),
		SlotCount: 6,
		Active:    true,
	}
	if err := svc.CreateWindow(ctx, w); err != nil {
		t.Fatalf("CreateWindow: %v", err)
	}
	return &fixture{svc: svc, store: store, sms: sms, doctor: d, window: w}
}

func patient() PatientInfo {
	return PatientInfo{Name: "Sara Ahmadi", Phone: "09121234567"}
}

func (f *fixture) reserve(t *testing.T, instant time.Time) *Reservation {
	t.Helper()
	res, err := f.svc.AttemptReserve(context.Background(), f.doctor.ID, instant, patient())
	if err != nil {
		t.Fatalf("AttemptReserve(%v): %v", instant, err)
	}
	return res
}

func (f *fixture) view(t *testing.T, date time.Time) map[string]SlotStatus {
	t.Helper()
	slots, err := f.svc.DayView(context.Background(), f.doctor.ID, date)
	if err != nil {
		t.Fatalf("DayView: %v", err)
	}
	return statuses(slots)
}

func TestScenario_ReserveAndConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	st := f.view(t, monday)
	if len(st) != 6 {
		t.Fatalf("expected 6 slots, got %d", len(st))
	}
	for k, v := range st {
		if v != SlotAvailable {
			t.Errorf("%s: expected available, got %s", k, v)
		}
	}

	res := f.reserve(t, at(9, 10))
	if res.Status != StatusPendingPayment {
		t.Errorf("expected pending_payment, got %s", res.Status)
	}
	if !res.Amount.Equal(f.doctor.VisitFee) {
		t.Errorf("expected amount %s, got %s", f.doctor.VisitFee, res.Amount)
	}
	if res.Insurance != InsuranceAzad {
		t.Errorf("expected default insurance azad, got %s", res.Insurance)
	}

	confirmed, err := f.svc.Confirm(ctx, res.ID)
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if confirmed.Status != StatusBooked {
		t.Errorf("expected booked, got %s", confirmed.Status)
	}

	st = f.view(t, monday)
	for k, v := range st {
		want := SlotAvailable
		if k == "09:10" {
			want = SlotBooked
		}
		if v != want {
			t.Errorf("%s: expected %s, got %s", k, want, v)
		}
	}

	calls := f.sms.Sent()
	if len(calls) == 0 || calls[len(calls)-1].To != "09121234567" {
		t.Errorf("expected a booked notification, got %+v", calls)
	}
}

func TestScenario_ConcurrentReserve(t *testing.T) {
	f := newFixture(t)
	const n = 16

	var wg sync.WaitGroup
	var mu sync.Mutex
	var wins, conflicts int
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.AttemptReserve(context.Background(), f.doctor.ID, at(9, 10), patient())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins != 1 || conflicts != n-1 {
		t.Errorf("expected 1 win and %d conflicts, got %d and %d", n-1, wins, conflicts)
	}
}

func TestScenario_BlockedSlotIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.BlockSlot(ctx, f.doctor.ID, at(9, 30)); err != nil {
		t.Fatalf("BlockSlot: %v", err)
	}
	// Blocking twice keeps a single exception.
	if _, err := f.svc.BlockSlot(ctx, f.doctor.ID, at(9, 30)); err != nil {
		t.Fatalf("BlockSlot again: %v", err)
	}

	st := f.view(t, monday)
	if st["09:30"] != SlotCanceled {
		t.Errorf("expected 09:30 canceled, got %s", st["09:30"])
	}
	if len(st) != 6 {
		t.Errorf("canceled slot must stay listed, got %d slots", len(st))
	}

	_, err := f.svc.AttemptReserve(ctx, f.doctor.ID, at(9, 30), patient())
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}

	if err := f.svc.UnblockSlot(ctx, f.doctor.ID, at(9, 30)); err != nil {
		t.Fatalf("UnblockSlot: %v", err)
	}
	if st := f.view(t, monday); st["09:30"] != SlotAvailable {
		t.Errorf("expected 09:30 available after unblock, got %s", st["09:30"])
	}
	f.reserve(t, at(9, 30))
}

func TestAttemptReserve_RejectsInstantsOffTheGrid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		instant time.Time
		patient PatientInfo
		want    error
	}{
		{"between slots", at(9, 5), patient(), ErrSlotUnavailable},
		{"outside window", at(11, 0), patient(), ErrSlotUnavailable},
		{"day without windows", time.Date(2030, 1, 8, 9, 0, 0, 0, time.UTC), patient(), ErrSlotUnavailable},
		{"elapsed", time.Date(2030, 1, 5, 7, 0, 0, 0, time.UTC), patient(), ErrSlotUnavailable},
		{"beyond horizon", time.Date(2030, 3, 4, 9, 0, 0, 0, time.UTC), patient(), ErrSlotUnavailable},
		{"missing patient", at(9, 0), PatientInfo{Name: " "}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AttemptReserve(ctx, f.doctor.ID, tt.instant, tt.patient)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, err := f.svc.AttemptReserve(ctx, uuid.New(), at(9, 0), patient()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown doctor, got %v", err)
	}
}

func TestAttemptReserve_ElapsedSlotOfToday(t *testing.T) {
	f := newFixture(t)
	f.svc.now = func() time.Time { return at(9, 15) }

	if _, err := f.svc.AttemptReserve(context.Background(), f.doctor.ID, at(9, 10), patient()); !errors.Is(err, ErrSlotUnavailable) {
		t.Errorf("expected ErrSlotUnavailable, got %v", err)
	}
	f.reserve(t, at(9, 20))
}

func TestAttemptReserve_InstantInAnotherZone(t *testing.T) {
	f := newFixture(t)
	tehran := time.FixedZone("IRST", 3*3600+1800)
	res := f.reserve(t, time.Date(2030, 1, 7, 12, 40, 0, 0, tehran))
	if !res.Instant.Equal(at(9, 10)) {
		t.Errorf("expected 09:10 UTC, got %v", res.Instant)
	}
	if _, err := f.svc.AttemptReserve(context.Background(), f.doctor.ID, at(9, 10), patient()); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict for the same instant, got %v", err)
	}
}

func TestDoctorTimezone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tz, err := time.LoadLocation("Asia/Tehran")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	d := &Doctor{Name: "Dr. Rahimi", Timezone: "Asia/Tehran"}
	if err := f.svc.CreateDoctor(ctx, d); err != nil {
		t.Fatalf("CreateDoctor: %v", err)
	}
	if d.BookingDays != 45 {
		t.Errorf("expected default booking days, got %d", d.BookingDays)
	}
	w := &AvailabilityWindow{DoctorID: d.ID, Weekday: Monday, Shift: ShiftMorning, Start: NewClock(9, 0), End: NewClock(10, 0), SlotCount: 2, Active: true}
	if err := f.svc.CreateWindow(ctx, w); err != nil {
		t.Fatalf("CreateWindow: %v", err)
	}
	slots, err := f.svc.DayView(ctx, d.ID, monday)
	if err != nil {
		t.Fatalf("DayView: %v", err)
	}
	if len(slots) != 2 || !slots[0].Instant.Equal(time.Date(2030, 1, 7, 9, 0, 0, 0, tz)) {
		t.Errorf("expected 09:00 Tehran time first, got %+v", slots)
	}

	if err := f.svc.CreateDoctor(ctx, &Doctor{Name: "Dr. Nowhere", Timezone: "Mars/Olympus"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for unknown timezone, got %v", err)
	}
}

func TestRelease_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.reserve(t, at(9, 10))

	first, err := f.svc.Release(ctx, res.ID)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	second, err := f.svc.Release(ctx, res.ID)
	if err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if first.Status != StatusCanceled || second.Status != StatusCanceled {
		t.Errorf("expected canceled twice, got %s and %s", first.Status, second.Status)
	}
	if st := f.view(t, monday); st["09:10"] != SlotAvailable {
		t.Errorf("released slot should be available, got %s", st["09:10"])
	}
	f.reserve(t, at(9, 10))
}

func TestRelease_ConcurrentCallsAgree(t *testing.T) {
	f := newFixture(t)
	res := f.reserve(t, at(9, 10))

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Release(context.Background(), res.ID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
}

func TestTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	booked := f.reserve(t, at(9, 0))
	if _, err := f.svc.Confirm(ctx, booked.ID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if res, err := f.svc.Confirm(ctx, booked.ID); err != nil || res.Status != StatusBooked {
		t.Errorf("confirming twice should be a no-op, got %v %v", res, err)
	}
	if _, err := f.svc.Release(ctx, booked.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition releasing a booked reservation, got %v", err)
	}

	done, err := f.svc.Complete(ctx, booked.ID)
	if err != nil || done.Status != StatusCompleted {
		t.Fatalf("Complete: %v %v", done, err)
	}
	if _, err := f.svc.CancelFuture(ctx, booked.ID, time.Time{}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition canceling a completed reservation, got %v", err)
	}
	if st := f.view(t, monday); st["09:00"] != SlotBooked {
		t.Errorf("completed reservation must keep occupying, got %s", st["09:00"])
	}

	pending := f.reserve(t, at(9, 10))
	if _, err := f.svc.Complete(ctx, pending.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition completing a pending reservation, got %v", err)
	}
	if _, err := f.svc.Release(ctx, pending.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := f.svc.Confirm(ctx, pending.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition confirming a canceled reservation, got %v", err)
	}

	if _, err := f.svc.Confirm(ctx, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCancelFuture(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.reserve(t, at(9, 10))
	if _, err := f.svc.Confirm(ctx, res.ID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	tuesday := time.Date(2030, 1, 8, 0, 0, 0, 0, time.UTC)
	if _, err := f.svc.CancelFuture(ctx, res.ID, tuesday); !errors.Is(err, ErrPastAppointment) {
		t.Fatalf("expected ErrPastAppointment, got %v", err)
	}

	f.svc.now = func() time.Time { return tuesday.Add(10 * time.Hour) }
	if _, err := f.svc.CancelFuture(ctx, res.ID, time.Time{}); !errors.Is(err, ErrPastAppointment) {
		t.Fatalf("expected ErrPastAppointment as of today, got %v", err)
	}

	// The appointment day itself still counts as the future.
	canceled, err := f.svc.CancelFuture(ctx, res.ID, monday)
	if err != nil {
		t.Fatalf("CancelFuture: %v", err)
	}
	if canceled.Status != StatusCanceled {
		t.Errorf("expected canceled, got %s", canceled.Status)
	}
	if _, err := f.svc.CancelFuture(ctx, res.ID, monday); err != nil {
		t.Errorf("canceling twice should be a no-op, got %v", err)
	}
}

func TestBookDirect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.BookDirect(ctx, f.doctor.ID, at(9, 20), patient())
	if err != nil {
		t.Fatalf("BookDirect: %v", err)
	}
	if res.Status != StatusBooked {
		t.Errorf("expected booked, got %s", res.Status)
	}
	if _, err := f.svc.AttemptReserve(ctx, f.doctor.ID, at(9, 20), patient()); !errors.Is(err, ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestWindows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	dup := &AvailabilityWindow{DoctorID: f.doctor.ID, Weekday: Monday, Shift: ShiftMorning, Start: NewClock(7, 0), End: NewClock(8, 0), SlotCount: 2, Active: true}
	if err := f.svc.CreateWindow(ctx, dup); !errors.Is(err, ErrDuplicateWindow) {
		t.Fatalf("expected ErrDuplicateWindow, got %v", err)
	}
	dup.Active = false
	if err := f.svc.CreateWindow(ctx, dup); err != nil {
		t.Fatalf("inactive duplicate should be accepted: %v", err)
	}
	if _, err := f.svc.ToggleWindow(ctx, dup.ID); !errors.Is(err, ErrDuplicateWindow) {
		t.Errorf("expected ErrDuplicateWindow activating a second window, got %v", err)
	}

	off, err := f.svc.ToggleWindow(ctx, f.window.ID)
	if err != nil || off.Active {
		t.Fatalf("ToggleWindow: %v %v", off, err)
	}
	if st := f.view(t, monday); len(st) != 0 {
		t.Errorf("inactive window should contribute no slots, got %v", st)
	}
	if active, _ := f.svc.WindowsFor(ctx, f.doctor.ID, Monday); len(active) != 0 {
		t.Errorf("expected no active Monday windows, got %d", len(active))
	}
	if on, err := f.svc.ToggleWindow(ctx, dup.ID); err != nil || !on.Active {
		t.Fatalf("ToggleWindow: %v %v", on, err)
	}
	if st := f.view(t, monday); len(st) != 2 {
		t.Errorf("expected the 07:00 window's 2 slots, got %v", st)
	}

	bad := &AvailabilityWindow{ID: dup.ID, Weekday: Monday, Shift: ShiftMorning, Start: NewClock(8, 0), End: NewClock(7, 0), SlotCount: 2}
	if err := f.svc.UpdateWindow(ctx, bad); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("expected ErrInvalidWindow, got %v", err)
	}

	if err := f.svc.DeleteWindow(ctx, dup.ID); err != nil {
		t.Fatalf("DeleteWindow: %v", err)
	}
	if err := f.svc.DeleteWindow(ctx, dup.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound deleting twice, got %v", err)
	}
	all, _ := f.svc.ListWindows(ctx, f.doctor.ID)
	if len(all) != 1 {
		t.Errorf("expected 1 window left, got %d", len(all))
	}

	orphan := &AvailabilityWindow{DoctorID: uuid.New(), Weekday: Monday, Shift: ShiftMorning, Start: NewClock(7, 0), End: NewClock(8, 0), SlotCount: 2, Active: true}
	if err := f.svc.CreateWindow(ctx, orphan); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown doctor, got %v", err)
	}
}

func strPtr(s string) *string { return &s }

func TestListDoctors_Search(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, d := range []*Doctor{
		{Name: "Dr. Rahimi", Specialty: strPtr("Cardiology"), Address: strPtr("Valiasr St, Tehran")},
		{Name: "Dr. Moradi", Specialty: strPtr("Dermatology"), Address: strPtr("Chamran Blvd, Shiraz")},
		{Name: "Dr. Rahimi-Nejad", Specialty: strPtr("Dermatology"), Address: strPtr("Enghelab Sq, Tehran")},
	} {
		if err := f.svc.CreateDoctor(ctx, d); err != nil {
			t.Fatalf("CreateDoctor: %v", err)
		}
	}

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"Dr. Karimi", "Dr. Moradi", "Dr. Rahimi", "Dr. Rahimi-Nejad"}},
		{"rahimi", []string{"Dr. Rahimi", "Dr. Rahimi-Nejad"}},
		{"  dermatology   tehran ", []string{"Dr. Rahimi-Nejad"}},
		{"shiraz", []string{"Dr. Moradi"}},
		{"cardiology shiraz", nil},
	}
	for _, tt := range tests {
		items, total, err := f.svc.ListDoctors(ctx, tt.query, 20, 0)
		if err != nil {
			t.Fatalf("ListDoctors(%q): %v", tt.query, err)
		}
		var names []string
		for _, d := range items {
			names = append(names, d.Name)
		}
		if total != len(tt.want) || strings.Join(names, ",") != strings.Join(tt.want, ",") {
			t.Errorf("ListDoctors(%q) = %v (total %d), want %v", tt.query, names, total, tt.want)
		}
	}
}

func TestInsuranceFees(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tamin := decimal.NewFromInt(120000)
	if _, err := f.svc.SetInsuranceFee(ctx, f.doctor.ID, InsuranceTamin, tamin); err != nil {
		t.Fatalf("SetInsuranceFee: %v", err)
	}
	if _, err := f.svc.SetInsuranceFee(ctx, f.doctor.ID, InsuranceTamin, tamin.Add(decimal.NewFromInt(1000))); err != nil {
		t.Fatalf("SetInsuranceFee again: %v", err)
	}
	fees, err := f.svc.ListInsuranceFees(ctx, f.doctor.ID)
	if err != nil || len(fees) != 1 || !fees[0].Fee.Equal(decimal.NewFromInt(121000)) {
		t.Fatalf("expected one replaced fee, got %+v %v", fees, err)
	}

	insured := patient()
	insured.Insurance = InsuranceTamin
	res, err := f.svc.AttemptReserve(ctx, f.doctor.ID, at(9, 0), insured)
	if err != nil {
		t.Fatalf("AttemptReserve: %v", err)
	}
	if !res.Amount.Equal(decimal.NewFromInt(121000)) {
		t.Errorf("expected the tamin fee, got %s", res.Amount)
	}
	other := patient()
	other.Insurance = InsuranceSalamat
	res, err = f.svc.AttemptReserve(ctx, f.doctor.ID, at(9, 10), other)
	if err != nil {
		t.Fatalf("AttemptReserve: %v", err)
	}
	if !res.Amount.Equal(f.doctor.VisitFee) {
		t.Errorf("expected the visit fee for an insurer without a fee, got %s", res.Amount)
	}

	if err := f.svc.RemoveInsuranceFee(ctx, f.doctor.ID, InsuranceTamin); err != nil {
		t.Fatalf("RemoveInsuranceFee: %v", err)
	}
	res, err = f.svc.AttemptReserve(ctx, f.doctor.ID, at(9, 20), insured)
	if err != nil || !res.Amount.Equal(f.doctor.VisitFee) {
		t.Errorf("expected the visit fee after removal, got %v %v", res, err)
	}

	if _, err := f.svc.SetInsuranceFee(ctx, f.doctor.ID, "private", tamin); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for an unknown insurer, got %v", err)
	}
	if _, err := f.svc.SetInsuranceFee(ctx, f.doctor.ID, InsuranceAzad, decimal.NewFromInt(-1)); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for a negative fee, got %v", err)
	}
	if _, err := f.svc.SetInsuranceFee(ctx, uuid.New(), InsuranceAzad, tamin); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for an unknown doctor, got %v", err)
	}
}

func TestAddSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ex, err := f.svc.AddSlot(ctx, f.doctor.ID, monday, nil)
	if err != nil {
		t.Fatalf("AddSlot: %v", err)
	}
	if !ex.Instant.Equal(at(10, 0)) || ex.Cancellation {
		t.Errorf("expected an addition at 10:00, got %+v", ex)
	}
	ex, err = f.svc.AddSlot(ctx, f.doctor.ID, monday, nil)
	if err != nil || !ex.Instant.Equal(at(10, 10)) {
		t.Fatalf("expected 10:10, got %+v %v", ex, err)
	}

	taken := at(9, 20)
	if _, err := f.svc.AddSlot(ctx, f.doctor.ID, monday, &taken); !errors.Is(err, ErrSlotExists) {
		t.Errorf("expected ErrSlotExists, got %v", err)
	}
	other := time.Date(2030, 1, 9, 9, 0, 0, 0, time.UTC)
	if _, err := f.svc.AddSlot(ctx, f.doctor.ID, monday, &other); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for an instant on another day, got %v", err)
	}

	tuesday := time.Date(2030, 1, 8, 0, 0, 0, 0, time.UTC)
	ex, err = f.svc.AddSlot(ctx, f.doctor.ID, tuesday, nil)
	if err != nil || !ex.Instant.Equal(time.Date(2030, 1, 8, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected 09:00 on an empty day, got %+v %v", ex, err)
	}

	st := f.view(t, monday)
	if len(st) != 8 || st["10:00"] != SlotAvailable {
		t.Fatalf("expected 8 slots with 10:00 available, got %v", st)
	}
	f.reserve(t, at(10, 0))
	f.reserve(t, time.Date(2030, 1, 8, 9, 0, 0, 0, time.UTC))
}

func TestAddSlot_AfterBookedAddition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.svc.AddSlot(ctx, f.doctor.ID, monday, nil); err != nil {
		t.Fatalf("AddSlot: %v", err)
	}
	f.reserve(t, at(10, 0))

	ex, err := f.svc.AddSlot(ctx, f.doctor.ID, monday, nil)
	if err != nil {
		t.Fatalf("AddSlot: %v", err)
	}
	if !ex.Instant.Equal(at(10, 10)) {
		t.Errorf("expected the next addition after the booked one, got %v", ex.Instant)
	}
	if st := f.view(t, monday); st["10:10"] != SlotAvailable {
		t.Errorf("expected 10:10 available, got %v", st)
	}

	booked := at(10, 0)
	if _, err := f.svc.AddSlot(ctx, f.doctor.ID, monday, &booked); !errors.Is(err, ErrSlotExists) {
		t.Errorf("expected ErrSlotExists at a reserved instant, got %v", err)
	}
	blocked := at(9, 30)
	if _, err := f.svc.BlockSlot(ctx, f.doctor.ID, blocked); err != nil {
		t.Fatalf("BlockSlot: %v", err)
	}
	if _, err := f.svc.AddSlot(ctx, f.doctor.ID, monday, &blocked); !errors.Is(err, ErrSlotExists) {
		t.Errorf("expected ErrSlotExists at a blocked instant, got %v", err)
	}
	if st := f.view(t, monday); st["09:30"] != SlotCanceled {
		t.Errorf("expected 09:30 to stay blocked, got %s", st["09:30"])
	}
}

func TestBlockSlot_AddedSlotIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ex, err := f.svc.AddSlot(ctx, f.doctor.ID, monday, nil)
	if err != nil {
		t.Fatalf("AddSlot: %v", err)
	}
	if _, err := f.svc.BlockSlot(ctx, f.doctor.ID, ex.Instant); !errors.Is(err, ErrAddedSlot) {
		t.Fatalf("expected ErrAddedSlot, got %v", err)
	}
	if st := f.view(t, monday); len(st) != 7 || st["10:00"] != SlotAvailable {
		t.Errorf("expected the added slot to stay listed, got %v", st)
	}

	if err := f.svc.UnblockSlot(ctx, f.doctor.ID, ex.Instant); err != nil {
		t.Fatalf("UnblockSlot: %v", err)
	}
	if st := f.view(t, monday); len(st) != 6 {
		t.Errorf("expected unblock to remove the added slot, got %v", st)
	}
}

func TestUpcomingDays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.reserve(t, at(9, 0))
	f.reserve(t, at(9, 10))

	days, err := f.svc.UpcomingDays(ctx, f.doctor.ID, time.Time{}, 14)
	if err != nil {
		t.Fatalf("UpcomingDays: %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("expected two Mondays, got %+v", days)
	}
	first := days[0]
	if first.Date != "2030-01-07" || first.Weekday != Monday || first.WeekdayName != "monday" {
		t.Errorf("unexpected first day %+v", first)
	}
	if first.Capacity != 6 || first.Occupied != 2 || first.BookedPercentage != 33 || !first.Bookable {
		t.Errorf("unexpected occupancy %+v", first)
	}
	if days[1].Date != "2030-01-14" || days[1].Occupied != 0 {
		t.Errorf("unexpected second day %+v", days[1])
	}
}

func TestDailyPatientsAndSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.reserve(t, at(9, 0))
	booked, err := f.svc.BookDirect(ctx, f.doctor.ID, at(9, 10), PatientInfo{Name: "Ali Rezaei", Phone: "09351112233", NationalID: "0012345678"})
	if err != nil {
		t.Fatalf("BookDirect: %v", err)
	}

	_, patients, err := f.svc.DailyPatients(ctx, f.doctor.ID, monday)
	if err != nil {
		t.Fatalf("DailyPatients: %v", err)
	}
	if len(patients) != 1 || patients[0].ID != booked.ID {
		t.Errorf("expected only the booked reservation, got %+v", patients)
	}

	found, total, err := f.svc.SearchReservations(ctx, f.doctor.ID, "rezaei", 10, 0)
	if err != nil || total != 1 || found[0].ID != booked.ID {
		t.Errorf("search by name: %v %d %v", found, total, err)
	}
	found, total, _ = f.svc.SearchReservations(ctx, f.doctor.ID, "0912", 10, 0)
	if total != 1 || found[0].ID != pending.ID {
		t.Errorf("search by phone: %v %d", found, total)
	}
	_, total, _ = f.svc.SearchReservations(ctx, f.doctor.ID, "", 1, 0)
	if total != 2 {
		t.Errorf("expected 2 reservations in total, got %d", total)
	}
}

var sixDigits = regexp.MustCompile(`\b\d{6}\b`)

func (f *fixture) lastCode(t *testing.T) string {
	t.Helper()
	calls := f.sms.Sent()
	if len(calls) == 0 {
		t.Fatal("no sms sent")
	}
	code := sixDigits.FindString(calls[len(calls)-1].Body)
	if code == "" {
		t.Fatalf("no code in %q", calls[len(calls)-1].Body)
	}
	return code
}

func otherCode(code string) string {
	if code == "000000" {
		return "000001"
	}
	return "000000"
}

func TestVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.reserve(t, at(9, 10))

	ticket, err := f.svc.StartVerification(ctx, res.ID)
	if err != nil {
		t.Fatalf("StartVerification: %v", err)
	}
	if !ticket.ExpiresAt.Equal(fixedNow.Add(2 * time.Minute)) {
		t.Errorf("unexpected expiry %v", ticket.ExpiresAt)
	}
	code := f.lastCode(t)

	if _, err := f.svc.Verify(ctx, res.ID, otherCode(code)); !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("expected ErrCodeMismatch, got %v", err)
	}
	verified, err := f.svc.Verify(ctx, res.ID, code)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if verified.VerifiedAt == nil || verified.Status != StatusPendingPayment {
		t.Errorf("expected verified pending reservation, got %+v", verified)
	}
	if again, err := f.svc.Verify(ctx, res.ID, code); err != nil || again.VerifiedAt == nil {
		t.Errorf("verifying twice should succeed, got %v", err)
	}
}

func TestVerification_TooManyAttemptsReleases(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.reserve(t, at(9, 10))
	if _, err := f.svc.StartVerification(ctx, res.ID); err != nil {
		t.Fatalf("StartVerification: %v", err)
	}
	wrong := otherCode(f.lastCode(t))

	var err error
	for i := 0; i < 3; i++ {
		_, err = f.svc.Verify(ctx, res.ID, wrong)
	}
	if !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected ErrTooManyAttempts, got %v", err)
	}
	got, _ := f.svc.GetReservation(ctx, res.ID)
	if got.Status != StatusCanceled {
		t.Errorf("expected reservation released, got %s", got.Status)
	}
	if st := f.view(t, monday); st["09:10"] != SlotAvailable {
		t.Errorf("expected slot free again, got %s", st["09:10"])
	}
}

func TestVerification_ResendKeepsAttemptCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.reserve(t, at(9, 10))

	var err error
	for i := 0; i < 3; i++ {
		if _, serr := f.svc.StartVerification(ctx, res.ID); serr != nil {
			t.Fatalf("StartVerification #%d: %v", i, serr)
		}
		_, err = f.svc.Verify(ctx, res.ID, otherCode(f.lastCode(t)))
	}
	if !errors.Is(err, ErrTooManyAttempts) {
		t.Fatalf("expected the third wrong code to exhaust attempts, got %v", err)
	}
	got, _ := f.svc.GetReservation(ctx, res.ID)
	if got.Status != StatusCanceled {
		t.Errorf("expected reservation released, got %s", got.Status)
	}
	if _, err := f.svc.StartVerification(ctx, res.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected no new code for a released reservation, got %v", err)
	}
}

func TestVerification_ExpiredOrMissingCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.reserve(t, at(9, 10))

	if _, err := f.svc.Verify(ctx, res.ID, "123456"); !errors.Is(err, ErrCodeExpired) {
		t.Errorf("expected ErrCodeExpired without a code, got %v", err)
	}
	if _, err := f.svc.Confirm(ctx, res.ID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if _, err := f.svc.StartVerification(ctx, res.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for a booked reservation, got %v", err)
	}
}

func TestReleaseExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stale := f.reserve(t, at(9, 0))
	kept := f.reserve(t, at(9, 10))
	if _, err := f.svc.Confirm(ctx, kept.ID); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	n, err := f.svc.ReleaseExpired(ctx, time.Now())
	if err != nil || n != 0 {
		t.Fatalf("nothing should be old enough yet, got %d %v", n, err)
	}

	sw := NewSweeper(f.svc, time.Minute, zerolog.Nop())
	if n := sw.RunOnce(ctx, time.Now().Add(time.Hour)); n != 1 {
		t.Fatalf("expected 1 released, got %d", n)
	}
	got, _ := f.svc.GetReservation(ctx, stale.ID)
	if got.Status != StatusCanceled {
		t.Errorf("expected stale reservation canceled, got %s", got.Status)
	}
	got, _ = f.svc.GetReservation(ctx, kept.ID)
	if got.Status != StatusBooked {
		t.Errorf("booked reservation must be untouched, got %s", got.Status)
	}
}

func TestSweeper_StopsWithContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewSweeper(f.svc, time.Millisecond, zerolog.Nop()).Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

// failingReservations simulates a store that accepts the write and then
// fails, like a read-only replica rejecting the commit.
type failingReservations struct {
	ReservationRepository
	err error
}

func (f failingReservations) Create(ctx context.Context, r *Reservation) error {
	if err := f.ReservationRepository.Create(ctx, r); err != nil {
		return err
	}
	return f.err
}

func TestAttemptReserve_StoreFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	storeErr := errors.New("cannot execute INSERT in a read-only transaction")
	f.store.Reservations = failingReservations{ReservationRepository: f.store.Reservations, err: storeErr}

	_, err := f.svc.AttemptReserve(ctx, f.doctor.ID, at(9, 10), patient())
	var se *SystemError
	if !errors.As(err, &se) {
		t.Fatalf("expected SystemError, got %v", err)
	}
	if !errors.Is(err, storeErr) || errors.Is(err, ErrConflict) {
		t.Errorf("expected the store error preserved and no conflict, got %v", err)
	}
	if se.Op != "attempt reserve" {
		t.Errorf("unexpected op %q", se.Op)
	}
	if st := f.view(t, monday); st["09:10"] != SlotAvailable {
		t.Errorf("failed reservation must leave no trace, got %s", st["09:10"])
	}
}
