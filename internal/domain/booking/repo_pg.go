package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nobat/nobat/internal/platform/db"
)

// Constraint names from migrations/001_booking.sql.
const (
	occupyingSlotConstraint = "reservations_occupying_slot_key"
	activeWindowConstraint  = "availability_windows_active_key"
)

// NewPGStore returns repositories backed by PostgreSQL. Their units of work
// run at serializable isolation.
func NewPGStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Doctors:      &doctorRepoPG{pool: pool},
		Windows:      &windowRepoPG{pool: pool},
		Exceptions:   &exceptionRepoPG{pool: pool},
		Reservations: &reservationRepoPG{pool: pool},
		UoW:          &pgUnitOfWork{runner: db.NewTxRunner(pool)},
	}
}

type pgUnitOfWork struct{ runner *db.TxRunner }

// Atomic reports a transaction aborted by a concurrent writer as ErrConflict.
func (u *pgUnitOfWork) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	err := u.runner.Atomic(ctx, fn)
	if err != nil && db.IsSerializationFailure(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func clockParam(c Clock) pgtype.Time {
	return pgtype.Time{Microseconds: int64(time.Duration(c) / time.Microsecond), Valid: true}
}

func clockOf(t pgtype.Time) Clock {
	return Clock(time.Duration(t.Microseconds) * time.Microsecond)
}

// =========== Doctor Repository ===========

type doctorRepoPG struct{ pool *pgxpool.Pool }

func (r *doctorRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const doctorCols = `id, name, specialty, address, timezone, visit_fee::text, booking_days, created_at, updated_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var fee string
	if err := row.Scan(&d.ID, &d.Name, &d.Specialty, &d.Address, &d.Timezone, &fee, &d.BookingDays,
		&d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	v, err := decimal.NewFromString(fee)
	if err != nil {
		return nil, fmt.Errorf("parse visit_fee %q: %w", fee, err)
	}
	d.VisitFee = v
	return &d, nil
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	d.ID = uuid.New()
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO doctors (id, name, specialty, address, timezone, visit_fee, booking_days)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7)
		RETURNING created_at, updated_at`,
		d.ID, d.Name, d.Specialty, d.Address, d.Timezone, d.VisitFee.String(), d.BookingDays,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return scanDoctor(r.conn(ctx).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctors WHERE id = $1`, id))
}

func (r *doctorRepoPG) List(ctx context.Context, terms []string, limit, offset int) ([]*Doctor, int, error) {
	where := ` FROM doctors WHERE TRUE`
	var args []interface{}
	for _, term := range terms {
		args = append(args, containsPattern(term))
		n := len(args)
		where += fmt.Sprintf(` AND (name ILIKE $%[1]d ESCAPE '\' OR specialty ILIKE $%[1]d ESCAPE '\'`+
			` OR address ILIKE $%[1]d ESCAPE '\')`, n)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	idx := len(args) + 1
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`SELECT `+doctorCols+where+
		` ORDER BY name, id LIMIT $%d OFFSET $%d`, idx, idx+1), args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collect(rows, scanDoctor)
	return items, total, err
}

func (r *doctorRepoPG) PutInsuranceFee(ctx context.Context, fee *InsuranceFee) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO insurance_fees (doctor_id, insurance, fee)
		VALUES ($1, $2, $3::numeric)
		ON CONFLICT (doctor_id, insurance) DO UPDATE SET fee = EXCLUDED.fee, updated_at = NOW()
		RETURNING updated_at`,
		fee.DoctorID, string(fee.Insurance), fee.Fee.String(),
	).Scan(&fee.UpdatedAt)
}

func (r *doctorRepoPG) DeleteInsuranceFee(ctx context.Context, doctorID uuid.UUID, insurance Insurance) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM insurance_fees WHERE doctor_id = $1 AND insurance = $2`,
		doctorID, string(insurance))
	return err
}

func scanInsuranceFee(row pgx.Row) (*InsuranceFee, error) {
	var f InsuranceFee
	var fee string
	if err := row.Scan(&f.DoctorID, &f.Insurance, &fee, &f.UpdatedAt); err != nil {
		return nil, err
	}
	v, err := decimal.NewFromString(fee)
	if err != nil {
		return nil, fmt.Errorf("parse fee %q: %w", fee, err)
	}
	f.Fee = v
	return &f, nil
}

func (r *doctorRepoPG) ListInsuranceFees(ctx context.Context, doctorID uuid.UUID) ([]*InsuranceFee, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT doctor_id, insurance, fee::text, updated_at
		FROM insurance_fees WHERE doctor_id = $1 ORDER BY insurance`, doctorID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanInsuranceFee)
}

// =========== Window Repository ===========

type windowRepoPG struct{ pool *pgxpool.Pool }

func (r *windowRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const windowCols = `id, doctor_id, weekday, shift, start_time, end_time, slot_count, active, created_at, updated_at`

func scanWindow(row pgx.Row) (*AvailabilityWindow, error) {
	var w AvailabilityWindow
	var weekday int16
	var start, end pgtype.Time
	if err := row.Scan(&w.ID, &w.DoctorID, &weekday, &w.Shift, &start, &end, &w.SlotCount,
		&w.Active, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	w.Weekday = Weekday(weekday)
	w.Start, w.End = clockOf(start), clockOf(end)
	return &w, nil
}

func duplicateWindow(err error) error {
	if db.IsUniqueViolation(err, activeWindowConstraint) {
		return ErrDuplicateWindow
	}
	return err
}

func (r *windowRepoPG) Create(ctx context.Context, w *AvailabilityWindow) error {
	w.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO availability_windows (id, doctor_id, weekday, shift, start_time, end_time, slot_count, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		w.ID, w.DoctorID, int16(w.Weekday), string(w.Shift), clockParam(w.Start), clockParam(w.End),
		w.SlotCount, w.Active,
	).Scan(&w.CreatedAt, &w.UpdatedAt)
	return duplicateWindow(err)
}

func (r *windowRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	return scanWindow(r.conn(ctx).QueryRow(ctx, `SELECT `+windowCols+` FROM availability_windows WHERE id = $1`, id))
}

func (r *windowRepoPG) Update(ctx context.Context, w *AvailabilityWindow) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE availability_windows SET weekday=$2, shift=$3, start_time=$4, end_time=$5,
			slot_count=$6, active=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		w.ID, int16(w.Weekday), string(w.Shift), clockParam(w.Start), clockParam(w.End),
		w.SlotCount, w.Active,
	).Scan(&w.UpdatedAt)
	return duplicateWindow(notFound(err))
}

func (r *windowRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM availability_windows WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *windowRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*AvailabilityWindow, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+windowCols+` FROM availability_windows
		WHERE doctor_id = $1 ORDER BY weekday, start_time`, doctorID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanWindow)
}

func (r *windowRepoPG) ListActive(ctx context.Context, doctorID uuid.UUID, weekday Weekday) ([]*AvailabilityWindow, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+windowCols+` FROM availability_windows
		WHERE doctor_id = $1 AND weekday = $2 AND active ORDER BY start_time`, doctorID, int16(weekday))
	if err != nil {
		return nil, err
	}
	return collect(rows, scanWindow)
}

// =========== Exception Repository ===========

type exceptionRepoPG struct{ pool *pgxpool.Pool }

func (r *exceptionRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func scanException(row pgx.Row) (*SlotException, error) {
	var ex SlotException
	if err := row.Scan(&ex.ID, &ex.DoctorID, &ex.Instant, &ex.Cancellation, &ex.CreatedAt); err != nil {
		return nil, notFound(err)
	}
	ex.Instant = Canonical(ex.Instant)
	return &ex, nil
}

func (r *exceptionRepoPG) Put(ctx context.Context, ex *SlotException) error {
	ex.Instant = Canonical(ex.Instant)
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO slot_exceptions (id, doctor_id, slot_at, is_cancellation)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (doctor_id, slot_at) DO UPDATE SET is_cancellation = EXCLUDED.is_cancellation
		RETURNING id, created_at`,
		uuid.New(), ex.DoctorID, ex.Instant, ex.Cancellation,
	).Scan(&ex.ID, &ex.CreatedAt)
}

func (r *exceptionRepoPG) Delete(ctx context.Context, doctorID uuid.UUID, instant time.Time) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM slot_exceptions WHERE doctor_id = $1 AND slot_at = $2`,
		doctorID, Canonical(instant))
	return err
}

func (r *exceptionRepoPG) ListBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*SlotException, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, doctor_id, slot_at, is_cancellation, created_at FROM slot_exceptions
		WHERE doctor_id = $1 AND slot_at >= $2 AND slot_at < $3 ORDER BY slot_at`,
		doctorID, from, to)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanException)
}

// =========== Reservation Repository ===========

type reservationRepoPG struct{ pool *pgxpool.Pool }

func (r *reservationRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const reservationCols = `id, doctor_id, slot_at, status, patient_name, patient_phone,
	patient_national_id, insurance, problem_description, amount::text, verified_at, created_at, updated_at`

func scanReservation(row pgx.Row) (*Reservation, error) {
	var res Reservation
	var amount string
	if err := row.Scan(&res.ID, &res.DoctorID, &res.Instant, &res.Status, &res.Name, &res.Phone,
		&res.NationalID, &res.Insurance, &res.ProblemDescription, &amount, &res.VerifiedAt,
		&res.CreatedAt, &res.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	v, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	res.Amount = v
	res.Instant = Canonical(res.Instant)
	return &res, nil
}

func (r *reservationRepoPG) Create(ctx context.Context, res *Reservation) error {
	res.ID = uuid.New()
	res.Instant = Canonical(res.Instant)
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO reservations (id, doctor_id, slot_at, status, patient_name, patient_phone,
			patient_national_id, insurance, problem_description, amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::numeric)
		RETURNING created_at, updated_at`,
		res.ID, res.DoctorID, res.Instant, string(res.Status), res.Name, res.Phone,
		res.NationalID, string(res.Insurance), res.ProblemDescription, res.Amount.String(),
	).Scan(&res.CreatedAt, &res.UpdatedAt)
	if db.IsUniqueViolation(err, occupyingSlotConstraint) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func (r *reservationRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	return scanReservation(r.conn(ctx).QueryRow(ctx, `SELECT `+reservationCols+` FROM reservations WHERE id = $1`, id))
}

func (r *reservationRepoPG) HasOccupying(ctx context.Context, doctorID uuid.UUID, instant time.Time) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM reservations
			WHERE doctor_id = $1 AND slot_at = $2 AND status IN ('pending_payment', 'booked', 'completed')
		)`, doctorID, Canonical(instant)).Scan(&exists)
	return exists, err
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func (r *reservationRepoPG) ListBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time, statuses ...Status) ([]*Reservation, error) {
	query := `SELECT ` + reservationCols + ` FROM reservations
		WHERE doctor_id = $1 AND slot_at >= $2 AND slot_at < $3`
	args := []interface{}{doctorID, from, to}
	if len(statuses) > 0 {
		query += ` AND status = ANY($4)`
		args = append(args, statusStrings(statuses))
	}
	rows, err := r.conn(ctx).Query(ctx, query+` ORDER BY slot_at, created_at`, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanReservation)
}

func (r *reservationRepoPG) Transition(ctx context.Context, id uuid.UUID, from, to Status) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE reservations SET status = $3, updated_at = NOW()
		WHERE id = $1 AND status = $2`, id, string(from), string(to))
	if err != nil {
		if db.IsUniqueViolation(err, occupyingSlotConstraint) {
			return false, fmt.Errorf("%w: %v", ErrConflict, err)
		}
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *reservationRepoPG) MarkVerified(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE reservations SET verified_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *reservationRepoPG) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]*Reservation, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+reservationCols+` FROM reservations
		WHERE status = 'pending_payment' AND created_at < $1 ORDER BY created_at LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanReservation)
}

func (r *reservationRepoPG) Search(ctx context.Context, doctorID uuid.UUID, query string, limit, offset int) ([]*Reservation, int, error) {
	where := ` FROM reservations WHERE doctor_id = $1`
	args := []interface{}{doctorID}
	if query != "" {
		where += ` AND (patient_name ILIKE $2 ESCAPE '\' OR patient_phone LIKE $2 ESCAPE '\'` +
			` OR patient_national_id LIKE $2 ESCAPE '\')`
		args = append(args, containsPattern(query))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*)`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	idx := len(args) + 1
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, fmt.Sprintf(`SELECT `+reservationCols+where+
		` ORDER BY slot_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1), args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collect(rows, scanReservation)
	return items, total, err
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern is a LIKE pattern matching s literally anywhere in a value.
// It pairs with ESCAPE '\'.
func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]*T, error) {
	defer rows.Close()
	var items []*T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
