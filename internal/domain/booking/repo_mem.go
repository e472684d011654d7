package booking

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nobat/nobat/pkg/pagination"
)

// NewMemoryStore returns repositories that keep everything in process
// memory. Units of work hold one lock for their whole duration and restore a
// snapshot when they fail, so the store is serializable within one process.
func NewMemoryStore() *Store {
	m := &memDB{
		state: memState{
			doctors:      make(map[uuid.UUID]Doctor),
			windows:      make(map[uuid.UUID]AvailabilityWindow),
			exceptions:   make(map[uuid.UUID]SlotException),
			reservations: make(map[uuid.UUID]Reservation),
			fees:         make(map[feeKey]InsuranceFee),
		},
		now: time.Now,
	}
	return &Store{
		Doctors:      memDoctors{m},
		Windows:      memWindows{m},
		Exceptions:   memExceptions{m},
		Reservations: memReservations{m},
		UoW:          m,
	}
}

type feeKey struct {
	doctorID  uuid.UUID
	insurance Insurance
}

type memState struct {
	doctors      map[uuid.UUID]Doctor
	windows      map[uuid.UUID]AvailabilityWindow
	exceptions   map[uuid.UUID]SlotException
	reservations map[uuid.UUID]Reservation
	fees         map[feeKey]InsuranceFee
}

func (s memState) clone() memState {
	return memState{
		doctors:      maps.Clone(s.doctors),
		windows:      maps.Clone(s.windows),
		exceptions:   maps.Clone(s.exceptions),
		reservations: maps.Clone(s.reservations),
		fees:         maps.Clone(s.fees),
	}
}

type memTxKey struct{}

type memDB struct {
	mu    sync.Mutex
	state memState
	now   func() time.Time
}

func (m *memDB) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(memTxKey{}).(*memDB)
	return owner == m
}

func (m *memDB) with(ctx context.Context, fn func(s *memState) error) error {
	if m.inTx(ctx) {
		return fn(&m.state)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&m.state)
}

func (m *memDB) Atomic(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.inTx(ctx) {
		return fn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(context.WithValue(ctx, memTxKey{}, m)); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// =========== Doctors ===========

type memDoctors struct{ m *memDB }

func (r memDoctors) Create(ctx context.Context, d *Doctor) error {
	return r.m.with(ctx, func(s *memState) error {
		d.ID = uuid.New()
		d.CreatedAt = r.m.now()
		d.UpdatedAt = d.CreatedAt
		s.doctors[d.ID] = *d
		return nil
	})
}

func (r memDoctors) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var out *Doctor
	err := r.m.with(ctx, func(s *memState) error {
		d, ok := s.doctors[id]
		if !ok {
			return ErrNotFound
		}
		out = &d
		return nil
	})
	return out, err
}

func doctorMatches(d *Doctor, terms []string) bool {
	fields := []string{strings.ToLower(d.Name)}
	if d.Specialty != nil {
		fields = append(fields, strings.ToLower(*d.Specialty))
	}
	if d.Address != nil {
		fields = append(fields, strings.ToLower(*d.Address))
	}
	for _, term := range terms {
		term = strings.ToLower(term)
		found := false
		for _, f := range fields {
			if strings.Contains(f, term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (r memDoctors) List(ctx context.Context, terms []string, limit, offset int) ([]*Doctor, int, error) {
	var all []*Doctor
	_ = r.m.with(ctx, func(s *memState) error {
		for _, d := range s.doctors {
			if doctorMatches(&d, terms) {
				all = append(all, &d)
			}
		}
		return nil
	})
	sort.Slice(all, func(i, j int) bool {
		if all[i].Name != all[j].Name {
			return all[i].Name < all[j].Name
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	return pagination.Window(all, pagination.Params{Limit: limit, Offset: offset}), len(all), nil
}

func (r memDoctors) PutInsuranceFee(ctx context.Context, fee *InsuranceFee) error {
	return r.m.with(ctx, func(s *memState) error {
		fee.UpdatedAt = r.m.now()
		s.fees[feeKey{fee.DoctorID, fee.Insurance}] = *fee
		return nil
	})
}

func (r memDoctors) DeleteInsuranceFee(ctx context.Context, doctorID uuid.UUID, insurance Insurance) error {
	return r.m.with(ctx, func(s *memState) error {
		delete(s.fees, feeKey{doctorID, insurance})
		return nil
	})
}

func (r memDoctors) ListInsuranceFees(ctx context.Context, doctorID uuid.UUID) ([]*InsuranceFee, error) {
	var out []*InsuranceFee
	_ = r.m.with(ctx, func(s *memState) error {
		for k, f := range s.fees {
			if k.doctorID == doctorID {
				out = append(out, &f)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Insurance < out[j].Insurance })
	return out, nil
}

// =========== Windows ===========

type memWindows struct{ m *memDB }

func activeClash(s *memState, w *AvailabilityWindow) bool {
	if !w.Active {
		return false
	}
	for id, other := range s.windows {
		if id != w.ID && other.Active && other.DoctorID == w.DoctorID &&
			other.Weekday == w.Weekday && other.Shift == w.Shift {
			return true
		}
	}
	return false
}

func (r memWindows) Create(ctx context.Context, w *AvailabilityWindow) error {
	return r.m.with(ctx, func(s *memState) error {
		w.ID = uuid.New()
		if activeClash(s, w) {
			return ErrDuplicateWindow
		}
		w.CreatedAt = r.m.now()
		w.UpdatedAt = w.CreatedAt
		s.windows[w.ID] = *w
		return nil
	})
}

func (r memWindows) GetByID(ctx context.Context, id uuid.UUID) (*AvailabilityWindow, error) {
	var out *AvailabilityWindow
	err := r.m.with(ctx, func(s *memState) error {
		w, ok := s.windows[id]
		if !ok {
			return ErrNotFound
		}
		out = &w
		return nil
	})
	return out, err
}

func (r memWindows) Update(ctx context.Context, w *AvailabilityWindow) error {
	return r.m.with(ctx, func(s *memState) error {
		old, ok := s.windows[w.ID]
		if !ok {
			return ErrNotFound
		}
		w.DoctorID = old.DoctorID
		if activeClash(s, w) {
			return ErrDuplicateWindow
		}
		w.CreatedAt = old.CreatedAt
		w.UpdatedAt = r.m.now()
		s.windows[w.ID] = *w
		return nil
	})
}

func (r memWindows) Delete(ctx context.Context, id uuid.UUID) error {
	return r.m.with(ctx, func(s *memState) error {
		if _, ok := s.windows[id]; !ok {
			return ErrNotFound
		}
		delete(s.windows, id)
		return nil
	})
}

func (r memWindows) list(ctx context.Context, keep func(w *AvailabilityWindow) bool) []*AvailabilityWindow {
	var out []*AvailabilityWindow
	_ = r.m.with(ctx, func(s *memState) error {
		for _, w := range s.windows {
			if keep(&w) {
				out = append(out, &w)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weekday != out[j].Weekday {
			return out[i].Weekday < out[j].Weekday
		}
		return out[i].Start < out[j].Start
	})
	return out
}

func (r memWindows) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*AvailabilityWindow, error) {
	return r.list(ctx, func(w *AvailabilityWindow) bool { return w.DoctorID == doctorID }), nil
}

func (r memWindows) ListActive(ctx context.Context, doctorID uuid.UUID, weekday Weekday) ([]*AvailabilityWindow, error) {
	return r.list(ctx, func(w *AvailabilityWindow) bool {
		return w.DoctorID == doctorID && w.Weekday == weekday && w.Active
	}), nil
}

// =========== Exceptions ===========

type memExceptions struct{ m *memDB }

func (r memExceptions) Put(ctx context.Context, ex *SlotException) error {
	ex.Instant = Canonical(ex.Instant)
	return r.m.with(ctx, func(s *memState) error {
		for id, other := range s.exceptions {
			if other.DoctorID == ex.DoctorID && other.Instant.Equal(ex.Instant) {
				other.Cancellation = ex.Cancellation
				s.exceptions[id] = other
				*ex = other
				return nil
			}
		}
		ex.ID = uuid.New()
		ex.CreatedAt = r.m.now()
		s.exceptions[ex.ID] = *ex
		return nil
	})
}

func (r memExceptions) Delete(ctx context.Context, doctorID uuid.UUID, instant time.Time) error {
	instant = Canonical(instant)
	return r.m.with(ctx, func(s *memState) error {
		for id, ex := range s.exceptions {
			if ex.DoctorID == doctorID && ex.Instant.Equal(instant) {
				delete(s.exceptions, id)
			}
		}
		return nil
	})
}

func (r memExceptions) ListBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]*SlotException, error) {
	var out []*SlotException
	_ = r.m.with(ctx, func(s *memState) error {
		for _, ex := range s.exceptions {
			if ex.DoctorID == doctorID && !ex.Instant.Before(from) && ex.Instant.Before(to) {
				out = append(out, &ex)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Instant.Before(out[j].Instant) })
	return out, nil
}

// =========== Reservations ===========

type memReservations struct{ m *memDB }

func occupied(s *memState, doctorID uuid.UUID, instant time.Time) bool {
	for _, res := range s.reservations {
		if res.DoctorID == doctorID && res.Instant.Equal(instant) && res.Status.Occupying() {
			return true
		}
	}
	return false
}

func (r memReservations) Create(ctx context.Context, res *Reservation) error {
	res.Instant = Canonical(res.Instant)
	return r.m.with(ctx, func(s *memState) error {
		if res.Status.Occupying() && occupied(s, res.DoctorID, res.Instant) {
			return ErrConflict
		}
		res.ID = uuid.New()
		res.CreatedAt = r.m.now()
		res.UpdatedAt = res.CreatedAt
		s.reservations[res.ID] = *res
		return nil
	})
}

func (r memReservations) GetByID(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	var out *Reservation
	err := r.m.with(ctx, func(s *memState) error {
		res, ok := s.reservations[id]
		if !ok {
			return ErrNotFound
		}
		out = &res
		return nil
	})
	return out, err
}

func (r memReservations) HasOccupying(ctx context.Context, doctorID uuid.UUID, instant time.Time) (bool, error) {
	var found bool
	err := r.m.with(ctx, func(s *memState) error {
		found = occupied(s, doctorID, Canonical(instant))
		return nil
	})
	return found, err
}

func (r memReservations) filter(ctx context.Context, keep func(res *Reservation) bool) []*Reservation {
	var out []*Reservation
	_ = r.m.with(ctx, func(s *memState) error {
		for _, res := range s.reservations {
			if keep(&res) {
				out = append(out, &res)
			}
		}
		return nil
	})
	return out
}

func (r memReservations) ListBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time, statuses ...Status) ([]*Reservation, error) {
	out := r.filter(ctx, func(res *Reservation) bool {
		if res.DoctorID != doctorID || res.Instant.Before(from) || !res.Instant.Before(to) {
			return false
		}
		if len(statuses) == 0 {
			return true
		}
		for _, st := range statuses {
			if res.Status == st {
				return true
			}
		}
		return false
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Instant.Equal(out[j].Instant) {
			return out[i].Instant.Before(out[j].Instant)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r memReservations) Transition(ctx context.Context, id uuid.UUID, from, to Status) (bool, error) {
	var moved bool
	err := r.m.with(ctx, func(s *memState) error {
		res, ok := s.reservations[id]
		if !ok || res.Status != from {
			return nil
		}
		res.Status = to
		res.UpdatedAt = r.m.now()
		s.reservations[id] = res
		moved = true
		return nil
	})
	return moved, err
}

func (r memReservations) MarkVerified(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.m.with(ctx, func(s *memState) error {
		res, ok := s.reservations[id]
		if !ok {
			return ErrNotFound
		}
		res.VerifiedAt = &at
		res.UpdatedAt = r.m.now()
		s.reservations[id] = res
		return nil
	})
}

func (r memReservations) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]*Reservation, error) {
	out := r.filter(ctx, func(res *Reservation) bool {
		return res.Status == StatusPendingPayment && res.CreatedAt.Before(before)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memReservations) Search(ctx context.Context, doctorID uuid.UUID, query string, limit, offset int) ([]*Reservation, int, error) {
	q := strings.ToLower(query)
	out := r.filter(ctx, func(res *Reservation) bool {
		if res.DoctorID != doctorID {
			return false
		}
		return q == "" || strings.Contains(strings.ToLower(res.Name), q) ||
			strings.Contains(res.Phone, query) || strings.Contains(res.NationalID, query)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Instant.After(out[j].Instant) })
	return pagination.Window(out, pagination.Params{Limit: limit, Offset: offset}), len(out), nil
}
