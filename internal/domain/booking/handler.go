package booking

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/nobat/nobat/internal/platform/auth"
	"github.com/nobat/nobat/pkg/pagination"
)

const mimeCalendar = "text/calendar; charset=utf-8"

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the patient-facing routes on public and the
// clinic-staff routes on staff, which must already authenticate callers.
func (h *Handler) RegisterRoutes(public, staff *echo.Group) {
	public.GET("/doctors", h.ListDoctors)
	public.GET("/doctors/:id", h.GetDoctor)
	public.GET("/doctors/:id/fees", h.ListInsuranceFees)
	public.GET("/doctors/:id/days", h.UpcomingDays)
	public.GET("/doctors/:id/days/:date", h.DayView)
	public.POST("/doctors/:id/reservations", h.AttemptReserve)
	public.GET("/reservations/:id", h.GetReservation)
	public.POST("/reservations/:id/verification", h.StartVerification)
	public.POST("/reservations/:id/verify", h.Verify)
	public.POST("/reservations/:id/release", h.Release)

	// Admin
	adminGroup := staff.Group("", auth.RequireRole(auth.RoleAdmin))
	adminGroup.POST("/doctors", h.CreateDoctor)

	// Clinic staff, scoped to the doctor in their token
	clinicGroup := staff.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleSecretary))
	clinicGroup.GET("/doctors/:id/windows", h.ListWindows)
	clinicGroup.POST("/doctors/:id/windows", h.CreateWindow)
	clinicGroup.PUT("/windows/:id", h.UpdateWindow)
	clinicGroup.DELETE("/windows/:id", h.DeleteWindow)
	clinicGroup.POST("/windows/:id/toggle", h.ToggleWindow)
	clinicGroup.POST("/doctors/:id/exceptions/block", h.BlockSlot)
	clinicGroup.POST("/doctors/:id/exceptions/unblock", h.UnblockSlot)
	clinicGroup.POST("/doctors/:id/exceptions/add", h.AddSlot)
	clinicGroup.PUT("/doctors/:id/fees", h.SetInsuranceFee)
	clinicGroup.DELETE("/doctors/:id/fees/:insurance", h.RemoveInsuranceFee)
	clinicGroup.POST("/doctors/:id/bookings", h.BookDirect)
	clinicGroup.GET("/doctors/:id/patients", h.DailyPatients)
	clinicGroup.GET("/doctors/:id/reservations", h.SearchReservations)
	clinicGroup.POST("/reservations/:id/cancel", h.CancelFuture)
	clinicGroup.POST("/reservations/:id/complete", h.Complete)

	// Payment collaborator
	paymentGroup := staff.Group("", auth.RequireRole(auth.RolePayment))
	paymentGroup.POST("/reservations/:id/confirm", h.Confirm)
}

// httpError translates a service error into the response the client sees.
func (h *Handler) httpError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, "slot already taken, please pick another time")
	case errors.Is(err, ErrSlotUnavailable), errors.Is(err, ErrDuplicateWindow),
		errors.Is(err, ErrSlotExists), errors.Is(err, ErrAddedSlot), errors.Is(err, ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrPastAppointment):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrInvalidWindow), errors.Is(err, ErrInvalidInput), errors.Is(err, ErrCodeMismatch):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrCodeExpired):
		return echo.NewHTTPError(http.StatusGone, err.Error())
	case errors.Is(err, ErrTooManyAttempts):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error())
	}

	var se *SystemError
	if errors.As(err, &se) {
		h.logger.Error().Err(se.Err).Str("op", se.Op).
			Str("request_id", c.Response().Header().Get(echo.HeaderXRequestID)).
			Msg("store failure")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "service temporarily unavailable, please try again later")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.Validate(req)
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func parseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "date must be YYYY-MM-DD")
	}
	return d, nil
}

// managedDoctor parses the :id doctor and checks the caller may manage it.
func managedDoctor(c echo.Context) (uuid.UUID, error) {
	id, err := pathID(c)
	if err != nil {
		return uuid.Nil, err
	}
	if !auth.CanManageDoctor(c.Request().Context(), id.String()) {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "not allowed to manage this doctor")
	}
	return id, nil
}

// -- Doctors --

type doctorRequest struct {
	Name        string          `json:"name" validate:"required,max=200"`
	Specialty   *string         `json:"specialty" validate:"omitempty,max=200"`
	Address     *string         `json:"address" validate:"omitempty,max=500"`
	Timezone    string          `json:"timezone"`
	VisitFee    decimal.Decimal `json:"visit_fee"`
	BookingDays int             `json:"booking_days" validate:"min=0,max=366"`
}

func (h *Handler) CreateDoctor(c echo.Context) error {
	var req doctorRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	d := &Doctor{
		Name:        req.Name,
		Specialty:   req.Specialty,
		Address:     req.Address,
		Timezone:    req.Timezone,
		VisitFee:    req.VisitFee,
		BookingDays: req.BookingDays,
	}
	if err := h.svc.CreateDoctor(c.Request().Context(), d); err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetDoctor(c.Request().Context(), id)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) ListDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDoctors(c.Request().Context(), c.QueryParam("q"), pg.Limit, pg.Offset)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// -- Insurance fees --

type insuranceFeeRequest struct {
	Insurance Insurance       `json:"insurance" validate:"required,oneof=tamin salamat khadamat artesh azad"`
	Fee       decimal.Decimal `json:"fee"`
}

func (h *Handler) ListInsuranceFees(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	fees, err := h.svc.ListInsuranceFees(c.Request().Context(), id)
	if err != nil {
		return h.httpError(c, err)
	}
	if fees == nil {
		fees = []*InsuranceFee{}
	}
	return c.JSON(http.StatusOK, fees)
}

func (h *Handler) SetInsuranceFee(c echo.Context) error {
	id, err := managedDoctor(c)
	if err != nil {
		return err
	}
	var req insuranceFeeRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	fee, err := h.svc.SetInsuranceFee(c.Request().Context(), id, req.Insurance, req.Fee)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, fee)
}

func (h *Handler) RemoveInsuranceFee(c echo.Context) error {
	id, err := managedDoctor(c)
	if err != nil {
		return err
	}
	if err := h.svc.RemoveInsuranceFee(c.Request().Context(), id, Insurance(c.Param("insurance"))); err != nil {
		return h.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Calendar --

type dayViewResponse struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	Date     string    `json:"date"`
	Weekday  Weekday   `json:"weekday"`
	Slots    []Slot    `json:"slots"`
}

func (h *Handler) DayView(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	date, err := parseDate(c.Param("date"))
	if err != nil {
		return err
	}
	slots, err := h.svc.DayView(c.Request().Context(), id, date)
	if err != nil {
		return h.httpError(c, err)
	}
	if slots == nil {
		slots = []Slot{}
	}
	return c.JSON(http.StatusOK, dayViewResponse{
		DoctorID: id,
		Date:     date.Format(DateLayout),
		Weekday:  WeekdayOf(date),
		Slots:    slots,
	})
}

func (h *Handler) UpcomingDays(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var from time.Time
	if s := c.QueryParam("from"); s != "" {
		if from, err = parseDate(s); err != nil {
			return err
		}
	}
	days := 0
	if s := c.QueryParam("days"); s != "" {
		if days, err = strconv.Atoi(s); err != nil || days < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "days must be a non-negative integer")
		}
	}
	items, err := h.svc.UpcomingDays(c.Request().Context(), id, from, days)
	if err != nil {
		return h.httpError(c, err)
	}
	if items == nil {
		items = []DaySummary{}
	}
	return c.JSON(http.StatusOK, items)
}

// -- Reservations --

type reserveRequest struct {
	Instant time.Time `json:"instant" validate:"required"`
	PatientInfo
}

// publicReservation is what the patient-facing routes return. The
// reservation id is the only credential on those routes, so contact data is
// masked and identity documents are left out.
type publicReservation struct {
	ID         uuid.UUID       `json:"id"`
	DoctorID   uuid.UUID       `json:"doctor_id"`
	Instant    time.Time       `json:"instant"`
	Status     Status          `json:"status"`
	Phone      string          `json:"patient_phone"`
	Insurance  Insurance       `json:"insurance"`
	Amount     decimal.Decimal `json:"amount"`
	VerifiedAt *time.Time      `json:"verified_at,omitempty"`
}

func newPublicReservation(r *Reservation) *publicReservation {
	return &publicReservation{
		ID:         r.ID,
		DoctorID:   r.DoctorID,
		Instant:    r.Instant,
		Status:     r.Status,
		Phone:      maskPhone(r.Phone),
		Insurance:  r.Insurance,
		Amount:     r.Amount,
		VerifiedAt: r.VerifiedAt,
	}
}

// maskPhone keeps the last four digits.
func maskPhone(phone string) string {
	const visible = 4
	if len(phone) <= visible {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-visible) + phone[len(phone)-visible:]
}

type reserveResponse struct {
	Reservation  *publicReservation  `json:"reservation"`
	Verification *VerificationTicket `json:"verification,omitempty"`
}

// AttemptReserve holds the slot and sends the patient a verification code.
// The hold stands even if the code cannot be sent; the patient can ask for
// another one.
func (h *Handler) AttemptReserve(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req reserveRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	res, err := h.svc.AttemptReserve(ctx, id, req.Instant, req.PatientInfo)
	if err != nil {
		return h.httpError(c, err)
	}
	out := reserveResponse{Reservation: newPublicReservation(res)}
	if ticket, err := h.svc.StartVerification(ctx, res.ID); err != nil {
		h.logger.Warn().Err(err).Str("reservation_id", res.ID.String()).Msg("start verification")
	} else {
		out.Verification = ticket
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *Handler) BookDirect(c echo.Context) error {
	id, err := managedDoctor(c)
	if err != nil {
		return err
	}
	var req reserveRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.svc.BookDirect(c.Request().Context(), id, req.Instant, req.PatientInfo)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) GetReservation(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.GetReservation(c.Request().Context(), id)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, newPublicReservation(res))
}

func (h *Handler) StartVerification(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	ticket, err := h.svc.StartVerification(c.Request().Context(), id)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusAccepted, ticket)
}

type verifyRequest struct {
	Code string `json:"code" validate:"required,numeric,len=6"`
}

func (h *Handler) Verify(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req verifyRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	res, err := h.svc.Verify(c.Request().Context(), id, req.Code)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, newPublicReservation(res))
}

func (h *Handler) Release(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.Release(c.Request().Context(), id)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, newPublicReservation(res))
}

func (h *Handler) Confirm(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.Confirm(c.Request().Context(), id)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// managedReservation loads the :id reservation and checks the caller may
// manage its doctor.
func (h *Handler) managedReservation(c echo.Context) (uuid.UUID, error) {
	id, err := pathID(c)
	if err != nil {
		return uuid.Nil, err
	}
	res, err := h.svc.GetReservation(c.Request().Context(), id)
	if err != nil {
		return uuid.Nil, h.httpError(c, err)
	}
	if !auth.CanManageDoctor(c.Request().Context(), res.DoctorID.String()) {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "not allowed to manage this doctor")
	}
	return id, nil
}

type cancelRequest struct {
	AsOf string `json:"as_of" validate:"omitempty,datetime=2006-01-02"`
}

func (h *Handler) CancelFuture(c echo.Context) error {
	id, err := h.managedReservation(c)
	if err != nil {
		return err
	}
	var req cancelRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	var asOf time.Time
	if req.AsOf != "" {
		if asOf, err = parseDate(req.AsOf); err != nil {
			return err
		}
	}
	res, err := h.svc.CancelFuture(c.Request().Context(), id, asOf)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := h.managedReservation(c)
	if err != nil {
		return err
	}
	res, err := h.svc.Complete(c.Request().Context(), id)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) DailyPatients(c echo.Context) error {
	id, err := managedDoctor(c)
	if err != nil {
		return err
	}
	date := time.Now()
	if s := c.QueryParam("date"); s != "" {
		if date, err = parseDate(s); err != nil {
			return err
		}
	}
	ctx := c.Request().Context()
	d, items, err := h.svc.DailyPatients(ctx, id, date)
	if err != nil {
		return h.httpError(c, err)
	}
	if c.QueryParam("format") == "ics" {
		windows, err := h.svc.ListWindows(ctx, id)
		if err != nil {
			return h.httpError(c, err)
		}
		body := PatientsCalendar(d, items, visitLength(windows, WeekdayOf(date)), time.Now())
		return c.Blob(http.StatusOK, mimeCalendar, []byte(body))
	}
	if items == nil {
		items = []*Reservation{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) SearchReservations(c echo.Context) error {
	id, err := managedDoctor(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.SearchReservations(c.Request().Context(), id, c.QueryParam("q"), pg.Limit, pg.Offset)
	if err != nil {
		return h.httpError(c, err)
	}
	if items == nil {
		items = []*Reservation{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

// -- Windows --

type windowRequest struct {
	Weekday   *int  `json:"weekday" validate:"required,min=0,max=6"`
	Shift     Shift `json:"shift" validate:"required,oneof=morning afternoon"`
	Start     Clock `json:"start_time"`
	End       Clock `json:"end_time"`
	SlotCount *int  `json:"slot_count" validate:"required,min=0"`
	Active    *bool `json:"active"`
}

func (r *windowRequest) window() *AvailabilityWindow {
	w := &AvailabilityWindow{
		Weekday:   Weekday(*r.Weekday),
		Shift:     r.Shift,
		Start:     r.Start,
		End:       r.End,
		SlotCount: *r.SlotCount,
		Active:    true,
	}
	if r.Active != nil {
		w.Active = *r.Active
	}
	return w
}

func (h *Handler) ListWindows(c echo.Context) error {
	id, err := managedDoctor(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListWindows(c.Request().Context(), id)
	if err != nil {
		return h.httpError(c, err)
	}
	if items == nil {
		items = []*AvailabilityWindow{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) CreateWindow(c echo.Context) error {
	id, err := managedDoctor(c)
	if err != nil {
		return err
	}
	var req windowRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	w := req.window()
	w.DoctorID = id
	if err := h.svc.CreateWindow(c.Request().Context(), w); err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, w)
}

// managedWindow loads the :id window and checks the caller may manage its
// doctor.
func (h *Handler) managedWindow(c echo.Context) (*AvailabilityWindow, error) {
	id, err := pathID(c)
	if err != nil {
		return nil, err
	}
	w, err := h.svc.GetWindow(c.Request().Context(), id)
	if err != nil {
		return nil, h.httpError(c, err)
	}
	if !auth.CanManageDoctor(c.Request().Context(), w.DoctorID.String()) {
		return nil, echo.NewHTTPError(http.StatusForbidden, "not allowed to manage this doctor")
	}
	return w, nil
}

func (h *Handler) UpdateWindow(c echo.Context) error {
	existing, err := h.managedWindow(c)
	if err != nil {
		return err
	}
	var req windowRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	w := req.window()
	w.ID = existing.ID
	if req.Active == nil {
		w.Active = existing.Active
	}
	if err := h.svc.UpdateWindow(c.Request().Context(), w); err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) DeleteWindow(c echo.Context) error {
	w, err := h.managedWindow(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteWindow(c.Request().Context(), w.ID); err != nil {
		return h.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ToggleWindow(c echo.Context) error {
	w, err := h.managedWindow(c)
	if err != nil {
		return err
	}
	toggled, err := h.svc.ToggleWindow(c.Request().Context(), w.ID)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, toggled)
}

// -- Exceptions --

type instantRequest struct {
	Instant time.Time `json:"instant" validate:"required"`
}

func (h *Handler) BlockSlot(c echo.Context) error {
	id, err := managedDoctor(c)
	if err != nil {
		return err
	}
	var req instantRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	ex, err := h.svc.BlockSlot(c.Request().Context(), id, req.Instant)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusOK, ex)
}

func (h *Handler) UnblockSlot(c echo.Context) error {
	id, err := managedDoctor(c)
	if err != nil {
		return err
	}
	var req instantRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.svc.UnblockSlot(c.Request().Context(), id, req.Instant); err != nil {
		return h.httpError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type addSlotRequest struct {
	Date    string     `json:"date" validate:"required,datetime=2006-01-02"`
	Instant *time.Time `json:"instant"`
}

func (h *Handler) AddSlot(c echo.Context) error {
	id, err := managedDoctor(c)
	if err != nil {
		return err
	}
	var req addSlotRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	date, err := parseDate(req.Date)
	if err != nil {
		return err
	}
	ex, err := h.svc.AddSlot(c.Request().Context(), id, date, req.Instant)
	if err != nil {
		return h.httpError(c, err)
	}
	return c.JSON(http.StatusCreated, ex)
}
