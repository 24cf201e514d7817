package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/parkb/internal/middleware"
	"github.com/iliyamo/parkb/internal/model"
	"github.com/iliyamo/parkb/internal/parking"
)

// ParkingHandler exposes the parking service over HTTP. All methods except
// Status assume JWTAuth ran first.
type ParkingHandler struct {
	Svc *parking.Service
}

func NewParkingHandler(svc *parking.Service) *ParkingHandler {
	if svc == nil {
		panic("nil service passed to NewParkingHandler")
	}
	return &ParkingHandler{Svc: svc}
}

// statusFor maps a failure kind to its HTTP status.
func statusFor(k parking.Kind) int {
	switch k {
	case parking.KindNotFound:
		return http.StatusNotFound
	case parking.KindInvalidWindow:
		return http.StatusBadRequest
	case parking.KindCapacityRuleViolation, parking.KindNoAvailability, parking.KindStateConflict:
		return http.StatusConflict
	case parking.KindGraceExpired:
		return http.StatusGone
	case parking.KindForbidden:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// fail writes err as {"error": kind, "message": ...}. Internal errors keep
// their details out of the response.
func fail(c echo.Context, err error) error {
	kind := parking.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError {
		c.Logger().Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
		return c.JSON(status, echo.Map{"error": string(parking.KindInternal), "message": "internal error"})
	}
	return c.JSON(status, echo.Map{"error": string(kind), "message": err.Error()})
}

func actor(c echo.Context) (parking.Actor, bool) {
	id, ok := middleware.UserID(c)
	if !ok {
		return parking.Actor{}, false
	}
	return parking.Actor{UserID: id, Role: middleware.Role(c)}, true
}

// subject resolves whom a command is for: staff may act for another user
// by passing onBehalf, everyone else acts for themselves.
func subject(c echo.Context, onBehalf uint64) (uint64, int, string) {
	a, ok := actor(c)
	if !ok {
		return 0, http.StatusUnauthorized, "unauthorized"
	}
	if onBehalf == 0 || onBehalf == a.UserID {
		return a.UserID, 0, ""
	}
	if !a.Role.Staff() {
		return 0, http.StatusForbidden, "only staff may act for another user"
	}
	return onBehalf, 0, ""
}

func pathCode(c echo.Context) (int64, bool) {
	n, err := strconv.ParseInt(c.Param("code"), 10, 64)
	return n, err == nil && n > 0
}

// ----- views -----

type reservationView struct {
	Code     int64  `json:"code"`
	UserID   uint64 `json:"user_id"`
	Date     string `json:"date"`
	Start    string `json:"start,omitempty"`
	End      string `json:"end,omitempty"`
	SpotID   *int   `json:"spot_id"`
	Status   string `json:"status"`
	Kind     string `json:"kind"`
	PlacedAt string `json:"placed_at"`
}

func clockString(d time.Duration) string {
	return time.Time{}.Add(d).Format("15:04")
}

func toReservationView(r model.Reservation) reservationView {
	v := reservationView{
		Code:     r.Code,
		UserID:   r.UserID,
		Date:     r.Date.Format("2006-01-02"),
		SpotID:   r.SpotID,
		Status:   string(r.Status),
		Kind:     string(r.Kind),
		PlacedAt: r.PlacedAt.Format(time.RFC3339),
	}
	if r.Kind == model.KindPrecision {
		v.Start = clockString(r.Start)
		v.End = clockString(r.End)
	}
	return v
}

type sessionView struct {
	ParkingCode     int        `json:"parking_code"`
	SpotID          int        `json:"spot_id"`
	UserID          uint64     `json:"user_id"`
	StartedAt       time.Time  `json:"started_at"`
	EstimatedEnd    time.Time  `json:"estimated_end"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	Ordered         bool       `json:"ordered"`
	ReservationCode *int64     `json:"reservation_code,omitempty"`
	Late            bool       `json:"late"`
	Extended        bool       `json:"extended"`
}

func toSessionView(s model.ParkingSession) sessionView {
	return sessionView{
		ParkingCode:     s.Code,
		SpotID:          s.SpotID,
		UserID:          s.UserID,
		StartedAt:       s.StartedAt,
		EstimatedEnd:    s.EstimatedEnd,
		EndedAt:         s.EndedAt,
		Ordered:         s.Ordered,
		ReservationCode: s.ReservationCode,
		Late:            s.Late,
		Extended:        s.Extended,
	}
}

// ----- public -----

// Status handles GET /v1/status.
func (h *ParkingHandler) Status(c echo.Context) error {
	st, err := h.Svc.Status(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

// ----- subscriber -----

// Availability handles GET /v1/availability.
func (h *ParkingHandler) Availability(c echo.Context) error {
	n, err := h.Svc.CheckAvailability(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"available": n})
}

// TimeSlots handles GET /v1/time-slots?date=YYYY-MM-DD&time=HH:MM.
func (h *ParkingHandler) TimeSlots(c echo.Context) error {
	date, err := time.ParseInLocation("2006-01-02", c.QueryParam("date"), h.Svc.Location())
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": string(parking.KindInvalidWindow), "message": "date must be YYYY-MM-DD"})
	}
	preferred, err := parking.ParseClock(c.QueryParam("time"))
	if err != nil {
		return fail(c, err)
	}
	slots, err := h.Svc.GetTimeSlots(c.Request().Context(), date, preferred)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"date": date.Format("2006-01-02"), "slots": slots})
}

type reserveReq struct {
	When   string `json:"when"`
	UserID uint64 `json:"user_id"`
}

// Reserve handles POST /v1/reservations. "when" is a date for a standard
// booking or a date and time on the 15-minute grid for a precision one.
func (h *ParkingHandler) Reserve(c echo.Context) error {
	var req reserveReq
	if err := c.Bind(&req); err != nil || req.When == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body", "message": "when is required"})
	}
	uid, status, msg := subject(c, req.UserID)
	if status != 0 {
		return c.JSON(status, echo.Map{"error": msg})
	}
	r, err := h.Svc.Reserve(c.Request().Context(), uid, req.When)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, toReservationView(r))
}

// MyReservations handles GET /v1/my-reservations.
func (h *ParkingHandler) MyReservations(c echo.Context) error {
	a, ok := actor(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	rs, err := h.Svc.Reservations(c.Request().Context(), a.UserID)
	if err != nil {
		return fail(c, err)
	}
	out := make([]reservationView, 0, len(rs))
	for _, r := range rs {
		out = append(out, toReservationView(r))
	}
	return c.JSON(http.StatusOK, out)
}

// Activate handles POST /v1/reservations/:code/activate.
func (h *ParkingHandler) Activate(c echo.Context) error {
	code, ok := pathCode(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation code"})
	}
	return h.activate(c, code)
}

type reservationEntryReq struct {
	ReservationCode int64 `json:"reservation_code"`
}

// EnterWithReservation handles POST /v1/entries/reservation.
func (h *ParkingHandler) EnterWithReservation(c echo.Context) error {
	var req reservationEntryReq
	if err := c.Bind(&req); err != nil || req.ReservationCode <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "reservation_code required"})
	}
	return h.activate(c, req.ReservationCode)
}

func (h *ParkingHandler) activate(c echo.Context, code int64) error {
	a, ok := actor(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	e, err := h.Svc.Activate(c.Request().Context(), a, code)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, e)
}

// Cancel handles DELETE /v1/reservations/:code.
func (h *ParkingHandler) Cancel(c echo.Context) error {
	code, ok := pathCode(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation code"})
	}
	a, ok := actor(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	if err := h.Svc.Cancel(c.Request().Context(), a, code); err != nil {
		return fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type walkInReq struct {
	UserID uint64 `json:"user_id"`
}

// EnterWalkIn handles POST /v1/entries.
func (h *ParkingHandler) EnterWalkIn(c echo.Context) error {
	var req walkInReq
	_ = c.Bind(&req) // an empty body means "myself"
	uid, status, msg := subject(c, req.UserID)
	if status != 0 {
		return c.JSON(status, echo.Map{"error": msg})
	}
	e, err := h.Svc.EnterWalkIn(c.Request().Context(), uid)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"parking_code":  e.ParkingCode,
		"spot_id":       e.SpotID,
		"estimated_end": e.EstimatedEnd,
		"hours":         int(e.Duration / time.Hour),
		"long_stay":     e.LongStay,
	})
}

type exitReq struct {
	ParkingCode int `json:"parking_code"`
}

// Exit handles POST /v1/exits.
func (h *ParkingHandler) Exit(c echo.Context) error {
	var req exitReq
	if err := c.Bind(&req); err != nil || req.ParkingCode <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "parking_code required"})
	}
	a, ok := actor(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	res, err := h.Svc.ExitAs(c.Request().Context(), a, req.ParkingCode)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

// RequestExtension handles POST /v1/sessions/:code/extension-request.
func (h *ParkingHandler) RequestExtension(c echo.Context) error {
	code, ok := pathCode(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid parking code"})
	}
	a, ok := actor(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	x, err := h.Svc.RequestExtensionAs(c.Request().Context(), a, int(code))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"parking_code":  x.ParkingCode,
		"spot_id":       x.SpotID,
		"estimated_end": x.EstimatedEnd,
		"hours_granted": x.HoursGranted(),
	})
}

// MyHistory handles GET /v1/my-history?limit=N.
func (h *ParkingHandler) MyHistory(c echo.Context) error {
	a, ok := actor(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	limit := 50
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid limit"})
		}
		limit = n
	}
	ss, err := h.Svc.History(c.Request().Context(), a.UserID, limit)
	if err != nil {
		return fail(c, err)
	}
	out := make([]sessionView, 0, len(ss))
	for _, s := range ss {
		out = append(out, toSessionView(s))
	}
	return c.JSON(http.StatusOK, out)
}

// LostCode handles GET /v1/my-session/code.
func (h *ParkingHandler) LostCode(c echo.Context) error {
	a, ok := actor(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	s, err := h.Svc.LostCode(c.Request().Context(), a.UserID)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"parking_code": s.Code, "spot_id": s.SpotID, "estimated_end": s.EstimatedEnd})
}

// ----- staff -----

type extendReq struct {
	Hours int `json:"hours"`
}

// Extend handles POST /v1/sessions/:code/extend.
func (h *ParkingHandler) Extend(c echo.Context) error {
	code, ok := pathCode(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid parking code"})
	}
	var req extendReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	x, err := h.Svc.Extend(c.Request().Context(), int(code), req.Hours)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"parking_code":  x.ParkingCode,
		"estimated_end": x.EstimatedEnd,
		"hours_granted": x.HoursGranted(),
	})
}

// ActiveSessions handles GET /v1/sessions/active.
func (h *ParkingHandler) ActiveSessions(c echo.Context) error {
	ss, err := h.Svc.ActiveSessions(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}
	out := make([]sessionView, 0, len(ss))
	for _, s := range ss {
		out = append(out, toSessionView(s))
	}
	return c.JSON(http.StatusOK, out)
}
