package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/interval"
)

type handlers struct {
	svc      Scheduler
	calendar CalendarBuilder
	log      *zap.Logger
	clock    clock.Clock
}

func parseID(w http.ResponseWriter, r *http.Request, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}

	// uuid format is guaranteed by validation
	in := appointment.CreateRequest{
		PatientID:      uuid.MustParse(req.PatientID),
		PractitionerID: uuid.MustParse(req.PractitionerID),
		Interval:       interval.Interval{Start: req.Start.Time(), End: req.End.Time()},
		Type:           appointment.Type(req.Type),
		Value:          req.Value,
		PaymentStatus:  appointment.PaymentStatus(req.PaymentStatus),
		Notes:          req.Notes,
	}
	if req.Recurrence != nil {
		rule := req.Recurrence.rule()
		in.Recurrence = &rule
	}

	res, err := h.svc.Create(r.Context(), in)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusCreated, CreateAppointmentResponse{
		Appointments: toAppointmentResponses(res.Appointments),
		SeriesID:     res.SeriesID,
	})
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "invalid_appointment_id")
	if !ok {
		return
	}

	v, err := h.svc.Get(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(*v))
}

func (h *handlers) rescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "invalid_appointment_id")
	if !ok {
		return
	}

	var req RescheduleAppointmentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}

	in := appointment.RescheduleRequest{
		Interval: interval.Interval{Start: req.Start.Time(), End: req.End.Time()},
	}
	if req.PractitionerID != "" {
		practitionerID := uuid.MustParse(req.PractitionerID)
		in.PractitionerID = &practitionerID
	}

	v, err := h.svc.Reschedule(r.Context(), id, in)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(*v))
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "invalid_appointment_id")
	if !ok {
		return
	}

	v, err := h.svc.Cancel(r.Context(), id)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(*v))
}

func (h *handlers) transitionAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "invalid_appointment_id")
	if !ok {
		return
	}

	var req StatusRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
		return
	}

	action, err := appointment.ParseAction(req.Action)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	v, err := h.svc.Transition(r.Context(), id, action)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, toAppointmentResponse(*v))
}

func (h *handlers) deleteAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "invalid_appointment_id")
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) cancelSeries(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "invalid_series_id")
	if !ok {
		return
	}

	var req CancelSeriesRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", err.Error())
			return
		}
	}

	res, err := h.svc.CancelSeries(r.Context(), id, req.From.Time())
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, CancelSeriesResponse{
		SeriesID:   res.SeriesID,
		Cancelled:  toAppointmentResponses(res.Cancelled),
		Documented: res.Documented,
	})
}

func (h *handlers) listPractitionerAppointments(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "invalid_practitioner_id")
	if !ok {
		return
	}

	rng, err := rangeFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_range", err.Error())
		return
	}

	views, err := h.svc.List(r.Context(), id, rng)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, ListAppointmentsResponse{
		Appointments: toAppointmentResponses(views),
		From:         Timestamp(rng.Start),
		To:           Timestamp(rng.End),
	})
}

// rangeFromQuery reads from/to. A bare date as "to" includes that whole day.
func rangeFromQuery(r *http.Request) (interval.Interval, error) {
	q := r.URL.Query()
	fromRaw, toRaw := q.Get("from"), q.Get("to")
	if fromRaw == "" || toRaw == "" {
		return interval.Interval{}, fmt.Errorf("from and to are required")
	}

	from, err := parseTimestamp(fromRaw)
	if err != nil {
		return interval.Interval{}, err
	}
	to, err := parseTimestamp(toRaw)
	if err != nil {
		return interval.Interval{}, err
	}
	if _, err := time.Parse(time.DateOnly, toRaw); err == nil {
		to = to.AddDate(0, 0, 1)
	}
	return interval.New(from, to)
}

func (h *handlers) practitionerCalendar(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "invalid_practitioner_id")
	if !ok {
		return
	}

	view, err := calendar.ParseView(r.URL.Query().Get("view"))
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	date := h.clock.Now()
	if raw := r.URL.Query().Get("date"); raw != "" {
		date, err = time.Parse(time.DateOnly, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
	}

	cal, err := h.calendar.Build(r.Context(), id, view, date)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	writeJSON(w, http.StatusOK, toCalendarResponse(cal))
}
