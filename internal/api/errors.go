package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/interval"
	"github.com/hackgods/clinic-scheduling/internal/recurrence"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// decode reads a JSON body into dst and runs struct validation.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("could not parse JSON: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(fields, "; "))
		}
		return err
	}
	return nil
}

// statusFor maps service errors onto HTTP responses.
func statusFor(err error) (int, string, string) {
	var conflict *appointment.ConflictError
	switch {
	case errors.As(err, &conflict):
		return http.StatusConflict, "scheduling_conflict", conflict.Details()
	case errors.Is(err, appointment.ErrSchedulingConflict):
		return http.StatusConflict, "scheduling_conflict", "practitioner already has an appointment in this time range"
	case errors.Is(err, appointment.ErrDocumentedAppointment):
		return http.StatusConflict, "documented_appointment", err.Error()
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		return http.StatusConflict, "invalid_status_transition", err.Error()
	case errors.Is(err, appointment.ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification", "appointment changed while the request was running, please retry"
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		return http.StatusConflict, "practitioner_busy", "practitioner calendar is being updated, please retry shortly"
	case errors.Is(err, appointment.ErrPatientNotFound):
		return http.StatusNotFound, "patient_not_found", err.Error()
	case errors.Is(err, appointment.ErrPractitionerNotFound):
		return http.StatusNotFound, "practitioner_not_found", err.Error()
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		return http.StatusNotFound, "appointment_not_found", err.Error()
	case errors.Is(err, appointment.ErrSeriesNotFound):
		return http.StatusNotFound, "series_not_found", err.Error()
	case errors.Is(err, appointment.ErrNotFound):
		return http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, interval.ErrInvalidInterval):
		return http.StatusBadRequest, "invalid_interval", err.Error()
	case errors.Is(err, recurrence.ErrInvalidRecurrence):
		return http.StatusBadRequest, "invalid_recurrence", err.Error()
	case errors.Is(err, calendar.ErrInvalidView):
		return http.StatusBadRequest, "invalid_view", err.Error()
	case errors.Is(err, appointment.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request", err.Error()
	default:
		return http.StatusInternalServerError, "internal_error", "unexpected persistence failure"
	}
}

func handleServiceError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	status, code, details := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeError(w, status, code, details)
}
