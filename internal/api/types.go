package api

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/calendar"
	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/recurrence"
)

// TimestampLayout is the wire format of appointment times. They carry no zone.
const TimestampLayout = "2006-01-02T15:04:05"

var validate = validator.New()

// Timestamp is a timezone-naive wall-clock time.
type Timestamp time.Time

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if time.Time(t).IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + time.Time(t).Format(TimestampLayout) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}
	parsed, err := parseTimestamp(s)
	if err != nil {
		return err
	}
	*t = Timestamp(parsed)
	return nil
}

func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

// parseTimestamp accepts the naive layout, RFC3339 (the zone is dropped) and bare dates.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{TimestampLayout, "2006-01-02T15:04", time.DateOnly} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return clock.Naive(t), nil
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q, expected %s", s, TimestampLayout)
}

// Weekday accepts 0-6 or day names.
type Weekday time.Weekday

func (d *Weekday) UnmarshalJSON(data []byte) error {
	token := string(data)
	if unquoted, err := strconv.Unquote(token); err == nil {
		token = unquoted
	}
	wd, err := recurrence.ParseWeekday(token)
	if err != nil {
		return err
	}
	*d = Weekday(wd)
	return nil
}

type RecurrenceRequest struct {
	Frequency  string    `json:"frequency" validate:"required"`
	DaysOfWeek []Weekday `json:"days_of_week" validate:"required,min=1,max=7"`
	Until      Timestamp `json:"until"`
}

func (r RecurrenceRequest) rule() recurrence.Rule {
	days := make([]time.Weekday, len(r.DaysOfWeek))
	for i, d := range r.DaysOfWeek {
		days[i] = time.Weekday(d)
	}
	return recurrence.Rule{
		Frequency:  recurrence.Frequency(strings.ToLower(r.Frequency)),
		DaysOfWeek: days,
		Until:      r.Until.Time(),
	}
}

type CreateAppointmentRequest struct {
	PatientID      string             `json:"patient_id" validate:"required,uuid"`
	PractitionerID string             `json:"practitioner_id" validate:"required,uuid"`
	Start          Timestamp          `json:"start"`
	End            Timestamp          `json:"end"`
	Type           string             `json:"type" validate:"required,oneof=evaluation session return group_class urgent teleconsult"`
	Value          decimal.Decimal    `json:"value"`
	PaymentStatus  string             `json:"payment_status" validate:"omitempty,oneof=pending paid refunded"`
	Notes          string             `json:"notes" validate:"max=2000"`
	Recurrence     *RecurrenceRequest `json:"recurrence" validate:"omitempty"`
}

type RescheduleAppointmentRequest struct {
	Start          Timestamp `json:"start"`
	End            Timestamp `json:"end"`
	PractitionerID string    `json:"practitioner_id" validate:"omitempty,uuid"`
}

type StatusRequest struct {
	Action string `json:"action" validate:"required"`
}

type CancelSeriesRequest struct {
	From Timestamp `json:"from"`
}

type AppointmentResponse struct {
	ID               uuid.UUID       `json:"id"`
	PatientID        uuid.UUID       `json:"patient_id"`
	PatientName      string          `json:"patient_name,omitempty"`
	PractitionerID   uuid.UUID       `json:"practitioner_id"`
	PractitionerName string          `json:"practitioner_name,omitempty"`
	Start            Timestamp       `json:"start"`
	End              Timestamp       `json:"end"`
	Type             string          `json:"type"`
	Status           string          `json:"status"`
	SeriesID         *uuid.UUID      `json:"series_id,omitempty"`
	OccurrenceIndex  int             `json:"occurrence_index,omitempty"`
	OccurrenceCount  int             `json:"occurrence_count,omitempty"`
	Value            decimal.Decimal `json:"value"`
	PaymentStatus    string          `json:"payment_status"`
	Notes            string          `json:"notes,omitempty"`
	HasDocumentation bool            `json:"has_documentation"`
	Duration         int             `json:"duration"`
	IsToday          bool            `json:"is_today"`
	IsPast           bool            `json:"is_past"`
	IsFuture         bool            `json:"is_future"`
	CreatedAt        Timestamp       `json:"created_at"`
	UpdatedAt        Timestamp       `json:"updated_at"`
}

func toAppointmentResponse(v appointment.View) AppointmentResponse {
	return AppointmentResponse{
		ID:               v.ID,
		PatientID:        v.PatientID,
		PatientName:      v.PatientName,
		PractitionerID:   v.PractitionerID,
		PractitionerName: v.PractitionerName,
		Start:            Timestamp(v.Interval.Start),
		End:              Timestamp(v.Interval.End),
		Type:             string(v.Type),
		Status:           string(v.Status),
		SeriesID:         v.SeriesID,
		OccurrenceIndex:  v.OccurrenceIndex,
		OccurrenceCount:  v.OccurrenceCount,
		Value:            v.Value,
		PaymentStatus:    string(v.PaymentStatus),
		Notes:            v.Notes,
		HasDocumentation: v.HasDocumentation,
		Duration:         v.DurationMinutes,
		IsToday:          v.IsToday,
		IsPast:           v.IsPast,
		IsFuture:         v.IsFuture,
		CreatedAt:        Timestamp(v.CreatedAt),
		UpdatedAt:        Timestamp(v.UpdatedAt),
	}
}

func toAppointmentResponses(views []appointment.View) []AppointmentResponse {
	out := make([]AppointmentResponse, len(views))
	for i, v := range views {
		out[i] = toAppointmentResponse(v)
	}
	return out
}

type CreateAppointmentResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	SeriesID     *uuid.UUID            `json:"series_id,omitempty"`
}

type ListAppointmentsResponse struct {
	Appointments []AppointmentResponse `json:"appointments"`
	From         Timestamp             `json:"from"`
	To           Timestamp             `json:"to"`
}

type CancelSeriesResponse struct {
	SeriesID   uuid.UUID             `json:"series_id"`
	Cancelled  []AppointmentResponse `json:"cancelled"`
	Documented []uuid.UUID           `json:"documented"`
}

type CalendarEvent struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	PatientName     string     `json:"patient_name,omitempty"`
	Title           string     `json:"title"`
	Start           Timestamp  `json:"start"`
	End             Timestamp  `json:"end"`
	Status          string     `json:"status"`
	Type            string     `json:"type"`
	PaymentStatus   string     `json:"payment_status"`
	SeriesID        *uuid.UUID `json:"series_id,omitempty"`
	DurationMinutes int        `json:"duration"`
	Tags            []string   `json:"tags"`
}

type CalendarSlot struct {
	Start         Timestamp  `json:"start"`
	End           Timestamp  `json:"end"`
	Available     bool       `json:"available"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
}

type CalendarResponse struct {
	PractitionerID uuid.UUID        `json:"practitioner_id"`
	View           string           `json:"view"`
	From           Timestamp        `json:"from"`
	To             Timestamp        `json:"to"`
	Events         []CalendarEvent  `json:"events"`
	Slots          []CalendarSlot   `json:"slots"`
	Summary        calendar.Summary `json:"summary"`
}

func toCalendarResponse(c *calendar.Calendar) CalendarResponse {
	resp := CalendarResponse{
		PractitionerID: c.PractitionerID,
		View:           string(c.View),
		From:           Timestamp(c.Range.Start),
		To:             Timestamp(c.Range.End),
		Events:         make([]CalendarEvent, len(c.Events)),
		Slots:          make([]CalendarSlot, len(c.Slots)),
		Summary:        c.Summary,
	}
	for i, e := range c.Events {
		resp.Events[i] = CalendarEvent{
			ID:              e.ID,
			PatientID:       e.PatientID,
			PatientName:     e.PatientName,
			Title:           e.Title,
			Start:           Timestamp(e.Start),
			End:             Timestamp(e.End),
			Status:          string(e.Status),
			Type:            string(e.Type),
			PaymentStatus:   string(e.PaymentStatus),
			SeriesID:        e.SeriesID,
			DurationMinutes: e.DurationMinutes,
			Tags:            e.Tags,
		}
	}
	for i, s := range c.Slots {
		resp.Slots[i] = CalendarSlot{
			Start:         Timestamp(s.Start),
			End:           Timestamp(s.End),
			Available:     s.Available,
			AppointmentID: s.AppointmentID,
		}
	}
	return resp
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
