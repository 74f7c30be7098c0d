// Package calendar projects a practitioner's appointments onto day, week and
// month grids with free/busy slots and summary figures.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/interval"
)

var ErrInvalidView = errors.New("invalid calendar view")

type ViewKind string

const (
	Day   ViewKind = "day"
	Week  ViewKind = "week"
	Month ViewKind = "month"
)

func ParseView(s string) (ViewKind, error) {
	switch v := ViewKind(strings.ToLower(strings.TrimSpace(s))); v {
	case Day, Week, Month:
		return v, nil
	case "":
		return Week, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidView, s)
}

// Window returns the date range covered by view around date. Weeks run Sunday
// to Saturday.
func Window(view ViewKind, date time.Time) (interval.Interval, error) {
	d := interval.Date(date)
	switch view {
	case Day:
		return interval.Day(d), nil
	case Week:
		start := d.AddDate(0, 0, -int(d.Weekday()))
		return interval.Interval{Start: start, End: start.AddDate(0, 0, 7)}, nil
	case Month:
		start := time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, d.Location())
		return interval.Interval{Start: start, End: start.AddDate(0, 1, 0)}, nil
	}
	return interval.Interval{}, fmt.Errorf("%w: %q", ErrInvalidView, view)
}

// WorkingHours is the daily window sliced into bookable slots.
type WorkingHours struct {
	Start       time.Duration // offset from midnight
	End         time.Duration
	Granularity time.Duration
}

var DefaultWorkingHours = WorkingHours{Start: 8 * time.Hour, End: 18 * time.Hour, Granularity: 30 * time.Minute}

func WorkingHoursFromConfig(cfg config.Config) (WorkingHours, error) {
	start, err := config.ParseClock(cfg.WorkingHoursStart)
	if err != nil {
		return WorkingHours{}, err
	}
	end, err := config.ParseClock(cfg.WorkingHoursEnd)
	if err != nil {
		return WorkingHours{}, err
	}
	wh := WorkingHours{Start: start, End: end, Granularity: cfg.SlotGranularity}
	if err := wh.validate(); err != nil {
		return WorkingHours{}, err
	}
	return wh, nil
}

func (wh WorkingHours) validate() error {
	if wh.End <= wh.Start || wh.End > 24*time.Hour {
		return fmt.Errorf("working hours %s-%s are not a valid daily window", wh.Start, wh.End)
	}
	if wh.Granularity <= 0 {
		return fmt.Errorf("slot granularity %s must be positive", wh.Granularity)
	}
	return nil
}

type Event struct {
	ID              uuid.UUID                 `json:"id"`
	PatientID       uuid.UUID                 `json:"patient_id"`
	PatientName     string                    `json:"patient_name"`
	Title           string                    `json:"title"`
	Start           time.Time                 `json:"start"`
	End             time.Time                 `json:"end"`
	Status          appointment.Status        `json:"status"`
	Type            appointment.Type          `json:"type"`
	PaymentStatus   appointment.PaymentStatus `json:"payment_status"`
	SeriesID        *uuid.UUID                `json:"series_id,omitempty"`
	DurationMinutes int                       `json:"duration_minutes"`
	Tags            []string                  `json:"tags"`
}

type Slot struct {
	Start         time.Time  `json:"start"`
	End           time.Time  `json:"end"`
	Available     bool       `json:"available"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
}

type Summary struct {
	Total     int                        `json:"total"`
	ByStatus  map[appointment.Status]int `json:"by_status"`
	ByType    map[appointment.Type]int   `json:"by_type"`
	Revenue   decimal.Decimal            `json:"revenue"`
	FreeSlots int                        `json:"free_slots"`
	BusySlots int                        `json:"busy_slots"`
}

type Calendar struct {
	PractitionerID uuid.UUID         `json:"practitioner_id"`
	View           ViewKind          `json:"view"`
	Range          interval.Interval `json:"range"`
	Events         []Event           `json:"events"`
	Slots          []Slot            `json:"slots"`
	Summary        Summary           `json:"summary"`
}

func emptySummary() Summary {
	s := Summary{
		ByStatus: make(map[appointment.Status]int, len(appointment.AllStatuses)),
		ByType:   make(map[appointment.Type]int, len(appointment.AllTypes)),
		Revenue:  decimal.Zero,
	}
	for _, st := range appointment.AllStatuses {
		s.ByStatus[st] = 0
	}
	for _, t := range appointment.AllTypes {
		s.ByType[t] = 0
	}
	return s
}

func Tags(a appointment.Appointment) []string {
	tags := []string{"status-" + string(a.Status), "type-" + string(a.Type)}
	if a.InSeries() {
		tags = append(tags, "series")
	}
	if a.HasDocumentation {
		tags = append(tags, "documented")
	}
	return tags
}

// Project builds the calendar for rng from appts. It performs no I/O; an empty
// appts yields zeroed summaries and fully available slots.
func Project(practitionerID uuid.UUID, view ViewKind, rng interval.Interval, appts []appointment.View, wh WorkingHours) Calendar {
	cal := Calendar{
		PractitionerID: practitionerID,
		View:           view,
		Range:          rng,
		Events:         make([]Event, 0, len(appts)),
		Slots:          []Slot{},
		Summary:        emptySummary(),
	}

	var busy []appointment.Appointment
	for _, v := range appts {
		a := v.Appointment
		if !interval.Overlaps(a.Interval, rng) {
			continue
		}

		title := string(a.Type)
		if v.PatientName != "" {
			title = v.PatientName + " - " + title
		}
		cal.Events = append(cal.Events, Event{
			ID:              a.ID,
			PatientID:       a.PatientID,
			PatientName:     v.PatientName,
			Title:           title,
			Start:           a.Interval.Start,
			End:             a.Interval.End,
			Status:          a.Status,
			Type:            a.Type,
			PaymentStatus:   a.PaymentStatus,
			SeriesID:        a.SeriesID,
			DurationMinutes: a.Interval.Minutes(),
			Tags:            Tags(a),
		})

		cal.Summary.Total++
		cal.Summary.ByStatus[a.Status]++
		cal.Summary.ByType[a.Type]++
		if a.PaymentStatus == appointment.PaymentPaid {
			cal.Summary.Revenue = cal.Summary.Revenue.Add(a.Value)
		}
		if slices.Contains(appointment.ActiveStatuses, a.Status) {
			busy = append(busy, a)
		}
	}

	slices.SortStableFunc(cal.Events, func(x, y Event) int { return x.Start.Compare(y.Start) })

	if wh.validate() != nil {
		wh = DefaultWorkingHours
	}
	for day := interval.Date(rng.Start); day.Before(rng.End); day = day.AddDate(0, 0, 1) {
		open := day.Add(wh.Start)
		closing := day.Add(wh.End)
		for start := open; start.Before(closing); start = start.Add(wh.Granularity) {
			end := start.Add(wh.Granularity)
			if end.After(closing) {
				end = closing
			}
			slotRange := interval.Interval{Start: start, End: end}
			if !interval.Overlaps(slotRange, rng) {
				continue
			}
			slot := Slot{Start: start, End: end, Available: true}
			for _, a := range busy {
				if interval.Overlaps(a.Interval, slotRange) {
					id := a.ID
					slot.Available = false
					slot.AppointmentID = &id
					break
				}
			}
			if slot.Available {
				cal.Summary.FreeSlots++
			} else {
				cal.Summary.BusySlots++
			}
			cal.Slots = append(cal.Slots, slot)
		}
	}

	return cal
}

// Lister reads a practitioner's appointments in a range.
type Lister interface {
	List(ctx context.Context, practitionerID uuid.UUID, rng interval.Interval) ([]appointment.View, error)
}

// Builder loads appointments and projects them. Reads are not coordinated with
// in-flight writes.
type Builder struct {
	lister Lister
	hours  WorkingHours
}

func NewBuilder(lister Lister, hours WorkingHours) *Builder {
	return &Builder{lister: lister, hours: hours}
}

func (b *Builder) Build(ctx context.Context, practitionerID uuid.UUID, view ViewKind, date time.Time) (*Calendar, error) {
	rng, err := Window(view, date)
	if err != nil {
		return nil, err
	}

	appts, err := b.lister.List(ctx, practitionerID, rng)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	cal := Project(practitionerID, view, rng, appts, b.hours)
	return &cal, nil
}
