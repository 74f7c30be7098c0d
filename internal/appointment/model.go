package appointment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-scheduling/internal/interval"
)

type Type string

const (
	TypeEvaluation  Type = "evaluation"
	TypeSession     Type = "session"
	TypeReturn      Type = "return"
	TypeGroupClass  Type = "group_class"
	TypeUrgent      Type = "urgent"
	TypeTeleconsult Type = "teleconsult"
)

var AllTypes = []Type{TypeEvaluation, TypeSession, TypeReturn, TypeGroupClass, TypeUrgent, TypeTeleconsult}

func (t Type) Valid() bool {
	for _, v := range AllTypes {
		if v == t {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

var AllStatuses = []Status{StatusScheduled, StatusCompleted, StatusDone, StatusCancelled, StatusNoShow}

// ActiveStatuses are the statuses that occupy a practitioner's calendar.
var ActiveStatuses = []Status{StatusScheduled, StatusCompleted}

func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	PractitionerID  uuid.UUID
	Interval        interval.Interval
	Type            Type
	Status          Status
	SeriesID        *uuid.UUID
	OccurrenceIndex int
	OccurrenceCount int
	Value           decimal.Decimal
	PaymentStatus   PaymentStatus
	Notes           string
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// HasDocumentation is computed from clinical notes and assessment results
	// at read time. It is never persisted.
	HasDocumentation bool
}

func (a Appointment) InSeries() bool {
	return a.SeriesID != nil
}

// View is the response shape for a single appointment. The derived flags are
// evaluated against the clock at the time the view is built.
type View struct {
	Appointment

	PatientName      string
	PractitionerName string
	DurationMinutes  int
	IsToday          bool
	IsPast           bool
	IsFuture         bool
}

// NewView derives duration and relative-time flags for a. An appointment in
// progress is neither past nor future.
func NewView(a Appointment, now time.Time) View {
	return View{
		Appointment:     a,
		DurationMinutes: a.Interval.Minutes(),
		IsToday:         interval.SameDate(a.Interval.Start, now),
		IsPast:          !a.Interval.End.After(now),
		IsFuture:        a.Interval.Start.After(now),
	}
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

type Person struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// DocumentKind distinguishes the clinical records that can be attached to an appointment.
type DocumentKind string

const (
	DocumentClinicalNote     DocumentKind = "clinical_note"
	DocumentAssessmentResult DocumentKind = "assessment_result"
)
