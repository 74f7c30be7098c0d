// Package notify publishes appointment lifecycle events to downstream channels
// (reminders, messaging, billing). Delivery itself happens elsewhere.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	EventAppointmentCreated       = "APPOINTMENT_CREATED"
	EventAppointmentRescheduled   = "APPOINTMENT_RESCHEDULED"
	EventAppointmentStatusChanged = "APPOINTMENT_STATUS_CHANGED"
	EventAppointmentCancelled     = "APPOINTMENT_CANCELLED"
	EventAppointmentDeleted       = "APPOINTMENT_DELETED"
	EventSeriesCreated            = "SERIES_CREATED"
)

type Event struct {
	Type           string     `json:"type"`
	AppointmentID  uuid.UUID  `json:"appointment_id"`
	PractitionerID uuid.UUID  `json:"practitioner_id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	SeriesID       *uuid.UUID `json:"series_id,omitempty"`
	Status         string     `json:"status"`
	Start          time.Time  `json:"start"`
	End            time.Time  `json:"end"`
	OccurredAt     time.Time  `json:"occurred_at"`
}

// Publisher delivers events after the owning transaction has committed.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

type nopPublisher struct{}

// Nop discards every event.
func Nop() Publisher {
	return nopPublisher{}
}

func (nopPublisher) Publish(context.Context, Event) error {
	return nil
}

// Recorder keeps published events in memory.
type Recorder struct {
	events []Event
	ch     chan Event
}

func NewRecorder() *Recorder {
	return &Recorder{ch: make(chan Event, 1024)}
}

func (r *Recorder) Publish(_ context.Context, ev Event) error {
	select {
	case r.ch <- ev:
	default:
	}
	return nil
}

// Events drains everything published so far.
func (r *Recorder) Events() []Event {
	for {
		select {
		case ev := <-r.ch:
			r.events = append(r.events, ev)
		default:
			return r.events
		}
	}
}
