package appointment

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/interval"
	"github.com/hackgods/clinic-scheduling/internal/recurrence"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrPatientNotFound      = fmt.Errorf("patient %w", ErrNotFound)
	ErrPractitionerNotFound = fmt.Errorf("practitioner %w", ErrNotFound)
	ErrAppointmentNotFound  = fmt.Errorf("appointment %w", ErrNotFound)
	ErrSeriesNotFound       = fmt.Errorf("series %w", ErrNotFound)

	ErrSchedulingConflict      = errors.New("scheduling conflict")
	ErrDocumentedAppointment   = errors.New("appointment has clinical documentation; use a status update instead of cancelling or deleting it")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrInvalidRequest          = errors.New("invalid request")
	ErrConcurrentModification  = errors.New("appointment was modified concurrently")
	ErrPersistence             = errors.New("persistence failure")
)

// ConflictError reports the existing appointment a candidate collided with.
type ConflictError struct {
	ExistingID      uuid.UUID
	PatientName     string
	Existing        interval.Interval
	Candidate       interval.Interval
	OccurrenceIndex int // 1-based position in the requested series, 0 for single appointments
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", ErrSchedulingConflict, e.Details())
}

// Details is the user-facing explanation of the collision.
func (e *ConflictError) Details() string {
	who := e.PatientName
	if who == "" {
		who = "another patient"
	}
	msg := fmt.Sprintf("practitioner already has an appointment with %s at %s", who, e.Existing.Format())
	if e.OccurrenceIndex > 0 {
		msg = fmt.Sprintf("occurrence %d (%s): %s", e.OccurrenceIndex, e.Candidate.Format(), msg)
	}
	return msg
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrSchedulingConflict
}

// PersistenceError wraps storage failures. It is the only error class that
// should page anyone.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrPersistence, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// persistence wraps err as a PersistenceError unless it is already a domain error.
func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if isDomainError(err) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

func isDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrSchedulingConflict) ||
		errors.Is(err, ErrDocumentedAppointment) ||
		errors.Is(err, ErrInvalidStatusTransition) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, interval.ErrInvalidInterval) ||
		errors.Is(err, recurrence.ErrInvalidRecurrence) ||
		errors.Is(err, ErrPersistence)
}
