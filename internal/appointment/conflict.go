package appointment

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/interval"
)

// OverlapFinder is the persistence query backing conflict detection.
type OverlapFinder interface {
	FindOverlapping(ctx context.Context, practitionerID uuid.UUID, iv interval.Interval, excludeID uuid.UUID, statuses []Status) ([]Appointment, error)
}

// ConflictDetector decides whether candidate intervals collide with a
// practitioner's active appointments. It must run inside the same practitioner
// transaction as the write that follows it.
type ConflictDetector struct {
	finder   OverlapFinder
	patients Directory
}

// NewConflictDetector builds a detector. patients may be nil, in which case
// conflict reports carry no patient name.
func NewConflictDetector(finder OverlapFinder, patients Directory) *ConflictDetector {
	return &ConflictDetector{finder: finder, patients: patients}
}

func activeOrDefault(statuses []Status) []Status {
	if len(statuses) == 0 {
		return ActiveStatuses
	}
	return statuses
}

// first returns the earliest existing appointment overlapping candidate, or nil.
func (d *ConflictDetector) first(ctx context.Context, practitionerID uuid.UUID, candidate interval.Interval, excludeID uuid.UUID, statuses []Status) (*Appointment, error) {
	statuses = activeOrDefault(statuses)
	found, err := d.finder.FindOverlapping(ctx, practitionerID, candidate, excludeID, statuses)
	if err != nil {
		return nil, persistence("find overlapping appointments", err)
	}
	for _, a := range found {
		// the store filter is trusted for speed, not for correctness
		if a.ID == excludeID || !slices.Contains(statuses, a.Status) || !interval.Overlaps(a.Interval, candidate) {
			continue
		}
		return &a, nil
	}
	return nil, nil
}

// HasConflict reports whether any appointment with a status in statuses
// overlaps candidate. An empty statuses slice means ActiveStatuses.
func (d *ConflictDetector) HasConflict(ctx context.Context, practitionerID uuid.UUID, candidate interval.Interval, excludeID uuid.UUID, statuses []Status) (bool, error) {
	if err := candidate.Validate(); err != nil {
		return false, err
	}
	existing, err := d.first(ctx, practitionerID, candidate, excludeID, statuses)
	if err != nil {
		return false, err
	}
	return existing != nil, nil
}

// Check returns a *ConflictError describing the collision, or nil.
func (d *ConflictDetector) Check(ctx context.Context, practitionerID uuid.UUID, candidate interval.Interval, excludeID uuid.UUID) error {
	if err := candidate.Validate(); err != nil {
		return err
	}
	existing, err := d.first(ctx, practitionerID, candidate, excludeID, nil)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	return &ConflictError{
		ExistingID:  existing.ID,
		PatientName: d.patientName(ctx, existing.PatientID),
		Existing:    existing.Interval,
		Candidate:   candidate,
	}
}

// CheckAll checks every occurrence of a series in order and stops at the first
// conflict. Occurrences that overlap each other are reported as conflicts too.
func (d *ConflictDetector) CheckAll(ctx context.Context, practitionerID uuid.UUID, occurrences []interval.Interval) error {
	for i, candidate := range occurrences {
		for j := range i {
			if interval.Overlaps(occurrences[j], candidate) {
				return &ConflictError{
					Existing:        occurrences[j],
					Candidate:       candidate,
					OccurrenceIndex: i + 1,
					PatientName:     fmt.Sprintf("occurrence %d of this series", j+1),
				}
			}
		}

		err := d.Check(ctx, practitionerID, candidate, uuid.Nil)
		if err == nil {
			continue
		}
		var conflict *ConflictError
		if errors.As(err, &conflict) && len(occurrences) > 1 {
			conflict.OccurrenceIndex = i + 1
		}
		return err
	}
	return nil
}

func (d *ConflictDetector) patientName(ctx context.Context, patientID uuid.UUID) string {
	if d.patients == nil {
		return ""
	}
	name, err := d.patients.GetName(ctx, patientID)
	if err != nil {
		return ""
	}
	return name
}
