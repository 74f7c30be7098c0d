package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/interval"
)

// Store contains all DB interactions needed by the service. Implementations are
// either bound to a connection pool or to a single practitioner transaction.
type Store interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListSeries(ctx context.Context, seriesID uuid.UUID) ([]Appointment, error)

	// For conflict checks. A zero excludeID excludes nothing.
	FindOverlapping(ctx context.Context, practitionerID uuid.UUID, iv interval.Interval, excludeID uuid.UUID, statuses []Status) ([]Appointment, error)

	// Creation and updates
	CreateMany(ctx context.Context, appts []Appointment) error
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)
	UpdateSchedule(ctx context.Context, id, practitionerID uuid.UUID, iv interval.Interval) (*Appointment, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// Read side: every appointment of a practitioner overlapping rng, ordered by start.
	Query(ctx context.Context, practitionerID uuid.UUID, rng interval.Interval) ([]Appointment, error)

	// No-show worker: scheduled, undocumented appointments that ended before endedBefore.
	FindOverdueScheduled(ctx context.Context, endedBefore time.Time, limit int) ([]Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}

// Repository is a Store that can run a unit of work serialized per practitioner.
// Writes made through the tx Store are applied only when fn returns nil.
type Repository interface {
	Store
	WithinPractitionerTx(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context, tx Store) error) error
}

// Directory resolves patients or practitioners owned by other services.
type Directory interface {
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	GetName(ctx context.Context, id uuid.UUID) (string, error)
}

// DocumentationLookup answers whether clinical notes or assessment results reference an appointment.
type DocumentationLookup interface {
	HasAnyDocumentation(ctx context.Context, appointmentID uuid.UUID) (bool, error)
}
