package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/interval"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

// at returns a wall-clock time in March 2025. 2025-03-10 is a Monday.
func at(day, hour, minute int) time.Time {
	return time.Date(2025, time.March, day, hour, minute, 0, 0, time.UTC)
}

func span(day, startHour, startMinute, endHour, endMinute int) interval.Interval {
	return interval.Interval{Start: at(day, startHour, startMinute), End: at(day, endHour, endMinute)}
}

type fixture struct {
	svc           *Service
	repo          *MemoryRepository
	patients      *MemoryDirectory
	practitioners *MemoryDirectory
	notifier      *notify.Recorder

	now          time.Time
	practitioner uuid.UUID
	alice        uuid.UUID
	bob          uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		now:           at(10, 7, 0),
		patients:      NewMemoryDirectory(ErrPatientNotFound),
		practitioners: NewMemoryDirectory(ErrPractitionerNotFound),
		notifier:      notify.NewRecorder(),
		practitioner:  uuid.New(),
		alice:         uuid.New(),
		bob:           uuid.New(),
	}
	f.repo = NewMemoryRepository(func() time.Time { return f.now })
	f.patients.Add(f.alice, "Alice Martins")
	f.patients.Add(f.bob, "Bob Souza")
	f.practitioners.Add(f.practitioner, "Dr. Carla Lima")

	f.svc = NewService(f.repo, redisclient.NewLocalPractitionerLocker(2*time.Second), Deps{
		Patients:      f.patients,
		Practitioners: f.practitioners,
		Documentation: f.repo,
		Notifier:      f.notifier,
		Clock:         clock.Fixed(f.now),
		Logger:        zap.NewNop(),
	}, config.Config{})
	return f
}

func (f *fixture) request(patient uuid.UUID, iv interval.Interval) CreateRequest {
	return CreateRequest{
		PatientID:      patient,
		PractitionerID: f.practitioner,
		Interval:       iv,
		Type:           TypeSession,
		Value:          decimal.NewFromInt(150),
	}
}

func (f *fixture) book(t *testing.T, patient uuid.UUID, iv interval.Interval) View {
	t.Helper()
	res, err := f.svc.Create(context.Background(), f.request(patient, iv))
	require.NoError(t, err)
	require.Len(t, res.Appointments, 1)
	return res.Appointments[0]
}
