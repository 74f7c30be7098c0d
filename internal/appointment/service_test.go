package appointment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/interval"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	"github.com/hackgods/clinic-scheduling/internal/recurrence"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

func TestCreateRejectsOverlapAndAcceptsBoundaryTouch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(t, f.alice, span(10, 9, 0, 10, 0))

	_, err := f.svc.Create(ctx, f.request(f.bob, span(10, 9, 30, 10, 30)))
	require.ErrorIs(t, err, ErrSchedulingConflict)
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "Alice Martins", conflict.PatientName)

	v := f.book(t, f.bob, span(10, 10, 0, 11, 0))
	assert.Equal(t, StatusScheduled, v.Status)
	assert.Equal(t, 2, f.repo.Count())
}

func TestCreateReturnsDerivedFields(t *testing.T) {
	f := newFixture(t)

	v := f.book(t, f.alice, span(10, 9, 0, 10, 30))
	assert.Equal(t, 90, v.DurationMinutes)
	assert.True(t, v.IsToday)
	assert.True(t, v.IsFuture)
	assert.False(t, v.IsPast)
	assert.Equal(t, "Alice Martins", v.PatientName)
	assert.Equal(t, "Dr. Carla Lima", v.PractitionerName)
	assert.Equal(t, PaymentPending, v.PaymentStatus)
	assert.Equal(t, f.now, v.CreatedAt)
}

func TestCreateValidatesBeforeWriting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, f.request(f.alice, span(10, 10, 0, 10, 0)))
	assert.ErrorIs(t, err, interval.ErrInvalidInterval)

	req := f.request(f.alice, span(10, 9, 0, 10, 0))
	req.Type = "massage"
	_, err = f.svc.Create(ctx, req)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	req = f.request(f.alice, span(10, 9, 0, 10, 0))
	req.Recurrence = &recurrence.Rule{Frequency: recurrence.Weekly, Until: at(24, 0, 0)}
	_, err = f.svc.Create(ctx, req)
	assert.ErrorIs(t, err, recurrence.ErrInvalidRecurrence)

	_, err = f.svc.Create(ctx, f.request(uuid.New(), span(10, 9, 0, 10, 0)))
	assert.ErrorIs(t, err, ErrPatientNotFound)
	assert.ErrorIs(t, err, ErrNotFound)

	req = f.request(f.alice, span(10, 9, 0, 10, 0))
	req.PractitionerID = uuid.New()
	_, err = f.svc.Create(ctx, req)
	assert.ErrorIs(t, err, ErrPractitionerNotFound)

	assert.Zero(t, f.repo.Count())
	assert.Empty(t, f.repo.Events())
}

func TestCreateSeriesMaterializesEveryOccurrence(t *testing.T) {
	f := newFixture(t)
	req := f.request(f.alice, span(10, 9, 0, 9, 30))
	req.Recurrence = &recurrence.Rule{
		Frequency:  recurrence.Weekly,
		DaysOfWeek: []time.Weekday{time.Monday, time.Wednesday},
		Until:      at(24, 0, 0),
	}

	res, err := f.svc.Create(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, res.SeriesID)
	require.Len(t, res.Appointments, 5)

	days := []int{10, 12, 17, 19, 24}
	for i, v := range res.Appointments {
		assert.Equal(t, at(days[i], 9, 0), v.Interval.Start)
		assert.Equal(t, i+1, v.OccurrenceIndex)
		assert.Equal(t, 5, v.OccurrenceCount)
		assert.Equal(t, *res.SeriesID, *v.SeriesID)
		assert.Equal(t, TypeSession, v.Type)
	}

	series, err := f.repo.ListSeries(context.Background(), *res.SeriesID)
	require.NoError(t, err)
	assert.Len(t, series, 5)

	var created, seriesEvents int
	for _, ev := range f.repo.Events() {
		switch ev.EventType {
		case notify.EventAppointmentCreated:
			created++
		case notify.EventSeriesCreated:
			seriesEvents++
		}
	}
	assert.Equal(t, 5, created)
	assert.Equal(t, 1, seriesEvents)
	assert.Len(t, f.notifier.Events(), 6)
}

func TestCreateSeriesIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	blocker := f.book(t, f.bob, span(17, 9, 15, 9, 45))
	eventsBefore := len(f.repo.Events())

	req := f.request(f.alice, span(10, 9, 0, 9, 30))
	req.Recurrence = &recurrence.Rule{
		Frequency:  recurrence.Weekly,
		DaysOfWeek: []time.Weekday{time.Monday, time.Wednesday},
		Until:      at(26, 0, 0),
	}

	_, err := f.svc.Create(context.Background(), req)
	require.ErrorIs(t, err, ErrSchedulingConflict)

	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, 3, conflict.OccurrenceIndex)
	assert.Equal(t, blocker.ID, conflict.ExistingID)
	assert.Equal(t, "Bob Souza", conflict.PatientName)

	assert.Equal(t, 1, f.repo.Count(), "no occurrence of the failed series is persisted")
	assert.Len(t, f.repo.Events(), eventsBefore)
}

func TestConcurrentCreatesForSameSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	start := make(chan struct{})
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, errs[i] = f.svc.Create(ctx, f.request(f.alice, span(10, 14, 0, 15, 0)))
		}()
	}
	close(start)
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrSchedulingConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, conflicts)
	assert.Equal(t, 1, f.repo.Count())
}

func TestCancelWithoutDocumentation(t *testing.T) {
	f := newFixture(t)
	v := f.book(t, f.alice, span(10, 9, 0, 10, 0))

	cancelled, err := f.svc.Cancel(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	// the row is kept
	got, err := f.svc.Get(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)

	// and no longer blocks the slot
	f.book(t, f.bob, span(10, 9, 0, 10, 0))
}

func TestCancelDocumentedAppointmentIsRefused(t *testing.T) {
	f := newFixture(t)
	v := f.book(t, f.alice, span(10, 9, 0, 10, 0))
	require.NoError(t, f.repo.AttachDocument(v.ID, DocumentClinicalNote))

	_, err := f.svc.Cancel(context.Background(), v.ID)
	require.ErrorIs(t, err, ErrDocumentedAppointment)

	got, err := f.svc.Get(context.Background(), v.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, got.Status)
	assert.True(t, got.HasDocumentation)
}

func TestTransitionFollowsLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.book(t, f.alice, span(10, 9, 0, 10, 0))

	got, err := f.svc.Transition(ctx, v.ID, ActionComplete)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)

	_, err = f.svc.Transition(ctx, v.ID, ActionCancel)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	got, err = f.svc.Transition(ctx, v.ID, ActionFinish)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, got.Status)

	_, err = f.svc.Transition(ctx, uuid.New(), ActionComplete)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestRescheduleExcludesItself(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.book(t, f.alice, span(10, 9, 0, 10, 0))

	moved, err := f.svc.Reschedule(ctx, v.ID, RescheduleRequest{Interval: span(10, 9, 30, 10, 30)})
	require.NoError(t, err)
	assert.Equal(t, span(10, 9, 30, 10, 30), moved.Interval)

	events := f.repo.Events()
	assert.Equal(t, notify.EventAppointmentRescheduled, events[len(events)-1].EventType)
}

func TestRescheduleConflictLeavesOriginalUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(t, f.bob, span(10, 11, 0, 12, 0))
	v := f.book(t, f.alice, span(10, 9, 0, 10, 0))

	_, err := f.svc.Reschedule(ctx, v.ID, RescheduleRequest{Interval: span(10, 11, 30, 12, 30)})
	require.ErrorIs(t, err, ErrSchedulingConflict)

	got, err := f.svc.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, span(10, 9, 0, 10, 0), got.Interval)
}

func TestRescheduleToAnotherPractitioner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := uuid.New()
	f.practitioners.Add(other, "Dr. Davi Rocha")
	v := f.book(t, f.alice, span(10, 9, 0, 10, 0))

	moved, err := f.svc.Reschedule(ctx, v.ID, RescheduleRequest{Interval: span(10, 9, 0, 10, 0), PractitionerID: &other})
	require.NoError(t, err)
	assert.Equal(t, other, moved.PractitionerID)
	assert.Equal(t, "Dr. Davi Rocha", moved.PractitionerName)

	// the original practitioner is free again
	f.book(t, f.bob, span(10, 9, 0, 10, 0))

	missing := uuid.New()
	_, err = f.svc.Reschedule(ctx, v.ID, RescheduleRequest{Interval: span(10, 9, 0, 10, 0), PractitionerID: &missing})
	assert.ErrorIs(t, err, ErrPractitionerNotFound)
}

func TestRescheduleToAnotherPractitionerHoldsSourceLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := uuid.New()
	f.practitioners.Add(other, "Dr. Davi Rocha")
	v := f.book(t, f.alice, span(10, 9, 0, 10, 0))

	locker := redisclient.NewLocalPractitionerLocker(50 * time.Millisecond)
	svc := NewService(f.repo, locker, Deps{
		Patients:      f.patients,
		Practitioners: f.practitioners,
		Documentation: f.repo,
		Clock:         clock.Fixed(f.now),
		Logger:        zap.NewNop(),
	}, config.Config{})

	err := locker.WithPractitionerLock(ctx, v.PractitionerID, func(ctx context.Context) error {
		_, err := svc.Reschedule(ctx, v.ID, RescheduleRequest{Interval: span(10, 9, 0, 10, 0), PractitionerID: &other})
		return err
	})
	require.ErrorIs(t, err, redisclient.ErrLockNotAcquired)

	got, err := f.svc.Get(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, f.practitioner, got.PractitionerID)
}

func TestLockOrderIsStable(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	b := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	assert.Equal(t, []uuid.UUID{a, b}, lockOrder(b, a))
	assert.Equal(t, []uuid.UUID{a, b}, lockOrder(a, b))
	assert.Equal(t, []uuid.UUID{a}, lockOrder(a, a))
}

func TestRescheduleRequiresScheduled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.book(t, f.alice, span(10, 9, 0, 10, 0))
	_, err := f.svc.Cancel(ctx, v.ID)
	require.NoError(t, err)

	_, err = f.svc.Reschedule(ctx, v.ID, RescheduleRequest{Interval: span(10, 11, 0, 12, 0)})
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestDeleteGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	plain := f.book(t, f.alice, span(10, 9, 0, 10, 0))
	require.NoError(t, f.svc.Delete(ctx, plain.ID))
	_, err := f.svc.Get(ctx, plain.ID)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	documented := f.book(t, f.alice, span(10, 11, 0, 12, 0))
	require.NoError(t, f.repo.AttachDocument(documented.ID, DocumentAssessmentResult))
	assert.ErrorIs(t, f.svc.Delete(ctx, documented.ID), ErrDocumentedAppointment)

	completed := f.book(t, f.alice, span(10, 13, 0, 14, 0))
	_, err = f.svc.Transition(ctx, completed.ID, ActionComplete)
	require.NoError(t, err)
	assert.ErrorIs(t, f.svc.Delete(ctx, completed.ID), ErrInvalidStatusTransition)

	assert.Equal(t, 2, f.repo.Count())
}

func TestCancelSeriesFromDate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := f.request(f.alice, span(10, 9, 0, 9, 30))
	req.Recurrence = &recurrence.Rule{
		Frequency:  recurrence.Weekly,
		DaysOfWeek: []time.Weekday{time.Monday, time.Wednesday},
		Until:      at(24, 0, 0),
	}
	res, err := f.svc.Create(ctx, req)
	require.NoError(t, err)

	// 3/19 has a SOAP note
	documented := res.Appointments[3]
	require.NoError(t, f.repo.AttachDocument(documented.ID, DocumentClinicalNote))

	out, err := f.svc.CancelSeries(ctx, *res.SeriesID, at(17, 0, 0))
	require.NoError(t, err)
	assert.Len(t, out.Cancelled, 2)
	assert.Equal(t, []uuid.UUID{documented.ID}, out.Documented)

	series, err := f.repo.ListSeries(ctx, *res.SeriesID)
	require.NoError(t, err)
	want := []Status{StatusScheduled, StatusScheduled, StatusCancelled, StatusScheduled, StatusCancelled}
	for i, a := range series {
		assert.Equal(t, want[i], a.Status, "occurrence %d", a.OccurrenceIndex)
	}

	_, err = f.svc.CancelSeries(ctx, uuid.New(), at(17, 0, 0))
	assert.ErrorIs(t, err, ErrSeriesNotFound)
}

func TestSweepNoShows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// the fixture clock sits at 2025-03-10 07:00
	overdue := existing(f.practitioner, f.alice, span(8, 9, 0, 10, 0), StatusScheduled)
	documented := existing(f.practitioner, f.alice, span(8, 11, 0, 12, 0), StatusScheduled)
	recent := existing(f.practitioner, f.alice, span(9, 20, 0, 21, 0), StatusScheduled)
	completed := existing(f.practitioner, f.alice, span(8, 13, 0, 14, 0), StatusCompleted)
	seed(t, f.repo, overdue, documented, recent, completed)
	require.NoError(t, f.repo.AttachDocument(documented.ID, DocumentClinicalNote))

	marked, err := f.svc.SweepNoShows(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	statuses := map[uuid.UUID]Status{}
	for _, id := range []uuid.UUID{overdue.ID, documented.ID, recent.ID, completed.ID} {
		a, err := f.repo.GetByID(ctx, id)
		require.NoError(t, err)
		statuses[id] = a.Status
	}
	assert.Equal(t, StatusNoShow, statuses[overdue.ID])
	assert.Equal(t, StatusScheduled, statuses[documented.ID])
	assert.Equal(t, StatusScheduled, statuses[recent.ID])
	assert.Equal(t, StatusCompleted, statuses[completed.ID])

	marked, err = f.svc.SweepNoShows(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, marked)
}

func TestListReturnsRangeInOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(t, f.bob, span(10, 14, 0, 15, 0))
	f.book(t, f.alice, span(10, 9, 0, 10, 0))
	f.book(t, f.alice, span(11, 9, 0, 10, 0))

	views, err := f.svc.List(ctx, f.practitioner, interval.Day(at(10, 0, 0)))
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, at(10, 9, 0), views[0].Interval.Start)
	assert.Equal(t, "Bob Souza", views[1].PatientName)

	_, err = f.svc.List(ctx, uuid.New(), interval.Day(at(10, 0, 0)))
	assert.ErrorIs(t, err, ErrPractitionerNotFound)
}

func TestPublishFailureDoesNotUndoWrite(t *testing.T) {
	f := newFixture(t)
	f.svc.notifier = failingPublisher{}

	v := f.book(t, f.alice, span(10, 9, 0, 10, 0))
	_, err := f.repo.GetByID(context.Background(), v.ID)
	assert.NoError(t, err)
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, notify.Event) error {
	return errors.New("broker unavailable")
}
