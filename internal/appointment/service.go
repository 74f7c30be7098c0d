package appointment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/clock"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/interval"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	"github.com/hackgods/clinic-scheduling/internal/recurrence"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

// noShowBatchSize caps how many overdue appointments one sweep handles.
const noShowBatchSize = 500

// Deps are the collaborators owned by other services. Nil entries fall back to
// permissive defaults, which is only appropriate in tests.
type Deps struct {
	Patients      Directory
	Practitioners Directory
	Documentation DocumentationLookup
	Notifier      notify.Publisher
	Clock         clock.Clock
	Logger        *zap.Logger
}

type Service struct {
	repo          Repository
	locker        redisclient.Locker
	patients      Directory
	practitioners Directory
	documentation DocumentationLookup
	notifier      notify.Publisher
	clock         clock.Clock
	log           *zap.Logger
	expander      *recurrence.Expander
	lifecycle     Lifecycle
}

func NewService(repo Repository, locker redisclient.Locker, deps Deps, cfg config.Config) *Service {
	s := &Service{
		repo:          repo,
		locker:        locker,
		patients:      deps.Patients,
		practitioners: deps.Practitioners,
		documentation: deps.Documentation,
		notifier:      deps.Notifier,
		clock:         deps.Clock,
		log:           deps.Logger,
		expander:      recurrence.NewExpander(cfg.RecurrenceHorizon),
	}
	if s.notifier == nil {
		s.notifier = notify.Nop()
	}
	if s.clock == nil {
		s.clock = clock.System()
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// CreateRequest books a single appointment, or a weekly series when Recurrence is set.
type CreateRequest struct {
	PatientID      uuid.UUID
	PractitionerID uuid.UUID
	Interval       interval.Interval
	Type           Type
	Value          decimal.Decimal
	PaymentStatus  PaymentStatus
	Notes          string
	Recurrence     *recurrence.Rule
}

type CreateResult struct {
	Appointments []View
	SeriesID     *uuid.UUID
}

// RescheduleRequest moves an appointment. A nil PractitionerID keeps the current one.
type RescheduleRequest struct {
	Interval       interval.Interval
	PractitionerID *uuid.UUID
}

// SeriesCancellation reports the outcome of CancelSeries. Documented holds the
// occurrences left untouched because clinical records reference them.
type SeriesCancellation struct {
	SeriesID   uuid.UUID
	Cancelled  []View
	Documented []uuid.UUID
}

func (r CreateRequest) validate() error {
	if err := r.Interval.Validate(); err != nil {
		return err
	}
	if r.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient_id is required", ErrInvalidRequest)
	}
	if r.PractitionerID == uuid.Nil {
		return fmt.Errorf("%w: practitioner_id is required", ErrInvalidRequest)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("%w: unknown appointment type %q", ErrInvalidRequest, r.Type)
	}
	if r.Value.IsNegative() {
		return fmt.Errorf("%w: value must not be negative", ErrInvalidRequest)
	}
	switch r.PaymentStatus {
	case "", PaymentPending, PaymentPaid, PaymentRefunded:
	default:
		return fmt.Errorf("%w: unknown payment status %q", ErrInvalidRequest, r.PaymentStatus)
	}
	return nil
}

// Create validates the request, expands any recurrence, checks every occurrence
// for conflicts and persists all of them in one practitioner transaction.
// Either every occurrence is stored or none is.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	occurrences := []interval.Interval{req.Interval}
	if req.Recurrence != nil {
		seq, err := s.expander.Expand(req.Interval, *req.Recurrence)
		if err != nil {
			return nil, err
		}
		occurrences = seq.Collect()
	}

	if err := s.ensureExists(ctx, s.patients, req.PatientID, ErrPatientNotFound); err != nil {
		return nil, err
	}
	if err := s.ensureExists(ctx, s.practitioners, req.PractitionerID, ErrPractitionerNotFound); err != nil {
		return nil, err
	}

	appts := s.materialize(req, occurrences)

	var pending []notify.Event
	err := s.serialize(ctx, req.PractitionerID, func(ctx context.Context, tx Store) error {
		detector := NewConflictDetector(tx, s.patients)
		if err := detector.CheckAll(ctx, req.PractitionerID, occurrences); err != nil {
			return err
		}

		if err := tx.CreateMany(ctx, appts); err != nil {
			return persistence("create appointments", err)
		}

		for _, a := range appts {
			if err := s.logEvent(ctx, tx, a, notify.EventAppointmentCreated, map[string]any{
				"patient_id": a.PatientID.String(),
				"start":      a.Interval.Start,
				"end":        a.Interval.End,
				"occurrence": a.OccurrenceIndex,
			}); err != nil {
				return err
			}
			pending = append(pending, s.event(notify.EventAppointmentCreated, a))
		}

		if req.Recurrence != nil {
			if err := s.logEvent(ctx, tx, appts[0], notify.EventSeriesCreated, map[string]any{
				"series_id": appts[0].SeriesID.String(),
				"count":     len(appts),
				"until":     req.Recurrence.Until,
			}); err != nil {
				return err
			}
			pending = append(pending, s.event(notify.EventSeriesCreated, appts[0]))
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("create", err,
			zap.String("practitioner_id", req.PractitionerID.String()),
			zap.Int("occurrences", len(occurrences)))
	}

	s.publish(ctx, pending)

	names := s.names()
	result := &CreateResult{Appointments: make([]View, 0, len(appts))}
	if req.Recurrence != nil {
		result.SeriesID = appts[0].SeriesID
	}
	now := s.clock.Now()
	for _, a := range appts {
		// timestamps are assigned by the store
		stored, err := s.repo.GetByID(ctx, a.ID)
		if err != nil {
			stored = &a
		}
		result.Appointments = append(result.Appointments, names.view(ctx, *stored, now))
	}

	s.log.Info("appointments created",
		zap.String("practitioner_id", req.PractitionerID.String()),
		zap.String("patient_id", req.PatientID.String()),
		zap.Int("count", len(appts)))

	return result, nil
}

func (s *Service) materialize(req CreateRequest, occurrences []interval.Interval) []Appointment {
	payment := req.PaymentStatus
	if payment == "" {
		payment = PaymentPending
	}

	var seriesID *uuid.UUID
	if req.Recurrence != nil {
		id := uuid.New()
		seriesID = &id
	}

	appts := make([]Appointment, len(occurrences))
	for i, iv := range occurrences {
		a := Appointment{
			ID:             uuid.New(),
			PatientID:      req.PatientID,
			PractitionerID: req.PractitionerID,
			Interval:       iv,
			Type:           req.Type,
			Status:         StatusScheduled,
			SeriesID:       seriesID,
			Value:          req.Value,
			PaymentStatus:  payment,
			Notes:          req.Notes,
		}
		if seriesID != nil {
			a.OccurrenceIndex = i + 1
			a.OccurrenceCount = len(occurrences)
		}
		appts[i] = a
	}
	return appts
}

// Get returns a single appointment view.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*View, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.fail("get", persistence("load appointment", err))
	}
	v := s.names().view(ctx, *a, s.clock.Now())
	return &v, nil
}

// List returns the practitioner's appointments overlapping rng, in start order.
func (s *Service) List(ctx context.Context, practitionerID uuid.UUID, rng interval.Interval) ([]View, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	if err := s.ensureExists(ctx, s.practitioners, practitionerID, ErrPractitionerNotFound); err != nil {
		return nil, err
	}

	appts, err := s.repo.Query(ctx, practitionerID, rng)
	if err != nil {
		return nil, s.fail("list", persistence("query appointments", err))
	}

	names := s.names()
	now := s.clock.Now()
	views := make([]View, 0, len(appts))
	for _, a := range appts {
		views = append(views, names.view(ctx, a, now))
	}
	return views, nil
}

// Reschedule moves an appointment to a new interval and optionally a new
// practitioner. The appointment itself is excluded from the conflict check and
// is left untouched when a conflict is found.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, req RescheduleRequest) (*View, error) {
	if err := req.Interval.Validate(); err != nil {
		return nil, err
	}

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.fail("reschedule", persistence("load appointment", err))
	}

	target := current.PractitionerID
	if req.PractitionerID != nil && *req.PractitionerID != current.PractitionerID {
		if current.InSeries() {
			return nil, fmt.Errorf("%w: occurrences of a series keep the series practitioner", ErrInvalidRequest)
		}
		if err := s.ensureExists(ctx, s.practitioners, *req.PractitionerID, ErrPractitionerNotFound); err != nil {
			return nil, err
		}
		target = *req.PractitionerID
	}

	// Moving to another practitioner also holds the source calendar so status
	// changes committed there cannot interleave with the move.
	var updated *Appointment
	err = s.serialize(ctx, target, func(ctx context.Context, tx Store) error {
		a, err := tx.GetByID(ctx, id)
		if err != nil {
			return persistence("load appointment", err)
		}
		if a.PractitionerID != current.PractitionerID {
			return fmt.Errorf("%w: practitioner changed to %s", ErrConcurrentModification, a.PractitionerID)
		}
		if err := s.lifecycle.CanReschedule(*a); err != nil {
			return err
		}

		if err := NewConflictDetector(tx, s.patients).Check(ctx, target, req.Interval, id); err != nil {
			return err
		}

		updated, err = tx.UpdateSchedule(ctx, id, target, req.Interval)
		if err != nil {
			return persistence("update schedule", err)
		}

		return s.logEvent(ctx, tx, *updated, notify.EventAppointmentRescheduled, map[string]any{
			"from_practitioner_id": a.PractitionerID.String(),
			"to_practitioner_id":   target.String(),
			"from":                 a.Interval.Format(),
			"to":                   req.Interval.Format(),
		})
	}, current.PractitionerID)
	if err != nil {
		return nil, s.fail("reschedule", err, zap.String("appointment_id", id.String()))
	}

	s.publish(ctx, []notify.Event{s.event(notify.EventAppointmentRescheduled, *updated)})

	v := s.names().view(ctx, *updated, s.clock.Now())
	return &v, nil
}

// Cancel soft-cancels a scheduled appointment. Appointments with clinical
// documentation are refused with ErrDocumentedAppointment.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*View, error) {
	return s.Transition(ctx, id, ActionCancel)
}

// Transition applies a lifecycle action to an appointment.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, action Action) (*View, error) {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.fail("transition", persistence("load appointment", err))
	}

	var updated *Appointment
	err = s.serialize(ctx, current.PractitionerID, func(ctx context.Context, tx Store) error {
		var err error
		updated, err = s.apply(ctx, tx, id, action)
		return err
	})
	if err != nil {
		return nil, s.fail("transition", err,
			zap.String("appointment_id", id.String()),
			zap.String("action", string(action)))
	}

	s.publish(ctx, []notify.Event{s.event(eventForStatus(updated.Status), *updated)})

	v := s.names().view(ctx, *updated, s.clock.Now())
	return &v, nil
}

func eventForStatus(st Status) string {
	if st == StatusCancelled {
		return notify.EventAppointmentCancelled
	}
	return notify.EventAppointmentStatusChanged
}

// apply runs one lifecycle step inside tx.
func (s *Service) apply(ctx context.Context, tx Store, id uuid.UUID, action Action) (*Appointment, error) {
	a, err := tx.GetByID(ctx, id)
	if err != nil {
		return nil, persistence("load appointment", err)
	}

	documented, err := s.hasDocumentation(ctx, *a)
	if err != nil {
		return nil, err
	}

	step, err := s.lifecycle.Apply(*a, action, documented)
	if err != nil {
		return nil, err
	}

	updated, err := tx.UpdateStatus(ctx, id, step.From, step.To)
	if err != nil {
		return nil, persistence("update status", err)
	}

	if err := s.logEvent(ctx, tx, *updated, eventForStatus(step.To), map[string]any{
		"action": string(step.Action),
		"from":   string(step.From),
		"to":     string(step.To),
	}); err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete physically removes a scheduled appointment that has no documentation.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return s.fail("delete", persistence("load appointment", err))
	}

	var deleted Appointment
	err = s.serialize(ctx, current.PractitionerID, func(ctx context.Context, tx Store) error {
		a, err := tx.GetByID(ctx, id)
		if err != nil {
			return persistence("load appointment", err)
		}
		documented, err := s.hasDocumentation(ctx, *a)
		if err != nil {
			return err
		}
		if err := s.lifecycle.CanDelete(*a, documented); err != nil {
			return err
		}
		if err := tx.Delete(ctx, id); err != nil {
			return persistence("delete appointment", err)
		}
		deleted = *a
		return s.logEvent(ctx, tx, *a, notify.EventAppointmentDeleted, map[string]any{
			"start": a.Interval.Start,
			"end":   a.Interval.End,
		})
	})
	if err != nil {
		return s.fail("delete", err, zap.String("appointment_id", id.String()))
	}

	s.publish(ctx, []notify.Event{s.event(notify.EventAppointmentDeleted, deleted)})
	return nil
}

// CancelSeries soft-cancels every scheduled occurrence of a series starting at
// or after from. Documented occurrences are skipped and reported.
func (s *Service) CancelSeries(ctx context.Context, seriesID uuid.UUID, from time.Time) (*SeriesCancellation, error) {
	occurrences, err := s.repo.ListSeries(ctx, seriesID)
	if err != nil {
		return nil, s.fail("cancel series", persistence("list series", err))
	}
	if len(occurrences) == 0 {
		return nil, ErrSeriesNotFound
	}

	result := &SeriesCancellation{SeriesID: seriesID, Cancelled: []View{}, Documented: []uuid.UUID{}}
	var cancelled []Appointment
	err = s.serialize(ctx, occurrences[0].PractitionerID, func(ctx context.Context, tx Store) error {
		current, err := tx.ListSeries(ctx, seriesID)
		if err != nil {
			return persistence("list series", err)
		}
		for _, a := range current {
			if a.Status != StatusScheduled || a.Interval.Start.Before(from) {
				continue
			}
			documented, err := s.hasDocumentation(ctx, a)
			if err != nil {
				return err
			}
			if documented {
				result.Documented = append(result.Documented, a.ID)
				continue
			}
			updated, err := s.apply(ctx, tx, a.ID, ActionCancel)
			if err != nil {
				return err
			}
			cancelled = append(cancelled, *updated)
		}
		return nil
	})
	if err != nil {
		return nil, s.fail("cancel series", err, zap.String("series_id", seriesID.String()))
	}

	names := s.names()
	now := s.clock.Now()
	events := make([]notify.Event, 0, len(cancelled))
	for _, a := range cancelled {
		result.Cancelled = append(result.Cancelled, names.view(ctx, a, now))
		events = append(events, s.event(notify.EventAppointmentCancelled, a))
	}
	s.publish(ctx, events)

	s.log.Info("series cancelled",
		zap.String("series_id", seriesID.String()),
		zap.Int("cancelled", len(result.Cancelled)),
		zap.Int("documented", len(result.Documented)))

	return result, nil
}

// SweepNoShows marks scheduled, undocumented appointments that ended more than
// grace ago as no-shows. It is intended to be called by the worker
// periodically. Individual failures are logged and skipped.
func (s *Service) SweepNoShows(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-grace)
	overdue, err := s.repo.FindOverdueScheduled(ctx, cutoff, noShowBatchSize)
	if err != nil {
		return 0, s.fail("sweep no-shows", persistence("find overdue appointments", err))
	}

	marked := 0
	for _, candidate := range overdue {
		var updated *Appointment
		err := s.serialize(ctx, candidate.PractitionerID, func(ctx context.Context, tx Store) error {
			var err error
			updated, err = s.apply(ctx, tx, candidate.ID, ActionMarkNoShow)
			return err
		})
		if err != nil {
			if errors.Is(err, ErrInvalidStatusTransition) || errors.Is(err, ErrNotFound) {
				// changed since the scan
				continue
			}
			s.log.Warn("failed to mark appointment as no-show",
				zap.String("appointment_id", candidate.ID.String()),
				zap.Error(err))
			continue
		}
		marked++
		s.publish(ctx, []notify.Event{s.event(notify.EventAppointmentStatusChanged, *updated)})
	}

	if marked > 0 {
		s.log.Info("no-show sweep finished", zap.Int("marked", marked), zap.Time("cutoff", cutoff))
	}
	return marked, nil
}

// serialize runs fn under the practitioner lock and inside a practitioner transaction.
// serialize runs fn in a transaction on practitionerID's calendar while
// holding the locks of practitionerID and every id in also. Locks are taken in
// uuid order so two callers locking the same pair cannot deadlock.
func (s *Service) serialize(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context, tx Store) error, also ...uuid.UUID) error {
	run := func(ctx context.Context) error {
		return s.repo.WithinPractitionerTx(ctx, practitionerID, fn)
	}
	if s.locker == nil {
		return run(ctx)
	}
	for _, id := range slices.Backward(lockOrder(practitionerID, also...)) {
		inner := run
		run = func(ctx context.Context) error {
			return s.locker.WithPractitionerLock(ctx, id, inner)
		}
	}
	return run(ctx)
}

func lockOrder(first uuid.UUID, rest ...uuid.UUID) []uuid.UUID {
	ids := append([]uuid.UUID{first}, rest...)
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return slices.Compact(ids)
}

func (s *Service) hasDocumentation(ctx context.Context, a Appointment) (bool, error) {
	if a.HasDocumentation {
		return true, nil
	}
	if s.documentation == nil {
		return false, nil
	}
	has, err := s.documentation.HasAnyDocumentation(ctx, a.ID)
	if err != nil {
		return false, persistence("check documentation", err)
	}
	return has, nil
}

func (s *Service) ensureExists(ctx context.Context, dir Directory, id uuid.UUID, notFound error) error {
	if dir == nil {
		return nil
	}
	ok, err := dir.Exists(ctx, id)
	if err != nil {
		return s.fail("lookup", persistence("lookup", err))
	}
	if !ok {
		return notFound
	}
	return nil
}

// fail logs err at the level its class deserves and returns it unchanged,
// wrapping unclassified errors as persistence failures.
func (s *Service) fail(op string, err error, fields ...zap.Field) error {
	fields = append(fields, zap.String("op", op), zap.Error(err))
	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		s.log.Warn("practitioner busy", fields...)
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		s.log.Warn("request aborted", fields...)
		return err
	case errors.Is(err, ErrPersistence):
		s.log.Error("persistence failure", fields...)
		return err
	case isDomainError(err):
		s.log.Info("request rejected", fields...)
		return err
	default:
		wrapped := persistence(op, err)
		s.log.Error("persistence failure", fields...)
		return wrapped
	}
}

func (s *Service) logEvent(ctx context.Context, tx Store, a Appointment, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload for %s: %w", eventType, err)
	}

	apptID := a.ID
	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.clock.Now(),
	}

	if err := tx.InsertEvent(ctx, ev); err != nil {
		return persistence("insert event log", err)
	}
	return nil
}

func (s *Service) event(eventType string, a Appointment) notify.Event {
	return notify.Event{
		Type:           eventType,
		AppointmentID:  a.ID,
		PractitionerID: a.PractitionerID,
		PatientID:      a.PatientID,
		SeriesID:       a.SeriesID,
		Status:         string(a.Status),
		Start:          a.Interval.Start,
		End:            a.Interval.End,
		OccurredAt:     s.clock.Now(),
	}
}

// publish delivers events after commit. Failures never undo the committed write.
func (s *Service) publish(ctx context.Context, events []notify.Event) {
	for _, ev := range events {
		if err := s.notifier.Publish(ctx, ev); err != nil {
			s.log.Warn("failed to publish appointment event",
				zap.String("type", ev.Type),
				zap.String("appointment_id", ev.AppointmentID.String()),
				zap.Error(err))
		}
	}
}

// nameCache resolves patient and practitioner names once per response.
type nameCache struct {
	s     *Service
	names map[uuid.UUID]string
}

func (s *Service) names() *nameCache {
	return &nameCache{s: s, names: make(map[uuid.UUID]string)}
}

func (c *nameCache) lookup(ctx context.Context, dir Directory, id uuid.UUID) string {
	if dir == nil {
		return ""
	}
	if name, ok := c.names[id]; ok {
		return name
	}
	name, err := dir.GetName(ctx, id)
	if err != nil {
		c.s.log.Debug("name lookup failed", zap.String("id", id.String()), zap.Error(err))
		name = ""
	}
	c.names[id] = name
	return name
}

func (c *nameCache) view(ctx context.Context, a Appointment, now time.Time) View {
	v := NewView(a, now)
	v.PatientName = c.lookup(ctx, c.s.patients, a.PatientID)
	v.PractitionerName = c.lookup(ctx, c.s.practitioners, a.PractitionerID)
	return v
}
