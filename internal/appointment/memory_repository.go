package appointment

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/interval"
)

// MemoryRepository keeps appointments, clinical document references and the
// event log in process. Practitioner transactions stage their writes and apply
// them atomically on success.
type MemoryRepository struct {
	mu           sync.RWMutex
	appointments map[uuid.UUID]Appointment
	revisions    map[uuid.UUID]int64
	documents    map[uuid.UUID]map[DocumentKind]int
	events       []EventLog
	nextEventID  int64

	lockMu sync.Mutex
	locks  map[uuid.UUID]*sync.Mutex

	now func() time.Time
}

func NewMemoryRepository(now func() time.Time) *MemoryRepository {
	if now == nil {
		now = time.Now
	}
	return &MemoryRepository{
		appointments: make(map[uuid.UUID]Appointment),
		revisions:    make(map[uuid.UUID]int64),
		documents:    make(map[uuid.UUID]map[DocumentKind]int),
		locks:        make(map[uuid.UUID]*sync.Mutex),
		now:          now,
	}
}

func (r *MemoryRepository) practitionerLock(id uuid.UUID) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	m, ok := r.locks[id]
	if !ok {
		m = &sync.Mutex{}
		r.locks[id] = m
	}
	return m
}

func (r *MemoryRepository) WithinPractitionerTx(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context, tx Store) error) error {
	m := r.practitionerLock(practitionerID)
	m.Lock()
	defer m.Unlock()

	tx := r.begin(false)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return tx.commitLocked()
}

// autocommit runs fn against a tx that owns the repository lock for its whole duration.
func (r *MemoryRepository) autocommit(write bool, fn func(tx *memoryTx) error) error {
	if write {
		r.mu.Lock()
		defer r.mu.Unlock()
	} else {
		r.mu.RLock()
		defer r.mu.RUnlock()
	}
	tx := r.begin(true)
	if err := fn(tx); err != nil {
		return err
	}
	if write {
		return tx.commitLocked()
	}
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var out *Appointment
	err := r.autocommit(false, func(tx *memoryTx) (err error) {
		out, err = tx.GetByID(ctx, id)
		return err
	})
	return out, err
}

func (r *MemoryRepository) ListSeries(ctx context.Context, seriesID uuid.UUID) ([]Appointment, error) {
	var out []Appointment
	err := r.autocommit(false, func(tx *memoryTx) (err error) {
		out, err = tx.ListSeries(ctx, seriesID)
		return err
	})
	return out, err
}

func (r *MemoryRepository) FindOverlapping(ctx context.Context, practitionerID uuid.UUID, iv interval.Interval, excludeID uuid.UUID, statuses []Status) ([]Appointment, error) {
	var out []Appointment
	err := r.autocommit(false, func(tx *memoryTx) (err error) {
		out, err = tx.FindOverlapping(ctx, practitionerID, iv, excludeID, statuses)
		return err
	})
	return out, err
}

func (r *MemoryRepository) CreateMany(ctx context.Context, appts []Appointment) error {
	return r.autocommit(true, func(tx *memoryTx) error {
		return tx.CreateMany(ctx, appts)
	})
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	var out *Appointment
	err := r.autocommit(true, func(tx *memoryTx) (err error) {
		out, err = tx.UpdateStatus(ctx, id, from, to)
		return err
	})
	return out, err
}

func (r *MemoryRepository) UpdateSchedule(ctx context.Context, id, practitionerID uuid.UUID, iv interval.Interval) (*Appointment, error) {
	var out *Appointment
	err := r.autocommit(true, func(tx *memoryTx) (err error) {
		out, err = tx.UpdateSchedule(ctx, id, practitionerID, iv)
		return err
	})
	return out, err
}

func (r *MemoryRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.autocommit(true, func(tx *memoryTx) error {
		return tx.Delete(ctx, id)
	})
}

func (r *MemoryRepository) Query(ctx context.Context, practitionerID uuid.UUID, rng interval.Interval) ([]Appointment, error) {
	var out []Appointment
	err := r.autocommit(false, func(tx *memoryTx) (err error) {
		out, err = tx.Query(ctx, practitionerID, rng)
		return err
	})
	return out, err
}

func (r *MemoryRepository) FindOverdueScheduled(ctx context.Context, endedBefore time.Time, limit int) ([]Appointment, error) {
	var out []Appointment
	err := r.autocommit(false, func(tx *memoryTx) (err error) {
		out, err = tx.FindOverdueScheduled(ctx, endedBefore, limit)
		return err
	})
	return out, err
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	return r.autocommit(true, func(tx *memoryTx) error {
		return tx.InsertEvent(ctx, ev)
	})
}

// AttachDocument records a clinical note or assessment result against an appointment.
func (r *MemoryRepository) AttachDocument(appointmentID uuid.UUID, kind DocumentKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.appointments[appointmentID]; !ok {
		return ErrAppointmentNotFound
	}
	docs, ok := r.documents[appointmentID]
	if !ok {
		docs = make(map[DocumentKind]int)
		r.documents[appointmentID] = docs
	}
	docs[kind]++
	return nil
}

func (r *MemoryRepository) HasAnyDocumentation(_ context.Context, appointmentID uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.documentedLocked(appointmentID), nil
}

func (r *MemoryRepository) documentedLocked(id uuid.UUID) bool {
	for _, n := range r.documents[id] {
		if n > 0 {
			return true
		}
	}
	return false
}

// Events returns a copy of the event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.events)
}

// Count returns the number of stored appointments.
func (r *MemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.appointments)
}

type memoryTx struct {
	repo      *MemoryRepository
	holdsLock bool
	staged    map[uuid.UUID]Appointment
	deleted   map[uuid.UUID]bool
	events    []EventLog

	// base holds the committed revision of every existing row the tx touched.
	base map[uuid.UUID]int64
}

func (r *MemoryRepository) begin(holdsLock bool) *memoryTx {
	return &memoryTx{
		repo:      r,
		holdsLock: holdsLock,
		staged:    make(map[uuid.UUID]Appointment),
		deleted:   make(map[uuid.UUID]bool),
		base:      make(map[uuid.UUID]int64),
	}
}

// commitLocked applies the staged writes. It fails without applying anything
// when a row the tx modified was committed by someone else in the meantime.
func (tx *memoryTx) commitLocked() error {
	r := tx.repo
	for id, rev := range tx.base {
		if _, ok := r.appointments[id]; !ok || r.revisions[id] != rev {
			return fmt.Errorf("%w: %s", ErrConcurrentModification, id)
		}
	}
	for id := range tx.deleted {
		delete(r.appointments, id)
		delete(r.revisions, id)
		delete(r.documents, id)
	}
	for id, a := range tx.staged {
		a.HasDocumentation = false
		r.appointments[id] = a
		r.revisions[id]++
	}
	for _, ev := range tx.events {
		r.nextEventID++
		ev.ID = r.nextEventID
		r.events = append(r.events, ev)
	}
	return nil
}

// track remembers the committed revision of id before the tx first modifies it.
func (tx *memoryTx) track(id uuid.UUID) {
	if _, seen := tx.base[id]; seen {
		return
	}
	if _, ok := tx.repo.appointments[id]; ok {
		tx.base[id] = tx.repo.revisions[id]
	}
}

func (tx *memoryTx) rlock() func() {
	if tx.holdsLock {
		return func() {}
	}
	tx.repo.mu.RLock()
	return tx.repo.mu.RUnlock
}

func (tx *memoryTx) lookup(id uuid.UUID) (Appointment, bool) {
	if tx.deleted[id] {
		return Appointment{}, false
	}
	if a, ok := tx.staged[id]; ok {
		return a, true
	}
	a, ok := tx.repo.appointments[id]
	return a, ok
}

// each visits the transaction's view of every appointment.
func (tx *memoryTx) each(fn func(a Appointment)) {
	for id, a := range tx.repo.appointments {
		if tx.deleted[id] {
			continue
		}
		if _, ok := tx.staged[id]; ok {
			continue
		}
		fn(a)
	}
	for _, a := range tx.staged {
		fn(a)
	}
}

func (tx *memoryTx) decorate(a Appointment) Appointment {
	a.HasDocumentation = tx.repo.documentedLocked(a.ID)
	return a
}

func sortByStart(appts []Appointment) {
	slices.SortFunc(appts, func(a, b Appointment) int {
		if c := a.Interval.Start.Compare(b.Interval.Start); c != 0 {
			return c
		}
		return a.OccurrenceIndex - b.OccurrenceIndex
	})
}

func (tx *memoryTx) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	defer tx.rlock()()
	a, ok := tx.lookup(id)
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	a = tx.decorate(a)
	return &a, nil
}

func (tx *memoryTx) ListSeries(_ context.Context, seriesID uuid.UUID) ([]Appointment, error) {
	defer tx.rlock()()
	var out []Appointment
	tx.each(func(a Appointment) {
		if a.SeriesID != nil && *a.SeriesID == seriesID {
			out = append(out, tx.decorate(a))
		}
	})
	sortByStart(out)
	return out, nil
}

func (tx *memoryTx) FindOverlapping(_ context.Context, practitionerID uuid.UUID, iv interval.Interval, excludeID uuid.UUID, statuses []Status) ([]Appointment, error) {
	defer tx.rlock()()
	var out []Appointment
	tx.each(func(a Appointment) {
		if a.PractitionerID != practitionerID || a.ID == excludeID {
			return
		}
		if !slices.Contains(statuses, a.Status) || !interval.Overlaps(a.Interval, iv) {
			return
		}
		out = append(out, tx.decorate(a))
	})
	sortByStart(out)
	return out, nil
}

func (tx *memoryTx) CreateMany(_ context.Context, appts []Appointment) error {
	defer tx.rlock()()
	now := tx.repo.now()
	for _, a := range appts {
		if _, exists := tx.lookup(a.ID); exists {
			return fmt.Errorf("insert appointment %s: duplicate id", a.ID)
		}
		a.CreatedAt = now
		a.UpdatedAt = now
		tx.staged[a.ID] = a
	}
	return nil
}

func (tx *memoryTx) UpdateStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	defer tx.rlock()()
	a, ok := tx.lookup(id)
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	tx.track(id)
	a.Status = to
	a.UpdatedAt = tx.repo.now()
	tx.staged[id] = a
	a = tx.decorate(a)
	return &a, nil
}

func (tx *memoryTx) UpdateSchedule(_ context.Context, id, practitionerID uuid.UUID, iv interval.Interval) (*Appointment, error) {
	defer tx.rlock()()
	a, ok := tx.lookup(id)
	if !ok || a.Status != StatusScheduled {
		return nil, ErrAppointmentNotFound
	}
	tx.track(id)
	a.PractitionerID = practitionerID
	a.Interval = iv
	a.UpdatedAt = tx.repo.now()
	tx.staged[id] = a
	a = tx.decorate(a)
	return &a, nil
}

func (tx *memoryTx) Delete(_ context.Context, id uuid.UUID) error {
	defer tx.rlock()()
	a, ok := tx.lookup(id)
	if !ok || a.Status != StatusScheduled || tx.repo.documentedLocked(id) {
		return ErrAppointmentNotFound
	}
	tx.track(id)
	delete(tx.staged, id)
	tx.deleted[id] = true
	return nil
}

func (tx *memoryTx) Query(_ context.Context, practitionerID uuid.UUID, rng interval.Interval) ([]Appointment, error) {
	defer tx.rlock()()
	out := []Appointment{}
	tx.each(func(a Appointment) {
		if a.PractitionerID == practitionerID && interval.Overlaps(a.Interval, rng) {
			out = append(out, tx.decorate(a))
		}
	})
	sortByStart(out)
	return out, nil
}

func (tx *memoryTx) FindOverdueScheduled(_ context.Context, endedBefore time.Time, limit int) ([]Appointment, error) {
	defer tx.rlock()()
	var out []Appointment
	tx.each(func(a Appointment) {
		if a.Status == StatusScheduled && a.Interval.End.Before(endedBefore) && !tx.repo.documentedLocked(a.ID) {
			out = append(out, a)
		}
	})
	sortByStart(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (tx *memoryTx) InsertEvent(_ context.Context, ev EventLog) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = tx.repo.now()
	}
	tx.events = append(tx.events, ev)
	return nil
}
