package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/hackgods/clinic-scheduling/internal/interval"
)

// exclusionViolation is raised by the appointments_no_overlap constraint.
const exclusionViolation = "23P01"

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type PgRepository struct {
	pgStore
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pgStore: pgStore{q: pool}, pool: pool}
}

// WithinPractitionerTx runs fn in a transaction holding a transaction-scoped
// advisory lock on the practitioner, so concurrent check-then-write units for
// the same practitioner execute one after another.
func (r *PgRepository) WithinPractitionerTx(ctx context.Context, practitionerID uuid.UUID, fn func(ctx context.Context, tx Store) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, practitionerID.String()); err != nil {
		return fmt.Errorf("advisory lock: %w", err)
	}

	if err := fn(ctx, pgStore{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *PgRepository) HasAnyDocumentation(ctx context.Context, appointmentID uuid.UUID) (bool, error) {
	var has bool
	err := r.pool.QueryRow(ctx, `SELECT `+hasDocumentationExpr+` FROM (SELECT $1::uuid AS id) a`, appointmentID).Scan(&has)
	if err != nil {
		return false, fmt.Errorf("check documentation: %w", err)
	}
	return has, nil
}

type pgStore struct {
	q querier
}

const hasDocumentationExpr = `(EXISTS (SELECT 1 FROM clinical_notes n WHERE n.appointment_id = a.id)
	OR EXISTS (SELECT 1 FROM assessment_results r WHERE r.appointment_id = a.id))`

const appointmentColumns = `a.id, a.patient_id, a.practitioner_id, a.start_time, a.end_time, a.type, a.status,
	a.series_id, a.occurrence_index, a.occurrence_count, a.value::text, a.payment_status, a.notes,
	a.created_at, a.updated_at, ` + hasDocumentationExpr

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var occurrenceIndex, occurrenceCount *int
	var value string

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.PractitionerID,
		&a.Interval.Start,
		&a.Interval.End,
		&a.Type,
		&a.Status,
		&a.SeriesID,
		&occurrenceIndex,
		&occurrenceCount,
		&value,
		&a.PaymentStatus,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.HasDocumentation,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if occurrenceIndex != nil {
		a.OccurrenceIndex = *occurrenceIndex
	}
	if occurrenceCount != nil {
		a.OccurrenceCount = *occurrenceCount
	}
	a.Value, err = decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("parse value %q: %w", value, err)
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	result := []Appointment{}
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func statusStrings(statuses []Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func nullableIndex(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

func isOverlapViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == exclusionViolation
}

// Interface methods

func (s pgStore) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.id = $1
	`, id)
	return scanAppointment(row)
}

func (s pgStore) ListSeries(ctx context.Context, seriesID uuid.UUID) ([]Appointment, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.series_id = $1
		ORDER BY a.start_time, a.occurrence_index
	`, seriesID)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (s pgStore) FindOverlapping(ctx context.Context, practitionerID uuid.UUID, iv interval.Interval, excludeID uuid.UUID, statuses []Status) ([]Appointment, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.practitioner_id = $1
		  AND a.start_time < $3
		  AND $2 < a.end_time
		  AND a.id <> $4
		  AND a.status = ANY($5)
		ORDER BY a.start_time
		FOR UPDATE OF a
	`, practitionerID, iv.Start, iv.End, excludeID, statusStrings(statuses))
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (s pgStore) CreateMany(ctx context.Context, appts []Appointment) error {
	batch := &pgx.Batch{}
	for _, a := range appts {
		batch.Queue(`
			INSERT INTO appointments (id, patient_id, practitioner_id, start_time, end_time, type, status,
				series_id, occurrence_index, occurrence_count, value, payment_status, notes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::numeric, $12, $13, now(), now())
		`, a.ID, a.PatientID, a.PractitionerID, a.Interval.Start, a.Interval.End, a.Type, a.Status,
			a.SeriesID, nullableIndex(a.OccurrenceIndex), nullableIndex(a.OccurrenceCount),
			a.Value.String(), a.PaymentStatus, a.Notes)
	}

	results := s.q.SendBatch(ctx, batch)
	for range appts {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			if isOverlapViolation(err) {
				return ErrSchedulingConflict
			}
			return fmt.Errorf("insert appointment: %w", err)
		}
	}
	return results.Close()
}

func (s pgStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := s.q.QueryRow(ctx, `
		WITH updated AS (
			UPDATE appointments
			SET status = $2,
			    updated_at = now()
			WHERE id = $1
			  AND status = $3
			RETURNING *
		)
		SELECT `+appointmentColumns+`
		FROM updated a
	`, id, to, from)

	return scanAppointment(row)
}

func (s pgStore) UpdateSchedule(ctx context.Context, id, practitionerID uuid.UUID, iv interval.Interval) (*Appointment, error) {
	row := s.q.QueryRow(ctx, `
		WITH updated AS (
			UPDATE appointments
			SET practitioner_id = $2,
			    start_time = $3,
			    end_time = $4,
			    updated_at = now()
			WHERE id = $1
			  AND status = 'scheduled'
			RETURNING *
		)
		SELECT `+appointmentColumns+`
		FROM updated a
	`, id, practitionerID, iv.Start, iv.End)

	a, err := scanAppointment(row)
	if err != nil && isOverlapViolation(err) {
		return nil, ErrSchedulingConflict
	}
	return a, err
}

func (s pgStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.q.Exec(ctx, `
		DELETE FROM appointments a
		WHERE a.id = $1
		  AND a.status = 'scheduled'
		  AND NOT `+hasDocumentationExpr, id)
	if err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (s pgStore) Query(ctx context.Context, practitionerID uuid.UUID, rng interval.Interval) ([]Appointment, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.practitioner_id = $1
		  AND a.start_time < $3
		  AND $2 < a.end_time
		ORDER BY a.start_time, a.occurrence_index
	`, practitionerID, rng.Start, rng.End)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (s pgStore) FindOverdueScheduled(ctx context.Context, endedBefore time.Time, limit int) ([]Appointment, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.status = 'scheduled'
		  AND a.end_time < $1
		  AND NOT `+hasDocumentationExpr+`
		ORDER BY a.end_time
		LIMIT $2
	`, endedBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (s pgStore) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := s.q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// AttachDocument records a clinical note or assessment result against an appointment.
func (r *PgRepository) AttachDocument(ctx context.Context, appointmentID uuid.UUID, kind DocumentKind, body string) error {
	var err error
	switch kind {
	case DocumentClinicalNote:
		_, err = r.pool.Exec(ctx, `
			INSERT INTO clinical_notes (id, appointment_id, kind, body)
			VALUES ($1, $2, 'soap', $3)
		`, uuid.New(), appointmentID, body)
	case DocumentAssessmentResult:
		_, err = r.pool.Exec(ctx, `
			INSERT INTO assessment_results (id, appointment_id, instrument)
			VALUES ($1, $2, $3)
		`, uuid.New(), appointmentID, body)
	default:
		return fmt.Errorf("%w: unknown document kind %q", ErrInvalidRequest, kind)
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return ErrAppointmentNotFound
		}
		return fmt.Errorf("insert %s: %w", kind, err)
	}
	return nil
}

// AddPerson inserts a patient or practitioner into the local directory tables.
func (r *PgRepository) AddPerson(ctx context.Context, table string, p Person, extra string) error {
	var sql string
	switch table {
	case "patients":
		sql = `INSERT INTO patients (id, name, email) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`
	case "practitioners":
		sql = `INSERT INTO practitioners (id, name, specialty) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`
	default:
		return fmt.Errorf("%w: unknown directory table %q", ErrInvalidRequest, table)
	}
	if _, err := r.pool.Exec(ctx, sql, p.ID, p.Name, extra); err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	return nil
}
