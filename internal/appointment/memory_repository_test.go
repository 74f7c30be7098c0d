package appointment

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTxRollsBackOnError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := existing(f.practitioner, f.alice, span(10, 9, 0, 10, 0), StatusScheduled)

	boom := errors.New("boom")
	err := f.repo.WithinPractitionerTx(ctx, f.practitioner, func(ctx context.Context, tx Store) error {
		require.NoError(t, tx.CreateMany(ctx, []Appointment{a}))
		got, err := tx.GetByID(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, a.ID, got.ID, "writes are visible inside the tx")
		require.NoError(t, tx.InsertEvent(ctx, EventLog{EventType: "TEST"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = f.repo.GetByID(ctx, a.ID)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
	assert.Empty(t, f.repo.Events())
}

func TestMemoryTxCommitsOnSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := existing(f.practitioner, f.alice, span(10, 9, 0, 10, 0), StatusScheduled)

	err := f.repo.WithinPractitionerTx(ctx, f.practitioner, func(ctx context.Context, tx Store) error {
		if err := tx.CreateMany(ctx, []Appointment{a}); err != nil {
			return err
		}
		_, err := tx.UpdateStatus(ctx, a.ID, StatusScheduled, StatusCompleted)
		return err
	})
	require.NoError(t, err)

	got, err := f.repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestMemoryUpdateStatusChecksCurrentStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := existing(f.practitioner, f.alice, span(10, 9, 0, 10, 0), StatusCancelled)
	seed(t, f.repo, a)

	_, err := f.repo.UpdateStatus(ctx, a.ID, StatusScheduled, StatusCompleted)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestMemoryDeleteKeepsDocumentedRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := existing(f.practitioner, f.alice, span(10, 9, 0, 10, 0), StatusScheduled)
	seed(t, f.repo, a)
	require.NoError(t, f.repo.AttachDocument(a.ID, DocumentClinicalNote))

	assert.ErrorIs(t, f.repo.Delete(ctx, a.ID), ErrAppointmentNotFound)
	assert.Equal(t, 1, f.repo.Count())

	has, err := f.repo.HasAnyDocumentation(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestMemoryQueryOrdersByStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	late := existing(f.practitioner, f.alice, span(10, 15, 0, 16, 0), StatusScheduled)
	early := existing(f.practitioner, f.alice, span(10, 8, 0, 9, 0), StatusCancelled)
	other := existing(uuid.New(), f.alice, span(10, 10, 0, 11, 0), StatusScheduled)
	seed(t, f.repo, late, early, other)

	got, err := f.repo.Query(ctx, f.practitioner, span(10, 0, 0, 23, 0))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, early.ID, got[0].ID)
	assert.Equal(t, late.ID, got[1].ID)

	empty, err := f.repo.Query(ctx, uuid.New(), span(10, 0, 0, 23, 0))
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestMemoryDirectory(t *testing.T) {
	dir := NewMemoryDirectory(ErrPatientNotFound)
	id := uuid.New()
	dir.Add(id, "Eva Prado")

	ok, err := dir.Exists(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)

	name, err := dir.GetName(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Eva Prado", name)

	_, err = dir.GetName(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrPatientNotFound)
}

func TestMemoryTxRejectsStaleWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := uuid.New()
	a := existing(f.practitioner, f.alice, span(10, 9, 0, 10, 0), StatusScheduled)
	seed(t, f.repo, a)

	err := f.repo.WithinPractitionerTx(ctx, other, func(ctx context.Context, tx Store) error {
		if _, err := tx.UpdateSchedule(ctx, a.ID, other, span(11, 9, 0, 10, 0)); err != nil {
			return err
		}
		// a cancel commits on the source calendar while the move is staged
		return f.repo.WithinPractitionerTx(ctx, f.practitioner, func(ctx context.Context, inner Store) error {
			_, err := inner.UpdateStatus(ctx, a.ID, StatusScheduled, StatusCancelled)
			return err
		})
	})
	require.ErrorIs(t, err, ErrConcurrentModification)

	got, err := f.repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status, "committed cancel must survive")
	assert.Equal(t, f.practitioner, got.PractitionerID)
}

func TestMemoryTxRejectsWriteToDeletedRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := existing(f.practitioner, f.alice, span(10, 9, 0, 10, 0), StatusScheduled)
	seed(t, f.repo, a)

	err := f.repo.WithinPractitionerTx(ctx, uuid.New(), func(ctx context.Context, tx Store) error {
		if _, err := tx.UpdateStatus(ctx, a.ID, StatusScheduled, StatusCompleted); err != nil {
			return err
		}
		return f.repo.Delete(ctx, a.ID)
	})
	require.ErrorIs(t, err, ErrConcurrentModification)
	assert.Equal(t, 0, f.repo.Count())
}
