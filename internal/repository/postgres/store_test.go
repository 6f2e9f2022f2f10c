package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Freeeeeet/interview_booking/internal/model"
	"github.com/Freeeeeet/interview_booking/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	slotCols        = []string{"id", "expert_id", "start_time", "end_time", "status", "created_at"}
	appointmentCols = []string{"id", "user_id", "expert_id", "slot_id", "status", "created_at", "updated_at"}
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

func TestMarkBooked(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	t.Run("open slot", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec("UPDATE slots").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, NewSlotStore(mock).MarkBooked(ctx, id))
	})

	t.Run("already booked", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec("UPDATE slots").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery("SELECT status FROM slots").WithArgs(id).
			WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("booked"))

		err := NewSlotStore(mock).MarkBooked(ctx, id)
		assert.ErrorIs(t, err, model.ErrConflict)
	})

	t.Run("missing slot", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec("UPDATE slots").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery("SELECT status FROM slots").WithArgs(id).WillReturnError(pgx.ErrNoRows)

		err := NewSlotStore(mock).MarkBooked(ctx, id)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestMarkOpenMissing(t *testing.T) {
	mock := newMock(t)
	id := uuid.New()
	mock.ExpectExec("UPDATE slots").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := NewSlotStore(mock).MarkOpen(context.Background(), id)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCreateSlot(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2030, 1, 10, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	t.Run("inserted", func(t *testing.T) {
		mock := newMock(t)
		created := time.Now().UTC()
		mock.ExpectQuery("INSERT INTO slots").
			WithArgs(pgxmock.AnyArg(), "expert-1", start, end, model.SlotStatusOpen).
			WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(created))

		slot, err := NewSlotStore(mock).CreateSlot(ctx, "expert-1", start, end)
		require.NoError(t, err)
		assert.Equal(t, model.SlotStatusOpen, slot.Status)
		assert.Equal(t, created, slot.CreatedAt)
	})

	t.Run("overlap from exclusion constraint", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery("INSERT INTO slots").
			WithArgs(pgxmock.AnyArg(), "expert-1", start, end, model.SlotStatusOpen).
			WillReturnError(&pgconn.PgError{Code: codeExclusionViolation, ConstraintName: constraintNoOverlap})

		_, err := NewSlotStore(mock).CreateSlot(ctx, "expert-1", start, end)
		assert.ErrorIs(t, err, model.ErrOverlap)
	})

	t.Run("range checked before insert", func(t *testing.T) {
		mock := newMock(t)
		_, err := NewSlotStore(mock).CreateSlot(ctx, "expert-1", end, start)
		assert.ErrorIs(t, err, model.ErrInvalidRange)
	})
}

func TestDeleteBookedSlot(t *testing.T) {
	mock := newMock(t)
	id := uuid.New()
	mock.ExpectExec("DELETE FROM slots").WithArgs(id).WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectQuery("SELECT status FROM slots").WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("booked"))

	err := NewSlotStore(mock).DeleteSlot(context.Background(), id)
	assert.ErrorIs(t, err, model.ErrConflict)
}

func TestListOpenSlots(t *testing.T) {
	mock := newMock(t)
	start := time.Date(2030, 1, 10, 9, 0, 0, 0, time.UTC)
	first, second := uuid.New(), uuid.New()
	mock.ExpectQuery("SELECT (.+) FROM slots").WithArgs("expert-1").
		WillReturnRows(pgxmock.NewRows(slotCols).
			AddRow(first, "expert-1", start, start.Add(time.Hour), "open", start).
			AddRow(second, "expert-1", start.Add(time.Hour), start.Add(2*time.Hour), "open", start))

	slots, err := NewSlotStore(mock).ListOpenSlots(context.Background(), "expert-1")
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, first, slots[0].ID)
	assert.Equal(t, model.SlotStatusOpen, slots[1].Status)
}

func TestCreateAppointmentDuplicateActive(t *testing.T) {
	mock := newMock(t)
	appt := model.NewAppointment("user-1", "expert-1", uuid.New())
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(appt.ID, "user-1", "expert-1", appt.SlotID, model.AppointmentStatusScheduled).
		WillReturnError(&pgconn.PgError{Code: codeUniqueViolation, ConstraintName: constraintActiveSlot})

	err := NewAppointmentStore(mock).CreateAppointment(context.Background(), appt)
	assert.ErrorIs(t, err, model.ErrSlotUnavailable)
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()
	id, slotID := uuid.New(), uuid.New()
	now := time.Now().UTC()

	t.Run("scheduled to cancelled returns bound slot", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery("UPDATE appointments").WithArgs(id, model.AppointmentStatusCancelled).
			WillReturnRows(pgxmock.NewRows(appointmentCols).
				AddRow(id, "user-1", "expert-1", slotID, "cancelled", now, now))

		appt, err := NewAppointmentStore(mock).UpdateStatus(ctx, id, model.AppointmentStatusCancelled)
		require.NoError(t, err)
		assert.Equal(t, slotID, appt.SlotID)
		assert.Equal(t, model.AppointmentStatusCancelled, appt.Status)
	})

	t.Run("already cancelled", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectQuery("UPDATE appointments").WithArgs(id, model.AppointmentStatusCancelled).
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectQuery("SELECT status, slot_id FROM appointments").WithArgs(id).
			WillReturnRows(pgxmock.NewRows([]string{"status", "slot_id"}).AddRow("cancelled", slotID))

		_, err := NewAppointmentStore(mock).UpdateStatus(ctx, id, model.AppointmentStatusCancelled)
		assert.ErrorIs(t, err, model.ErrInvalidTransition)
	})

	t.Run("transition rejected without a query", func(t *testing.T) {
		mock := newMock(t)
		_, err := NewAppointmentStore(mock).UpdateStatus(ctx, id, model.AppointmentStatusScheduled)
		assert.ErrorIs(t, err, model.ErrInvalidTransition)
	})
}

func TestRebindMissing(t *testing.T) {
	mock := newMock(t)
	id, from, to := uuid.New(), uuid.New(), uuid.New()
	mock.ExpectQuery("UPDATE appointments").WithArgs(id, from, to).WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT status, slot_id FROM appointments").WithArgs(id).WillReturnError(pgx.ErrNoRows)

	_, err := NewAppointmentStore(mock).Rebind(context.Background(), id, from, to)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestInTx(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	t.Run("commit", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE slots").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		err := newTxManagerWithBeginner(mock, time.Second).InTx(ctx, func(ctx context.Context, tx repository.Stores) error {
			return tx.Slots.MarkBooked(ctx, id)
		})
		require.NoError(t, err)
	})

	t.Run("rollback on error", func(t *testing.T) {
		mock := newMock(t)
		boom := errors.New("boom")
		mock.ExpectBegin()
		mock.ExpectExec("UPDATE slots").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectRollback()

		err := newTxManagerWithBeginner(mock, time.Second).InTx(ctx, func(ctx context.Context, tx repository.Stores) error {
			if err := tx.Slots.MarkBooked(ctx, id); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)
	})
}

func TestListOrphanedBooked(t *testing.T) {
	mock := newMock(t)
	start := time.Date(2030, 1, 10, 9, 0, 0, 0, time.UTC)
	id := uuid.New()
	mock.ExpectQuery("SELECT (.+) FROM slots s WHERE s.status = 'booked'(.+)NOT EXISTS").WithArgs(50).
		WillReturnRows(pgxmock.NewRows(slotCols).
			AddRow(id, "expert-1", start, start.Add(time.Hour), "booked", start))

	slots, err := NewSlotStore(mock).ListOrphanedBooked(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, id, slots[0].ID)
	assert.Equal(t, model.SlotStatusBooked, slots[0].Status)
}

func TestInTxLocksAppointment(t *testing.T) {
	mock := newMock(t)
	id, slotID := uuid.New(), uuid.New()
	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT (.+) FROM appointments WHERE id = \$1 FOR UPDATE`).WithArgs(id).
		WillReturnRows(pgxmock.NewRows(appointmentCols).
			AddRow(id, "user-1", "expert-1", slotID, "scheduled", now, now))
	mock.ExpectCommit()

	err := newTxManagerWithBeginner(mock, time.Second).InTx(context.Background(), func(ctx context.Context, tx repository.Stores) error {
		appt, err := tx.Appointments.GetAppointment(ctx, id)
		if err != nil {
			return err
		}
		assert.Equal(t, slotID, appt.SlotID)
		return nil
	})
	require.NoError(t, err)
}

func TestGetAppointmentOutsideTxDoesNotLock(t *testing.T) {
	mock := newMock(t)
	id := uuid.New()
	mock.ExpectQuery(`FROM appointments WHERE id = \$1$`).WithArgs(id).WillReturnError(pgx.ErrNoRows)

	_, err := NewAppointmentStore(mock).GetAppointment(context.Background(), id)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestInTxConcurrentUpdate(t *testing.T) {
	ctx := context.Background()
	id := uuid.New()

	for _, code := range []string{codeDeadlockDetected, codeSerializationFailure} {
		t.Run(code, func(t *testing.T) {
			mock := newMock(t)
			mock.ExpectBegin()
			mock.ExpectExec("UPDATE slots").WithArgs(id).WillReturnError(&pgconn.PgError{Code: code})
			mock.ExpectRollback()

			err := newTxManagerWithBeginner(mock, time.Second).InTx(ctx, func(ctx context.Context, tx repository.Stores) error {
				return tx.Slots.MarkOpen(ctx, id)
			})
			assert.ErrorIs(t, err, model.ErrConcurrentUpdate)
			assert.Equal(t, "concurrent_update", model.ErrorCode(err))
		})
	}
}

func TestInTxCommitTimeout(t *testing.T) {
	mock := newMock(t)
	id := uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE slots").WithArgs(id).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit().WillDelayFor(time.Second)

	err := newTxManagerWithBeginner(mock, 20*time.Millisecond).InTx(context.Background(), func(ctx context.Context, tx repository.Stores) error {
		return tx.Slots.MarkBooked(ctx, id)
	})
	assert.ErrorIs(t, err, model.ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMapErrorConcurrentUpdate(t *testing.T) {
	err := mapError(&pgconn.PgError{Code: codeDeadlockDetected})
	assert.ErrorIs(t, err, model.ErrConcurrentUpdate)

	err = mapTxError(errors.New("boom"))
	assert.NotErrorIs(t, err, model.ErrConcurrentUpdate)
}
