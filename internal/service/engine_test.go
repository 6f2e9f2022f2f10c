package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Freeeeeet/interview_booking/internal/model"
	"github.com/Freeeeeet/interview_booking/internal/repository"
	"github.com/Freeeeeet/interview_booking/internal/repository/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errStoreDown = errors.New("store down")

// faultySlots подменяет отдельные методы хранилища слотов
type faultySlots struct {
	repository.SlotStore
	markOpenFailures int
	markOpenFailFor  uuid.UUID
	markBookedErr    error
	bookThenTimeout  bool
}

func (f *faultySlots) MarkOpen(ctx context.Context, id uuid.UUID) error {
	if f.markOpenFailures > 0 && (f.markOpenFailFor == uuid.Nil || f.markOpenFailFor == id) {
		f.markOpenFailures--
		return errStoreDown
	}
	return f.SlotStore.MarkOpen(ctx, id)
}

func (f *faultySlots) MarkBooked(ctx context.Context, id uuid.UUID) error {
	if f.markBookedErr != nil {
		return f.markBookedErr
	}
	if f.bookThenTimeout {
		if err := f.SlotStore.MarkBooked(ctx, id); err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	}
	return f.SlotStore.MarkBooked(ctx, id)
}

type faultyAppointments struct {
	repository.AppointmentStore
	createErr          error
	persistThenTimeout bool
	rebindErr          error
}

func (f *faultyAppointments) CreateAppointment(ctx context.Context, appt *model.Appointment) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.persistThenTimeout {
		if err := f.AppointmentStore.CreateAppointment(ctx, appt); err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	}
	return f.AppointmentStore.CreateAppointment(ctx, appt)
}

func (f *faultyAppointments) Rebind(ctx context.Context, id, from, to uuid.UUID) (*model.Appointment, error) {
	if f.rebindErr != nil {
		return nil, f.rebindErr
	}
	return f.AppointmentStore.Rebind(ctx, id, from, to)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []model.BookingEvent
}

func (n *recordingNotifier) Notify(_ context.Context, event model.BookingEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

type fixture struct {
	store  *memory.Store
	slots  *faultySlots
	appts  *faultyAppointments
	engine *BookingEngine
	now    time.Time
}

func newFixture(t *testing.T, opts ...EngineOption) *fixture {
	t.Helper()
	store := memory.NewStore()
	f := &fixture{
		store: store,
		slots: &faultySlots{SlotStore: store},
		appts: &faultyAppointments{AppointmentStore: store},
		now:   time.Now().UTC(),
	}
	backend := repository.Backend{Stores: repository.Stores{Slots: f.slots, Appointments: f.appts}}
	opts = append([]EngineOption{
		WithClock(func() time.Time { return f.now }),
		WithStoreTimeout(50 * time.Millisecond),
	}, opts...)
	f.engine = NewBookingEngine(backend, zap.NewNop(), opts...)
	return f
}

func (f *fixture) slot(t *testing.T, expertID string, startIn time.Duration) *model.Slot {
	t.Helper()
	start := f.now.Add(startIn).Truncate(time.Minute)
	slot, err := f.store.CreateSlot(context.Background(), expertID, start, start.Add(time.Hour))
	require.NoError(t, err)
	return slot
}

func (f *fixture) slotStatus(t *testing.T, id uuid.UUID) model.SlotStatus {
	t.Helper()
	slot, err := f.store.GetSlot(context.Background(), id)
	require.NoError(t, err)
	return slot.Status
}

func (f *fixture) activeOn(t *testing.T, slotID uuid.UUID) int {
	t.Helper()
	count := 0
	for _, user := range []string{"user-1", "user-2", "user-3"} {
		appts, err := f.store.ListForUser(context.Background(), user)
		require.NoError(t, err)
		for _, a := range appts {
			if a.SlotID == slotID && a.IsScheduled() {
				count++
			}
		}
	}
	return count
}

// assertConsistent каждый booked слот эксперта держит ровно одна scheduled запись,
// ни одна scheduled запись не указывает на open слот
func (f *fixture) assertConsistent(t *testing.T, expertID string) {
	t.Helper()
	ctx := context.Background()
	slots, err := f.store.ListByExpert(ctx, expertID)
	require.NoError(t, err)
	appts, err := f.store.ListForExpert(ctx, expertID)
	require.NoError(t, err)

	holders := make(map[uuid.UUID]int)
	for _, a := range appts {
		if a.IsScheduled() {
			holders[a.SlotID]++
		}
	}
	for _, slot := range slots {
		switch slot.Status {
		case model.SlotStatusBooked:
			assert.Equal(t, 1, holders[slot.ID], "booked slot %s", slot.ID)
		case model.SlotStatusOpen:
			assert.Zero(t, holders[slot.ID], "open slot %s", slot.ID)
		}
	}
}

func user(id string) model.Actor {
	return model.Actor{UserID: id, Role: model.RoleUser}
}

func TestBook(t *testing.T) {
	f := newFixture(t)
	slot := f.slot(t, "expert-1", 24*time.Hour)

	appt, err := f.engine.Book(context.Background(), user("user-1"), slot.ID)
	require.NoError(t, err)

	assert.Equal(t, model.AppointmentStatusScheduled, appt.Status)
	assert.Equal(t, "expert-1", appt.ExpertID)
	assert.Equal(t, slot.ID, appt.SlotID)
	require.NotNil(t, appt.Slot)
	assert.Equal(t, model.SlotStatusBooked, appt.Slot.Status)
	assert.Equal(t, model.SlotStatusBooked, f.slotStatus(t, slot.ID))
	assert.Equal(t, 1, f.activeOn(t, slot.ID))
}

func TestBookRejections(t *testing.T) {
	t.Run("past slot", func(t *testing.T) {
		f := newFixture(t)
		slot := f.slot(t, "expert-1", -2*time.Hour)

		_, err := f.engine.Book(context.Background(), user("user-1"), slot.ID)
		assert.ErrorIs(t, err, model.ErrInvalidRange)
		assert.Equal(t, model.SlotStatusOpen, f.slotStatus(t, slot.ID))
		assert.Zero(t, f.activeOn(t, slot.ID))
	})

	t.Run("missing slot", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.engine.Book(context.Background(), user("user-1"), uuid.New())
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("booked slot", func(t *testing.T) {
		f := newFixture(t)
		slot := f.slot(t, "expert-1", time.Hour)
		_, err := f.engine.Book(context.Background(), user("user-1"), slot.ID)
		require.NoError(t, err)

		_, err = f.engine.Book(context.Background(), user("user-2"), slot.ID)
		assert.ErrorIs(t, err, model.ErrSlotUnavailable)
	})

	t.Run("lost compare-and-set", func(t *testing.T) {
		f := newFixture(t)
		slot := f.slot(t, "expert-1", time.Hour)
		f.slots.markBookedErr = fmt.Errorf("slot %s: %w", slot.ID, model.ErrConflict)

		_, err := f.engine.Book(context.Background(), user("user-1"), slot.ID)
		assert.ErrorIs(t, err, model.ErrSlotUnavailable)
		assert.Zero(t, f.activeOn(t, slot.ID))
	})

	t.Run("anonymous actor", func(t *testing.T) {
		f := newFixture(t)
		slot := f.slot(t, "expert-1", time.Hour)
		_, err := f.engine.Book(context.Background(), model.Actor{}, slot.ID)
		assert.ErrorIs(t, err, model.ErrForbidden)
	})
}

func TestConcurrentBookSingleWinner(t *testing.T) {
	f := newFixture(t)
	slot := f.slot(t, "expert-1", 24*time.Hour)
	users := []string{"user-1", "user-2", "user-3"}

	var wg sync.WaitGroup
	errs := make([]error, 30)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.Book(context.Background(), user(users[i%len(users)]), slot.ID)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, model.ErrSlotUnavailable)
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, f.activeOn(t, slot.ID))
	assert.Equal(t, model.SlotStatusBooked, f.slotStatus(t, slot.ID))
}

func TestConcurrentCancelAndReschedule(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t)
		a := f.slot(t, "expert-1", time.Hour)
		b := f.slot(t, "expert-1", 3*time.Hour)
		appt, err := f.engine.Book(context.Background(), user("user-1"), a.ID)
		require.NoError(t, err)

		var (
			wg                 sync.WaitGroup
			cancelErr, moveErr error
			start              = make(chan struct{})
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, cancelErr = f.engine.Cancel(context.Background(), user("user-1"), appt.ID)
		}()
		go func() {
			defer wg.Done()
			<-start
			_, moveErr = f.engine.Reschedule(context.Background(), user("user-1"), appt.ID, b.ID)
		}()
		close(start)
		wg.Wait()

		// Отмена проходит всегда: и до переноса, и после него
		require.NoError(t, cancelErr)
		if moveErr != nil {
			assert.ErrorIs(t, moveErr, model.ErrInvalidTransition)
		}

		stored, err := f.store.GetAppointment(context.Background(), appt.ID)
		require.NoError(t, err)
		assert.Equal(t, model.AppointmentStatusCancelled, stored.Status)
		assert.Equal(t, model.SlotStatusOpen, f.slotStatus(t, a.ID))
		assert.Equal(t, model.SlotStatusOpen, f.slotStatus(t, b.ID))
		f.assertConsistent(t, "expert-1")
	}
}

func TestConcurrentReschedulesOfOneAppointment(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t)
		a := f.slot(t, "expert-1", time.Hour)
		b := f.slot(t, "expert-1", 3*time.Hour)
		c := f.slot(t, "expert-1", 5*time.Hour)
		appt, err := f.engine.Book(context.Background(), user("user-1"), a.ID)
		require.NoError(t, err)

		var wg sync.WaitGroup
		start := make(chan struct{})
		targets := []uuid.UUID{b.ID, c.ID}
		errs := make([]error, len(targets))
		for j, target := range targets {
			wg.Add(1)
			go func(j int, target uuid.UUID) {
				defer wg.Done()
				<-start
				_, errs[j] = f.engine.Reschedule(context.Background(), user("user-1"), appt.ID, target)
			}(j, target)
		}
		close(start)
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			assert.ErrorIs(t, err, model.ErrInvalidTransition)
		}
		assert.GreaterOrEqual(t, wins, 1)

		stored, err := f.store.GetAppointment(context.Background(), appt.ID)
		require.NoError(t, err)
		assert.True(t, stored.IsScheduled())
		assert.Contains(t, targets, stored.SlotID)
		assert.Equal(t, model.SlotStatusBooked, f.slotStatus(t, stored.SlotID))
		assert.Equal(t, model.SlotStatusOpen, f.slotStatus(t, a.ID))

		open, err := f.store.ListOpenSlots(context.Background(), "expert-1")
		require.NoError(t, err)
		assert.Len(t, open, 2)
		f.assertConsistent(t, "expert-1")
	}
}

func TestBookCompensation(t *testing.T) {
	t.Run("release after failed insert", func(t *testing.T) {
		f := newFixture(t)
		slot := f.slot(t, "expert-1", time.Hour)
		f.appts.createErr = errStoreDown

		_, err := f.engine.Book(context.Background(), user("user-1"), slot.ID)
		assert.ErrorIs(t, err, model.ErrBookingFailed)
		assert.Equal(t, "booking_failed", model.ErrorCode(err))
		assert.Equal(t, model.SlotStatusOpen, f.slotStatus(t, slot.ID))
	})

	t.Run("failed release is inconsistent", func(t *testing.T) {
		f := newFixture(t)
		slot := f.slot(t, "expert-1", time.Hour)
		f.appts.createErr = errStoreDown
		f.slots.markOpenFailures = 1

		_, err := f.engine.Book(context.Background(), user("user-1"), slot.ID)
		assert.ErrorIs(t, err, model.ErrInconsistent)
		assert.Equal(t, model.SlotStatusBooked, f.slotStatus(t, slot.ID))
	})

	t.Run("timed out insert that landed", func(t *testing.T) {
		f := newFixture(t)
		slot := f.slot(t, "expert-1", time.Hour)
		f.appts.persistThenTimeout = true

		appt, err := f.engine.Book(context.Background(), user("user-1"), slot.ID)
		require.NoError(t, err)
		assert.Equal(t, slot.ID, appt.SlotID)
		assert.Equal(t, model.SlotStatusBooked, f.slotStatus(t, slot.ID))
		assert.Equal(t, 1, f.activeOn(t, slot.ID))
	})

	t.Run("timed out insert that did not land", func(t *testing.T) {
		f := newFixture(t)
		slot := f.slot(t, "expert-1", time.Hour)
		f.appts.createErr = context.DeadlineExceeded

		_, err := f.engine.Book(context.Background(), user("user-1"), slot.ID)
		assert.ErrorIs(t, err, model.ErrBookingFailed)
		assert.Equal(t, model.SlotStatusOpen, f.slotStatus(t, slot.ID))
	})
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	slot := f.slot(t, "expert-1", time.Hour)
	appt, err := f.engine.Book(context.Background(), user("user-1"), slot.ID)
	require.NoError(t, err)

	_, err = f.engine.Cancel(context.Background(), user("user-2"), appt.ID)
	assert.ErrorIs(t, err, model.ErrForbidden)
	assert.Equal(t, model.SlotStatusBooked, f.slotStatus(t, slot.ID))

	cancelled, err := f.engine.Cancel(context.Background(), user("user-1"), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCancelled, cancelled.Status)
	assert.Equal(t, model.SlotStatusOpen, f.slotStatus(t, slot.ID))

	_, err = f.engine.Cancel(context.Background(), user("user-1"), appt.ID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	stored, err := f.store.GetAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentStatusCancelled, stored.Status)

	_, err = f.engine.Cancel(context.Background(), user("user-1"), uuid.New())
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCancelRelease(t *testing.T) {
	t.Run("retried once", func(t *testing.T) {
		f := newFixture(t)
		slot := f.slot(t, "expert-1", time.Hour)
		appt, err := f.engine.Book(context.Background(), user("user-1"), slot.ID)
		require.NoError(t, err)
		f.slots.markOpenFailures = 1

		_, err = f.engine.Cancel(context.Background(), user("user-1"), appt.ID)
		require.NoError(t, err)
		assert.Equal(t, model.SlotStatusOpen, f.slotStatus(t, slot.ID))
	})

	t.Run("retry fails", func(t *testing.T) {
		f := newFixture(t)
		slot := f.slot(t, "expert-1", time.Hour)
		appt, err := f.engine.Book(context.Background(), user("user-1"), slot.ID)
		require.NoError(t, err)
		f.slots.markOpenFailures = 2

		_, err = f.engine.Cancel(context.Background(), user("user-1"), appt.ID)
		assert.ErrorIs(t, err, model.ErrInconsistent)
	})
}

func TestReschedule(t *testing.T) {
	f := newFixture(t)
	a := f.slot(t, "expert-1", time.Hour)
	b := f.slot(t, "expert-1", 3*time.Hour)
	appt, err := f.engine.Book(context.Background(), user("user-1"), a.ID)
	require.NoError(t, err)

	moved, err := f.engine.Reschedule(context.Background(), user("user-1"), appt.ID, b.ID)
	require.NoError(t, err)

	assert.Equal(t, appt.ID, moved.ID)
	assert.Equal(t, b.ID, moved.SlotID)
	assert.Equal(t, model.AppointmentStatusScheduled, moved.Status)
	assert.Equal(t, model.SlotStatusOpen, f.slotStatus(t, a.ID))
	assert.Equal(t, model.SlotStatusBooked, f.slotStatus(t, b.ID))
	assert.Zero(t, f.activeOn(t, a.ID))
	assert.Equal(t, 1, f.activeOn(t, b.ID))
}

func TestRescheduleValidation(t *testing.T) {
	f := newFixture(t)
	a := f.slot(t, "expert-1", time.Hour)
	other := f.slot(t, "expert-2", 3*time.Hour)
	past := f.slot(t, "expert-1", -5*time.Hour)
	taken := f.slot(t, "expert-1", 5*time.Hour)

	appt, err := f.engine.Book(context.Background(), user("user-1"), a.ID)
	require.NoError(t, err)
	_, err = f.engine.Book(context.Background(), user("user-2"), taken.ID)
	require.NoError(t, err)

	cases := []struct {
		name   string
		actor  model.Actor
		slotID uuid.UUID
		want   error
	}{
		{"other expert", user("user-1"), other.ID, model.ErrExpertMismatch},
		{"same slot", user("user-1"), a.ID, model.ErrInvalidTransition},
		{"past slot", user("user-1"), past.ID, model.ErrInvalidRange},
		{"taken slot", user("user-1"), taken.ID, model.ErrSlotUnavailable},
		{"missing slot", user("user-1"), uuid.New(), model.ErrNotFound},
		{"not owner", user("user-2"), other.ID, model.ErrForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.Reschedule(context.Background(), tc.actor, appt.ID, tc.slotID)
			assert.ErrorIs(t, err, tc.want)

			assert.Equal(t, model.SlotStatusBooked, f.slotStatus(t, a.ID))
			assert.Equal(t, model.SlotStatusOpen, f.slotStatus(t, other.ID))
			stored, err := f.store.GetAppointment(context.Background(), appt.ID)
			require.NoError(t, err)
			assert.Equal(t, a.ID, stored.SlotID)
		})
	}
}

func TestRescheduleCompensation(t *testing.T) {
	t.Run("old slot release fails", func(t *testing.T) {
		f := newFixture(t)
		a := f.slot(t, "expert-1", time.Hour)
		b := f.slot(t, "expert-1", 3*time.Hour)
		appt, err := f.engine.Book(context.Background(), user("user-1"), a.ID)
		require.NoError(t, err)
		f.slots.markOpenFailures = 1
		f.slots.markOpenFailFor = a.ID

		_, err = f.engine.Reschedule(context.Background(), user("user-1"), appt.ID, b.ID)
		assert.ErrorIs(t, err, model.ErrRescheduleFailed)
		assert.Equal(t, model.SlotStatusBooked, f.slotStatus(t, a.ID))
		assert.Equal(t, model.SlotStatusOpen, f.slotStatus(t, b.ID))
		assert.Equal(t, 1, f.activeOn(t, a.ID))
	})

	t.Run("rebind fails", func(t *testing.T) {
		f := newFixture(t)
		a := f.slot(t, "expert-1", time.Hour)
		b := f.slot(t, "expert-1", 3*time.Hour)
		appt, err := f.engine.Book(context.Background(), user("user-1"), a.ID)
		require.NoError(t, err)
		f.appts.rebindErr = errStoreDown

		_, err = f.engine.Reschedule(context.Background(), user("user-1"), appt.ID, b.ID)
		assert.ErrorIs(t, err, model.ErrRescheduleFailed)
		assert.Equal(t, model.SlotStatusBooked, f.slotStatus(t, a.ID))
		assert.Equal(t, model.SlotStatusOpen, f.slotStatus(t, b.ID))
		assert.Equal(t, 1, f.activeOn(t, a.ID))
	})

	t.Run("appointment changed concurrently", func(t *testing.T) {
		f := newFixture(t)
		a := f.slot(t, "expert-1", time.Hour)
		b := f.slot(t, "expert-1", 3*time.Hour)
		appt, err := f.engine.Book(context.Background(), user("user-1"), a.ID)
		require.NoError(t, err)
		f.appts.rebindErr = fmt.Errorf("appointment %s: %w", appt.ID, model.ErrInvalidTransition)

		_, err = f.engine.Reschedule(context.Background(), user("user-1"), appt.ID, b.ID)
		assert.ErrorIs(t, err, model.ErrInvalidTransition)
		assert.Equal(t, model.SlotStatusOpen, f.slotStatus(t, b.ID))
	})
}

func TestScenarioBookCancelRebook(t *testing.T) {
	notifier := &recordingNotifier{}
	f := newFixture(t, WithNotifier(notifier))
	slot := f.slot(t, "expert-1", 24*time.Hour)
	ctx := context.Background()

	first, err := f.engine.Book(ctx, user("user-1"), slot.ID)
	require.NoError(t, err)

	_, err = f.engine.Book(ctx, user("user-2"), slot.ID)
	require.ErrorIs(t, err, model.ErrSlotUnavailable)

	_, err = f.engine.Cancel(ctx, user("user-1"), first.ID)
	require.NoError(t, err)

	second, err := f.engine.Book(ctx, user("user-2"), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-2", second.UserID)
	assert.Equal(t, 1, f.activeOn(t, slot.ID))

	require.Len(t, notifier.events, 3)
	assert.Equal(t, model.EventBooked, notifier.events[0].Type)
	assert.Equal(t, model.EventCancelled, notifier.events[1].Type)
	assert.Equal(t, "user-2", notifier.events[2].Actor.UserID)
}

// passthroughTx проверяет, что при наличии транзакций компенсации не выполняются
type passthroughTx struct {
	stores repository.Stores
	calls  int
}

func (p *passthroughTx) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Stores) error) error {
	p.calls++
	return fn(ctx, p.stores)
}

func TestBookInTransaction(t *testing.T) {
	store := memory.NewStore()
	appts := &faultyAppointments{AppointmentStore: store, createErr: errStoreDown}
	stores := repository.Stores{Slots: store, Appointments: appts}
	tx := &passthroughTx{stores: stores}
	engine := NewBookingEngine(repository.Backend{Stores: stores, Tx: tx}, zap.NewNop())

	start := time.Now().UTC().Add(time.Hour)
	slot, err := store.CreateSlot(context.Background(), "expert-1", start, start.Add(time.Hour))
	require.NoError(t, err)

	_, err = engine.Book(context.Background(), user("user-1"), slot.ID)
	assert.ErrorIs(t, err, model.ErrBookingFailed)
	assert.Equal(t, 1, tx.calls)

	// Откат делает транзакция, движок слот сам не освобождает
	got, err := store.GetSlot(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SlotStatusBooked, got.Status)
}
