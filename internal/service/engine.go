package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Freeeeeet/interview_booking/internal/metrics"
	"github.com/Freeeeeet/interview_booking/internal/model"
	"github.com/Freeeeeet/interview_booking/internal/repository"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/Freeeeeet/interview_booking/internal/service"

// BookingEngine единственная точка изменения слотов и записей.
// На бэкенде с транзакциями каждая операция идёт одной транзакцией,
// без них шаги выполняются по очереди с компенсациями.
type BookingEngine struct {
	stores              repository.Stores
	tx                  repository.TxRunner
	notifier            Notifier
	metrics             *metrics.BookingMetrics
	tracer              trace.Tracer
	logger              *zap.Logger
	now                 func() time.Time
	storeTimeout        time.Duration
	compensationTimeout time.Duration
}

type EngineOption func(*BookingEngine)

func WithNotifier(n Notifier) EngineOption {
	return func(e *BookingEngine) { e.notifier = n }
}

func WithMetrics(m *metrics.BookingMetrics) EngineOption {
	return func(e *BookingEngine) { e.metrics = m }
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *BookingEngine) { e.now = now }
}

func WithStoreTimeout(d time.Duration) EngineOption {
	return func(e *BookingEngine) {
		if d > 0 {
			e.storeTimeout = d
		}
	}
}

func WithCompensationTimeout(d time.Duration) EngineOption {
	return func(e *BookingEngine) {
		if d > 0 {
			e.compensationTimeout = d
		}
	}
}

func NewBookingEngine(backend repository.Backend, logger *zap.Logger, opts ...EngineOption) *BookingEngine {
	e := &BookingEngine{
		stores:              backend.Stores,
		tx:                  backend.Tx,
		tracer:              otel.Tracer(tracerName),
		logger:              logger,
		now:                 func() time.Time { return time.Now().UTC() },
		storeTimeout:        defaultStoreTimeout,
		compensationTimeout: defaultCompensationTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Book бронирует слот для пользователя
func (e *BookingEngine) Book(ctx context.Context, actor model.Actor, slotID uuid.UUID) (*model.Appointment, error) {
	ctx, span := e.tracer.Start(ctx, "BookingEngine.Book", trace.WithAttributes(
		attribute.String("user_id", actor.UserID),
		attribute.String("slot_id", slotID.String()),
	))
	defer span.End()
	started := time.Now()

	var appt *model.Appointment
	err := e.run(ctx, func(ctx context.Context, st repository.Stores, saga bool) error {
		var err error
		appt, err = e.book(ctx, st, saga, actor, slotID)
		return err
	})
	e.finish(span, "book", started, err)
	if err != nil {
		e.logger.Warn("Booking rejected",
			zap.String("user_id", actor.UserID),
			zap.String("slot_id", slotID.String()),
			zap.String("code", model.ErrorCode(err)),
			zap.Error(err),
		)
		return nil, err
	}

	e.logger.Info("Slot booked",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("user_id", actor.UserID),
		zap.String("expert_id", appt.ExpertID),
		zap.String("slot_id", slotID.String()),
	)
	e.notify(ctx, model.BookingEvent{Type: model.EventBooked, Appointment: appt, Slot: appt.Slot, Actor: actor})
	return appt, nil
}

func (e *BookingEngine) book(ctx context.Context, st repository.Stores, saga bool, actor model.Actor, slotID uuid.UUID) (*model.Appointment, error) {
	if actor.UserID == "" {
		return nil, fmt.Errorf("book: anonymous actor: %w", model.ErrForbidden)
	}

	slot, err := callStore(ctx, e.storeTimeout, func(ctx context.Context) (*model.Slot, error) {
		return st.Slots.GetSlot(ctx, slotID)
	})
	if err != nil {
		return nil, fmt.Errorf("book: get slot: %w", err)
	}

	// Прошедшие и начавшиеся слоты не бронируются
	if !slot.StartsAfter(e.now()) {
		return nil, fmt.Errorf("book: slot %s started at %s: %w", slotID, slot.StartTime.Format(time.RFC3339), model.ErrInvalidRange)
	}
	if !slot.IsOpen() {
		return nil, fmt.Errorf("book: slot %s: %w", slotID, model.ErrSlotUnavailable)
	}

	// Единственная точка линеаризации: условная запись open -> booked
	err = execStore(ctx, e.storeTimeout, func(ctx context.Context) error {
		return st.Slots.MarkBooked(ctx, slotID)
	})
	if err != nil {
		if errors.Is(err, model.ErrConflict) {
			return nil, fmt.Errorf("book: slot %s: %w", slotID, model.ErrSlotUnavailable)
		}
		if saga && isTimeout(err) {
			e.orphanSuspected(slotID, zap.String("user_id", actor.UserID))
		}
		return nil, fmt.Errorf("book: mark booked: %w", err)
	}
	slot.Status = model.SlotStatusBooked

	appt := model.NewAppointment(actor.UserID, slot.ExpertID, slot.ID)
	err = execStore(ctx, e.storeTimeout, func(ctx context.Context) error {
		return st.Appointments.CreateAppointment(ctx, appt)
	})
	if err == nil {
		appt.Slot = slot
		return appt, nil
	}
	if !saga {
		return nil, fmt.Errorf("%w: create appointment: %v", model.ErrBookingFailed, err)
	}

	fields := []zap.Field{
		zap.String("appointment_id", appt.ID.String()),
		zap.String("user_id", actor.UserID),
		zap.String("slot_id", slotID.String()),
	}

	// Вставка могла пройти: проверяем по заранее известному id
	if isTimeout(err) {
		stored, verr := e.verifyAppointment(ctx, st, appt.ID)
		switch {
		case verr == nil && stored.IsScheduled() && stored.SlotID == slotID:
			stored.Slot = slot
			return stored, nil
		case verr != nil && !errors.Is(verr, model.ErrNotFound):
			e.logger.Error("Booking outcome unknown", append(fields, zap.Error(verr))...)
			return nil, fmt.Errorf("book: create appointment: %w", err)
		}
	}

	if cerr := e.compensate(ctx, "book", fields, func(ctx context.Context) error {
		return st.Slots.MarkOpen(ctx, slotID)
	}); cerr != nil {
		return nil, fmt.Errorf("%w: slot %s booked without appointment: %v", model.ErrInconsistent, slotID, cerr)
	}
	return nil, fmt.Errorf("%w: create appointment: %v", model.ErrBookingFailed, err)
}

// Cancel отменяет запись и освобождает слот. Отменить может только владелец.
func (e *BookingEngine) Cancel(ctx context.Context, actor model.Actor, appointmentID uuid.UUID) (*model.Appointment, error) {
	ctx, span := e.tracer.Start(ctx, "BookingEngine.Cancel", trace.WithAttributes(
		attribute.String("user_id", actor.UserID),
		attribute.String("appointment_id", appointmentID.String()),
	))
	defer span.End()
	started := time.Now()

	var appt *model.Appointment
	err := e.run(ctx, func(ctx context.Context, st repository.Stores, saga bool) error {
		var err error
		appt, err = e.cancel(ctx, st, saga, actor, appointmentID)
		return err
	})
	e.finish(span, "cancel", started, err)
	if err != nil {
		e.logger.Warn("Cancel rejected",
			zap.String("user_id", actor.UserID),
			zap.String("appointment_id", appointmentID.String()),
			zap.String("code", model.ErrorCode(err)),
			zap.Error(err),
		)
		return nil, err
	}

	e.logger.Info("Appointment cancelled",
		zap.String("appointment_id", appointmentID.String()),
		zap.String("user_id", actor.UserID),
		zap.String("slot_id", appt.SlotID.String()),
	)
	e.notify(ctx, model.BookingEvent{Type: model.EventCancelled, Appointment: appt, Slot: appt.Slot, Actor: actor})
	return appt, nil
}

func (e *BookingEngine) cancel(ctx context.Context, st repository.Stores, saga bool, actor model.Actor, appointmentID uuid.UUID) (*model.Appointment, error) {
	if _, err := e.loadOwned(ctx, st, actor, appointmentID); err != nil {
		return nil, fmt.Errorf("cancel: %w", err)
	}

	updated, err := callStore(ctx, e.storeTimeout, func(ctx context.Context) (*model.Appointment, error) {
		return st.Appointments.UpdateStatus(ctx, appointmentID, model.AppointmentStatusCancelled)
	})
	if err != nil && saga && isTimeout(err) {
		stored, verr := e.verifyAppointment(ctx, st, appointmentID)
		if verr == nil && stored.Status == model.AppointmentStatusCancelled {
			updated, err = stored, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("cancel: update status: %w", err)
	}

	// Освобождаем слот, к которому запись была привязана в момент записи статуса
	slotID := updated.SlotID
	err = execStore(ctx, e.storeTimeout, func(ctx context.Context) error {
		return st.Slots.MarkOpen(ctx, slotID)
	})
	if err != nil {
		if !saga {
			return nil, fmt.Errorf("cancel: release slot: %w", err)
		}
		fields := []zap.Field{
			zap.String("appointment_id", appointmentID.String()),
			zap.String("user_id", actor.UserID),
			zap.String("slot_id", slotID.String()),
		}
		if cerr := e.compensate(ctx, "cancel", fields, func(ctx context.Context) error {
			return st.Slots.MarkOpen(ctx, slotID)
		}); cerr != nil {
			return nil, fmt.Errorf("%w: appointment %s cancelled but slot %s still booked: %v", model.ErrInconsistent, appointmentID, slotID, cerr)
		}
	}

	if slot, err := callStore(ctx, e.storeTimeout, func(ctx context.Context) (*model.Slot, error) {
		return st.Slots.GetSlot(ctx, slotID)
	}); err == nil {
		updated.Slot = slot
	}
	return updated, nil
}

// Reschedule переносит запись на другой свободный слот того же эксперта
func (e *BookingEngine) Reschedule(ctx context.Context, actor model.Actor, appointmentID, newSlotID uuid.UUID) (*model.Appointment, error) {
	ctx, span := e.tracer.Start(ctx, "BookingEngine.Reschedule", trace.WithAttributes(
		attribute.String("user_id", actor.UserID),
		attribute.String("appointment_id", appointmentID.String()),
		attribute.String("new_slot_id", newSlotID.String()),
	))
	defer span.End()
	started := time.Now()

	var (
		appt    *model.Appointment
		oldSlot *model.Slot
	)
	err := e.run(ctx, func(ctx context.Context, st repository.Stores, saga bool) error {
		var err error
		appt, oldSlot, err = e.reschedule(ctx, st, saga, actor, appointmentID, newSlotID)
		return err
	})
	e.finish(span, "reschedule", started, err)
	if err != nil {
		e.logger.Warn("Reschedule rejected",
			zap.String("user_id", actor.UserID),
			zap.String("appointment_id", appointmentID.String()),
			zap.String("new_slot_id", newSlotID.String()),
			zap.String("code", model.ErrorCode(err)),
			zap.Error(err),
		)
		return nil, err
	}

	e.logger.Info("Appointment rescheduled",
		zap.String("appointment_id", appointmentID.String()),
		zap.String("user_id", actor.UserID),
		zap.String("old_slot_id", oldSlot.ID.String()),
		zap.String("new_slot_id", newSlotID.String()),
	)
	e.notify(ctx, model.BookingEvent{
		Type:         model.EventRescheduled,
		Appointment:  appt,
		Slot:         appt.Slot,
		PreviousSlot: oldSlot,
		Actor:        actor,
	})
	return appt, nil
}

func (e *BookingEngine) reschedule(ctx context.Context, st repository.Stores, saga bool, actor model.Actor, appointmentID, newSlotID uuid.UUID) (*model.Appointment, *model.Slot, error) {
	appt, err := e.loadOwned(ctx, st, actor, appointmentID)
	if err != nil {
		return nil, nil, fmt.Errorf("reschedule: %w", err)
	}
	oldSlotID := appt.SlotID
	if newSlotID == oldSlotID {
		return nil, nil, fmt.Errorf("reschedule: appointment %s is already on slot %s: %w", appointmentID, newSlotID, model.ErrInvalidTransition)
	}

	slots, err := callStore(ctx, e.storeTimeout, func(ctx context.Context) (map[uuid.UUID]*model.Slot, error) {
		return st.Slots.GetSlots(ctx, []uuid.UUID{oldSlotID, newSlotID})
	})
	if err != nil {
		return nil, nil, fmt.Errorf("reschedule: get slots: %w", err)
	}
	newSlot, ok := slots[newSlotID]
	if !ok {
		return nil, nil, fmt.Errorf("reschedule: slot %s: %w", newSlotID, model.ErrNotFound)
	}
	oldSlot := slots[oldSlotID]

	// Все проверки до первой записи
	if newSlot.ExpertID != appt.ExpertID {
		return nil, nil, fmt.Errorf("reschedule: slot %s belongs to %s, appointment to %s: %w", newSlotID, newSlot.ExpertID, appt.ExpertID, model.ErrExpertMismatch)
	}
	if !newSlot.IsOpen() {
		return nil, nil, fmt.Errorf("reschedule: slot %s: %w", newSlotID, model.ErrSlotUnavailable)
	}
	if !newSlot.StartsAfter(e.now()) {
		return nil, nil, fmt.Errorf("reschedule: slot %s started at %s: %w", newSlotID, newSlot.StartTime.Format(time.RFC3339), model.ErrInvalidRange)
	}

	err = execStore(ctx, e.storeTimeout, func(ctx context.Context) error {
		return st.Slots.MarkBooked(ctx, newSlotID)
	})
	if err != nil {
		if errors.Is(err, model.ErrConflict) {
			return nil, nil, fmt.Errorf("reschedule: slot %s: %w", newSlotID, model.ErrSlotUnavailable)
		}
		if saga && isTimeout(err) {
			e.orphanSuspected(newSlotID, zap.String("appointment_id", appointmentID.String()))
		}
		return nil, nil, fmt.Errorf("reschedule: mark booked: %w", err)
	}
	newSlot.Status = model.SlotStatusBooked

	fields := []zap.Field{
		zap.String("appointment_id", appointmentID.String()),
		zap.String("user_id", actor.UserID),
		zap.String("old_slot_id", oldSlotID.String()),
		zap.String("new_slot_id", newSlotID.String()),
	}
	releaseNew := func(ctx context.Context) error { return st.Slots.MarkOpen(ctx, newSlotID) }

	err = execStore(ctx, e.storeTimeout, func(ctx context.Context) error {
		return st.Slots.MarkOpen(ctx, oldSlotID)
	})
	if err != nil {
		if !saga {
			return nil, nil, fmt.Errorf("%w: release slot %s: %v", model.ErrRescheduleFailed, oldSlotID, err)
		}
		if cerr := e.compensate(ctx, "reschedule", fields, releaseNew); cerr != nil {
			return nil, nil, fmt.Errorf("%w: slot %s left booked: %v", model.ErrInconsistent, newSlotID, cerr)
		}
		return nil, nil, fmt.Errorf("%w: release slot %s: %v", model.ErrRescheduleFailed, oldSlotID, err)
	}
	if oldSlot != nil {
		oldSlot.Status = model.SlotStatusOpen
	}

	moved, err := callStore(ctx, e.storeTimeout, func(ctx context.Context) (*model.Appointment, error) {
		return st.Appointments.Rebind(ctx, appointmentID, oldSlotID, newSlotID)
	})
	if err == nil {
		moved.Slot = newSlot
		return moved, oldSlot, nil
	}
	if !saga {
		if errors.Is(err, model.ErrInvalidTransition) {
			return nil, nil, fmt.Errorf("reschedule: %w", err)
		}
		return nil, nil, fmt.Errorf("%w: rebind: %v", model.ErrRescheduleFailed, err)
	}

	if isTimeout(err) {
		stored, verr := e.verifyAppointment(ctx, st, appointmentID)
		switch {
		case verr == nil && stored.IsScheduled() && stored.SlotID == newSlotID:
			stored.Slot = newSlot
			return stored, oldSlot, nil
		case verr == nil && (!stored.IsScheduled() || stored.SlotID != oldSlotID):
			err = fmt.Errorf("appointment %s changed concurrently: %w", appointmentID, model.ErrInvalidTransition)
		case verr != nil:
			e.logger.Error("Reschedule outcome unknown", append(fields, zap.Error(verr))...)
			return nil, nil, fmt.Errorf("reschedule: rebind: %w", err)
		}
	}

	// Запись успели отменить или перенести: старый слот уже не её
	if errors.Is(err, model.ErrInvalidTransition) {
		if cerr := e.compensate(ctx, "reschedule", fields, releaseNew); cerr != nil {
			return nil, nil, fmt.Errorf("%w: slot %s left booked: %v", model.ErrInconsistent, newSlotID, cerr)
		}
		return nil, nil, fmt.Errorf("reschedule: %w", err)
	}

	// Возвращаем исходное бронирование и отпускаем новый слот
	if cerr := e.compensate(ctx, "reschedule", fields, func(ctx context.Context) error {
		if err := st.Slots.MarkBooked(ctx, oldSlotID); err != nil {
			return fmt.Errorf("rebook old slot: %w", err)
		}
		return releaseNew(ctx)
	}); cerr != nil {
		return nil, nil, fmt.Errorf("%w: appointment %s between slots %s and %s: %v", model.ErrInconsistent, appointmentID, oldSlotID, newSlotID, cerr)
	}
	return nil, nil, fmt.Errorf("%w: rebind: %v", model.ErrRescheduleFailed, err)
}

// loadOwned общие проверки cancel и reschedule
func (e *BookingEngine) loadOwned(ctx context.Context, st repository.Stores, actor model.Actor, appointmentID uuid.UUID) (*model.Appointment, error) {
	appt, err := callStore(ctx, e.storeTimeout, func(ctx context.Context) (*model.Appointment, error) {
		return st.Appointments.GetAppointment(ctx, appointmentID)
	})
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	if !appt.OwnedBy(actor.UserID) {
		return nil, fmt.Errorf("appointment %s is not owned by %q: %w", appointmentID, actor.UserID, model.ErrForbidden)
	}
	if !appt.IsScheduled() {
		return nil, fmt.Errorf("appointment %s is %s: %w", appointmentID, appt.Status, model.ErrInvalidTransition)
	}
	return appt, nil
}

// run выполняет шаги в транзакции, если бэкенд её поддерживает
func (e *BookingEngine) run(ctx context.Context, fn func(ctx context.Context, st repository.Stores, saga bool) error) error {
	if e.tx == nil {
		return fn(ctx, e.stores, true)
	}
	return e.tx.InTx(ctx, func(ctx context.Context, tx repository.Stores) error {
		return fn(ctx, tx, false)
	})
}

// compensate выполняет откат на контексте, отвязанном от отмены запроса.
// Неудача означает расхождение хранилищ и логируется со всеми id.
func (e *BookingEngine) compensate(ctx context.Context, operation string, fields []zap.Field, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.compensationTimeout)
	defer cancel()

	err := fn(ctx)
	e.metrics.ObserveCompensation(operation, err == nil)
	if err != nil {
		e.logger.Error("Compensation failed, manual reconciliation required",
			append(fields, zap.String("operation", operation), zap.Error(err))...)
		return err
	}
	e.logger.Warn("Compensation applied", append(fields, zap.String("operation", operation))...)
	return nil
}

// orphanSuspected слот мог остаться booked без записи. Откатывать здесь нельзя:
// слот мог забронировать другой запрос. Такие слоты освобождает ReleaseOrphanedSlots.
func (e *BookingEngine) orphanSuspected(slotID uuid.UUID, fields ...zap.Field) {
	e.logger.Warn("Slot booking outcome unknown",
		append(fields, zap.String("slot_id", slotID.String()))...)
}

func (e *BookingEngine) verifyAppointment(ctx context.Context, st repository.Stores, id uuid.UUID) (*model.Appointment, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.compensationTimeout)
	defer cancel()
	return st.Appointments.GetAppointment(ctx, id)
}

func (e *BookingEngine) finish(span trace.Span, operation string, started time.Time, err error) {
	code := model.ErrorCode(err)
	span.SetAttributes(attribute.String("outcome", code))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, code)
	}
	e.metrics.ObserveOperation(operation, code, time.Since(started).Seconds())
}

func (e *BookingEngine) notify(ctx context.Context, event model.BookingEvent) {
	if e.notifier == nil {
		return
	}
	event.At = e.now()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.compensationTimeout)
	defer cancel()
	if err := e.notifier.Notify(ctx, event); err != nil {
		e.logger.Warn("Failed to send booking notification",
			zap.String("event", string(event.Type)),
			zap.Error(err),
		)
	}
}
