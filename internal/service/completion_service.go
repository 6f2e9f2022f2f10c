package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Freeeeeet/interview_booking/internal/metrics"
	"github.com/Freeeeeet/interview_booking/internal/model"
	"github.com/Freeeeeet/interview_booking/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const completionBatchSize = 100

// CompletionService переводит записи в completed после окончания слота
// и освобождает слоты, оставшиеся booked без записи
type CompletionService struct {
	appointments repository.AppointmentStore
	slots        repository.SlotStore
	metrics      *metrics.BookingMetrics
	logger       *zap.Logger
	now          func() time.Time
	storeTimeout time.Duration
	batchSize    int
	orphanGrace  time.Duration

	mu      sync.Mutex
	orphans map[uuid.UUID]time.Time
}

// NewCompletionService orphanGrace время, которое слот должен провисеть
// без записи, прежде чем его освободят
func NewCompletionService(stores repository.Stores, m *metrics.BookingMetrics, logger *zap.Logger, storeTimeout, orphanGrace time.Duration) *CompletionService {
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	return &CompletionService{
		appointments: stores.Appointments,
		slots:        stores.Slots,
		metrics:      m,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		storeTimeout: storeTimeout,
		batchSize:    completionBatchSize,
		orphanGrace:  orphanGrace,
		orphans:      make(map[uuid.UUID]time.Time),
	}
}

// CompleteElapsed завершает все записи с прошедшим слотом, возвращает их число.
// Запись, отменённая между выборкой и обновлением, пропускается.
func (s *CompletionService) CompleteElapsed(ctx context.Context) (int, error) {
	cutoff := s.now()
	completed := 0
	defer func() { s.metrics.AddCompleted(completed) }()

	for {
		batch, err := callStore(ctx, s.storeTimeout, func(ctx context.Context) ([]*model.Appointment, error) {
			return s.appointments.ListScheduledEndedBefore(ctx, cutoff, s.batchSize)
		})
		if err != nil {
			return completed, fmt.Errorf("list elapsed appointments: %w", err)
		}

		progressed := 0
		for _, appt := range batch {
			_, err := callStore(ctx, s.storeTimeout, func(ctx context.Context) (*model.Appointment, error) {
				return s.appointments.UpdateStatus(ctx, appt.ID, model.AppointmentStatusCompleted)
			})
			switch {
			case err == nil:
				completed++
				progressed++
			case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, model.ErrNotFound):
				progressed++
			default:
				s.logger.Error("Failed to complete appointment",
					zap.String("appointment_id", appt.ID.String()),
					zap.Error(err),
				)
			}
		}

		// Без прогресса следующая выборка вернёт те же записи
		if len(batch) < s.batchSize || progressed == 0 {
			return completed, nil
		}
	}
}

// ReleaseOrphanedSlots открывает booked слоты без неотменённой записи.
// Такой слот остаётся, когда запись статуса прошла, а ответ потерялся
// по таймауту. Слот освобождается, только если оставался без записи
// на всех проходах дольше orphanGrace.
func (s *CompletionService) ReleaseOrphanedSlots(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	slots, err := callStore(ctx, s.storeTimeout, func(ctx context.Context) ([]*model.Slot, error) {
		return s.slots.ListOrphanedBooked(ctx, s.batchSize)
	})
	if err != nil {
		return 0, fmt.Errorf("list orphaned slots: %w", err)
	}

	seen := make(map[uuid.UUID]time.Time, len(slots))
	released := 0
	defer func() { s.metrics.AddOrphansReleased(released) }()

	for _, slot := range slots {
		first, ok := s.orphans[slot.ID]
		if !ok {
			first = now
		}
		if now.Sub(first) < s.orphanGrace {
			seen[slot.ID] = first
			continue
		}

		err := execStore(ctx, s.storeTimeout, func(ctx context.Context) error {
			return s.slots.MarkOpen(ctx, slot.ID)
		})
		if err != nil {
			if !errors.Is(err, model.ErrNotFound) {
				seen[slot.ID] = first
				s.logger.Error("Failed to release orphaned slot",
					zap.String("slot_id", slot.ID.String()),
					zap.Error(err),
				)
			}
			continue
		}
		released++
		s.logger.Warn("Orphaned slot released",
			zap.String("slot_id", slot.ID.String()),
			zap.String("expert_id", slot.ExpertID),
			zap.Time("orphaned_since", first),
		)
	}

	s.orphans = seen
	return released, nil
}
