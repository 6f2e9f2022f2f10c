package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Freeeeeet/interview_booking/internal/model"
	"github.com/Freeeeeet/interview_booking/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AvailabilityService управление слотами эксперта
type AvailabilityService struct {
	slots        repository.SlotStore
	logger       *zap.Logger
	now          func() time.Time
	storeTimeout time.Duration
}

func NewAvailabilityService(slots repository.SlotStore, logger *zap.Logger, storeTimeout time.Duration) *AvailabilityService {
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	return &AvailabilityService{
		slots:        slots,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		storeTimeout: storeTimeout,
	}
}

// SlotResult результат создания одного слота из пакета
type SlotResult struct {
	Range model.TimeRange `json:"range"`
	Slot  *model.Slot     `json:"slot,omitempty"`
	Err   error           `json:"-"`
}

// CreateSlot создаёт один слот эксперта
func (s *AvailabilityService) CreateSlot(ctx context.Context, actor model.Actor, start, end time.Time) (*model.Slot, error) {
	results, err := s.CreateSlots(ctx, actor, []model.TimeRange{{Start: start, End: end}})
	if err != nil {
		return nil, err
	}
	if results[0].Err != nil {
		return nil, results[0].Err
	}
	return results[0].Slot, nil
}

// CreateSlots сначала проверяет весь пакет, затем создаёт слоты по одному.
// Ошибка проверки отклоняет пакет целиком; ошибки записи возвращаются по каждому слоту.
func (s *AvailabilityService) CreateSlots(ctx context.Context, actor model.Actor, ranges []model.TimeRange) ([]SlotResult, error) {
	if !actor.IsExpert() {
		return nil, fmt.Errorf("create slots as %q: %w", actor.Role, model.ErrForbidden)
	}
	if len(ranges) == 0 {
		return nil, fmt.Errorf("create slots: empty batch: %w", model.ErrInvalidRange)
	}

	now := s.now()
	for i, r := range ranges {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("slot #%d: %w", i+1, err)
		}
		if !r.Start.After(now) {
			return nil, fmt.Errorf("slot #%d starts in the past: %w", i+1, model.ErrInvalidRange)
		}
		for j := 0; j < i; j++ {
			if r.Overlaps(ranges[j]) {
				return nil, fmt.Errorf("slot #%d overlaps slot #%d: %w", i+1, j+1, model.ErrOverlap)
			}
		}
	}

	results := make([]SlotResult, 0, len(ranges))
	for _, r := range ranges {
		slot, err := callStore(ctx, s.storeTimeout, func(ctx context.Context) (*model.Slot, error) {
			return s.slots.CreateSlot(ctx, actor.UserID, r.Start, r.End)
		})
		if err != nil {
			s.logger.Warn("Failed to create slot",
				zap.String("expert_id", actor.UserID),
				zap.Time("start_time", r.Start),
				zap.Error(err),
			)
			results = append(results, SlotResult{Range: r, Err: fmt.Errorf("create slot: %w", err)})
			continue
		}

		s.logger.Info("Slot created",
			zap.String("slot_id", slot.ID.String()),
			zap.String("expert_id", actor.UserID),
			zap.Time("start_time", slot.StartTime),
		)
		results = append(results, SlotResult{Range: r, Slot: slot})
	}
	return results, nil
}

// ListMySlots все слоты эксперта, включая забронированные
func (s *AvailabilityService) ListMySlots(ctx context.Context, actor model.Actor) ([]*model.Slot, error) {
	if !actor.IsExpert() {
		return nil, fmt.Errorf("list slots as %q: %w", actor.Role, model.ErrForbidden)
	}
	slots, err := callStore(ctx, s.storeTimeout, func(ctx context.Context) ([]*model.Slot, error) {
		return s.slots.ListByExpert(ctx, actor.UserID)
	})
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return slots, nil
}

// DeleteSlot удаляет свободный слот. Удалить может эксперт-владелец или админ.
func (s *AvailabilityService) DeleteSlot(ctx context.Context, actor model.Actor, slotID uuid.UUID) error {
	slot, err := callStore(ctx, s.storeTimeout, func(ctx context.Context) (*model.Slot, error) {
		return s.slots.GetSlot(ctx, slotID)
	})
	if err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	if !actor.IsAdmin() && !(actor.IsExpert() && slot.ExpertID == actor.UserID) {
		return fmt.Errorf("delete slot %s as %q: %w", slotID, actor.UserID, model.ErrForbidden)
	}

	err = execStore(ctx, s.storeTimeout, func(ctx context.Context) error {
		return s.slots.DeleteSlot(ctx, slotID)
	})
	if err != nil {
		if errors.Is(err, model.ErrConflict) {
			return fmt.Errorf("delete slot %s: slot is booked: %w", slotID, err)
		}
		return fmt.Errorf("delete slot: %w", err)
	}

	s.logger.Info("Slot deleted",
		zap.String("slot_id", slotID.String()),
		zap.String("expert_id", slot.ExpertID),
		zap.String("deleted_by", actor.UserID),
	)
	return nil
}
