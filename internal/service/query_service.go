package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Freeeeeet/interview_booking/internal/model"
	"github.com/Freeeeeet/interview_booking/internal/repository"
	"github.com/google/uuid"
)

// QueryService представления для страниц пользователя и эксперта, только чтение
type QueryService struct {
	stores       repository.Stores
	now          func() time.Time
	storeTimeout time.Duration
}

func NewQueryService(stores repository.Stores, storeTimeout time.Duration) *QueryService {
	if storeTimeout <= 0 {
		storeTimeout = defaultStoreTimeout
	}
	return &QueryService{
		stores:       stores,
		now:          func() time.Time { return time.Now().UTC() },
		storeTimeout: storeTimeout,
	}
}

// Upcoming запланированные записи, слот которых ещё не закончился
func (s *QueryService) Upcoming(ctx context.Context, userID string) ([]*model.Appointment, error) {
	now := s.now()
	return s.userView(ctx, userID, func(a *model.Appointment) bool {
		return a.IsScheduled() && a.Slot != nil && a.Slot.EndTime.After(now)
	})
}

// Past завершённые и запланированные с уже прошедшим слотом
func (s *QueryService) Past(ctx context.Context, userID string) ([]*model.Appointment, error) {
	now := s.now()
	return s.userView(ctx, userID, func(a *model.Appointment) bool {
		if a.Status == model.AppointmentStatusCompleted {
			return true
		}
		return a.IsScheduled() && a.Slot != nil && !a.Slot.EndTime.After(now)
	})
}

func (s *QueryService) Cancelled(ctx context.Context, userID string) ([]*model.Appointment, error) {
	return s.userView(ctx, userID, func(a *model.Appointment) bool {
		return a.Status == model.AppointmentStatusCancelled
	})
}

func (s *QueryService) userView(ctx context.Context, userID string, keep func(*model.Appointment) bool) ([]*model.Appointment, error) {
	appts, err := callStore(ctx, s.storeTimeout, func(ctx context.Context) ([]*model.Appointment, error) {
		return s.stores.Appointments.ListForUser(ctx, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("list user appointments: %w", err)
	}
	if err := s.attachSlots(ctx, appts); err != nil {
		return nil, err
	}

	view := make([]*model.Appointment, 0, len(appts))
	for _, appt := range appts {
		if keep(appt) {
			view = append(view, appt)
		}
	}
	sortBySlotStart(view)
	return view, nil
}

// OpenSlots слоты, которые ещё можно забронировать
func (s *QueryService) OpenSlots(ctx context.Context, expertID string) ([]*model.Slot, error) {
	slots, err := callStore(ctx, s.storeTimeout, func(ctx context.Context) ([]*model.Slot, error) {
		return s.stores.Slots.ListOpenSlots(ctx, expertID)
	})
	if err != nil {
		return nil, fmt.Errorf("list open slots: %w", err)
	}

	now := s.now()
	bookable := make([]*model.Slot, 0, len(slots))
	for _, slot := range slots {
		if slot.StartsAfter(now) {
			bookable = append(bookable, slot)
		}
	}
	return bookable, nil
}

// ExpertSchedule записи к эксперту со слотами
func (s *QueryService) ExpertSchedule(ctx context.Context, actor model.Actor) ([]*model.Appointment, error) {
	if !actor.IsExpert() {
		return nil, fmt.Errorf("expert schedule for %q: %w", actor.UserID, model.ErrForbidden)
	}

	appts, err := callStore(ctx, s.storeTimeout, func(ctx context.Context) ([]*model.Appointment, error) {
		return s.stores.Appointments.ListForExpert(ctx, actor.UserID)
	})
	if err != nil {
		return nil, fmt.Errorf("list expert appointments: %w", err)
	}
	if err := s.attachSlots(ctx, appts); err != nil {
		return nil, err
	}
	sortBySlotStart(appts)
	return appts, nil
}

func (s *QueryService) attachSlots(ctx context.Context, appts []*model.Appointment) error {
	if len(appts) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(appts))
	seen := make(map[uuid.UUID]struct{}, len(appts))
	for _, appt := range appts {
		if _, ok := seen[appt.SlotID]; !ok {
			seen[appt.SlotID] = struct{}{}
			ids = append(ids, appt.SlotID)
		}
	}

	slots, err := callStore(ctx, s.storeTimeout, func(ctx context.Context) (map[uuid.UUID]*model.Slot, error) {
		return s.stores.Slots.GetSlots(ctx, ids)
	})
	if err != nil {
		return fmt.Errorf("get slots: %w", err)
	}
	// Слот отменённой записи мог быть удалён экспертом
	for _, appt := range appts {
		appt.Slot = slots[appt.SlotID]
	}
	return nil
}

// sortBySlotStart записи без слота уходят в конец
func sortBySlotStart(appts []*model.Appointment) {
	sort.SliceStable(appts, func(i, j int) bool {
		a, b := appts[i].Slot, appts[j].Slot
		switch {
		case a == nil && b == nil:
			return appts[i].CreatedAt.Before(appts[j].CreatedAt)
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.StartTime.Before(b.StartTime)
		}
	})
}
