// Package memory хранилище в памяти с теми же условными записями, что и в БД.
// Транзакций нет, движок работает через компенсации.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Freeeeeet/interview_booking/internal/model"
	"github.com/Freeeeeet/interview_booking/internal/repository"
	"github.com/google/uuid"
)

type Store struct {
	mu           sync.RWMutex
	slots        map[uuid.UUID]*model.Slot
	appointments map[uuid.UUID]*model.Appointment
	now          func() time.Time
}

var (
	_ repository.SlotStore        = (*Store)(nil)
	_ repository.AppointmentStore = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		slots:        make(map[uuid.UUID]*model.Slot),
		appointments: make(map[uuid.UUID]*model.Appointment),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Backend хранилище как repository.Backend без TxRunner
func (s *Store) Backend() repository.Backend {
	return repository.Backend{
		Stores: repository.Stores{Slots: s, Appointments: s},
		Close:  func(context.Context) error { return nil },
	}
}

func (s *Store) ListOpenSlots(ctx context.Context, expertID string) ([]*model.Slot, error) {
	return s.listSlots(expertID, func(slot *model.Slot) bool { return slot.IsOpen() }), nil
}

func (s *Store) ListByExpert(ctx context.Context, expertID string) ([]*model.Slot, error) {
	return s.listSlots(expertID, func(*model.Slot) bool { return true }), nil
}

func (s *Store) listSlots(expertID string, keep func(*model.Slot) bool) []*model.Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var slots []*model.Slot
	for _, slot := range s.slots {
		if slot.ExpertID == expertID && keep(slot) {
			cp := *slot
			slots = append(slots, &cp)
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].StartTime.Before(slots[j].StartTime) })
	return slots
}

func (s *Store) GetSlot(ctx context.Context, id uuid.UUID) (*model.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, ok := s.slots[id]
	if !ok {
		return nil, fmt.Errorf("slot %s: %w", id, model.ErrNotFound)
	}
	cp := *slot
	return &cp, nil
}

func (s *Store) GetSlots(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	found := make(map[uuid.UUID]*model.Slot, len(ids))
	for _, id := range ids {
		if slot, ok := s.slots[id]; ok {
			cp := *slot
			found[id] = &cp
		}
	}
	return found, nil
}

func (s *Store) MarkBooked(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[id]
	if !ok {
		return fmt.Errorf("slot %s: %w", id, model.ErrNotFound)
	}
	if slot.Status != model.SlotStatusOpen {
		return fmt.Errorf("slot %s is %s: %w", id, slot.Status, model.ErrConflict)
	}
	slot.Status = model.SlotStatusBooked
	return nil
}

func (s *Store) MarkOpen(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[id]
	if !ok {
		return fmt.Errorf("slot %s: %w", id, model.ErrNotFound)
	}
	slot.Status = model.SlotStatusOpen
	return nil
}

func (s *Store) CreateSlot(ctx context.Context, expertID string, start, end time.Time) (*model.Slot, error) {
	if err := (model.TimeRange{Start: start, End: end}).Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.slots {
		if existing.ExpertID == expertID && existing.Overlaps(start, end) {
			return nil, fmt.Errorf("slot %s: %w", existing.ID, model.ErrOverlap)
		}
	}

	slot := &model.Slot{
		ID:        uuid.New(),
		ExpertID:  expertID,
		StartTime: start.UTC(),
		EndTime:   end.UTC(),
		Status:    model.SlotStatusOpen,
		CreatedAt: s.now(),
	}
	s.slots[slot.ID] = slot

	cp := *slot
	return &cp, nil
}

func (s *Store) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[id]
	if !ok {
		return fmt.Errorf("slot %s: %w", id, model.ErrNotFound)
	}
	if slot.Status != model.SlotStatusOpen {
		return fmt.Errorf("slot %s is %s: %w", id, slot.Status, model.ErrConflict)
	}
	delete(s.slots, id)
	return nil
}

func (s *Store) ListOrphanedBooked(ctx context.Context, limit int) ([]*model.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	active := make(map[uuid.UUID]bool, len(s.appointments))
	for _, appt := range s.appointments {
		if appt.Status != model.AppointmentStatusCancelled {
			active[appt.SlotID] = true
		}
	}

	var orphaned []*model.Slot
	for _, slot := range s.slots {
		if slot.Status == model.SlotStatusBooked && !active[slot.ID] {
			cp := *slot
			orphaned = append(orphaned, &cp)
		}
	}
	sort.Slice(orphaned, func(i, j int) bool {
		return orphaned[i].StartTime.Before(orphaned[j].StartTime)
	})
	if limit > 0 && len(orphaned) > limit {
		orphaned = orphaned[:limit]
	}
	return orphaned, nil
}

func (s *Store) CreateAppointment(ctx context.Context, appt *model.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.appointments[appt.ID]; ok {
		return fmt.Errorf("appointment %s already exists: %w", appt.ID, model.ErrConflict)
	}
	for _, existing := range s.appointments {
		if existing.SlotID == appt.SlotID && existing.Status != model.AppointmentStatusCancelled {
			return fmt.Errorf("slot %s already has appointment %s: %w", appt.SlotID, existing.ID, model.ErrSlotUnavailable)
		}
	}

	now := s.now()
	appt.CreatedAt = now
	appt.UpdatedAt = now
	if appt.Status == "" {
		appt.Status = model.AppointmentStatusScheduled
	}

	cp := *appt
	cp.Slot = nil
	s.appointments[appt.ID] = &cp
	return nil
}

func (s *Store) GetAppointment(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	appt, ok := s.appointments[id]
	if !ok {
		return nil, fmt.Errorf("appointment %s: %w", id, model.ErrNotFound)
	}
	cp := *appt
	return &cp, nil
}

func (s *Store) ListForUser(ctx context.Context, userID string) ([]*model.Appointment, error) {
	return s.listAppointments(func(a *model.Appointment) bool { return a.UserID == userID }), nil
}

func (s *Store) ListForExpert(ctx context.Context, expertID string) ([]*model.Appointment, error) {
	return s.listAppointments(func(a *model.Appointment) bool { return a.ExpertID == expertID }), nil
}

func (s *Store) listAppointments(keep func(*model.Appointment) bool) []*model.Appointment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var appts []*model.Appointment
	for _, appt := range s.appointments {
		if keep(appt) {
			cp := *appt
			appts = append(appts, &cp)
		}
	}
	sort.Slice(appts, func(i, j int) bool { return appts[i].CreatedAt.After(appts[j].CreatedAt) })
	return appts
}

func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status model.AppointmentStatus) (*model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt, ok := s.appointments[id]
	if !ok {
		return nil, fmt.Errorf("appointment %s: %w", id, model.ErrNotFound)
	}
	if !model.CanTransition(appt.Status, status) {
		return nil, fmt.Errorf("appointment %s %s -> %s: %w", id, appt.Status, status, model.ErrInvalidTransition)
	}
	appt.Status = status
	appt.UpdatedAt = s.now()

	cp := *appt
	return &cp, nil
}

func (s *Store) Rebind(ctx context.Context, id, from, to uuid.UUID) (*model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appt, ok := s.appointments[id]
	if !ok {
		return nil, fmt.Errorf("appointment %s: %w", id, model.ErrNotFound)
	}
	if !appt.IsScheduled() || appt.SlotID != from {
		return nil, fmt.Errorf("appointment %s is %s on slot %s: %w", id, appt.Status, appt.SlotID, model.ErrInvalidTransition)
	}
	appt.SlotID = to
	appt.UpdatedAt = s.now()

	cp := *appt
	return &cp, nil
}

func (s *Store) ListScheduledEndedBefore(ctx context.Context, t time.Time, limit int) ([]*model.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var appts []*model.Appointment
	for _, appt := range s.appointments {
		if !appt.IsScheduled() {
			continue
		}
		slot, ok := s.slots[appt.SlotID]
		if !ok || !slot.EndTime.Before(t) {
			continue
		}
		cp := *appt
		appts = append(appts, &cp)
	}
	sort.Slice(appts, func(i, j int) bool { return appts[i].CreatedAt.Before(appts[j].CreatedAt) })
	if limit > 0 && len(appts) > limit {
		appts = appts[:limit]
	}
	return appts, nil
}
