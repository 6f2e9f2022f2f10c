package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/interview_booking/internal/model"
	"github.com/Freeeeeet/interview_booking/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const slotColumns = `id, expert_id, start_time, end_time, status, created_at`

type SlotStore struct {
	db DB
}

var _ repository.SlotStore = (*SlotStore)(nil)

func NewSlotStore(db DB) *SlotStore {
	return &SlotStore{db: db}
}

func scanSlot(row pgx.Row) (*model.Slot, error) {
	var slot model.Slot
	err := row.Scan(
		&slot.ID,
		&slot.ExpertID,
		&slot.StartTime,
		&slot.EndTime,
		&slot.Status,
		&slot.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

func (s *SlotStore) querySlots(ctx context.Context, query string, args ...any) ([]*model.Slot, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []*model.Slot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

// ListOpenSlots свободные слоты эксперта по времени начала
func (s *SlotStore) ListOpenSlots(ctx context.Context, expertID string) ([]*model.Slot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM slots
		WHERE expert_id = $1 AND status = 'open'
		ORDER BY start_time
	`
	slots, err := s.querySlots(ctx, query, expertID)
	if err != nil {
		return nil, fmt.Errorf("list open slots: %w", err)
	}
	return slots, nil
}

// ListByExpert все слоты эксперта
func (s *SlotStore) ListByExpert(ctx context.Context, expertID string) ([]*model.Slot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM slots
		WHERE expert_id = $1
		ORDER BY start_time
	`
	slots, err := s.querySlots(ctx, query, expertID)
	if err != nil {
		return nil, fmt.Errorf("list slots by expert: %w", err)
	}
	return slots, nil
}

func (s *SlotStore) GetSlot(ctx context.Context, id uuid.UUID) (*model.Slot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM slots
		WHERE id = $1
	`
	slot, err := scanSlot(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("slot %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return slot, nil
}

func (s *SlotStore) GetSlots(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.Slot, error) {
	found := make(map[uuid.UUID]*model.Slot, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	query := `
		SELECT ` + slotColumns + `
		FROM slots
		WHERE id = ANY($1)
	`
	slots, err := s.querySlots(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("get slots: %w", err)
	}
	for _, slot := range slots {
		found[slot.ID] = slot
	}
	return found, nil
}

// MarkBooked условная запись open -> booked
func (s *SlotStore) MarkBooked(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE slots
		SET status = 'booked'
		WHERE id = $1 AND status = 'open'
	`
	result, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark slot booked: %w", err)
	}
	if result.RowsAffected() == 0 {
		return s.missingOr(ctx, id, model.ErrConflict)
	}
	return nil
}

// MarkOpen освобождает слот, повторный вызов ничего не меняет
func (s *SlotStore) MarkOpen(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE slots
		SET status = 'open'
		WHERE id = $1
	`
	result, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("mark slot open: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("slot %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// CreateSlot пересечения ловит exclusion constraint
func (s *SlotStore) CreateSlot(ctx context.Context, expertID string, start, end time.Time) (*model.Slot, error) {
	if err := (model.TimeRange{Start: start, End: end}).Validate(); err != nil {
		return nil, err
	}

	slot := &model.Slot{
		ID:        uuid.New(),
		ExpertID:  expertID,
		StartTime: start.UTC(),
		EndTime:   end.UTC(),
		Status:    model.SlotStatusOpen,
	}

	query := `
		INSERT INTO slots (id, expert_id, start_time, end_time, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err := s.db.QueryRow(
		ctx, query,
		slot.ID,
		slot.ExpertID,
		slot.StartTime,
		slot.EndTime,
		slot.Status,
	).Scan(&slot.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create slot: %w", mapError(err))
	}
	return slot, nil
}

func (s *SlotStore) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	query := `
		DELETE FROM slots
		WHERE id = $1 AND status = 'open'
	`
	result, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	if result.RowsAffected() == 0 {
		return s.missingOr(ctx, id, model.ErrConflict)
	}
	return nil
}

// ListOrphanedBooked забронированные слоты, на которые не ссылается ни одна неотменённая запись
func (s *SlotStore) ListOrphanedBooked(ctx context.Context, limit int) ([]*model.Slot, error) {
	query := `
		SELECT ` + slotColumns + `
		FROM slots s
		WHERE s.status = 'booked'
		  AND NOT EXISTS (
			SELECT 1 FROM appointments a
			WHERE a.slot_id = s.id AND a.status <> 'cancelled'
		  )
		ORDER BY s.start_time
		LIMIT $1
	`
	slots, err := s.querySlots(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list orphaned slots: %w", err)
	}
	return slots, nil
}

// missingOr различает отсутствующий слот и несработавшее условие
func (s *SlotStore) missingOr(ctx context.Context, id uuid.UUID, sentinel error) error {
	var status model.SlotStatus
	err := s.db.QueryRow(ctx, `SELECT status FROM slots WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("slot %s: %w", id, model.ErrNotFound)
		}
		return fmt.Errorf("check slot: %w", err)
	}
	return fmt.Errorf("slot %s is %s: %w", id, status, sentinel)
}
