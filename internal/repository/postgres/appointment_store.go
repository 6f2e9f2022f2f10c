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

const appointmentColumns = `id, user_id, expert_id, slot_id, status, created_at, updated_at`

type AppointmentStore struct {
	db DB
	// forUpdate GetAppointment блокирует строку до конца транзакции
	forUpdate bool
}

var _ repository.AppointmentStore = (*AppointmentStore)(nil)

func NewAppointmentStore(db DB) *AppointmentStore {
	return &AppointmentStore{db: db}
}

func newTxAppointmentStore(tx DB) *AppointmentStore {
	return &AppointmentStore{db: tx, forUpdate: true}
}

func scanAppointment(row pgx.Row) (*model.Appointment, error) {
	var appt model.Appointment
	err := row.Scan(
		&appt.ID,
		&appt.UserID,
		&appt.ExpertID,
		&appt.SlotID,
		&appt.Status,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &appt, nil
}

func (s *AppointmentStore) queryAppointments(ctx context.Context, query string, args ...any) ([]*model.Appointment, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []*model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan appointment: %w", err)
		}
		appts = append(appts, appt)
	}
	return appts, rows.Err()
}

// CreateAppointment вторая активная запись на слот упирается в частичный уникальный индекс
func (s *AppointmentStore) CreateAppointment(ctx context.Context, appt *model.Appointment) error {
	if appt.Status == "" {
		appt.Status = model.AppointmentStatusScheduled
	}

	query := `
		INSERT INTO appointments (id, user_id, expert_id, slot_id, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRow(
		ctx, query,
		appt.ID,
		appt.UserID,
		appt.ExpertID,
		appt.SlotID,
		appt.Status,
	).Scan(&appt.CreatedAt, &appt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create appointment: %w", mapError(err))
	}
	return nil
}

func (s *AppointmentStore) GetAppointment(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE id = $1
	`
	if s.forUpdate {
		query += ` FOR UPDATE`
	}
	appt, err := scanAppointment(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("appointment %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get appointment: %w", mapError(err))
	}
	return appt, nil
}

func (s *AppointmentStore) ListForUser(ctx context.Context, userID string) ([]*model.Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	appts, err := s.queryAppointments(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by user: %w", err)
	}
	return appts, nil
}

func (s *AppointmentStore) ListForExpert(ctx context.Context, expertID string) ([]*model.Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE expert_id = $1
		ORDER BY created_at DESC
	`
	appts, err := s.queryAppointments(ctx, query, expertID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by expert: %w", err)
	}
	return appts, nil
}

// UpdateStatus переводит запись из scheduled и возвращает её новое состояние
func (s *AppointmentStore) UpdateStatus(ctx context.Context, id uuid.UUID, status model.AppointmentStatus) (*model.Appointment, error) {
	if !model.CanTransition(model.AppointmentStatusScheduled, status) {
		return nil, fmt.Errorf("appointment %s -> %s: %w", id, status, model.ErrInvalidTransition)
	}

	query := `
		UPDATE appointments
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'scheduled'
		RETURNING ` + appointmentColumns
	appt, err := scanAppointment(s.db.QueryRow(ctx, query, id, status))
	if err != nil {
		if isNotFound(err) {
			return nil, s.missingOrStale(ctx, id)
		}
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	return appt, nil
}

// Rebind переносит запись на другой слот, если она всё ещё на from
func (s *AppointmentStore) Rebind(ctx context.Context, id, from, to uuid.UUID) (*model.Appointment, error) {
	query := `
		UPDATE appointments
		SET slot_id = $3, updated_at = NOW()
		WHERE id = $1 AND slot_id = $2 AND status = 'scheduled'
		RETURNING ` + appointmentColumns
	appt, err := scanAppointment(s.db.QueryRow(ctx, query, id, from, to))
	if err != nil {
		if isNotFound(err) {
			return nil, s.missingOrStale(ctx, id)
		}
		return nil, fmt.Errorf("rebind appointment: %w", mapError(err))
	}
	return appt, nil
}

func (s *AppointmentStore) missingOrStale(ctx context.Context, id uuid.UUID) error {
	var status model.AppointmentStatus
	var slotID uuid.UUID
	err := s.db.QueryRow(ctx, `SELECT status, slot_id FROM appointments WHERE id = $1`, id).Scan(&status, &slotID)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("appointment %s: %w", id, model.ErrNotFound)
		}
		return fmt.Errorf("check appointment: %w", err)
	}
	return fmt.Errorf("appointment %s is %s on slot %s: %w", id, status, slotID, model.ErrInvalidTransition)
}

// ListScheduledEndedBefore записи для фонового завершения
func (s *AppointmentStore) ListScheduledEndedBefore(ctx context.Context, t time.Time, limit int) ([]*model.Appointment, error) {
	query := `
		SELECT a.id, a.user_id, a.expert_id, a.slot_id, a.status, a.created_at, a.updated_at
		FROM appointments a
		JOIN slots s ON s.id = a.slot_id
		WHERE a.status = 'scheduled' AND s.end_time < $1
		ORDER BY s.end_time
		LIMIT $2
	`
	appts, err := s.queryAppointments(ctx, query, t, limit)
	if err != nil {
		return nil, fmt.Errorf("list elapsed appointments: %w", err)
	}
	return appts, nil
}
