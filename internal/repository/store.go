package repository

import (
	"context"
	"time"

	"github.com/Freeeeeet/interview_booking/internal/model"
	"github.com/google/uuid"
)

// SlotStore хранилище слотов. Отсутствующий слот даёт model.ErrNotFound,
// неприменённая условная запись model.ErrConflict.
type SlotStore interface {
	// ListOpenSlots свободные слоты эксперта по времени начала
	ListOpenSlots(ctx context.Context, expertID string) ([]*model.Slot, error)
	// ListByExpert все слоты эксперта по времени начала
	ListByExpert(ctx context.Context, expertID string) ([]*model.Slot, error)
	GetSlot(ctx context.Context, id uuid.UUID) (*model.Slot, error)
	// GetSlots найденные слоты, отсутствующие id пропускаются
	GetSlots(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.Slot, error)
	// MarkBooked атомарно open -> booked. ErrConflict если слот не свободен
	MarkBooked(ctx context.Context, id uuid.UUID) error
	// MarkOpen освобождает слот, повторный вызов ничего не меняет
	MarkOpen(ctx context.Context, id uuid.UUID) error
	// CreateSlot ошибки ErrInvalidRange или ErrOverlap
	CreateSlot(ctx context.Context, expertID string, start, end time.Time) (*model.Slot, error)
	// DeleteSlot удаляет свободный слот. ErrConflict если он забронирован
	DeleteSlot(ctx context.Context, id uuid.UUID) error
	// ListOrphanedBooked забронированные слоты без неотменённой записи, не больше limit
	ListOrphanedBooked(ctx context.Context, limit int) ([]*model.Slot, error)
}

// AppointmentStore хранилище записей
type AppointmentStore interface {
	// CreateAppointment сохраняет запись и заполняет даты.
	// Вторая активная запись на слот даёт ErrSlotUnavailable.
	CreateAppointment(ctx context.Context, appt *model.Appointment) error
	GetAppointment(ctx context.Context, id uuid.UUID) (*model.Appointment, error)
	ListForUser(ctx context.Context, userID string) ([]*model.Appointment, error)
	ListForExpert(ctx context.Context, expertID string) ([]*model.Appointment, error)
	// UpdateStatus условная смена статуса, возвращает запись после записи.
	// ErrInvalidTransition если текущий статус не позволяет переход.
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.AppointmentStatus) (*model.Appointment, error)
	// Rebind переносит запись со слота from на to.
	// ErrInvalidTransition если запись уже не scheduled на from.
	Rebind(ctx context.Context, id, from, to uuid.UUID) (*model.Appointment, error)
	// ListScheduledEndedBefore scheduled записи, слот которых закончился до t, не больше limit
	ListScheduledEndedBefore(ctx context.Context, t time.Time, limit int) ([]*model.Appointment, error)
}

// Stores оба хранилища на одном соединении или транзакции
type Stores struct {
	Slots        SlotStore
	Appointments AppointmentStore
}

// TxRunner есть у бэкендов с транзакциями. Ошибка из fn откатывает транзакцию.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Stores) error) error
}

// Backend настроенный слой хранения. Tx равен nil, если транзакций нет.
type Backend struct {
	Stores
	Tx    TxRunner
	Close func(ctx context.Context) error
}
