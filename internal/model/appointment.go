package model

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentStatusScheduled AppointmentStatus = "scheduled"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
)

type Appointment struct {
	ID        uuid.UUID         `json:"id"`
	UserID    string            `json:"user_id"`
	ExpertID  string            `json:"expert_id"`
	SlotID    uuid.UUID         `json:"slot_id"`
	Status    AppointmentStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`

	// Заполняется при чтении, не хранится
	Slot *Slot `json:"slot,omitempty"`
}

// NewAppointment создаёт запись со своим id, чтобы после таймаута вставки
// можно было проверить её по id
func NewAppointment(userID, expertID string, slotID uuid.UUID) *Appointment {
	return &Appointment{
		ID:       uuid.New(),
		UserID:   userID,
		ExpertID: expertID,
		SlotID:   slotID,
		Status:   AppointmentStatusScheduled,
	}
}

func (a *Appointment) IsScheduled() bool {
	return a.Status == AppointmentStatusScheduled
}

func (a *Appointment) OwnedBy(userID string) bool {
	return userID != "" && a.UserID == userID
}

// CanTransition допустимые переходы: scheduled -> completed | cancelled
func CanTransition(from, to AppointmentStatus) bool {
	if from != AppointmentStatusScheduled {
		return false
	}
	return to == AppointmentStatusCompleted || to == AppointmentStatusCancelled
}
