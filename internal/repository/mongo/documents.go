package mongo

import (
	"time"

	"github.com/Freeeeeet/interview_booking/internal/model"
	"github.com/google/uuid"
)

type slotDocument struct {
	ID        string    `bson:"_id"`
	ExpertID  string    `bson:"expert_id"`
	StartTime time.Time `bson:"start_time"`
	EndTime   time.Time `bson:"end_time"`
	Status    string    `bson:"status"`
	CreatedAt time.Time `bson:"created_at"`
}

func newSlotDocument(s *model.Slot) slotDocument {
	return slotDocument{
		ID:        s.ID.String(),
		ExpertID:  s.ExpertID,
		StartTime: s.StartTime,
		EndTime:   s.EndTime,
		Status:    string(s.Status),
		CreatedAt: s.CreatedAt,
	}
}

func (d slotDocument) toModel() (*model.Slot, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	return &model.Slot{
		ID:        id,
		ExpertID:  d.ExpertID,
		StartTime: d.StartTime.UTC(),
		EndTime:   d.EndTime.UTC(),
		Status:    model.SlotStatus(d.Status),
		CreatedAt: d.CreatedAt.UTC(),
	}, nil
}

type appointmentDocument struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	ExpertID  string    `bson:"expert_id"`
	SlotID    string    `bson:"slot_id"`
	Status    string    `bson:"status"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func newAppointmentDocument(a *model.Appointment) appointmentDocument {
	return appointmentDocument{
		ID:        a.ID.String(),
		UserID:    a.UserID,
		ExpertID:  a.ExpertID,
		SlotID:    a.SlotID.String(),
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

func (d appointmentDocument) toModel() (*model.Appointment, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	slotID, err := uuid.Parse(d.SlotID)
	if err != nil {
		return nil, err
	}
	return &model.Appointment{
		ID:        id,
		UserID:    d.UserID,
		ExpertID:  d.ExpertID,
		SlotID:    slotID,
		Status:    model.AppointmentStatus(d.Status),
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}, nil
}
