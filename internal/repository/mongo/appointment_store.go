package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Freeeeeet/interview_booking/internal/model"
	"github.com/Freeeeeet/interview_booking/internal/repository"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type AppointmentStore struct {
	coll      *mongo.Collection
	slotsName string
	now       func() time.Time
}

var _ repository.AppointmentStore = (*AppointmentStore)(nil)

// NewAppointmentStore slots нужна только для $lookup при завершении записей
func NewAppointmentStore(coll, slots *mongo.Collection) *AppointmentStore {
	return &AppointmentStore{
		coll:      coll,
		slotsName: slots.Name(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func decodeAppointments(ctx context.Context, cursor *mongo.Cursor) ([]*model.Appointment, error) {
	defer cursor.Close(ctx)

	var docs []appointmentDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode appointments: %w", err)
	}

	appts := make([]*model.Appointment, 0, len(docs))
	for _, doc := range docs {
		appt, err := doc.toModel()
		if err != nil {
			return nil, fmt.Errorf("decode appointment %s: %w", doc.ID, err)
		}
		appts = append(appts, appt)
	}
	return appts, nil
}

func (s *AppointmentStore) CreateAppointment(ctx context.Context, appt *model.Appointment) error {
	now := s.now()
	appt.CreatedAt = now
	appt.UpdatedAt = now
	if appt.Status == "" {
		appt.Status = model.AppointmentStatusScheduled
	}

	if _, err := s.coll.InsertOne(ctx, newAppointmentDocument(appt)); err != nil {
		return fmt.Errorf("create appointment: %w", mapWriteError(err))
	}
	return nil
}

func (s *AppointmentStore) GetAppointment(ctx context.Context, id uuid.UUID) (*model.Appointment, error) {
	var doc appointmentDocument
	if err := s.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("appointment %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return doc.toModel()
}

func (s *AppointmentStore) list(ctx context.Context, filter bson.M) ([]*model.Appointment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return decodeAppointments(ctx, cursor)
}

func (s *AppointmentStore) ListForUser(ctx context.Context, userID string) ([]*model.Appointment, error) {
	appts, err := s.list(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("list appointments by user: %w", err)
	}
	return appts, nil
}

func (s *AppointmentStore) ListForExpert(ctx context.Context, expertID string) ([]*model.Appointment, error) {
	appts, err := s.list(ctx, bson.M{"expert_id": expertID})
	if err != nil {
		return nil, fmt.Errorf("list appointments by expert: %w", err)
	}
	return appts, nil
}

// findAndUpdate применяет update только если документ всё ещё подходит под filter
func (s *AppointmentStore) findAndUpdate(ctx context.Context, id uuid.UUID, filter, set bson.M) (*model.Appointment, error) {
	set["updated_at"] = s.now()
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc appointmentDocument
	err := s.coll.FindOneAndUpdate(ctx, filter, bson.M{"$set": set}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, s.missingOrStale(ctx, id)
		}
		return nil, mapWriteError(err)
	}
	return doc.toModel()
}

func (s *AppointmentStore) UpdateStatus(ctx context.Context, id uuid.UUID, status model.AppointmentStatus) (*model.Appointment, error) {
	if !model.CanTransition(model.AppointmentStatusScheduled, status) {
		return nil, fmt.Errorf("appointment %s -> %s: %w", id, status, model.ErrInvalidTransition)
	}

	filter := bson.M{"_id": id.String(), "status": string(model.AppointmentStatusScheduled)}
	appt, err := s.findAndUpdate(ctx, id, filter, bson.M{"status": string(status)})
	if err != nil {
		return nil, fmt.Errorf("update appointment status: %w", err)
	}
	return appt, nil
}

func (s *AppointmentStore) Rebind(ctx context.Context, id, from, to uuid.UUID) (*model.Appointment, error) {
	filter := bson.M{
		"_id":     id.String(),
		"slot_id": from.String(),
		"status":  string(model.AppointmentStatusScheduled),
	}
	appt, err := s.findAndUpdate(ctx, id, filter, bson.M{"slot_id": to.String()})
	if err != nil {
		return nil, fmt.Errorf("rebind appointment: %w", err)
	}
	return appt, nil
}

func (s *AppointmentStore) missingOrStale(ctx context.Context, id uuid.UUID) error {
	var doc appointmentDocument
	if err := s.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("appointment %s: %w", id, model.ErrNotFound)
		}
		return fmt.Errorf("check appointment: %w", err)
	}
	return fmt.Errorf("appointment %s is %s on slot %s: %w", id, doc.Status, doc.SlotID, model.ErrInvalidTransition)
}

// ListScheduledEndedBefore соединяет записи со слотами через $lookup
func (s *AppointmentStore) ListScheduledEndedBefore(ctx context.Context, t time.Time, limit int) ([]*model.Appointment, error) {
	if limit <= 0 {
		limit = 100
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"status": string(model.AppointmentStatusScheduled)}}},
		{{Key: "$lookup", Value: bson.M{
			"from":         s.slotsName,
			"localField":   "slot_id",
			"foreignField": "_id",
			"as":           "slot",
		}}},
		{{Key: "$unwind", Value: "$slot"}},
		{{Key: "$match", Value: bson.M{"slot.end_time": bson.M{"$lt": t.UTC()}}}},
		{{Key: "$sort", Value: bson.M{"slot.end_time": 1}}},
		{{Key: "$limit", Value: limit}},
		{{Key: "$project", Value: bson.M{"slot": 0}}},
	}

	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("list elapsed appointments: %w", err)
	}
	return decodeAppointments(ctx, cursor)
}
