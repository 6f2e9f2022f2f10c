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

type SlotStore struct {
	coll *mongo.Collection
	now  func() time.Time
}

var _ repository.SlotStore = (*SlotStore)(nil)

func NewSlotStore(coll *mongo.Collection) *SlotStore {
	return &SlotStore{
		coll: coll,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *SlotStore) find(ctx context.Context, filter bson.M) ([]*model.Slot, error) {
	opts := options.Find().SetSort(bson.D{{Key: "start_time", Value: 1}})
	cursor, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	return decodeSlots(ctx, cursor)
}

func decodeSlots(ctx context.Context, cursor *mongo.Cursor) ([]*model.Slot, error) {
	defer cursor.Close(ctx)

	var docs []slotDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode slots: %w", err)
	}

	slots := make([]*model.Slot, 0, len(docs))
	for _, doc := range docs {
		slot, err := doc.toModel()
		if err != nil {
			return nil, fmt.Errorf("decode slot %s: %w", doc.ID, err)
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

func (s *SlotStore) ListOpenSlots(ctx context.Context, expertID string) ([]*model.Slot, error) {
	slots, err := s.find(ctx, bson.M{"expert_id": expertID, "status": string(model.SlotStatusOpen)})
	if err != nil {
		return nil, fmt.Errorf("list open slots: %w", err)
	}
	return slots, nil
}

func (s *SlotStore) ListByExpert(ctx context.Context, expertID string) ([]*model.Slot, error) {
	slots, err := s.find(ctx, bson.M{"expert_id": expertID})
	if err != nil {
		return nil, fmt.Errorf("list slots by expert: %w", err)
	}
	return slots, nil
}

func (s *SlotStore) GetSlot(ctx context.Context, id uuid.UUID) (*model.Slot, error) {
	var doc slotDocument
	if err := s.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("slot %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return doc.toModel()
}

func (s *SlotStore) GetSlots(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*model.Slot, error) {
	found := make(map[uuid.UUID]*model.Slot, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	keys := make(bson.A, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, id.String())
	}
	slots, err := s.find(ctx, bson.M{"_id": bson.M{"$in": keys}})
	if err != nil {
		return nil, fmt.Errorf("get slots: %w", err)
	}
	for _, slot := range slots {
		found[slot.ID] = slot
	}
	return found, nil
}

// MarkBooked фильтр по статусу делает запись условной
func (s *SlotStore) MarkBooked(ctx context.Context, id uuid.UUID) error {
	filter := bson.M{"_id": id.String(), "status": string(model.SlotStatusOpen)}
	update := bson.M{"$set": bson.M{"status": string(model.SlotStatusBooked)}}

	res, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("mark slot booked: %w", err)
	}
	if res.MatchedCount == 0 {
		return s.missingOr(ctx, id, model.ErrConflict)
	}
	return nil
}

func (s *SlotStore) MarkOpen(ctx context.Context, id uuid.UUID) error {
	update := bson.M{"$set": bson.M{"status": string(model.SlotStatusOpen)}}

	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": id.String()}, update)
	if err != nil {
		return fmt.Errorf("mark slot open: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("slot %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// CreateSlot проверка пересечений здесь не атомарна: два параллельных
// создания одного эксперта могут пройти оба
func (s *SlotStore) CreateSlot(ctx context.Context, expertID string, start, end time.Time) (*model.Slot, error) {
	if err := (model.TimeRange{Start: start, End: end}).Validate(); err != nil {
		return nil, err
	}

	overlap := bson.M{
		"expert_id":  expertID,
		"start_time": bson.M{"$lt": end.UTC()},
		"end_time":   bson.M{"$gt": start.UTC()},
	}
	n, err := s.coll.CountDocuments(ctx, overlap)
	if err != nil {
		return nil, fmt.Errorf("check overlap: %w", err)
	}
	if n > 0 {
		return nil, fmt.Errorf("expert %s %s-%s: %w", expertID, start.Format(time.RFC3339), end.Format(time.RFC3339), model.ErrOverlap)
	}

	slot := &model.Slot{
		ID:        uuid.New(),
		ExpertID:  expertID,
		StartTime: start.UTC(),
		EndTime:   end.UTC(),
		Status:    model.SlotStatusOpen,
		CreatedAt: s.now(),
	}
	if _, err := s.coll.InsertOne(ctx, newSlotDocument(slot)); err != nil {
		return nil, fmt.Errorf("create slot: %w", mapWriteError(err))
	}
	return slot, nil
}

func (s *SlotStore) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	res, err := s.coll.DeleteOne(ctx, bson.M{"_id": id.String(), "status": string(model.SlotStatusOpen)})
	if err != nil {
		return fmt.Errorf("delete slot: %w", err)
	}
	if res.DeletedCount == 0 {
		return s.missingOr(ctx, id, model.ErrConflict)
	}
	return nil
}

// ListOrphanedBooked забронированные слоты без неотменённой записи через $lookup
func (s *SlotStore) ListOrphanedBooked(ctx context.Context, limit int) ([]*model.Slot, error) {
	if limit <= 0 {
		limit = 100
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"status": string(model.SlotStatusBooked)}}},
		{{Key: "$lookup", Value: bson.M{
			"from":         appointmentsCollection,
			"localField":   "_id",
			"foreignField": "slot_id",
			"as":           "appointments",
		}}},
		{{Key: "$match", Value: bson.M{"appointments": bson.M{"$not": bson.M{
			"$elemMatch": bson.M{"status": bson.M{"$ne": string(model.AppointmentStatusCancelled)}},
		}}}}},
		{{Key: "$sort", Value: bson.M{"start_time": 1}}},
		{{Key: "$limit", Value: limit}},
		{{Key: "$project", Value: bson.M{"appointments": 0}}},
	}

	cursor, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("list orphaned slots: %w", err)
	}
	return decodeSlots(ctx, cursor)
}

func (s *SlotStore) missingOr(ctx context.Context, id uuid.UUID, sentinel error) error {
	var doc slotDocument
	opts := options.FindOne().SetProjection(bson.M{"status": 1})
	if err := s.coll.FindOne(ctx, bson.M{"_id": id.String()}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return fmt.Errorf("slot %s: %w", id, model.ErrNotFound)
		}
		return fmt.Errorf("check slot: %w", err)
	}
	return fmt.Errorf("slot %s is %s: %w", id, doc.Status, sentinel)
}
