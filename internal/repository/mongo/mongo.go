// Package mongo хранит слоты и записи в MongoDB. Транзакций нет, поэтому
// движок работает через компенсации.
package mongo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Freeeeeet/interview_booking/internal/model"
	"github.com/Freeeeeet/interview_booking/internal/repository"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	slotsCollection        = "slots"
	appointmentsCollection = "appointments"

	activeSlotIndex = "appointments_active_slot_idx"
)

// Connect подключается и проверяет соединение
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return client, nil
}

// NewBackend создаёт индексы и собирает хранилища над базой
func NewBackend(ctx context.Context, client *mongo.Client, database string) (repository.Backend, error) {
	db := client.Database(database)
	if err := EnsureIndexes(ctx, db); err != nil {
		return repository.Backend{}, err
	}

	slots := NewSlotStore(db.Collection(slotsCollection))
	return repository.Backend{
		Stores: repository.Stores{
			Slots:        slots,
			Appointments: NewAppointmentStore(db.Collection(appointmentsCollection), db.Collection(slotsCollection)),
		},
		Close: client.Disconnect,
	}, nil
}

// EnsureIndexes частичный уникальный индекс держит одну активную запись на слот
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	slotIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "expert_id", Value: 1}, {Key: "start_time", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "end_time", Value: 1}}},
	}
	if _, err := db.Collection(slotsCollection).Indexes().CreateMany(ctx, slotIndexes); err != nil {
		return fmt.Errorf("create slot indexes: %w", err)
	}

	active := bson.M{"status": bson.M{"$in": bson.A{
		string(model.AppointmentStatusScheduled),
		string(model.AppointmentStatusCompleted),
	}}}
	appointmentIndexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "slot_id", Value: 1}},
			Options: options.Index().
				SetName(activeSlotIndex).
				SetUnique(true).
				SetPartialFilterExpression(active),
		},
		{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "expert_id", Value: 1}, {Key: "created_at", Value: -1}}},
	}
	if _, err := db.Collection(appointmentsCollection).Indexes().CreateMany(ctx, appointmentIndexes); err != nil {
		return fmt.Errorf("create appointment indexes: %w", err)
	}
	return nil
}

// mapWriteError переводит нарушение уникальности в доменную ошибку
func mapWriteError(err error) error {
	if !mongo.IsDuplicateKeyError(err) {
		return err
	}
	if strings.Contains(err.Error(), activeSlotIndex) {
		return fmt.Errorf("%s: %w", activeSlotIndex, model.ErrSlotUnavailable)
	}
	return fmt.Errorf("duplicate id: %w", model.ErrConflict)
}
