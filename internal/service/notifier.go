package service

import (
	"context"

	"github.com/Freeeeeet/interview_booking/internal/model"
	"go.uber.org/zap"
)

// Notifier получает события о бронированиях. Ошибка уведомления не
// откатывает операцию.
type Notifier interface {
	Notify(ctx context.Context, event model.BookingEvent) error
}

// LogNotifier пишет события в лог, используется когда Telegram не настроен
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, event model.BookingEvent) error {
	fields := []zap.Field{
		zap.String("event", string(event.Type)),
		zap.String("user_id", event.Actor.UserID),
		zap.Time("at", event.At),
	}
	if event.Appointment != nil {
		fields = append(fields,
			zap.String("appointment_id", event.Appointment.ID.String()),
			zap.String("expert_id", event.Appointment.ExpertID),
			zap.String("slot_id", event.Appointment.SlotID.String()),
		)
	}
	if event.PreviousSlot != nil {
		fields = append(fields, zap.String("previous_slot_id", event.PreviousSlot.ID.String()))
	}
	n.logger.Info("Booking event", fields...)
	return nil
}
