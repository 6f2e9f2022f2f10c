// Package notify отправляет события бронирования в Telegram-канал.
package notify

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/interview_booking/internal/model"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// TelegramNotifier публикует события в чат или канал
type TelegramNotifier struct {
	bot    *bot.Bot
	chatID string
	logger *zap.Logger
}

// NewTelegramNotifier создаёт бота без опроса обновлений: он только пишет в чат
func NewTelegramNotifier(token, chatID string, logger *zap.Logger, opts ...bot.Option) (*TelegramNotifier, error) {
	if token == "" || chatID == "" {
		return nil, fmt.Errorf("telegram token and chat id are required")
	}

	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &TelegramNotifier{
		bot:    b,
		chatID: chatID,
		logger: logger,
	}, nil
}

func (n *TelegramNotifier) Notify(ctx context.Context, event model.BookingEvent) error {
	_, err := n.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    n.chatID,
		Text:      FormatEvent(event),
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}

	n.logger.Debug("Telegram notification sent",
		zap.String("event", string(event.Type)),
		zap.String("chat_id", n.chatID),
	)
	return nil
}
