package notify

import (
	"fmt"
	"html"
	"strings"

	"github.com/Freeeeeet/interview_booking/internal/model"
)

// FormatSlot форматирует слот как дата и диапазон времени
func FormatSlot(s *model.Slot) string {
	if s == nil {
		return "не указано"
	}
	return fmt.Sprintf("%s (%s, %s-%s UTC)",
		s.StartTime.Format("02.01.2006"),
		GetWeekdayShort(int(s.StartTime.Weekday())),
		s.StartTime.Format("15:04"),
		s.EndTime.Format("15:04"),
	)
}

// GetWeekdayShort возвращает короткое название дня недели
func GetWeekdayShort(weekday int) string {
	names := []string{"Вс", "Пн", "Вт", "Ср", "Чт", "Пт", "Сб"}
	if weekday >= 0 && weekday < len(names) {
		return names[weekday]
	}
	return "?"
}

// FormatEvent текст сообщения о событии в HTML-разметке Telegram
func FormatEvent(event model.BookingEvent) string {
	var b strings.Builder

	switch event.Type {
	case model.EventBooked:
		b.WriteString("✅ <b>Новая запись на собеседование</b>\n\n")
	case model.EventCancelled:
		b.WriteString("❌ <b>Запись отменена</b>\n\n")
	case model.EventRescheduled:
		b.WriteString("🔄 <b>Запись перенесена</b>\n\n")
	default:
		fmt.Fprintf(&b, "ℹ️ <b>%s</b>\n\n", html.EscapeString(string(event.Type)))
	}

	if appt := event.Appointment; appt != nil {
		fmt.Fprintf(&b, "👤 Кандидат: <code>%s</code>\n", html.EscapeString(appt.UserID))
		fmt.Fprintf(&b, "🎓 Эксперт: <code>%s</code>\n", html.EscapeString(appt.ExpertID))
	}
	if event.PreviousSlot != nil {
		fmt.Fprintf(&b, "📅 Было: %s\n", FormatSlot(event.PreviousSlot))
		fmt.Fprintf(&b, "📅 Стало: %s\n", FormatSlot(event.Slot))
	} else {
		fmt.Fprintf(&b, "📅 Время: %s\n", FormatSlot(event.Slot))
	}
	if appt := event.Appointment; appt != nil {
		fmt.Fprintf(&b, "\n🆔 <code>%s</code>", appt.ID)
	}
	return b.String()
}
