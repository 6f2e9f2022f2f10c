package api

import (
	"errors"
	"net/http"

	"github.com/Freeeeeet/interview_booking/internal/model"
)

// errorResponse тело ответа с ошибкой
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorStatus возвращает HTTP-статус для ошибки движка
func ErrorStatus(err error) int {
	switch {
	case errors.Is(err, model.ErrInconsistent):
		return http.StatusInternalServerError
	case errors.Is(err, model.ErrConcurrentUpdate):
		return http.StatusConflict
	case errors.Is(err, model.ErrBookingFailed), errors.Is(err, model.ErrRescheduleFailed):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, model.ErrSlotUnavailable):
		return http.StatusConflict
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrInvalidRange),
		errors.Is(err, model.ErrOverlap),
		errors.Is(err, model.ErrExpertMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, model.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ErrorMessage возвращает пользовательское сообщение для ошибки
func ErrorMessage(err error) string {
	switch {
	case errors.Is(err, model.ErrInconsistent):
		return "Состояние записи требует ручной проверки. Обратитесь в поддержку, повтор не поможет"
	case errors.Is(err, model.ErrConcurrentUpdate):
		return "Запись одновременно изменяется другим запросом. Повторите попытку"
	case errors.Is(err, model.ErrBookingFailed):
		return "Не удалось создать запись, слот освобождён. Попробуйте ещё раз"
	case errors.Is(err, model.ErrRescheduleFailed):
		return "Не удалось перенести запись, текущая запись сохранена. Попробуйте ещё раз"
	case errors.Is(err, model.ErrTimeout):
		return "Результат операции неизвестен. Обновите список записей перед повтором"
	case errors.Is(err, model.ErrSlotUnavailable):
		return "Слот уже занят. Выберите другое время"
	case errors.Is(err, model.ErrNotFound):
		return "Запись или слот не найдены"
	case errors.Is(err, model.ErrForbidden):
		return "У вас нет доступа к этой операции"
	case errors.Is(err, model.ErrInvalidRange):
		return "Некорректное время: начало должно быть раньше конца и в будущем"
	case errors.Is(err, model.ErrOverlap):
		return "Слот пересекается с уже существующим слотом"
	case errors.Is(err, model.ErrExpertMismatch):
		return "Перенос возможен только на слот того же эксперта"
	case errors.Is(err, model.ErrInvalidTransition):
		return "Запись уже отменена, завершена или изменена. Обновите страницу"
	case errors.Is(err, model.ErrConflict):
		return "Слот забронирован и не может быть удалён"
	default:
		return "Произошла ошибка"
	}
}
