package model

import (
	"errors"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidRange      = errors.New("invalid time range")
	ErrOverlap           = errors.New("slot overlaps an existing slot")
	ErrExpertMismatch    = errors.New("slot belongs to a different expert")
	ErrConflict          = errors.New("conflicting state")
	ErrSlotUnavailable   = errors.New("slot unavailable")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrBookingFailed     = errors.New("booking failed")
	ErrRescheduleFailed  = errors.New("reschedule failed")
	ErrTimeout           = errors.New("persistence timeout")

	// ErrConcurrentUpdate хранилище прервало операцию из-за конкурентной записи, повтор безопасен
	ErrConcurrentUpdate = errors.New("concurrent update")

	// ErrInconsistent компенсация не удалась, нужна ручная сверка хранилищ
	ErrInconsistent = errors.New("inconsistent state")
)

// ErrorCode стабильный код ошибки для метрик и ответов API
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInconsistent):
		return "inconsistent"
	case errors.Is(err, ErrConcurrentUpdate):
		return "concurrent_update"
	case errors.Is(err, ErrBookingFailed):
		return "booking_failed"
	case errors.Is(err, ErrRescheduleFailed):
		return "reschedule_failed"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrInvalidRange):
		return "invalid_range"
	case errors.Is(err, ErrOverlap):
		return "overlap"
	case errors.Is(err, ErrExpertMismatch):
		return "expert_mismatch"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}
