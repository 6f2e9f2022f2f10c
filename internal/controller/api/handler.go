// Package api HTTP-интерфейс движка бронирования.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/Freeeeeet/interview_booking/internal/metrics"
	"github.com/Freeeeeet/interview_booking/internal/model"
	"github.com/Freeeeeet/interview_booking/internal/ratelimit"
	"github.com/Freeeeeet/interview_booking/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	viewUpcoming  = "upcoming"
	viewPast      = "past"
	viewCancelled = "cancelled"
)

// Handler обработчики запросов. Сам ничего не меняет, только вызывает сервисы.
type Handler struct {
	engine       *service.BookingEngine
	query        *service.QueryService
	availability *service.AvailabilityService
	limiter      *ratelimit.VelocityLimiter
	metrics      *metrics.BookingMetrics
	validate     *validator.Validate
	logger       *zap.Logger
}

func NewHandler(
	engine *service.BookingEngine,
	query *service.QueryService,
	availability *service.AvailabilityService,
	limiter *ratelimit.VelocityLimiter,
	m *metrics.BookingMetrics,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		engine:       engine,
		query:        query,
		availability: availability,
		limiter:      limiter,
		metrics:      m,
		validate:     validator.New(),
		logger:       logger,
	}
}

type slotRequest struct {
	SlotID string `json:"slot_id" validate:"required,uuid"`
}

type slotRange struct {
	Start time.Time `json:"start_time" validate:"required"`
	End   time.Time `json:"end_time" validate:"required"`
}

type createSlotsRequest struct {
	Slots []slotRange `json:"slots" validate:"required,min=1,max=50,dive"`
}

type slotResultResponse struct {
	Start   time.Time   `json:"start_time"`
	End     time.Time   `json:"end_time"`
	Slot    *model.Slot `json:"slot,omitempty"`
	Code    string      `json:"code"`
	Message string      `json:"message,omitempty"`
}

type appointmentsResponse struct {
	Appointments []*model.Appointment `json:"appointments"`
}

type slotsResponse struct {
	Slots []*model.Slot `json:"slots"`
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ExpertSlots слоты эксперта, доступные для записи
func (h *Handler) ExpertSlots(w http.ResponseWriter, r *http.Request) {
	slots, err := h.query.OpenSlots(r.Context(), chi.URLParam(r, "expertID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slotsResponse{Slots: nonNil(slots)})
}

// CreateSlots пакетное создание слотов экспертом
func (h *Handler) CreateSlots(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	var req createSlotsRequest
	if !h.decode(w, r, &req) {
		return
	}

	ranges := make([]model.TimeRange, 0, len(req.Slots))
	for _, s := range req.Slots {
		ranges = append(ranges, model.TimeRange{Start: s.Start.UTC(), End: s.End.UTC()})
	}

	results, err := h.availability.CreateSlots(r.Context(), actor, ranges)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	resp := make([]slotResultResponse, 0, len(results))
	for _, res := range results {
		item := slotResultResponse{
			Start: res.Range.Start,
			End:   res.Range.End,
			Slot:  res.Slot,
			Code:  model.ErrorCode(res.Err),
		}
		if res.Err != nil {
			item.Message = ErrorMessage(res.Err)
			status = http.StatusMultiStatus
		}
		resp = append(resp, item)
	}
	writeJSON(w, status, map[string]any{"results": resp})
}

// MySlots все слоты эксперта
func (h *Handler) MySlots(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	slots, err := h.availability.ListMySlots(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slotsResponse{Slots: nonNil(slots)})
}

func (h *Handler) DeleteSlot(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	slotID, ok := pathUUID(w, r, "slotID")
	if !ok {
		return
	}
	if err := h.availability.DeleteSlot(r.Context(), actor, slotID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Book запись на слот
func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	var req slotRequest
	if !h.decode(w, r, &req) {
		return
	}

	appt, err := h.engine.Book(r.Context(), actor, uuid.MustParse(req.SlotID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	appointmentID, ok := pathUUID(w, r, "appointmentID")
	if !ok {
		return
	}
	appt, err := h.engine.Cancel(r.Context(), actor, appointmentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	appointmentID, ok := pathUUID(w, r, "appointmentID")
	if !ok {
		return
	}
	var req slotRequest
	if !h.decode(w, r, &req) {
		return
	}

	appt, err := h.engine.Reschedule(r.Context(), actor, appointmentID, uuid.MustParse(req.SlotID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// Appointments записи пользователя: upcoming, past или cancelled
func (h *Handler) Appointments(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	var (
		appts []*model.Appointment
		err   error
	)
	switch view := r.URL.Query().Get("view"); view {
	case "", viewUpcoming:
		appts, err = h.query.Upcoming(r.Context(), actor.UserID)
	case viewPast:
		appts, err = h.query.Past(r.Context(), actor.UserID)
	case viewCancelled:
		appts, err = h.query.Cancelled(r.Context(), actor.UserID)
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Code:    "bad_request",
			Message: fmt.Sprintf("Неизвестный вид %q, допустимы upcoming, past, cancelled", view),
		})
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentsResponse{Appointments: nonNil(appts)})
}

// ExpertAppointments расписание эксперта
func (h *Handler) ExpertAppointments(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())

	appts, err := h.query.ExpertSchedule(r.Context(), actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentsResponse{Appointments: nonNil(appts)})
}

// RateLimit ограничивает частоту операции для пользователя
func (h *Handler) RateLimit(operation string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, _ := ActorFromContext(r.Context())

			res := h.limiter.Allow(r.Context(), operation, actor.UserID)
			if !res.Allowed {
				h.metrics.ObserveRateLimited(operation)
				if res.RetryAfter > 0 {
					w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
				}
				writeJSON(w, http.StatusTooManyRequests, errorResponse{
					Code:    "rate_limited",
					Message: fmt.Sprintf("Слишком много запросов: не больше %d. Повторите позже", res.MaxAllowed),
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "bad_request", Message: "Некорректный JSON"})
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		msg := "Некорректный запрос"
		if errors.As(err, &verrs) && len(verrs) > 0 {
			msg = fmt.Sprintf("Некорректное поле %s: %s", verrs[0].Field(), verrs[0].Tag())
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "validation_failed", Message: msg})
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := ErrorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	writeJSON(w, status, errorResponse{Code: model.ErrorCode(err), Message: ErrorMessage(err)})
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "bad_request", Message: "Некорректный идентификатор"})
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
