package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Handler        *Handler
	JWTSecret      string
	MetricsHandler http.Handler
	Logger         *zap.Logger
}

// NewRouter собирает chi-роутер со всеми маршрутами
func NewRouter(cfg RouterConfig) http.Handler {
	h := cfg.Handler
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(RequestLogger(cfg.Logger))
	}

	r.Get("/health", h.Health)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		r.Use(Auth(cfg.JWTSecret))

		r.Get("/experts/{expertID}/slots", h.ExpertSlots)

		r.Route("/slots", func(r chi.Router) {
			r.Post("/", h.CreateSlots)
			r.Get("/mine", h.MySlots)
			r.Delete("/{slotID}", h.DeleteSlot)
		})

		r.Route("/appointments", func(r chi.Router) {
			r.Get("/", h.Appointments)
			r.Get("/expert", h.ExpertAppointments)
			r.With(h.RateLimit("book")).Post("/", h.Book)
			r.Post("/{appointmentID}/cancel", h.Cancel)
			r.With(h.RateLimit("reschedule")).Post("/{appointmentID}/reschedule", h.Reschedule)
		})
	})

	return r
}
