package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Freeeeeet/interview_booking/internal/config"
	"github.com/Freeeeeet/interview_booking/internal/controller/api"
	"github.com/Freeeeeet/interview_booking/internal/metrics"
	"github.com/Freeeeeet/interview_booking/internal/notify"
	"github.com/Freeeeeet/interview_booking/internal/ratelimit"
	"github.com/Freeeeeet/interview_booking/internal/service"
	"github.com/go-telegram/bot"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

// Run собирает зависимости, запускает HTTP-сервер и фоновые задачи,
// и блокируется до отмены ctx
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	backend, err := OpenBackend(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.StoreBackend, err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := backend.Close(closeCtx); err != nil {
			logger.Error("Failed to close store", zap.Error(err))
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewBookingMetrics(registry)

	notifier, err := newNotifier(cfg, logger)
	if err != nil {
		return err
	}

	engine := service.NewBookingEngine(backend, logger,
		service.WithNotifier(notifier),
		service.WithMetrics(m),
		service.WithStoreTimeout(cfg.StoreTimeout),
		service.WithCompensationTimeout(cfg.CompensationTimeout),
	)
	query := service.NewQueryService(backend.Stores, cfg.StoreTimeout)
	availability := service.NewAvailabilityService(backend.Slots, logger, cfg.StoreTimeout)
	completion := service.NewCompletionService(backend.Stores, m, logger, cfg.StoreTimeout, cfg.OrphanSlotGrace)

	var limiter *ratelimit.VelocityLimiter
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer client.Close()
		limiter = ratelimit.NewVelocityLimiter(client, cfg.BookingRateLimit, cfg.BookingRateWindow, logger)
		logger.Info("Booking velocity limit enabled",
			zap.Int("limit", cfg.BookingRateLimit),
			zap.Duration("window", cfg.BookingRateWindow),
		)
	}

	scheduler, err := NewScheduler(cfg.CompletionSchedule, completion, logger)
	if err != nil {
		return err
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	handler := api.NewHandler(engine, query, availability, limiter, m, logger)
	server := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: api.NewRouter(api.RouterConfig{
			Handler:        handler,
			JWTSecret:      cfg.JWTSecret,
			MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			Logger:         logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("🚀 HTTP server started", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func newNotifier(cfg *config.Config, logger *zap.Logger) (service.Notifier, error) {
	if !cfg.TelegramEnabled() {
		return service.NewLogNotifier(logger), nil
	}

	n, err := notify.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, logger, bot.WithSkipGetMe())
	if err != nil {
		return nil, err
	}
	logger.Info("Telegram notifications enabled", zap.String("chat_id", cfg.TelegramChatID))
	return n, nil
}
