package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Freeeeeet/interview_booking/internal/app"
	"github.com/Freeeeeet/interview_booking/internal/config"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := app.NewLogger(cfg.Environment, cfg.LogLevel)
	defer logger.Sync()

	logger.Info("Starting interview booking service",
		zap.String("environment", cfg.Environment),
		zap.String("store_backend", cfg.StoreBackend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg, logger); err != nil {
		logger.Error("Service stopped with error", zap.Error(err))
		stop()
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("👋 Service stopped")
}
