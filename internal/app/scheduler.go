package app

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Completer завершает записи, слот которых уже закончился,
// и освобождает слоты, оставшиеся забронированными без записи
type Completer interface {
	CompleteElapsed(ctx context.Context) (int, error)
	ReleaseOrphanedSlots(ctx context.Context) (int, error)
}

// Scheduler управляет фоновыми задачами
type Scheduler struct {
	cron      *cron.Cron
	completer Completer
	logger    *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewScheduler создаёт планировщик с обслуживающей задачей по cron-расписанию schedule
func NewScheduler(schedule string, completer Completer, logger *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		completer: completer,
		logger:    logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.maintain); err != nil {
		return nil, fmt.Errorf("add completion job %q: %w", schedule, err)
	}
	return s, nil
}

// Start запускает фоновые задачи
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting background scheduler")
	s.ctx, s.cancel = context.WithCancel(ctx)

	// Первый запуск сразу при старте
	go s.maintain()
	s.cron.Start()
}

// Stop останавливает задачи и ждёт завершения текущего запуска
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping background scheduler")
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
}

func (s *Scheduler) maintain() {
	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	s.completeAppointments(ctx)
	s.releaseOrphanedSlots(ctx)
}

func (s *Scheduler) completeAppointments(ctx context.Context) {
	n, err := s.completer.CompleteElapsed(ctx)
	if err != nil {
		s.logger.Error("Failed to complete elapsed appointments", zap.Int("completed", n), zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("Elapsed appointments completed", zap.Int("completed", n))
	}
}

func (s *Scheduler) releaseOrphanedSlots(ctx context.Context) {
	n, err := s.completer.ReleaseOrphanedSlots(ctx)
	if err != nil {
		s.logger.Error("Failed to release orphaned slots", zap.Int("released", n), zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Warn("Orphaned slots released", zap.Int("released", n))
	}
}
