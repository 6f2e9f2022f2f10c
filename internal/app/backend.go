package app

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/interview_booking/internal/config"
	"github.com/Freeeeeet/interview_booking/internal/repository"
	"github.com/Freeeeeet/interview_booking/internal/repository/memory"
	mongostore "github.com/Freeeeeet/interview_booking/internal/repository/mongo"
	"github.com/Freeeeeet/interview_booking/internal/repository/postgres"
	"go.uber.org/zap"
)

// OpenBackend подключает хранилище, выбранное в STORE_BACKEND
func OpenBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Backend, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		pool, err := postgres.Connect(ctx, cfg.DBDSN)
		if err != nil {
			return repository.Backend{}, err
		}

		if cfg.MigrateOnStart {
			migrator, err := NewMigrator(pool, logger)
			if err != nil {
				pool.Close()
				return repository.Backend{}, err
			}
			err = migrator.Run(ctx)
			_ = migrator.Close()
			if err != nil {
				pool.Close()
				return repository.Backend{}, err
			}
		}

		logger.Info("✅ Connected to PostgreSQL")
		return postgres.NewBackend(pool, cfg.StoreTimeout), nil

	case config.BackendMongo:
		client, err := mongostore.Connect(ctx, cfg.MongoURI)
		if err != nil {
			return repository.Backend{}, err
		}
		backend, err := mongostore.NewBackend(ctx, client, cfg.MongoDatabase)
		if err != nil {
			_ = client.Disconnect(ctx)
			return repository.Backend{}, err
		}

		logger.Info("✅ Connected to MongoDB", zap.String("database", cfg.MongoDatabase))
		return backend, nil

	case config.BackendMemory:
		logger.Warn("Using in-memory store, data is lost on restart")
		return memory.NewStore().Backend(), nil

	default:
		return repository.Backend{}, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
