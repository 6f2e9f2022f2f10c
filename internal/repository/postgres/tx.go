package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Freeeeeet/interview_booking/internal/model"
	"github.com/Freeeeeet/interview_booking/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultCommitTimeout = 5 * time.Second

type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TxManager выполняет операцию движка в одной транзакции.
// Внутри транзакции запись читается с FOR UPDATE, так что cancel и reschedule
// одной записи берут блокировки в одном порядке: запись, затем слоты.
type TxManager struct {
	db            beginner
	commitTimeout time.Duration
}

var _ repository.TxRunner = (*TxManager)(nil)

// NewTxManager commitTimeout ограничивает COMMIT и откат
func NewTxManager(pool *pgxpool.Pool, commitTimeout time.Duration) *TxManager {
	return newTxManagerWithBeginner(pool, commitTimeout)
}

func newTxManagerWithBeginner(db beginner, commitTimeout time.Duration) *TxManager {
	if commitTimeout <= 0 {
		commitTimeout = defaultCommitTimeout
	}
	return &TxManager{db: db, commitTimeout: commitTimeout}
}

func (m *TxManager) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Stores) error) error {
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return mapTxError(fmt.Errorf("begin tx: %w", err))
	}

	err = fn(ctx, repository.Stores{
		Slots:        NewSlotStore(tx),
		Appointments: newTxAppointmentStore(tx),
	})
	if err != nil {
		m.rollback(ctx, tx)
		return mapTxError(err)
	}

	commitCtx, cancel := context.WithTimeout(ctx, m.commitTimeout)
	defer cancel()
	if err := tx.Commit(commitCtx); err != nil {
		// Исход COMMIT неизвестен
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(commitCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: commit: %w", model.ErrTimeout, err)
		}
		return mapTxError(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// rollback идёт на контексте, отвязанном от отмены запроса
func (m *TxManager) rollback(ctx context.Context, tx pgx.Tx) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.commitTimeout)
	defer cancel()
	_ = tx.Rollback(ctx)
}

// NewBackend собирает хранилища поверх пула
func NewBackend(pool *pgxpool.Pool, commitTimeout time.Duration) repository.Backend {
	return repository.Backend{
		Stores: repository.Stores{
			Slots:        NewSlotStore(pool),
			Appointments: NewAppointmentStore(pool),
		},
		Tx: NewTxManager(pool, commitTimeout),
		Close: func(context.Context) error {
			pool.Close()
			return nil
		},
	}
}
