// Package postgres реализует хранилища слотов и записей поверх pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/Freeeeeet/interview_booking/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB общий интерфейс пула, транзакции и pgxmock
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeExclusionViolation   = "23P01"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// Имена ограничений из migrations/00001_init.sql
const (
	constraintActiveSlot    = "appointments_active_slot_idx"
	constraintNoOverlap     = "slots_no_overlap"
	constraintValidRange    = "slots_valid_range"
	constraintAppointmentPK = "appointments_pkey"
)

// Connect открывает пул и проверяет соединение
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// mapError переводит ошибки ограничений PostgreSQL в доменные
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case codeDeadlockDetected, codeSerializationFailure:
		return fmt.Errorf("%w: %w", model.ErrConcurrentUpdate, err)
	case codeExclusionViolation:
		if pgErr.ConstraintName == constraintNoOverlap {
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, model.ErrOverlap)
		}
	case codeCheckViolation:
		if pgErr.ConstraintName == constraintValidRange {
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, model.ErrInvalidRange)
		}
	case codeUniqueViolation:
		switch pgErr.ConstraintName {
		case constraintActiveSlot:
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, model.ErrSlotUnavailable)
		case constraintAppointmentPK:
			return fmt.Errorf("%s: %w", pgErr.ConstraintName, model.ErrConflict)
		}
	}
	return err
}

// mapTxError ошибка транзакции, прерванной сервером из-за конкурентной записи,
// становится ErrConcurrentUpdate, остальные возвращаются как есть
func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.Is(err, model.ErrConcurrentUpdate) || !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeDeadlockDetected, codeSerializationFailure:
		return fmt.Errorf("%w: %w", model.ErrConcurrentUpdate, err)
	}
	return err
}
