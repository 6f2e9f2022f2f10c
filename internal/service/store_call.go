package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Freeeeeet/interview_booking/internal/model"
)

const (
	defaultStoreTimeout        = 5 * time.Second
	defaultCompensationTimeout = 10 * time.Second
)

// callStore ограничивает вызов хранилища по времени. Истёкший дедлайн
// превращается в ErrTimeout: результат записи неизвестен.
func callStore[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := fn(ctx)
	if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return v, fmt.Errorf("%w: %w", model.ErrTimeout, err)
	}
	return v, err
}

func execStore(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	_, err := callStore(ctx, timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func isTimeout(err error) bool {
	return errors.Is(err, model.ErrTimeout)
}
