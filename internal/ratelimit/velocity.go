// Package ratelimit ограничивает частоту бронирований пользователя через Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Result результат проверки окна
type Result struct {
	Allowed      bool
	CurrentCount int
	MaxAllowed   int
	RetryAfter   time.Duration
}

// VelocityLimiter счётчик фиксированного окна на пользователя и операцию.
// Nil-лимитер и недоступный Redis пропускают запрос.
type VelocityLimiter struct {
	redis  *redis.Client
	logger *zap.Logger
	limit  int
	window time.Duration
}

func NewVelocityLimiter(client *redis.Client, limit int, window time.Duration, logger *zap.Logger) *VelocityLimiter {
	return &VelocityLimiter{
		redis:  client,
		logger: logger,
		limit:  limit,
		window: window,
	}
}

func (v *VelocityLimiter) Allow(ctx context.Context, operation, userID string) Result {
	if v == nil || v.redis == nil || v.limit <= 0 {
		return Result{Allowed: true}
	}

	key := fmt.Sprintf("velocity:%s:%s", operation, userID)
	count, ttl, err := v.incrementAndGet(ctx, key)
	if err != nil {
		v.logger.Error("Velocity check failed",
			zap.String("key", key),
			zap.Error(err),
		)
		return Result{Allowed: true, MaxAllowed: v.limit}
	}

	res := Result{
		Allowed:      count <= v.limit,
		CurrentCount: count,
		MaxAllowed:   v.limit,
	}
	if !res.Allowed {
		res.RetryAfter = ttl
		v.logger.Warn("Booking velocity exceeded",
			zap.String("operation", operation),
			zap.String("user_id", userID),
			zap.Int("count", count),
			zap.Int("max", v.limit),
		)
	}
	return res
}

// Reset сбрасывает счётчик пользователя
func (v *VelocityLimiter) Reset(ctx context.Context, operation, userID string) error {
	return v.redis.Del(ctx, fmt.Sprintf("velocity:%s:%s", operation, userID)).Err()
}

// incrementAndGet INCR и TTL идут одной транзакцией. Ключ без срока жизни
// (первый запрос окна или EXPIRE, не дошедший до Redis) получает окно заново.
func (v *VelocityLimiter) incrementAndGet(ctx context.Context, key string) (int, time.Duration, error) {
	pipe := v.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	ttlCmd := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}

	ttl := ttlCmd.Val()
	if ttl < 0 {
		if err := v.redis.Expire(ctx, key, v.window).Err(); err != nil {
			return 0, 0, err
		}
		ttl = v.window
	}
	return int(incr.Val()), ttl, nil
}
