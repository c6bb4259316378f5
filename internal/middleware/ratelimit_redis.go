package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/fathima-sithara/discovery-gateway/internal/gwerrors"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisRateLimiter counts requests per key in fixed windows shared by every
// gateway instance. When redis cannot be reached requests are let through.
type RedisRateLimiter struct {
	prefix string
	limit  int64
	window time.Duration
	log    *zap.Logger
	incr   func(ctx context.Context, key string) (int64, error)
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration, logger *zap.Logger) *RedisRateLimiter {
	r := &RedisRateLimiter{
		prefix: prefix,
		limit:  int64(limit),
		window: window,
		log:    logger,
	}
	r.incr = func(ctx context.Context, key string) (int64, error) {
		var count *redis.IntCmd
		_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			count = pipe.Incr(ctx, key)
			pipe.Expire(ctx, key, window)
			return nil
		})
		if err != nil {
			return 0, err
		}
		return count.Val(), nil
	}
	return r
}

// Handler limits by the value keyFunc derives from the request, the client
// IP when keyFunc is nil.
func (r *RedisRateLimiter) Handler(keyFunc func(c *fiber.Ctx) string) fiber.Handler {
	if keyFunc == nil {
		keyFunc = getIP
	}
	return func(c *fiber.Ctx) error {
		key := keyFunc(c)
		window := time.Now().UnixNano() / int64(r.window)
		redisKey := fmt.Sprintf("%s:%s:%d", r.prefix, key, window)

		count, err := r.incr(c.UserContext(), redisKey)
		if err != nil {
			r.log.Warn("rate limiter unavailable, allowing request", zap.String("key", key), zap.Error(err))
			return c.Next()
		}
		if count > r.limit {
			r.log.Warn("rate limit exceeded", zap.String("key", key), zap.String("path", c.Path()))
			return fmt.Errorf("%w: %s", gwerrors.ErrRateLimited, key)
		}
		return c.Next()
	}
}
