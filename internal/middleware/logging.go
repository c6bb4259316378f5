package middleware

import (
	"errors"
	"time"

	"github.com/fathima-sithara/discovery-gateway/internal/gwerrors"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// RequestLogger writes one line per request once the rest of the chain has
// run.
func RequestLogger(log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := StatusOf(c, err)
		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("took", time.Since(start)),
			zap.String("ip", c.IP()),
			zap.String("request_id", RequestIDFrom(c)),
		}
		switch {
		case status >= fiber.StatusInternalServerError:
			log.Error("request", append(fields, zap.Error(err))...)
		case err != nil:
			log.Warn("request", append(fields, zap.Error(err))...)
		default:
			log.Info("request", fields...)
		}
		return err
	}
}

// StatusOf is the status the error handler will send for err, or the status
// already written when err is nil.
func StatusOf(c *fiber.Ctx, err error) int {
	if err == nil {
		return c.Response().StatusCode()
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return gwerrors.HTTPStatus(err)
}
