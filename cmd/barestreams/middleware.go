package main

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// createLoggingMiddleware creates a middleware that logs every handled
// request. It logs after the rest of the chain ran, so the status code is
// the final one.
func createLoggingMiddleware(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		// First call the other handlers in the middleware chain
		if err := c.Next(); err != nil {
			return err
		}
		// Then log
		duration := time.Since(start).Milliseconds()
		durationString := strconv.FormatInt(duration, 10) + "ms"
		logger.Info("Handled request",
			zap.Int("status", c.Response().StatusCode()),
			zap.String("duration", durationString),
			zap.String("method", c.Method()),
			zap.String("url", c.OriginalURL()),
			zap.String("ip", c.IP()))
		return nil
	}
}
