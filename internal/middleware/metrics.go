package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stealthpay/channels/internal/metrics"
)

// MetricsMiddleware counts requests per matched route, so path parameters
// do not blow up label cardinality.
func MetricsMiddleware(rec metrics.Recorder) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		route := c.Route().Path
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}
		rec.IncRequestsTotal(route, status)
		rec.ObserveRequestDuration(route, time.Since(start))

		return err
	}
}
