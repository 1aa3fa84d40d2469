package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

const readinessTimeout = 2 * time.Second

// BrokerChecker reports whether the message broker connection is usable.
type BrokerChecker interface {
	Healthy() bool
}

// HealthDeps lists what /readyz checks. Redis is nil when the in-process
// rate limiter is used; Broker is nil in processes that do not publish.
type HealthDeps struct {
	DB     *sql.DB
	Redis  *redis.Client
	Broker BrokerChecker
}

func RegisterHealthRoutes(app fiber.Router, deps HealthDeps) {
	app.Get("/livez", LivezHandler())
	app.Get("/readyz", ReadyzHandler(deps))
}

func LivezHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status": "ok",
		})
	}
}

func ReadyzHandler(deps HealthDeps) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), readinessTimeout)
		defer cancel()

		checks := fiber.Map{}
		ready := true
		record := func(name string, ok bool) {
			if ok {
				checks[name] = "ok"
				return
			}
			checks[name] = "down"
			ready = false
		}

		record("postgres", deps.DB != nil && deps.DB.PingContext(ctx) == nil)
		if deps.Redis != nil {
			record("redis", deps.Redis.Ping(ctx).Err() == nil)
		}
		if deps.Broker != nil {
			record("rabbitmq", deps.Broker.Healthy())
		}

		status := "ready"
		statusCode := fiber.StatusOK
		if !ready {
			status = "not_ready"
			statusCode = fiber.StatusServiceUnavailable
		}

		return c.Status(statusCode).JSON(fiber.Map{
			"status": status,
			"checks": checks,
		})
	}
}
