package transport

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/newsletter-engine/internal/observability"
	"go.uber.org/zap"
)

// ErrorHandler renders handler errors as {"error": ...}. Client errors are
// logged at WARN; anything else is a server error and its detail is not
// returned to the caller.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		message := "internal server error"

		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			code = fiberErr.Code
			message = fiberErr.Message
		}

		reqLogger := observability.WithContextLogger(logger, c.UserContext())
		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", code),
			zap.Error(err),
		}
		if code >= fiber.StatusInternalServerError {
			reqLogger.Error("request error", fields...)
		} else {
			reqLogger.Warn("request rejected", fields...)
		}

		body := fiber.Map{"error": message}
		if correlationID, ok := observability.CorrelationIDFromContext(c.UserContext()); ok {
			body["correlationId"] = correlationID
		}
		return c.Status(code).JSON(body)
	}
}
