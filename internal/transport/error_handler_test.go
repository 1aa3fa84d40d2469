package transport

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/newsletter-engine/internal/observability"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestErrorHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		err         error
		wantStatus  int
		wantMessage string
		wantLevel   zapcore.Level
	}{
		{
			name:        "fiber error keeps code and message",
			err:         fiber.NewError(fiber.StatusConflict, "conflict: campaign already sending"),
			wantStatus:  fiber.StatusConflict,
			wantMessage: "conflict: campaign already sending",
			wantLevel:   zapcore.WarnLevel,
		},
		{
			name:        "wrapped fiber error is unwrapped",
			err:         errors.Join(errors.New("context"), fiber.NewError(fiber.StatusNotFound, "not found")),
			wantStatus:  fiber.StatusNotFound,
			wantMessage: "not found",
			wantLevel:   zapcore.WarnLevel,
		},
		{
			name:        "plain error is hidden",
			err:         errors.New("pq: connection refused"),
			wantStatus:  fiber.StatusInternalServerError,
			wantMessage: "internal server error",
			wantLevel:   zapcore.ErrorLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			core, logs := observer.New(zapcore.DebugLevel)
			app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zap.New(core))})
			app.Use(observability.CorrelationMiddleware())
			app.Get("/boom", func(c *fiber.Ctx) error { return tt.err })

			req := httptest.NewRequest(http.MethodGet, "/boom", nil)
			req.Header.Set(observability.CorrelationHeader, "corr-123")
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}

			raw, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			var body map[string]string
			if err := json.Unmarshal(raw, &body); err != nil {
				t.Fatalf("json unmarshal error = %v, body=%s", err, string(raw))
			}
			if body["error"] != tt.wantMessage {
				t.Fatalf("error = %q, want %q", body["error"], tt.wantMessage)
			}
			if body["correlationId"] != "corr-123" {
				t.Fatalf("correlationId = %q, want corr-123", body["correlationId"])
			}

			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("log entries = %d, want 1", len(entries))
			}
			if entries[0].Level != tt.wantLevel {
				t.Fatalf("log level = %s, want %s", entries[0].Level, tt.wantLevel)
			}
			if got := entries[0].ContextMap()["correlationId"]; got != "corr-123" {
				t.Fatalf("logged correlationId = %v, want corr-123", got)
			}
		})
	}
}
