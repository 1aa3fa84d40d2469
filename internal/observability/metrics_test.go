package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsDispatchCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncRecipientSent()
	metrics.IncRecipientSent()
	metrics.IncRecipientFailed("Permanent")
	metrics.ObserveSendDuration(120 * time.Millisecond)
	metrics.IncCampaignFinalized("sent")
	metrics.IncDispatchAborted("template")
	metrics.IncDispatchInFlight()
	metrics.DecDispatchInFlight()
	metrics.IncCampaignEnqueued("manual")
	metrics.SetCampaignsStalled(3)
	metrics.IncPublicationTrigger("blog", "")

	if got := testutil.ToFloat64(metrics.recipientsTotal.WithLabelValues("sent", "none")); got != 2 {
		t.Fatalf("recipients_total{sent} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.recipientsTotal.WithLabelValues("failed", "permanent")); got != 1 {
		t.Fatalf("recipients_total{failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.campaignsFinalizedTotal.WithLabelValues("sent")); got != 1 {
		t.Fatalf("campaigns_finalized_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.dispatchAbortedTotal.WithLabelValues("template")); got != 1 {
		t.Fatalf("dispatch_aborted_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.dispatchInflight); got != 0 {
		t.Fatalf("dispatch_inflight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.campaignsStalled); got != 3 {
		t.Fatalf("campaigns_stalled = %v, want 3", got)
	}
	if got := testutil.ToFloat64(metrics.publicationTriggersTotal.WithLabelValues("blog", "unknown")); got != 1 {
		t.Fatalf("publication_triggers_total = %v, want 1", got)
	}
}

func TestMetricsNilReceiverIsNoop(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.IncRecipientSent()
	metrics.IncRecipientFailed("x")
	metrics.SetCampaignsStalled(1)
	if metrics.Handler() == nil {
		t.Fatal("Handler() should fall back to the default handler")
	}
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/v1/campaigns/:id", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/v1/campaigns/abc", nil))
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/v1/campaigns/:id", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	if _, err := app.Test(httptest.NewRequest("GET", "/boom", nil)); err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}
