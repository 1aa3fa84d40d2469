package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "newsletter"

// Metrics stores Prometheus collectors used by the API, the scanners and the
// dispatch worker.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	recipientsTotal          *prometheus.CounterVec
	sendDuration             prometheus.Histogram
	campaignsFinalizedTotal  *prometheus.CounterVec
	dispatchAbortedTotal     *prometheus.CounterVec
	dispatchInflight         prometheus.Gauge
	campaignsEnqueuedTotal   *prometheus.CounterVec
	campaignsStalled         prometheus.Gauge
	publicationTriggersTotal *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		recipientsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recipients_total",
				Help:      "Per-recipient delivery outcomes by result and failure reason.",
			},
			[]string{"result", "reason"},
		),
		sendDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "send_duration_seconds",
				Help:      "Mail transport send duration in seconds.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		),
		campaignsFinalizedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "campaigns_finalized_total",
				Help:      "Dispatch runs that reached a terminal status.",
			},
			[]string{"status"},
		),
		dispatchAbortedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_aborted_total",
				Help:      "Dispatch runs abandoned before any recipient was processed.",
			},
			[]string{"reason"},
		),
		dispatchInflight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dispatch_inflight",
				Help:      "Dispatch runs currently executing in this process.",
			},
		),
		campaignsEnqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "campaigns_enqueued_total",
				Help:      "Dispatch runs handed to the queue by reason.",
			},
			[]string{"reason"},
		),
		campaignsStalled: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "campaigns_stalled",
				Help:      "Campaigns in sending longer than the stall threshold at the last scan.",
			},
		),
		publicationTriggersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publication_triggers_total",
				Help:      "Content publication events by post type and outcome.",
			},
			[]string{"post_type", "outcome"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.recipientsTotal,
		m.sendDuration,
		m.campaignsFinalizedTotal,
		m.dispatchAbortedTotal,
		m.dispatchInflight,
		m.campaignsEnqueuedTotal,
		m.campaignsStalled,
		m.publicationTriggersTotal,
	)

	return m
}

// Gatherer exposes the registry behind Handler.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil || m.registry == nil {
		return prometheus.DefaultGatherer
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncRecipientSent() {
	if m == nil {
		return
	}
	m.recipientsTotal.WithLabelValues("sent", "none").Inc()
}

func (m *Metrics) IncRecipientFailed(reason string) {
	if m == nil {
		return
	}
	m.recipientsTotal.WithLabelValues("failed", normalizeLabel(reason)).Inc()
}

func (m *Metrics) ObserveSendDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.sendDuration.Observe(max(duration.Seconds(), 0))
}

func (m *Metrics) IncCampaignFinalized(status string) {
	if m == nil {
		return
	}
	m.campaignsFinalizedTotal.WithLabelValues(normalizeLabel(status)).Inc()
}

func (m *Metrics) IncDispatchAborted(reason string) {
	if m == nil {
		return
	}
	m.dispatchAbortedTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) IncDispatchInFlight() {
	if m == nil {
		return
	}
	m.dispatchInflight.Inc()
}

func (m *Metrics) DecDispatchInFlight() {
	if m == nil {
		return
	}
	m.dispatchInflight.Dec()
}

func (m *Metrics) IncCampaignEnqueued(reason string) {
	if m == nil {
		return
	}
	m.campaignsEnqueuedTotal.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *Metrics) SetCampaignsStalled(n int) {
	if m == nil {
		return
	}
	m.campaignsStalled.Set(float64(n))
}

func (m *Metrics) IncPublicationTrigger(postType, outcome string) {
	if m == nil {
		return
	}
	m.publicationTriggersTotal.WithLabelValues(normalizeLabel(postType), normalizeLabel(outcome)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
