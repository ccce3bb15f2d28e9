package metrics

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// HTTPMetrics instruments the inbound HTTP surface.
type HTTPMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// NewHTTPMetrics configures the HTTP request instruments.
func NewHTTPMetrics(cfg Config, provider metric.MeterProvider) (*HTTPMetrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "sepa-recovery"
	}
	meter := provider.Meter(name)

	requests, err := meter.Int64Counter("recovery_http_requests_total")
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("recovery_http_request_duration_ms")
	if err != nil {
		return nil, err
	}
	return &HTTPMetrics{requests: requests, duration: duration}, nil
}

// Record counts one finished request.
func (m *HTTPMetrics) Record(ctx context.Context, route string, statusCode int, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(route)),
		attribute.String("status_code", strconv.Itoa(statusCode)),
	)
	m.requests.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.duration.Record(ctx, float64(elapsed.Milliseconds()), metric.WithAttributes(attrs...))
}
