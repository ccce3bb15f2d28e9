package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes the pipeline's application-level instruments.
type Metrics struct {
	uploadsIngested  metric.Int64Counter
	debtorRows       metric.Int64Counter
	billingAttempts  metric.Int64Counter
	webhookEvents    metric.Int64Counter
	reconcilePolls   metric.Int64Counter
	circuitOpens     metric.Int64Counter
	bavVerifications metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "sepa-recovery"
	}
	meter := provider.Meter(name)

	uploadsIngested, err := meter.Int64Counter("recovery_uploads_ingested_total")
	if err != nil {
		return nil, err
	}
	debtorRows, err := meter.Int64Counter("recovery_debtor_rows_total")
	if err != nil {
		return nil, err
	}
	billingAttempts, err := meter.Int64Counter("recovery_billing_attempts_total")
	if err != nil {
		return nil, err
	}
	webhookEvents, err := meter.Int64Counter("recovery_webhook_events_total")
	if err != nil {
		return nil, err
	}
	reconcilePolls, err := meter.Int64Counter("recovery_reconcile_polls_total")
	if err != nil {
		return nil, err
	}
	circuitOpens, err := meter.Int64Counter("recovery_circuit_opens_total")
	if err != nil {
		return nil, err
	}
	bavVerifications, err := meter.Int64Counter("recovery_bav_verifications_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		uploadsIngested:  uploadsIngested,
		debtorRows:       debtorRows,
		billingAttempts:  billingAttempts,
		webhookEvents:    webhookEvents,
		reconcilePolls:   reconcilePolls,
		circuitOpens:     circuitOpens,
		bavVerifications: bavVerifications,
	}, nil
}

// RecordUploadIngested increments the upload count for one finished
// ingest.
func (m *Metrics) RecordUploadIngested(ctx context.Context, format string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("format", strings.TrimSpace(format)))
	m.uploadsIngested.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordDebtorRows counts ingested rows by outcome (accepted or a skip
// reason).
func (m *Metrics) RecordDebtorRows(ctx context.Context, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.debtorRows.Add(ctx, int64(n), metric.WithAttributes(attrs...))
}

// RecordBillingAttempt counts one gateway charge by model and resulting
// status.
func (m *Metrics) RecordBillingAttempt(ctx context.Context, model, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("model", strings.TrimSpace(model)),
		attribute.String("status", strings.TrimSpace(status)),
	)
	m.billingAttempts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordWebhookEvent counts one inbound notification by processing type
// and outcome.
func (m *Metrics) RecordWebhookEvent(ctx context.Context, eventType, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("event_type", strings.TrimSpace(eventType)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.webhookEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReconcilePoll counts one reconcile poll by mapped status.
func (m *Metrics) RecordReconcilePoll(ctx context.Context, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(status)))
	m.reconcilePolls.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCircuitOpen counts one breaker trip by circuit name.
func (m *Metrics) RecordCircuitOpen(ctx context.Context, circuit string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("circuit", strings.TrimSpace(circuit)))
	m.circuitOpens.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBAVVerification counts one name-match call by its raw outcome.
func (m *Metrics) RecordBAVVerification(ctx context.Context, nameMatch string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(nameMatch)))
	m.bavVerifications.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

// allowedLabelKeys bounds metric cardinality: identifiers like upload or
// debtor ids never become labels.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":    {},
	"status_code": {},
	"format":      {},
	"outcome":     {},
	"model":       {},
	"status":      {},
	"event_type":  {},
	"circuit":     {},
	"queue":       {},
	"phase":       {},
}

// FilterAttributes strips disallowed labels to keep metrics
// low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
