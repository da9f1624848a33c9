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

// Metrics exposes application-level instruments.
type Metrics struct {
	paymentsRecorded metric.Int64Counter
	paymentReplays   metric.Int64Counter
	creditEntries    metric.Int64Counter
	billsGenerated   metric.Int64Counter
	yearViewRebuilds metric.Int64Counter
	yearViewPatches  metric.Int64Counter
	unitLockWait     metric.Float64Histogram
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

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "sams"
	}
	meter := provider.Meter(name)

	paymentsRecorded, err := meter.Int64Counter("sams_payments_recorded_total")
	if err != nil {
		return nil, err
	}
	paymentReplays, err := meter.Int64Counter("sams_payment_replays_total")
	if err != nil {
		return nil, err
	}
	creditEntries, err := meter.Int64Counter("sams_credit_entries_total")
	if err != nil {
		return nil, err
	}
	billsGenerated, err := meter.Int64Counter("sams_bills_generated_total")
	if err != nil {
		return nil, err
	}
	yearViewRebuilds, err := meter.Int64Counter("sams_yearview_rebuilds_total")
	if err != nil {
		return nil, err
	}
	yearViewPatches, err := meter.Int64Counter("sams_yearview_patches_total")
	if err != nil {
		return nil, err
	}
	unitLockWait, err := meter.Float64Histogram("sams_unit_lock_wait_seconds")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		paymentsRecorded: paymentsRecorded,
		paymentReplays:   paymentReplays,
		creditEntries:    creditEntries,
		billsGenerated:   billsGenerated,
		yearViewRebuilds: yearViewRebuilds,
		yearViewPatches:  yearViewPatches,
		unitLockWait:     unitLockWait,
	}, nil
}

// RecordPayment increments recorded payment counts.
func (m *Metrics) RecordPayment(ctx context.Context, method string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("method", strings.TrimSpace(method)))
	m.paymentsRecorded.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPaymentReplay counts idempotent replays of already-committed payments.
func (m *Metrics) RecordPaymentReplay(ctx context.Context) {
	if m == nil {
		return
	}
	m.paymentReplays.Add(ctx, 1)
}

// RecordCreditEntry increments credit ledger entry counts.
func (m *Metrics) RecordCreditEntry(ctx context.Context, entryType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("entry_type", strings.TrimSpace(entryType)))
	m.creditEntries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordBillsGenerated counts obligations created by bill generation.
func (m *Metrics) RecordBillsGenerated(ctx context.Context, count int64) {
	if m == nil || count <= 0 {
		return
	}
	m.billsGenerated.Add(ctx, count)
}

// RecordYearViewRebuild counts full year-view rebuilds.
func (m *Metrics) RecordYearViewRebuild(ctx context.Context) {
	if m == nil {
		return
	}
	m.yearViewRebuilds.Add(ctx, 1)
}

// RecordYearViewPatch counts surgical year-view patches.
func (m *Metrics) RecordYearViewPatch(ctx context.Context) {
	if m == nil {
		return
	}
	m.yearViewPatches.Add(ctx, 1)
}

// ObserveUnitLockWait records how long a writer waited on the per-unit lock.
func (m *Metrics) ObserveUnitLockWait(ctx context.Context, wait time.Duration) {
	if m == nil {
		return
	}
	m.unitLockWait.Record(ctx, wait.Seconds())
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

var allowedLabelKeys = map[attribute.Key]struct{}{
	"method":      {},
	"entry_type":  {},
	"status_code": {},
	"endpoint":    {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
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
