package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/CodexShaper-Devs/license-sub000/internal/infrastructure"
)

const TracerName = infrastructure.InstrumentationName + "/license"

// Metrics holds the license use-case instruments.
type Metrics struct {
	Operations        metric.Int64Counter
	OperationFailures metric.Int64Counter
	OperationDuration metric.Float64Histogram

	Activations         metric.Int64Counter
	Deactivations       metric.Int64Counter
	Validations         metric.Int64Counter
	CheckIns            metric.Int64Counter
	DomainVerifications metric.Int64Counter
	SecurityFailures    metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Operations, err = meter.Int64Counter(
		"license_operations_total",
		metric.WithDescription("Total number of license operations"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operations counter: %w", err)
	}

	m.OperationFailures, err = meter.Int64Counter(
		"license_operation_failures_total",
		metric.WithDescription("Total number of failed license operations by error kind"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation failures counter: %w", err)
	}

	m.OperationDuration, err = meter.Float64Histogram(
		"license_operation_duration_seconds",
		metric.WithDescription("License operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation duration histogram: %w", err)
	}

	m.Activations, err = meter.Int64Counter(
		"license_activations_total",
		metric.WithDescription("Total number of seats activated"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activations counter: %w", err)
	}

	m.Deactivations, err = meter.Int64Counter(
		"license_deactivations_total",
		metric.WithDescription("Total number of seats released"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create deactivations counter: %w", err)
	}

	m.Validations, err = meter.Int64Counter(
		"license_validations_total",
		metric.WithDescription("Total number of license validations by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create validations counter: %w", err)
	}

	m.CheckIns, err = meter.Int64Counter(
		"license_check_ins_total",
		metric.WithDescription("Total number of successful check-ins"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create check-ins counter: %w", err)
	}

	m.DomainVerifications, err = meter.Int64Counter(
		"license_domain_verifications_total",
		metric.WithDescription("Total number of domain ownership checks by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create domain verifications counter: %w", err)
	}

	m.SecurityFailures, err = meter.Int64Counter(
		"license_security_failures_total",
		metric.WithDescription("Total number of licenses that failed envelope verification"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create security failures counter: %w", err)
	}

	return m, nil
}

// trace runs fn inside a span and records the operation metrics.
func (s *Service) trace(ctx context.Context, op, key string, fn func(ctx context.Context) error) error {
	ctx, span := otel.Tracer(TracerName).Start(ctx, "license."+op,
		trace.WithAttributes(
			attribute.String("license.operation", op),
			attribute.String("license.key_prefix", maskLicenseKey(key)),
		),
	)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	duration := time.Since(start)

	span.SetAttributes(
		attribute.Float64("license.duration_ms", float64(duration.Milliseconds())),
		attribute.Bool("license.success", err == nil),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String("license.error_kind", string(KindOf(err))))
	} else {
		span.SetStatus(codes.Ok, op+" completed")
	}

	s.recordOperation(ctx, op, duration, err)
	return err
}

func (s *Service) recordOperation(ctx context.Context, op string, duration time.Duration, err error) {
	if s.metrics == nil {
		return
	}
	labels := metric.WithAttributes(attribute.String("operation", op))
	s.metrics.Operations.Add(ctx, 1, labels)
	s.metrics.OperationDuration.Record(ctx, duration.Seconds(), labels)
	if err != nil {
		s.metrics.OperationFailures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("kind", string(KindOf(err))),
		))
	}
}

type metricCounter = metric.Int64Counter

func (s *Service) count(ctx context.Context, counter func(*Metrics) metricCounter, n int64, attrs ...attribute.KeyValue) {
	if s.metrics == nil || n == 0 {
		return
	}
	counter(s.metrics).Add(ctx, n, metric.WithAttributes(attrs...))
}
