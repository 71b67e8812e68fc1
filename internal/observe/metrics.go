// Package observe provides the observability primitives of the verification
// core: OpenTelemetry metrics and tracing, trace-enriched logging, and HTTP
// middleware tying them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// through a Prometheus bridge (see [InitProvider]) so the standard /metrics
// scrape endpoint keeps working. Tests should construct their own [Metrics]
// with an isolated metric.MeterProvider to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all verification-core metrics.
const meterName = "github.com/tan-res-space/rag-interface-sub006"

// Metrics holds the metric instruments of the verification core. The
// underlying OTel types handle their own synchronisation.
type Metrics struct {
	// AlignDuration tracks word-level alignment latency.
	AlignDuration metric.Float64Histogram

	// ProcessDuration tracks end-to-end correction-event processing latency.
	ProcessDuration metric.Float64Histogram

	// EventsProcessed counts correction events by outcome. Attributes:
	//   attribute.String("status", ...) — "ok", "dead_letter", "error"
	EventsProcessed metric.Int64Counter

	// DeadLetters counts dead-lettered events by reason.
	DeadLetters metric.Int64Counter

	// VerificationsRouted counts created verification records by initial
	// status ("pending" or "needs_review").
	VerificationsRouted metric.Int64Counter

	// AlertTransitions counts alert activations and resolutions. Attributes:
	//   attribute.String("kind", ...), attribute.String("severity", ...)
	AlertTransitions metric.Int64Counter

	// SnapshotRequests counts metric snapshot reads by cache outcome.
	// Attributes: attribute.String("result", ...) — "hit", "recompute", "stale"
	SnapshotRequests metric.Int64Counter

	// ActiveAlerts tracks the number of currently unresolved alerts.
	ActiveAlerts metric.Int64UpDownCounter

	// HTTPRequestDuration tracks read-API request time by method and path.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram boundaries (seconds) sized for in-process
// alignment work and persistence round-trips.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// NewMetrics creates a fully initialised [Metrics] using mp. Returns an error
// if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.AlignDuration, err = m.Float64Histogram("verifycore.align.duration",
		metric.WithDescription("Latency of word-level transcript alignment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProcessDuration, err = m.Float64Histogram("verifycore.process.duration",
		metric.WithDescription("End-to-end correction-event processing latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EventsProcessed, err = m.Int64Counter("verifycore.events.processed",
		metric.WithDescription("Correction events processed by outcome."),
	); err != nil {
		return nil, err
	}
	if met.DeadLetters, err = m.Int64Counter("verifycore.events.dead_letters",
		metric.WithDescription("Events routed to the dead-letter store by reason."),
	); err != nil {
		return nil, err
	}
	if met.VerificationsRouted, err = m.Int64Counter("verifycore.verifications.routed",
		metric.WithDescription("Verification records created by initial status."),
	); err != nil {
		return nil, err
	}
	if met.AlertTransitions, err = m.Int64Counter("verifycore.alerts.transitions",
		metric.WithDescription("Alert activations and resolutions by kind and severity."),
	); err != nil {
		return nil, err
	}
	if met.SnapshotRequests, err = m.Int64Counter("verifycore.snapshots.requests",
		metric.WithDescription("Metric snapshot reads by cache outcome."),
	); err != nil {
		return nil, err
	}
	if met.ActiveAlerts, err = m.Int64UpDownCounter("verifycore.alerts.active",
		metric.WithDescription("Number of currently unresolved alerts."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("verifycore.http.request.duration",
		metric.WithDescription("Read-API request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, created on
// first call from the global meter provider. Panics if instrument creation
// fails, which cannot happen with the global provider.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordEvent records one processed correction event with its outcome.
func (m *Metrics) RecordEvent(ctx context.Context, status string) {
	m.EventsProcessed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)))
}

// RecordDeadLetter records one dead-lettered event.
func (m *Metrics) RecordDeadLetter(ctx context.Context, reason string) {
	m.DeadLetters.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordRouting records a created verification record's initial status.
func (m *Metrics) RecordRouting(ctx context.Context, status string) {
	m.VerificationsRouted.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)))
}

// RecordAlertTransition records an alert activation or resolution.
func (m *Metrics) RecordAlertTransition(ctx context.Context, kind, severity string) {
	m.AlertTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("severity", severity),
		))
}

// RecordSnapshot records one snapshot read with its cache outcome.
func (m *Metrics) RecordSnapshot(ctx context.Context, result string) {
	m.SnapshotRequests.Add(ctx, 1,
		metric.WithAttributes(attribute.String("result", result)))
}
