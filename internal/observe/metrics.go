// Package observe provides application-wide observability primitives for
// Parlance: OpenTelemetry metrics, distributed tracing, the performance
// monitor that compares the two execution paths, and HTTP middleware that
// ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Parlance metrics.
const meterName = "github.com/avockley/parlance"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ToolExecutionDuration tracks end-to-end tool execution latency.
	// Use with attributes:
	//   attribute.String("tool", ...), attribute.String("path", ...), attribute.String("status", ...)
	ToolExecutionDuration metric.Float64Histogram

	// FusionDuration tracks provider fan-out and merge latency.
	FusionDuration metric.Float64Histogram

	// LLMDuration tracks LLM call latency. Use with attribute:
	//   attribute.String("stage", "classify"|"synthesize")
	LLMDuration metric.Float64Histogram

	// --- Counters ---

	// ToolInvocations counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("path", ...), attribute.String("status", ...)
	ToolInvocations metric.Int64Counter

	// ProviderRequests counts search/LLM provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// Fallbacks counts modular-path failures that were retried on the
	// legacy path. Use with attribute: attribute.String("tool", ...)
	Fallbacks metric.Int64Counter

	// RollbackTriggers counts recorded rollback trigger signals. Use with
	// attribute: attribute.String("trigger", ...)
	RollbackTriggers metric.Int64Counter

	// Clarifications counts invocations that ended with a clarifying
	// question instead of an answer.
	Clarifications metric.Int64Counter

	// ValidatorRejections counts drafts replaced by the safe fallback text.
	ValidatorRejections metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveInvocations tracks the number of tool invocations in flight.
	ActiveInvocations metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-turn latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ToolExecutionDuration, err = m.Float64Histogram("parlance.tool_execution.duration",
		metric.WithDescription("End-to-end tool execution latency by tool, path, and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FusionDuration, err = m.Float64Histogram("parlance.fusion.duration",
		metric.WithDescription("Latency of search provider fan-out and merge."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("parlance.llm.duration",
		metric.WithDescription("Latency of LLM calls by pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ToolInvocations, err = m.Int64Counter("parlance.tool.invocations",
		metric.WithDescription("Total tool invocations by tool, path, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("parlance.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.Fallbacks, err = m.Int64Counter("parlance.fallbacks",
		metric.WithDescription("Total modular-path failures retried on the legacy path."),
	); err != nil {
		return nil, err
	}
	if met.RollbackTriggers, err = m.Int64Counter("parlance.rollback_triggers",
		metric.WithDescription("Total rollback trigger signals recorded."),
	); err != nil {
		return nil, err
	}
	if met.Clarifications, err = m.Int64Counter("parlance.clarifications",
		metric.WithDescription("Total invocations answered with a clarifying question."),
	); err != nil {
		return nil, err
	}
	if met.ValidatorRejections, err = m.Int64Counter("parlance.validator.rejections",
		metric.WithDescription("Total drafts replaced by the safe fallback text."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("parlance.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveInvocations, err = m.Int64UpDownCounter("parlance.active_invocations",
		metric.WithDescription("Number of tool invocations currently in flight."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("parlance.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordToolExecution records one tool execution: the latency histogram
// sample and the invocation counter increment, with the standard attribute
// set.
func (m *Metrics) RecordToolExecution(ctx context.Context, tool, path, status string, seconds float64) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("path", path),
		attribute.String("status", status),
	)
	m.ToolExecutionDuration.Record(ctx, seconds, attrs)
	m.ToolInvocations.Add(ctx, 1, attrs)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordFallback records one legacy fallback for the given tool.
func (m *Metrics) RecordFallback(ctx context.Context, tool string) {
	m.Fallbacks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("tool", tool)),
	)
}

// RecordRollbackTrigger records one fired rollback trigger signal.
func (m *Metrics) RecordRollbackTrigger(ctx context.Context, trigger string) {
	m.RollbackTriggers.Add(ctx, 1,
		metric.WithAttributes(attribute.String("trigger", trigger)),
	)
}
