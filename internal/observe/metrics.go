// Package observe provides application-wide observability primitives for
// xvoice: OpenTelemetry metrics, tracing, structured logging, and decorators
// that instrument the recognition and correction backends.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped from the /metrics endpoint served by [MetricsServer]. A
// package-level default [Metrics] instance ([DefaultMetrics]) is provided for
// convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all xvoice metrics.
const meterName = "github.com/wbendinelli/xvoice"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// NormalizeDuration tracks media decoding and resampling latency per
	// input file.
	NormalizeDuration metric.Float64Histogram

	// RecognizeDuration tracks per-chunk speech-to-text latency.
	RecognizeDuration metric.Float64Histogram

	// LLMDuration tracks LLM correction round-trip latency.
	LLMDuration metric.Float64Histogram

	// PipelineDuration tracks end-to-end latency per transcription job.
	PipelineDuration metric.Float64Histogram

	// --- Counters ---

	// Chunks counts transcribed chunks. Use with attributes:
	//   attribute.String("recognizer", ...), attribute.String("status", ...)
	Chunks metric.Int64Counter

	// ChunkRetries counts chunk retry attempts. Use with attribute:
	//   attribute.String("recognizer", ...)
	ChunkRetries metric.Int64Counter

	// Jobs counts finished transcription jobs. Use with attribute:
	//   attribute.String("status", ...)
	Jobs metric.Int64Counter

	// --- Error counters ---

	// RecognizerErrors counts recognition failures. Use with attribute:
	//   attribute.String("recognizer", ...)
	RecognizerErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveChunks tracks the number of chunk recognitions in flight.
	ActiveChunks metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Chunk
// recognition runs from well under a second on short chunks to minutes on
// slow backends, so the buckets stretch further than typical request
// latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.NormalizeDuration, err = m.Float64Histogram("xvoice.normalize.duration",
		metric.WithDescription("Latency of media decoding and resampling per input."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecognizeDuration, err = m.Float64Histogram("xvoice.recognize.duration",
		metric.WithDescription("Latency of speech-to-text recognition per chunk."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("xvoice.llm.duration",
		metric.WithDescription("Latency of LLM correction round trips."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PipelineDuration, err = m.Float64Histogram("xvoice.pipeline.duration",
		metric.WithDescription("End-to-end latency per transcription job."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Chunks, err = m.Int64Counter("xvoice.chunks",
		metric.WithDescription("Total transcribed chunks by recognizer and status."),
	); err != nil {
		return nil, err
	}
	if met.ChunkRetries, err = m.Int64Counter("xvoice.chunk.retries",
		metric.WithDescription("Total chunk retry attempts by recognizer."),
	); err != nil {
		return nil, err
	}
	if met.Jobs, err = m.Int64Counter("xvoice.jobs",
		metric.WithDescription("Total finished transcription jobs by status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.RecognizerErrors, err = m.Int64Counter("xvoice.recognizer.errors",
		metric.WithDescription("Total recognition failures by recognizer."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveChunks, err = m.Int64UpDownCounter("xvoice.active_chunks",
		metric.WithDescription("Number of chunk recognitions currently in flight."),
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

// RecordChunk records one finished chunk recognition with the standard
// attribute set. status is "ok", "error", or "cancelled".
func (m *Metrics) RecordChunk(ctx context.Context, recognizer, status string) {
	m.Chunks.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("recognizer", recognizer),
			attribute.String("status", status),
		),
	)
}

// RecordChunkRetry records one chunk retry attempt.
func (m *Metrics) RecordChunkRetry(ctx context.Context, recognizer string) {
	m.ChunkRetries.Add(ctx, 1,
		metric.WithAttributes(attribute.String("recognizer", recognizer)),
	)
}

// RecordJob records one finished transcription job. status is "ok",
// "partial", or "error".
func (m *Metrics) RecordJob(ctx context.Context, status string) {
	m.Jobs.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordRecognizerError records one recognition failure.
func (m *Metrics) RecordRecognizerError(ctx context.Context, recognizer string) {
	m.RecognizerErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("recognizer", recognizer)),
	)
}
