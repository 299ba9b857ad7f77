package observe

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/wbendinelli/xvoice/pkg/provider/llm"
	"github.com/wbendinelli/xvoice/pkg/recognize"
)

// instrumentedRecognizer decorates a recognizer with a span, a latency
// histogram, and outcome counters per Recognize call.
type instrumentedRecognizer struct {
	next recognize.Recognizer
	m    *Metrics
}

var _ recognize.SerialRecognizer = (*instrumentedRecognizer)(nil)

// InstrumentRecognizer wraps next so every Recognize call is traced and
// measured. Serial-only backends stay serial-only through the wrapper.
func InstrumentRecognizer(next recognize.Recognizer, m *Metrics) recognize.Recognizer {
	return &instrumentedRecognizer{next: next, m: m}
}

func (ir *instrumentedRecognizer) Recognize(ctx context.Context, samples []float32, sampleRate int) ([]recognize.Segment, error) {
	name := ir.next.Name()
	ctx, span := StartSpan(ctx, "recognize "+name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("recognizer", name),
			attribute.Int("samples", len(samples)),
			attribute.Int("sample_rate", sampleRate),
		),
	)
	defer span.End()

	ir.m.ActiveChunks.Add(ctx, 1)
	start := time.Now()
	segs, err := ir.next.Recognize(ctx, samples, sampleRate)
	duration := time.Since(start)
	ir.m.ActiveChunks.Add(ctx, -1)

	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = "cancelled"
	default:
		status = "error"
		ir.m.RecordRecognizerError(ctx, name)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	ir.m.RecognizeDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("recognizer", name),
			attribute.String("status", status),
		),
	)
	ir.m.RecordChunk(ctx, name, status)

	return segs, err
}

func (ir *instrumentedRecognizer) Name() string {
	return ir.next.Name()
}

// SerialOnly reports whether the wrapped backend must be called serially.
func (ir *instrumentedRecognizer) SerialOnly() bool {
	if s, ok := ir.next.(recognize.SerialRecognizer); ok {
		return s.SerialOnly()
	}
	return false
}

// instrumentedLLM decorates an LLM provider with a span and a latency
// histogram per Complete call.
type instrumentedLLM struct {
	next llm.Provider
	m    *Metrics
}

var _ llm.Provider = (*instrumentedLLM)(nil)

// InstrumentLLM wraps next so every Complete call is traced and measured.
func InstrumentLLM(next llm.Provider, m *Metrics) llm.Provider {
	return &instrumentedLLM{next: next, m: m}
}

func (il *instrumentedLLM) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	name := il.next.Name()
	ctx, span := StartSpan(ctx, "llm "+name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("provider", name)),
	)
	defer span.End()

	start := time.Now()
	resp, err := il.next.Complete(ctx, req)

	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	il.m.LLMDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(
			attribute.String("provider", name),
			attribute.String("status", status),
		),
	)

	return resp, err
}

func (il *instrumentedLLM) Name() string {
	return il.next.Name()
}
