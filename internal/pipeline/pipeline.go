// Package pipeline wires the transcription stages into a single runnable
// unit: normalize → noise filter → segment → schedule → reassemble → polish.
//
// Construction validates the whole configuration up front, so a bad chunk or
// recognizer setting fails before any audio is decoded. Run always returns a
// transcript unless decoding itself fails; degraded coverage surfaces as gap
// segments, cancellation as a partial transcript plus the context error.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wbendinelli/xvoice/internal/config"
	"github.com/wbendinelli/xvoice/internal/observe"
	"github.com/wbendinelli/xvoice/internal/polish"
	"github.com/wbendinelli/xvoice/internal/reassemble"
	"github.com/wbendinelli/xvoice/internal/schedule"
	"github.com/wbendinelli/xvoice/internal/segment"
	"github.com/wbendinelli/xvoice/pkg/media"
	"github.com/wbendinelli/xvoice/pkg/media/dsp"
	"github.com/wbendinelli/xvoice/pkg/recognize"
	"github.com/wbendinelli/xvoice/pkg/transcript"
)

// Option is a functional option for configuring a [Pipeline].
type Option func(*Pipeline)

// WithPolisher attaches a transcript polisher applied after reassembly.
// When nil (the default), the polish stage is skipped.
func WithPolisher(p *polish.Polisher) Option {
	return func(pl *Pipeline) {
		pl.polisher = p
	}
}

// WithMetrics overrides the metrics instruments. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(pl *Pipeline) {
		pl.metrics = m
	}
}

// WithClock overrides the time source used for the transcript's GeneratedAt
// stamp and the recorded stage durations. Tests inject a fixed clock to get
// byte-identical output.
func WithClock(now func() time.Time) Option {
	return func(pl *Pipeline) {
		pl.now = now
	}
}

// Pipeline runs the full transcription flow for one input file at a time.
// It is read-only after construction and safe for concurrent Run calls.
type Pipeline struct {
	rec         recognize.Recognizer
	normalizer  *media.Normalizer
	filter      *dsp.NoiseFilter
	segmenter   *segment.Segmenter
	scheduler   *schedule.Scheduler
	reassembler *reassemble.Reassembler
	polisher    *polish.Polisher
	metrics     *observe.Metrics
	language    string
	now         func() time.Time
}

// New validates cfg and builds every stage from it. Configuration problems
// surface here, before any decode or inference work starts.
func New(cfg *config.Config, rec recognize.Recognizer, opts ...Option) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("pipeline: config must not be nil")
	}
	if rec == nil {
		return nil, errors.New("pipeline: recognizer must not be nil")
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	p := &Pipeline{
		rec:      rec,
		language: cfg.Recognizer.Language,
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}

	var err error
	normOpts := []media.NormalizerOption{
		media.WithTargetRate(cfg.Pipeline.SampleRate),
		media.WithPeakNormalization(cfg.Pipeline.PeakNormalize),
	}
	if cfg.Pipeline.FFmpegPath != "" {
		normOpts = append(normOpts, media.WithFFmpeg(cfg.Pipeline.FFmpegPath))
	}
	p.normalizer, err = media.NewNormalizer(normOpts...)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	if cfg.Pipeline.NoiseFilter {
		p.filter, err = dsp.NewNoiseFilter()
		if err != nil {
			return nil, fmt.Errorf("pipeline: %w", err)
		}
	}

	p.segmenter, err = segment.NewSegmenter(
		segment.WithChunkDuration(cfg.Pipeline.ChunkDuration()),
		segment.WithOverlap(cfg.Pipeline.Overlap()),
		segment.WithMinChunk(cfg.Pipeline.MinChunk()),
	)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	schedOpts := []schedule.Option{
		schedule.WithMaxRetries(cfg.Pipeline.MaxRetries),
		schedule.WithRetryBackoff(cfg.Pipeline.RetryBackoff()),
		schedule.WithChunkTimeout(cfg.Pipeline.ChunkTimeout()),
		schedule.WithRetryRecorder(p.metrics),
	}
	if cfg.Pipeline.Concurrency > 0 {
		schedOpts = append(schedOpts, schedule.WithConcurrency(cfg.Pipeline.Concurrency))
	}
	if cfg.Pipeline.DrainInFlight {
		schedOpts = append(schedOpts, schedule.WithDrainInFlight())
	}
	p.scheduler, err = schedule.NewScheduler(schedOpts...)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	p.reassembler, err = reassemble.NewReassembler(
		reassemble.WithOverlapFraction(cfg.Reassembly.OverlapFraction),
		reassemble.WithTextSimilarity(cfg.Reassembly.TextSimilarity),
	)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	return p, nil
}

// Run transcribes the media file at path. A transcript is always returned
// unless decoding fails; with it:
//
//   - a nil error means full coverage (possibly with polish applied);
//   - an error wrapping the context error means the run was cancelled and
//     the transcript is partial, with unprocessed chunks marked as gaps;
//   - any other non-nil error means every chunk permanently failed.
func (p *Pipeline) Run(ctx context.Context, path string) (*transcript.Transcript, error) {
	jobStart := p.now()
	ctx, span := observe.StartSpan(ctx, "pipeline.run")
	defer span.End()
	log := observe.Logger(ctx).With("source", filepath.Base(path))

	wave, err := p.normalizer.Normalize(ctx, path)
	if err != nil {
		p.metrics.RecordJob(ctx, "failed")
		return nil, fmt.Errorf("pipeline: normalize %s: %w", path, err)
	}
	p.metrics.NormalizeDuration.Record(ctx, p.now().Sub(jobStart).Seconds(),
		metric.WithAttributes(attribute.String("source", filepath.Base(path))),
	)
	log.Info("audio normalized",
		"duration", wave.Duration(), "sample_rate", wave.SampleRate)

	if p.filter != nil {
		wave = p.filter.Apply(wave)
		log.Debug("noise filter applied")
	}

	chunks := p.segmenter.Split(wave)
	results, runErr := p.scheduler.Run(ctx, chunks, p.rec)

	out, err := p.reassembler.Reassemble(results)
	if err != nil {
		p.metrics.RecordJob(ctx, "failed")
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	out.Meta = transcript.Metadata{
		Source:         filepath.Base(path),
		SourceDuration: wave.Duration(),
		Model:          p.rec.Name(),
		Language:       p.language,
		GeneratedAt:    p.now(),
	}

	// Polish is cosmetic; a failing LLM stage degrades to the text the
	// earlier stages produced rather than failing the job.
	if p.polisher != nil && runErr == nil {
		polished, corrections, perr := p.polisher.Polish(ctx, out)
		if perr != nil {
			log.Warn("transcript polish incomplete", "err", perr)
		}
		if polished != nil {
			out = polished
		}
		if len(corrections) > 0 {
			log.Info("transcript polished", "corrections", len(corrections))
		}
	}

	gaps := len(out.Gaps())
	status := "ok"
	switch {
	case runErr != nil:
		status = "cancelled"
	case len(chunks) > 0 && gaps == len(chunks):
		status = "failed"
	case gaps > 0:
		status = "degraded"
	}
	p.metrics.PipelineDuration.Record(ctx, p.now().Sub(jobStart).Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
	p.metrics.RecordJob(ctx, status)
	log.Info("transcription finished",
		"status", status, "segments", len(out.Segments), "gaps", gaps,
		"chunks", len(chunks), "elapsed", p.now().Sub(jobStart))

	if runErr != nil {
		return out, fmt.Errorf("pipeline: transcription aborted: %w", runErr)
	}
	if len(chunks) > 0 && gaps == len(chunks) {
		return out, fmt.Errorf("pipeline: every chunk failed (%d of %d)", gaps, len(chunks))
	}
	return out, nil
}
