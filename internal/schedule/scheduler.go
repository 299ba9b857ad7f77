// Package schedule runs chunk transcription across a bounded worker pool.
//
// The Scheduler takes the chunks produced by the segmenter and a
// recognize.Recognizer, keeps at most C inferences in flight, retries failed
// chunks with exponential backoff, and returns one ChunkResult per chunk in
// chunk-index order regardless of completion order. A chunk that exhausts
// its retries is reported inside its ChunkResult; it never aborts the other
// chunks or the run.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wbendinelli/xvoice/internal/segment"
	"github.com/wbendinelli/xvoice/pkg/recognize"
)

const (
	// DefaultMaxRetries is the number of times a failed chunk is retried
	// after its first attempt.
	DefaultMaxRetries = 2

	// DefaultRetryBackoff is the delay before the first retry; it doubles
	// with every further attempt.
	DefaultRetryBackoff = 500 * time.Millisecond

	// DefaultChunkTimeout caps a single inference attempt.
	DefaultChunkTimeout = 5 * time.Minute

	// maxBackoff caps the exponential retry delay.
	maxBackoff = 30 * time.Second

	// maxDefaultConcurrency caps DefaultConcurrency on many-core hosts,
	// where recognizer backends saturate well before the CPU count.
	maxDefaultConcurrency = 4
)

// DefaultConcurrency returns the worker count used when WithConcurrency is
// not given: the number of CPUs, capped at 4.
func DefaultConcurrency() int {
	if n := runtime.NumCPU(); n < maxDefaultConcurrency {
		return n
	}
	return maxDefaultConcurrency
}

// ChunkResult is the outcome of transcribing one chunk. Exactly one of
// Segments (success, possibly empty for silent audio) or Err (failure) is
// meaningful; Attempts counts the inference attempts that were made, zero if
// the chunk was never dispatched before cancellation.
type ChunkResult struct {
	Chunk    segment.Chunk
	Segments []recognize.Segment
	Err      error
	Attempts int
}

// InferenceError marks a chunk whose transcription failed permanently, with
// every retry exhausted. Use errors.As to recover it from ChunkResult.Err;
// Unwrap exposes the last underlying cause.
type InferenceError struct {
	Index    int
	Attempts int
	Err      error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("schedule: chunk %d failed after %d attempt(s): %v", e.Index, e.Attempts, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// RetryRecorder receives one call for every chunk attempt that is retried.
// *observe.Metrics satisfies it.
type RetryRecorder interface {
	RecordChunkRetry(ctx context.Context, recognizer string)
}

// Option is a functional option for configuring a Scheduler.
type Option func(*Scheduler)

// WithConcurrency sets the maximum number of chunks in flight at once.
// Defaults to DefaultConcurrency().
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		s.concurrency = n
	}
}

// WithMaxRetries sets how many times a failed chunk is retried after its
// first attempt. Zero disables retries. Defaults to 2.
func WithMaxRetries(n int) Option {
	return func(s *Scheduler) {
		s.maxRetries = n
	}
}

// WithRetryBackoff sets the delay before the first retry. The delay doubles
// with each further attempt and is capped at 30s. Defaults to 500ms.
func WithRetryBackoff(d time.Duration) Option {
	return func(s *Scheduler) {
		s.retryBackoff = d
	}
}

// WithChunkTimeout caps a single inference attempt; a timed-out attempt
// counts as a retryable failure. Zero disables the per-attempt timeout.
// Defaults to 5 minutes.
func WithChunkTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		s.chunkTimeout = d
	}
}

// WithRetryRecorder forwards every retried attempt to r, typically the
// application metrics. Nil (the default) disables recording.
func WithRetryRecorder(r RetryRecorder) Option {
	return func(s *Scheduler) {
		s.retryRecorder = r
	}
}

// WithDrainInFlight lets inference attempts that already started run to
// completion when the run context is cancelled, so their results are kept in
// the partial output. New attempts are still never started after
// cancellation. Without this option in-flight attempts are abandoned.
func WithDrainInFlight() Option {
	return func(s *Scheduler) {
		s.drainInFlight = true
	}
}

// Scheduler dispatches chunk transcription over a bounded worker pool.
// A Scheduler is immutable after construction and safe for concurrent use.
type Scheduler struct {
	concurrency   int
	maxRetries    int
	retryBackoff  time.Duration
	chunkTimeout  time.Duration
	drainInFlight bool
	retryRecorder RetryRecorder
}

// NewScheduler creates a Scheduler. It returns an error if an option carries
// an invalid value.
func NewScheduler(opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		concurrency:  DefaultConcurrency(),
		maxRetries:   DefaultMaxRetries,
		retryBackoff: DefaultRetryBackoff,
		chunkTimeout: DefaultChunkTimeout,
	}
	for _, o := range opts {
		o(s)
	}

	var errs []error
	if s.concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", s.concurrency))
	}
	if s.maxRetries < 0 {
		errs = append(errs, fmt.Errorf("max retries must not be negative, got %d", s.maxRetries))
	}
	if s.retryBackoff < 0 {
		errs = append(errs, fmt.Errorf("retry backoff must not be negative, got %v", s.retryBackoff))
	}
	if s.chunkTimeout < 0 {
		errs = append(errs, fmt.Errorf("chunk timeout must not be negative, got %v", s.chunkTimeout))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("schedule: invalid configuration: %w", errors.Join(errs...))
	}
	return s, nil
}

// Run transcribes every chunk through rec and returns one result per chunk,
// index-aligned with the input. Per-chunk failures are contained in their
// ChunkResult; Run itself only returns an error when ctx is cancelled, and
// then still returns the partial results gathered so far. Chunks that were
// never dispatched carry the context error.
func (s *Scheduler) Run(ctx context.Context, chunks []segment.Chunk, rec recognize.Recognizer) ([]ChunkResult, error) {
	if rec == nil {
		return nil, errors.New("schedule: recognizer must not be nil")
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	limit := s.concurrency
	if sr, ok := rec.(recognize.SerialRecognizer); ok && sr.SerialOnly() && limit > 1 {
		slog.Debug("recognizer is serial-only, capping workers",
			"recognizer", rec.Name(), "configured", limit)
		limit = 1
	}

	results := make([]ChunkResult, len(chunks))
	for i, ch := range chunks {
		results[i].Chunk = ch
	}

	slog.Info("transcribing chunks",
		"chunks", len(chunks), "workers", limit, "recognizer", rec.Name())

	var eg errgroup.Group
	eg.SetLimit(limit)

	for i := range chunks {
		// Dispatch stops at cancellation; eg.Go blocking on a full pool is
		// the backpressure that keeps at most `limit` chunks in flight.
		if ctx.Err() != nil {
			break
		}
		idx := i
		eg.Go(func() error {
			results[idx] = s.transcribeChunk(ctx, chunks[idx], rec)
			return nil
		})
	}
	// Workers never return errors; Wait is used purely as a barrier.
	_ = eg.Wait()

	if err := ctx.Err(); err != nil {
		for i := range results {
			if results[i].Attempts == 0 && results[i].Err == nil {
				results[i].Err = err
			}
		}
		slog.Warn("transcription cancelled, returning partial results",
			"chunks", len(chunks), "cause", err)
		return results, err
	}
	return results, nil
}

// transcribeChunk runs the retry loop for a single chunk.
func (s *Scheduler) transcribeChunk(ctx context.Context, ch segment.Chunk, rec recognize.Recognizer) ChunkResult {
	res := ChunkResult{Chunk: ch}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		res.Attempts = attempt

		segs, err := s.attemptOnce(ctx, ch, rec)
		if err == nil {
			if segs == nil {
				segs = []recognize.Segment{}
			}
			res.Segments = segs
			if attempt > 1 {
				slog.Info("chunk transcription recovered",
					"chunk", ch.Index, "attempts", attempt)
			}
			return res
		}
		lastErr = err

		// Parent cancellation and retry exhaustion both end the loop.
		if ctx.Err() != nil || attempt > s.maxRetries {
			break
		}

		delay := s.backoffDelay(attempt)
		if s.retryRecorder != nil {
			s.retryRecorder.RecordChunkRetry(ctx, rec.Name())
		}
		slog.Warn("chunk transcription failed, will retry",
			"chunk", ch.Index, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			res.Err = &InferenceError{Index: ch.Index, Attempts: res.Attempts, Err: lastErr}
			return res
		}
	}

	res.Err = &InferenceError{Index: ch.Index, Attempts: res.Attempts, Err: lastErr}
	slog.Error("chunk transcription failed permanently",
		"chunk", ch.Index, "attempts", res.Attempts, "error", lastErr)
	return res
}

// attemptOnce performs one inference attempt under the per-attempt timeout.
// With drainInFlight set the attempt context is detached from the run
// context so an attempt that already started survives cancellation.
func (s *Scheduler) attemptOnce(ctx context.Context, ch segment.Chunk, rec recognize.Recognizer) ([]recognize.Segment, error) {
	attemptCtx := ctx
	if s.drainInFlight {
		attemptCtx = context.WithoutCancel(ctx)
	}
	if s.chunkTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(attemptCtx, s.chunkTimeout)
		defer cancel()
	}
	return rec.Recognize(attemptCtx, ch.Samples(), ch.Source.SampleRate)
}

// backoffDelay returns the delay before the retry following the given
// attempt: backoff·2^(attempt−1), capped at maxBackoff.
func (s *Scheduler) backoffDelay(attempt int) time.Duration {
	if s.retryBackoff == 0 {
		return 0
	}
	d := s.retryBackoff << (attempt - 1)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	return d
}
