// Package segment partitions a waveform into bounded-duration, overlapping
// chunks, the unit of parallel transcription dispatch.
//
// Chunks advance by the chunk duration D and reach back by the overlap guard
// g, so consecutive chunks share exactly g seconds of audio. The guard lets
// the reassembly stage recognise a word split by a cut point instead of
// dropping or duplicating it. A trailing remainder shorter than the minimum
// floor is merged into the previous chunk so no degenerate near-empty
// inference call is ever issued.
package segment

import (
	"errors"
	"fmt"
	"time"

	"github.com/wbendinelli/xvoice/pkg/media"
)

const (
	// DefaultChunkDuration matches whisper-class models' comfort zone for
	// batch inference on long recordings.
	DefaultChunkDuration = 5 * time.Minute

	// DefaultOverlap is the guard shared between consecutive chunks.
	DefaultOverlap = 5 * time.Second

	// DefaultMinChunk is the floor below which a trailing remainder is merged
	// into the previous chunk.
	DefaultMinChunk = 500 * time.Millisecond
)

// ErrInvalidConfig marks rejected chunking parameters. Construction fails
// fast; no decode or inference work happens with a bad configuration.
var ErrInvalidConfig = errors.New("segment: invalid chunking configuration")

// Chunk is a read-only view of one slice of the source waveform.
type Chunk struct {
	// Index is the chunk's position in dispatch order, used to key results.
	Index int

	// Start and End bound the chunk in absolute waveform time.
	// Invariant: Start < End.
	Start time.Duration
	End   time.Duration

	// Source is the shared waveform this chunk views. Never written to.
	Source *media.Waveform
}

// Samples returns the chunk's samples as a view into the source waveform.
func (c Chunk) Samples() []float32 {
	return c.Source.Slice(c.Start, c.End)
}

// Duration returns the chunk's length including any leading overlap.
func (c Chunk) Duration() time.Duration {
	return c.End - c.Start
}

// Option is a functional option for configuring a Segmenter.
type Option func(*Segmenter)

// WithChunkDuration sets the target chunk duration D. Defaults to 5m.
func WithChunkDuration(d time.Duration) Option {
	return func(s *Segmenter) {
		s.chunkDuration = d
	}
}

// WithOverlap sets the overlap guard g shared by consecutive chunks.
// Must satisfy 0 <= g < D. Defaults to 5s.
func WithOverlap(g time.Duration) Option {
	return func(s *Segmenter) {
		s.overlap = g
	}
}

// WithMinChunk sets the floor below which a trailing remainder is merged
// into the previous chunk. Defaults to 500ms.
func WithMinChunk(m time.Duration) Option {
	return func(s *Segmenter) {
		s.minChunk = m
	}
}

// Segmenter splits waveforms into chunks. Stateless after construction and
// safe for concurrent use.
type Segmenter struct {
	chunkDuration time.Duration
	overlap       time.Duration
	minChunk      time.Duration
}

// NewSegmenter builds a Segmenter, failing with ErrInvalidConfig when the
// parameters cannot produce a covering chunk sequence.
func NewSegmenter(opts ...Option) (*Segmenter, error) {
	s := &Segmenter{
		chunkDuration: DefaultChunkDuration,
		overlap:       DefaultOverlap,
		minChunk:      DefaultMinChunk,
	}
	for _, o := range opts {
		o(s)
	}
	if s.chunkDuration <= 0 {
		return nil, fmt.Errorf("%w: chunk duration must be positive, got %v", ErrInvalidConfig, s.chunkDuration)
	}
	if s.overlap < 0 {
		return nil, fmt.Errorf("%w: overlap must not be negative, got %v", ErrInvalidConfig, s.overlap)
	}
	if s.overlap >= s.chunkDuration {
		return nil, fmt.Errorf("%w: overlap %v must be shorter than chunk duration %v", ErrInvalidConfig, s.overlap, s.chunkDuration)
	}
	if s.minChunk < 0 {
		return nil, fmt.Errorf("%w: minimum chunk must not be negative, got %v", ErrInvalidConfig, s.minChunk)
	}
	return s, nil
}

// Split produces the ordered chunk sequence for w.
//
// chunk[0].Start = 0; chunk[i].Start = chunk[i-1].End - g; the last chunk
// ends exactly at the waveform duration. Every chunk is at most D+g long,
// except a final chunk that absorbed a remainder below the floor, which may
// run up to the floor longer. A waveform shorter than the floor still yields
// one chunk: the floor governs merging, not admission.
func (s *Segmenter) Split(w *media.Waveform) []Chunk {
	duration := w.Duration()
	if duration <= 0 {
		return nil
	}

	var chunks []Chunk
	for i := 0; ; i++ {
		prevEnd := time.Duration(i) * s.chunkDuration
		if prevEnd >= duration {
			break
		}
		end := prevEnd + s.chunkDuration
		if end > duration {
			end = duration
		}
		start := prevEnd - s.overlap
		if start < 0 {
			start = 0
		}

		if end == duration && len(chunks) > 0 && end-prevEnd < s.minChunk {
			chunks[len(chunks)-1].End = duration
			break
		}

		chunks = append(chunks, Chunk{
			Index:  len(chunks),
			Start:  start,
			End:    end,
			Source: w,
		})
		if end == duration {
			break
		}
	}
	return chunks
}
