// Package transcript defines the final output model of the transcription
// pipeline and the renderers that serialize it.
//
// A Transcript is constructed exactly once by the reassembly stage and is
// immutable afterwards. Stages that rewrite text (the polish pipeline) return
// a modified copy rather than editing in place, so a Transcript value can be
// shared freely between renderers, the archive, and callers.
package transcript

import "time"

// Segment is a timestamped span of transcribed text in absolute audio time.
type Segment struct {
	// Start and End bound the span within the source recording.
	// Invariant: Start <= End, and segments within a Transcript are
	// non-decreasing in both.
	Start time.Duration
	End   time.Duration

	// Text is the transcribed speech. Empty when Gap is true.
	Text string

	// Confidence is the recognizer's confidence score (0.0–1.0). Zero when
	// the recognizer does not report one.
	Confidence float64

	// Gap marks a span whose transcription permanently failed. Gap spans are
	// kept in the segment sequence so that the transcript always accounts for
	// the full source duration and callers can detect lost coverage.
	Gap bool
}

// Duration returns the length of the span.
func (s Segment) Duration() time.Duration {
	return s.End - s.Start
}

// Metadata describes how and from what a Transcript was produced.
type Metadata struct {
	// Source is the input file path or name.
	Source string

	// SourceDuration is the total duration of the decoded recording.
	SourceDuration time.Duration

	// Model identifies the recognition model or backend used.
	Model string

	// Language is the recognition language code ("en", "pt", ...).
	Language string

	// GeneratedAt is when the transcript was assembled.
	GeneratedAt time.Time
}

// Transcript is the final, ordered output of the pipeline: the deduplicated
// segments of every chunk, rebased to absolute time, with explicit gap
// markers where chunks permanently failed.
type Transcript struct {
	Segments []Segment
	Meta     Metadata
}

// Gaps returns the segments marking failed time ranges, in order.
func (t *Transcript) Gaps() []Segment {
	var gaps []Segment
	for _, s := range t.Segments {
		if s.Gap {
			gaps = append(gaps, s)
		}
	}
	return gaps
}

// Clone returns a deep copy. Used by stages that rewrite segment text so the
// original assembly result stays untouched.
func (t *Transcript) Clone() *Transcript {
	out := &Transcript{
		Segments: make([]Segment, len(t.Segments)),
		Meta:     t.Meta,
	}
	copy(out.Segments, t.Segments)
	return out
}
