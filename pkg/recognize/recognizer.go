// Package recognize defines the speech-to-text capability consumed by the
// transcription pipeline, along with the chunk-local segment values every
// backend produces.
//
// A Recognizer turns a window of mono float32 PCM into timestamped text
// segments whose times are relative to the start of that window. The caller
// never learns how the text was produced; the whisper.cpp backends (HTTP
// server and CGO bindings), the Deepgram REST client, and the scripted test
// double in recognize/mock all satisfy the same contract.
package recognize

import (
	"context"
	"time"
)

// Segment is a single recognized span of speech. Start and End are offsets
// from the beginning of the audio window passed to Recognize, not positions
// in any larger recording the window was cut from.
type Segment struct {
	// Text is the recognized text with surrounding whitespace trimmed.
	Text string

	// Start is the offset of the span from the window start.
	Start time.Duration

	// End is the offset at which the span ends. Never less than Start.
	End time.Duration

	// Confidence is the backend's self-reported confidence in [0, 1], or 0
	// when the backend does not report one.
	Confidence float64
}

// Duration returns the length of the recognized span.
func (s Segment) Duration() time.Duration {
	return s.End - s.Start
}

// Recognizer converts an audio window into timestamped text segments.
//
// Implementations must be safe for concurrent use by multiple goroutines.
// A backend that cannot run concurrent inferences should also implement
// [SerialRecognizer] so callers can cap their worker count instead of
// corrupting shared state.
type Recognizer interface {
	// Recognize transcribes the given mono samples. It returns the
	// recognized segments in ascending Start order, or an error if the
	// backend could not process the window. An empty or silent window
	// yields an empty slice and no error.
	Recognize(ctx context.Context, samples []float32, sampleRate int) ([]Segment, error)

	// Name identifies the backend in logs and transcript metadata,
	// e.g. "whisper-server" or "deepgram".
	Name() string
}

// SerialRecognizer is an optional extension of [Recognizer] for backends
// whose Recognize method must not run concurrently. Schedulers check for it
// and drop to a single worker when SerialOnly reports true.
type SerialRecognizer interface {
	Recognizer

	// SerialOnly reports whether concurrent Recognize calls are unsafe.
	SerialOnly() bool
}
