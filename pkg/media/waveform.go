// Package media decodes input recordings into the canonical waveform used by
// the rest of the pipeline: mono float32 samples in [-1, 1] at a fixed sample
// rate.
//
// WAV files are decoded natively; every other container/codec is handed to an
// ffmpeg subprocess that emits raw 16-bit PCM on stdout. The decoded Waveform
// is treated as immutable once it leaves this package — chunks downstream hold
// subslice views into it, never copies.
package media

import (
	"math"
	"time"
)

// Waveform is a decoded, normalized audio signal: mono samples in [-1, 1].
// Values are shared read-only across pipeline stages; nothing may write to
// Samples after construction.
type Waveform struct {
	// Samples holds the mono PCM signal, one float32 per sample frame.
	Samples []float32

	// SampleRate in Hz, fixed for the lifetime of the pipeline run.
	SampleRate int
}

// Duration returns the total playing time of the waveform.
func (w *Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 || len(w.Samples) == 0 {
		return 0
	}
	return time.Duration(float64(len(w.Samples)) / float64(w.SampleRate) * float64(time.Second))
}

// Index converts an absolute offset into a sample index, clamped to the
// waveform bounds. Both the segmenter and chunk views use this conversion so
// that chunk boundaries land on identical samples everywhere.
func (w *Waveform) Index(at time.Duration) int {
	if at <= 0 {
		return 0
	}
	i := int(math.Round(at.Seconds() * float64(w.SampleRate)))
	if i > len(w.Samples) {
		return len(w.Samples)
	}
	return i
}

// Slice returns the samples between start and end as a view into the
// underlying array. The returned slice must not be modified.
func (w *Waveform) Slice(start, end time.Duration) []float32 {
	lo, hi := w.Index(start), w.Index(end)
	if lo > hi {
		lo = hi
	}
	return w.Samples[lo:hi]
}
