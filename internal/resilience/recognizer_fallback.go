package resilience

import (
	"context"
	"strings"

	"github.com/wbendinelli/xvoice/pkg/recognize"
)

// RecognizerFallback implements [recognize.Recognizer] with automatic
// failover across speech backends. Each backend has its own circuit breaker,
// so a whisper server that stops answering is bypassed in favour of the next
// configured backend instead of being probed on every chunk.
type RecognizerFallback struct {
	chain  *Chain[recognize.Recognizer]
	serial bool
}

var _ recognize.SerialRecognizer = (*RecognizerFallback)(nil)

// NewRecognizerFallback returns a fallback recognizer with primary as the
// preferred backend. Register further backends with
// [RecognizerFallback.AddFallback] before first use.
func NewRecognizerFallback(primary recognize.Recognizer, cfg BreakerConfig) *RecognizerFallback {
	return &RecognizerFallback{
		chain:  NewChain(primary.Name(), primary, cfg),
		serial: serialOnly(primary),
	}
}

// AddFallback appends a backend. Backends are tried in registration order,
// after the primary.
func (f *RecognizerFallback) AddFallback(r recognize.Recognizer) {
	f.chain.Add(r.Name(), r)
	if serialOnly(r) {
		f.serial = true
	}
}

// Recognize transcribes the window with the first healthy backend.
func (f *RecognizerFallback) Recognize(ctx context.Context, samples []float32, sampleRate int) ([]recognize.Segment, error) {
	return TryResult(ctx, f.chain, func(r recognize.Recognizer) ([]recognize.Segment, error) {
		return r.Recognize(ctx, samples, sampleRate)
	})
}

// Name joins the backend names in chain order.
func (f *RecognizerFallback) Name() string {
	return strings.Join(f.chain.Names(), "+")
}

// SerialOnly reports true when any backend in the chain is serial-only, so a
// failover can never expose such a backend to concurrent calls.
func (f *RecognizerFallback) SerialOnly() bool {
	return f.serial
}

func serialOnly(r recognize.Recognizer) bool {
	s, ok := r.(recognize.SerialRecognizer)
	return ok && s.SerialOnly()
}
