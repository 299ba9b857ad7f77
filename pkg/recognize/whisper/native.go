// This file contains the Native recognizer backed by the whisper.cpp CGO
// bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/wbendinelli/xvoice/pkg/recognize"
)

// Compile-time assertion that Native satisfies recognize.Recognizer.
var _ recognize.Recognizer = (*Native)(nil)

// Native implements recognize.Recognizer using whisper.cpp Go bindings
// (CGO), eliminating HTTP overhead entirely. The model is loaded once and
// shared; each Recognize call creates its own decoding context, so multiple
// inferences can run concurrently without interference.
type Native struct {
	model    whisperlib.Model
	language string
}

// NativeOption is a functional option for configuring a Native recognizer.
type NativeOption func(*Native)

// WithNativeLanguage sets the BCP-47 language code for transcription
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(n *Native) { n.language = lang }
}

// NewNative creates a Native recognizer that loads the whisper.cpp model
// from the given file path. The model is loaded once and shared across all
// concurrent Recognize calls. The caller must call Close when the recognizer
// is no longer needed.
func NewNative(modelPath string, opts ...NativeOption) (*Native, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	n := &Native{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// Close releases the whisper model. Must be called when the recognizer is no
// longer needed.
func (n *Native) Close() error {
	if n.model != nil {
		return n.model.Close()
	}
	return nil
}

// Name identifies this backend in logs and transcript metadata.
func (n *Native) Name() string { return "whisper-native" }

// Recognize runs whisper.cpp inference over the samples using a fresh
// context and returns the recognized segments. Each context is NOT
// thread-safe, but the model can be shared across goroutines, which is why a
// new one is created per call.
func (n *Native) Recognize(ctx context.Context, samples []float32, sampleRate int) ([]recognize.Segment, error) {
	if len(samples) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("whisper: context already cancelled: %w", err)
	}
	if sampleRate != whisperlib.SampleRate {
		return nil, fmt.Errorf("whisper: bindings require %d Hz input, got %d Hz", whisperlib.SampleRate, sampleRate)
	}

	wctx, err := n.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper: create context: %w", err)
	}

	if err := wctx.SetLanguage(n.language); err != nil {
		slog.Warn("whisper: failed to set language, using default", "language", n.language, "error", err)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper: process audio: %w", err)
	}

	var segs []recognize.Segment
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text == "" {
			continue
		}
		segs = append(segs, recognize.Segment{
			Text:  text,
			Start: segment.Start,
			End:   segment.End,
		})
	}

	return segs, nil
}
