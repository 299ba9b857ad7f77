// Package mock provides a test double for the recognize package interfaces.
//
// Use Recognizer to feed deterministic segments into schedulers and pipeline
// tests and to inspect call patterns afterwards: every invocation is
// recorded, and an in-flight high-water mark lets tests assert concurrency
// bounds.
//
// Example:
//
//	rec := &mock.Recognizer{
//	    Script: func(ctx context.Context, samples []float32, rate int) ([]recognize.Segment, error) {
//	        return []recognize.Segment{{Text: "hello", End: time.Second}}, nil
//	    },
//	}
//	segs, _ := rec.Recognize(ctx, samples, 16000)
package mock

import (
	"context"
	"sync"

	"github.com/wbendinelli/xvoice/pkg/recognize"
)

// RecognizeCall records a single invocation of Recognizer.Recognize.
type RecognizeCall struct {
	// SampleCount is the number of samples in the window. The audio itself
	// is not retained.
	SampleCount int

	// SampleRate is the rate passed to Recognize.
	SampleRate int
}

// Recognizer is a mock implementation of recognize.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Script, if non-nil, is invoked for every Recognize call and its result
	// returned verbatim. It runs outside the mock's lock, so scripts may
	// block to hold a slot open and exercise scheduling behaviour.
	Script func(ctx context.Context, samples []float32, sampleRate int) ([]recognize.Segment, error)

	// Segments and Err are returned by Recognize when Script is nil.
	// Segments is copied on every call so tests can mutate results safely.
	Segments []recognize.Segment
	Err      error

	// NameValue overrides the value returned by Name. Defaults to "mock".
	NameValue string

	// Serial marks the recognizer as unsafe for concurrent use. Schedulers
	// that honour recognize.SerialRecognizer drop to a single worker.
	Serial bool

	// RecognizeCalls records every call to Recognize in order.
	RecognizeCalls []RecognizeCall

	inFlight    int
	maxInFlight int
}

// Recognize records the call, tracks the in-flight count, and returns either
// the Script result or the canned Segments/Err pair.
func (r *Recognizer) Recognize(ctx context.Context, samples []float32, sampleRate int) ([]recognize.Segment, error) {
	r.mu.Lock()
	r.RecognizeCalls = append(r.RecognizeCalls, RecognizeCall{
		SampleCount: len(samples),
		SampleRate:  sampleRate,
	})
	r.inFlight++
	if r.inFlight > r.maxInFlight {
		r.maxInFlight = r.inFlight
	}
	script := r.Script
	segs := make([]recognize.Segment, len(r.Segments))
	copy(segs, r.Segments)
	err := r.Err
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inFlight--
		r.mu.Unlock()
	}()

	if script != nil {
		return script(ctx, samples, sampleRate)
	}
	if err != nil {
		return nil, err
	}
	return segs, nil
}

// Name returns NameValue, or "mock" when unset.
func (r *Recognizer) Name() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.NameValue != "" {
		return r.NameValue
	}
	return "mock"
}

// SerialOnly reports the Serial field.
func (r *Recognizer) SerialOnly() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Serial
}

// CallCount returns the number of Recognize calls. Thread-safe.
func (r *Recognizer) CallCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.RecognizeCalls)
}

// MaxInFlight returns the highest number of Recognize calls that were ever
// executing simultaneously. Thread-safe.
func (r *Recognizer) MaxInFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxInFlight
}

// ResetCalls clears all recorded calls and the in-flight high-water mark.
// Thread-safe.
func (r *Recognizer) ResetCalls() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.RecognizeCalls = nil
	r.maxInFlight = 0
}

// Ensure Recognizer implements the recognize interfaces at compile time.
var (
	_ recognize.Recognizer       = (*Recognizer)(nil)
	_ recognize.SerialRecognizer = (*Recognizer)(nil)
)
