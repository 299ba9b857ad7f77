// Package dsp implements the signal-conditioning stage of the pipeline: a
// deterministic spectral-subtraction noise filter.
//
// The filter estimates a stationary noise spectrum — either from the
// lowest-energy analysis frames or from a configured leading window assumed
// to contain no speech — and subtracts it from every frame's magnitude
// spectrum before reconstruction. Output length always equals input length,
// so chunk boundary timing downstream is unaffected, and identical input
// always yields identical output.
package dsp

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/wbendinelli/xvoice/pkg/media"
)

const (
	// defaultFrameSize is the STFT frame length in samples: 32 ms at 16 kHz.
	defaultFrameSize = 512

	// defaultNoiseQuantile is the fraction of lowest-energy frames averaged
	// into the noise floor estimate when no leading window is configured.
	defaultNoiseQuantile = 0.1

	// defaultOverSubtraction scales the noise estimate before subtraction.
	// 1.0 subtracts exactly the estimated floor.
	defaultOverSubtraction = 1.0
)

// NoiseFilterOption is a functional option for configuring a NoiseFilter.
type NoiseFilterOption func(*NoiseFilter)

// WithFrameSize sets the STFT frame length in samples. Must be a power of
// two, at least 64. Defaults to 512.
func WithFrameSize(n int) NoiseFilterOption {
	return func(f *NoiseFilter) {
		f.frameSize = n
	}
}

// WithNoiseQuantile sets the fraction (0, 1] of lowest-energy frames used
// for the noise floor estimate. Defaults to 0.1.
func WithNoiseQuantile(q float64) NoiseFilterOption {
	return func(f *NoiseFilter) {
		f.quantile = q
	}
}

// WithOverSubtraction scales the noise estimate before it is subtracted.
// Values above 1 trade residual noise for speech distortion. Defaults to 1.0.
func WithOverSubtraction(alpha float64) NoiseFilterOption {
	return func(f *NoiseFilter) {
		f.alpha = alpha
	}
}

// WithSpectralFloor keeps each output bin at no less than the given fraction
// of its input magnitude instead of flooring subtracted bins at zero.
// Defaults to 0 (hard floor at zero).
func WithSpectralFloor(beta float64) NoiseFilterOption {
	return func(f *NoiseFilter) {
		f.beta = beta
	}
}

// WithLeadingNoiseWindow estimates the noise spectrum from the first d of the
// recording instead of the lowest-energy frames. Useful when recordings are
// known to start with room tone.
func WithLeadingNoiseWindow(d time.Duration) NoiseFilterOption {
	return func(f *NoiseFilter) {
		f.leading = d
	}
}

// NoiseFilter attenuates stationary background noise in a Waveform.
// It is stateless after construction and safe for concurrent use.
type NoiseFilter struct {
	frameSize int
	quantile  float64
	alpha     float64
	beta      float64
	leading   time.Duration
}

// NewNoiseFilter builds a NoiseFilter with options applied over the defaults.
func NewNoiseFilter(opts ...NoiseFilterOption) (*NoiseFilter, error) {
	f := &NoiseFilter{
		frameSize: defaultFrameSize,
		quantile:  defaultNoiseQuantile,
		alpha:     defaultOverSubtraction,
	}
	for _, o := range opts {
		o(f)
	}
	if !isPowerOfTwo(f.frameSize) || f.frameSize < 64 {
		return nil, fmt.Errorf("dsp: frame size must be a power of two >= 64, got %d", f.frameSize)
	}
	if f.quantile <= 0 || f.quantile > 1 {
		return nil, fmt.Errorf("dsp: noise quantile must be in (0, 1], got %v", f.quantile)
	}
	if f.alpha <= 0 {
		return nil, fmt.Errorf("dsp: over-subtraction factor must be positive, got %v", f.alpha)
	}
	if f.beta < 0 || f.beta >= 1 {
		return nil, fmt.Errorf("dsp: spectral floor must be in [0, 1), got %v", f.beta)
	}
	if f.leading < 0 {
		return nil, fmt.Errorf("dsp: leading noise window must not be negative, got %v", f.leading)
	}
	return f, nil
}

// Apply returns a denoised copy of w with identical length and sample rate.
// The input waveform is never modified. Input shorter than one analysis frame
// is returned as an unfiltered copy.
func (f *NoiseFilter) Apply(w *media.Waveform) *media.Waveform {
	out := &media.Waveform{
		Samples:    make([]float32, len(w.Samples)),
		SampleRate: w.SampleRate,
	}
	if len(w.Samples) < f.frameSize {
		copy(out.Samples, w.Samples)
		return out
	}

	hop := f.frameSize / 2
	numFrames := (len(w.Samples)-f.frameSize)/hop + 1
	// One extra frame so overlap-add covers the tail.
	if (numFrames-1)*hop+f.frameSize < len(w.Samples) {
		numFrames++
	}

	window := hannWindow(f.frameSize)

	// Analysis pass: windowed FFT per frame.
	spectra := make([][]complex128, numFrames)
	energies := make([]float64, numFrames)
	for fi := 0; fi < numFrames; fi++ {
		frame := make([]complex128, f.frameSize)
		base := fi * hop
		var energy float64
		for i := 0; i < f.frameSize; i++ {
			var s float64
			if base+i < len(w.Samples) {
				s = float64(w.Samples[base+i])
			}
			s *= window[i]
			frame[i] = complex(s, 0)
			energy += s * s
		}
		fft(frame)
		spectra[fi] = frame
		energies[fi] = energy
	}

	noise := f.noiseEstimate(spectra, energies, hop, w.SampleRate)

	// Subtraction pass: attenuate magnitudes, keep phase.
	for _, frame := range spectra {
		for k, c := range frame {
			mag := math.Hypot(real(c), imag(c))
			if mag == 0 {
				continue
			}
			sub := mag - f.alpha*noise[k]
			floor := f.beta * mag
			if sub < floor {
				sub = floor
			}
			scale := sub / mag
			frame[k] = complex(real(c)*scale, imag(c)*scale)
		}
	}

	// Synthesis pass: inverse FFT, overlap-add, per-sample window
	// compensation so a zero subtraction reconstructs the input exactly.
	acc := make([]float64, (numFrames-1)*hop+f.frameSize)
	wsum := make([]float64, len(acc))
	for fi, frame := range spectra {
		ifft(frame)
		base := fi * hop
		for i := 0; i < f.frameSize; i++ {
			acc[base+i] += real(frame[i]) * window[i]
			wsum[base+i] += window[i] * window[i]
		}
	}
	for i := range out.Samples {
		if wsum[i] > 1e-9 {
			out.Samples[i] = float32(acc[i] / wsum[i])
		} else {
			out.Samples[i] = w.Samples[i]
		}
	}
	return out
}

// noiseEstimate averages magnitude spectra into a per-bin noise floor, using
// the configured leading window when set and the quietest quantile of frames
// otherwise.
func (f *NoiseFilter) noiseEstimate(spectra [][]complex128, energies []float64, hop, rate int) []float64 {
	var picked []int
	if f.leading > 0 {
		limit := int(f.leading.Seconds() * float64(rate))
		for fi := range spectra {
			if fi*hop+f.frameSize <= limit {
				picked = append(picked, fi)
			}
		}
	}
	if len(picked) == 0 {
		order := make([]int, len(energies))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return energies[order[a]] < energies[order[b]]
		})
		count := int(float64(len(order)) * f.quantile)
		if count < 1 {
			count = 1
		}
		picked = order[:count]
	}

	noise := make([]float64, f.frameSize)
	for _, fi := range picked {
		for k, c := range spectra[fi] {
			noise[k] += math.Hypot(real(c), imag(c))
		}
	}
	for k := range noise {
		noise[k] /= float64(len(picked))
	}
	return noise
}

// hannWindow returns a periodic Hann window of length n.
func hannWindow(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n)))
	}
	return w
}
