package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-audio/wav"
	shellwords "github.com/mattn/go-shellwords"
)

const (
	// DefaultSampleRate is the canonical pipeline sample rate. 16 kHz is what
	// whisper-family models are trained on.
	DefaultSampleRate = 16000

	defaultFFmpegPath = "ffmpeg"

	// defaultPeakTarget is the amplitude the loudest sample is scaled to when
	// peak normalization is enabled.
	defaultPeakTarget = 0.95

	// maxNormalizeGain bounds the amplification applied by peak normalization
	// so near-silent recordings are not blown up into pure noise.
	maxNormalizeGain = 10.0
)

// Decode failure classification. Both abort the pipeline before any
// segmentation work starts.
var (
	// ErrUnsupportedFormat marks input whose container or codec could not be
	// decoded (including a missing ffmpeg binary for non-WAV input).
	ErrUnsupportedFormat = errors.New("media: unsupported format")

	// ErrCorruptMedia marks input that decoded to zero samples or whose
	// stream was truncated mid-decode.
	ErrCorruptMedia = errors.New("media: corrupt media")
)

// NormalizerOption is a functional option for configuring a Normalizer.
type NormalizerOption func(*Normalizer)

// WithTargetRate sets the output sample rate in Hz. Defaults to 16000.
func WithTargetRate(rate int) NormalizerOption {
	return func(n *Normalizer) {
		n.targetRate = rate
	}
}

// WithFFmpeg sets the path of the ffmpeg binary used for non-WAV input.
// Defaults to "ffmpeg" resolved via PATH.
func WithFFmpeg(path string) NormalizerOption {
	return func(n *Normalizer) {
		n.ffmpegPath = path
	}
}

// WithFFmpegArgs supplies extra arguments inserted before the input flag of
// every ffmpeg invocation, parsed shell-style ("-hwaccel auto -threads 2").
// A parse failure surfaces from NewNormalizer.
func WithFFmpegArgs(args string) NormalizerOption {
	return func(n *Normalizer) {
		n.rawArgs = args
	}
}

// WithPeakNormalization toggles scaling the decoded signal so its loudest
// sample hits a fixed target amplitude. Enabled by default.
func WithPeakNormalization(enabled bool) NormalizerOption {
	return func(n *Normalizer) {
		n.peakNormalize = enabled
	}
}

// Normalizer converts arbitrary input media into a canonical Waveform.
// It is stateless after construction and safe for concurrent use.
type Normalizer struct {
	targetRate    int
	ffmpegPath    string
	rawArgs       string
	extraArgs     []string
	peakNormalize bool
	peakTarget    float64
}

// NewNormalizer builds a Normalizer with the given options applied over the
// defaults (16 kHz, "ffmpeg" from PATH, peak normalization on).
func NewNormalizer(opts ...NormalizerOption) (*Normalizer, error) {
	n := &Normalizer{
		targetRate:    DefaultSampleRate,
		ffmpegPath:    defaultFFmpegPath,
		peakNormalize: true,
		peakTarget:    defaultPeakTarget,
	}
	for _, o := range opts {
		o(n)
	}
	if n.targetRate <= 0 {
		return nil, fmt.Errorf("media: target sample rate must be positive, got %d", n.targetRate)
	}
	if n.rawArgs != "" {
		args, err := shellwords.Parse(n.rawArgs)
		if err != nil {
			return nil, fmt.Errorf("media: parse ffmpeg args: %w", err)
		}
		n.extraArgs = args
	}
	return n, nil
}

// Normalize decodes the file at path into a mono Waveform at the target rate.
// WAV input is decoded in-process; anything else goes through ffmpeg. The
// returned error wraps ErrUnsupportedFormat or ErrCorruptMedia for
// classification with errors.Is.
func (n *Normalizer) Normalize(ctx context.Context, path string) (*Waveform, error) {
	var (
		samples []float32
		err     error
	)
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		samples, err = n.decodeWAV(path)
	} else {
		samples, err = n.decodeFFmpeg(ctx, path)
	}
	if err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: %s decoded to zero samples", ErrCorruptMedia, filepath.Base(path))
	}
	if n.peakNormalize {
		peakNormalize(samples, n.peakTarget)
	}
	return &Waveform{Samples: samples, SampleRate: n.targetRate}, nil
}

// decodeWAV reads a RIFF/WAV file, down-mixes to mono, and resamples to the
// target rate.
func (n *Normalizer) decodeWAV(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("media: open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s is not a decodable WAV file", ErrUnsupportedFormat, filepath.Base(path))
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrCorruptMedia, filepath.Base(path), err)
	}
	if buf == nil || buf.Format == nil || len(buf.Data) == 0 {
		return nil, fmt.Errorf("%w: %s contains no PCM data", ErrCorruptMedia, filepath.Base(path))
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth <= 0 {
		bitDepth = 16
	}
	mono := intToFloatMono(buf.Data, buf.Format.NumChannels, bitDepth)
	return resampleLinear(mono, buf.Format.SampleRate, n.targetRate), nil
}

// decodeFFmpeg shells out to ffmpeg, asking for raw 16-bit signed
// little-endian PCM, already mono and at the target rate, on stdout.
func (n *Normalizer) decodeFFmpeg(ctx context.Context, path string) ([]float32, error) {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	args = append(args, n.extraArgs...)
	args = append(args,
		"-i", path,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", strconv.Itoa(n.targetRate),
		"-",
	)

	cmd := exec.CommandContext(ctx, n.ffmpegPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("media: decode %s: %w", filepath.Base(path), ctx.Err())
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return nil, fmt.Errorf("%w: ffmpeg: %s", ErrUnsupportedFormat, detail)
	}
	return pcmToFloat32(stdout.Bytes()), nil
}
