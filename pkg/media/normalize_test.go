package media_test

import (
	"bytes"
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/wbendinelli/xvoice/pkg/media"
)

// writeTestWAV writes an interleaved 16-bit PCM WAV file and returns its path.
func writeTestWAV(t *testing.T, name string, data []int, rate, channels int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	if len(data) > 0 {
		buf := &audio.IntBuffer{
			Format: &audio.Format{NumChannels: channels, SampleRate: rate},
			Data:   data,
		}
		if err := enc.Write(buf); err != nil {
			t.Fatalf("write wav: %v", err)
		}
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav encoder: %v", err)
	}
	return path
}

// sineInt16 produces frames of a sine wave at the given amplitude (0–32767),
// duplicated across channels.
func sineInt16(frames, channels int, freq float64, rate int, amplitude float64) []int {
	data := make([]int, frames*channels)
	for i := 0; i < frames; i++ {
		v := int(amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
		for ch := 0; ch < channels; ch++ {
			data[i*channels+ch] = v
		}
	}
	return data
}

func TestNormalizeWAVStereoResample(t *testing.T) {
	t.Parallel()

	const srcRate = 44100
	path := writeTestWAV(t, "stereo.wav", sineInt16(srcRate, 2, 440, srcRate, 16000), srcRate, 2)

	n, err := media.NewNormalizer()
	if err != nil {
		t.Fatalf("NewNormalizer: %v", err)
	}
	w, err := n.Normalize(context.Background(), path)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}

	if w.SampleRate != media.DefaultSampleRate {
		t.Errorf("SampleRate=%d, want %d", w.SampleRate, media.DefaultSampleRate)
	}
	// One second of source audio must stay one second after resampling.
	if got, want := w.Duration(), time.Second; got < want-2*time.Millisecond || got > want+2*time.Millisecond {
		t.Errorf("Duration=%v, want ~%v", got, want)
	}
	for i, s := range w.Samples {
		if s < -1.0 || s > 1.0 {
			t.Fatalf("sample %d = %v outside [-1, 1]", i, s)
		}
	}
}

func TestNormalizePeak(t *testing.T) {
	t.Parallel()

	// Quiet 16 kHz mono signal: peak amplitude 0.25 of full scale. No
	// resampling happens, so the peak is easy to assert.
	path := writeTestWAV(t, "quiet.wav", sineInt16(16000, 1, 440, 16000, 8192), 16000, 1)

	n, err := media.NewNormalizer()
	if err != nil {
		t.Fatalf("NewNormalizer: %v", err)
	}
	w, err := n.Normalize(context.Background(), path)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if peak := maxAbs(w.Samples); peak < 0.90 || peak > 1.0 {
		t.Errorf("normalized peak=%v, want ~0.95", peak)
	}

	off, err := media.NewNormalizer(media.WithPeakNormalization(false))
	if err != nil {
		t.Fatalf("NewNormalizer: %v", err)
	}
	w, err = off.Normalize(context.Background(), path)
	if err != nil {
		t.Fatalf("Normalize returned error: %v", err)
	}
	if peak := maxAbs(w.Samples); peak > 0.3 {
		t.Errorf("peak=%v with normalization off, want ~0.25", peak)
	}
}

func maxAbs(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		if a := math.Abs(float64(s)); a > peak {
			peak = a
		}
	}
	return peak
}

func TestNormalizeEmptyWAV(t *testing.T) {
	t.Parallel()

	path := writeTestWAV(t, "empty.wav", nil, 16000, 1)

	n, err := media.NewNormalizer()
	if err != nil {
		t.Fatalf("NewNormalizer: %v", err)
	}
	_, err = n.Normalize(context.Background(), path)
	if !errors.Is(err, media.ErrCorruptMedia) {
		t.Errorf("err=%v, want ErrCorruptMedia", err)
	}
}

func TestNormalizeGarbageWAV(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "garbage.wav")
	if err := os.WriteFile(path, []byte("this is not a riff container"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	n, err := media.NewNormalizer()
	if err != nil {
		t.Fatalf("NewNormalizer: %v", err)
	}
	_, err = n.Normalize(context.Background(), path)
	if !errors.Is(err, media.ErrUnsupportedFormat) {
		t.Errorf("err=%v, want ErrUnsupportedFormat", err)
	}
}

func TestNormalizeMissingFFmpeg(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "clip.mkv")
	if err := os.WriteFile(path, []byte("fake container"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	n, err := media.NewNormalizer(media.WithFFmpeg(filepath.Join(t.TempDir(), "no-such-ffmpeg")))
	if err != nil {
		t.Fatalf("NewNormalizer: %v", err)
	}
	_, err = n.Normalize(context.Background(), path)
	if !errors.Is(err, media.ErrUnsupportedFormat) {
		t.Errorf("err=%v, want ErrUnsupportedFormat", err)
	}
}

func TestNewNormalizerValidation(t *testing.T) {
	t.Parallel()

	if _, err := media.NewNormalizer(media.WithTargetRate(0)); err == nil {
		t.Error("NewNormalizer accepted zero sample rate")
	}
	if _, err := media.NewNormalizer(media.WithFFmpegArgs(`-threads "2`)); err == nil {
		t.Error("NewNormalizer accepted unbalanced ffmpeg args")
	}
}

func TestEncodeWAVRoundTrip(t *testing.T) {
	t.Parallel()

	in := []float32{0, 0.5, -0.5, 1.0, -1.0, 0.25}
	encoded := media.EncodeWAV(in, 16000)

	dec := wav.NewDecoder(bytes.NewReader(encoded))
	if !dec.IsValidFile() {
		t.Fatal("EncodeWAV output is not a valid WAV file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if buf.Format.SampleRate != 16000 || buf.Format.NumChannels != 1 {
		t.Errorf("format=%d Hz/%d ch, want 16000 Hz/1 ch", buf.Format.SampleRate, buf.Format.NumChannels)
	}
	if len(buf.Data) != len(in) {
		t.Fatalf("decoded %d samples, want %d", len(buf.Data), len(in))
	}
	for i, want := range in {
		got := float32(buf.Data[i]) / 32767.0
		if math.Abs(float64(got-want)) > 0.001 {
			t.Errorf("sample %d = %v, want ~%v", i, got, want)
		}
	}
}

func TestWaveformSliceAndIndex(t *testing.T) {
	t.Parallel()

	w := &media.Waveform{Samples: make([]float32, 16000), SampleRate: 16000}

	if got := w.Duration(); got != time.Second {
		t.Errorf("Duration=%v, want 1s", got)
	}
	if got := w.Index(-time.Second); got != 0 {
		t.Errorf("Index(-1s)=%d, want 0", got)
	}
	if got := w.Index(2 * time.Second); got != 16000 {
		t.Errorf("Index(2s)=%d, want clamp to 16000", got)
	}
	if got := len(w.Slice(250*time.Millisecond, 750*time.Millisecond)); got != 8000 {
		t.Errorf("Slice(0.25s, 0.75s) length=%d, want 8000", got)
	}
	if got := len(w.Slice(time.Second, 500*time.Millisecond)); got != 0 {
		t.Errorf("inverted slice length=%d, want 0", got)
	}
}
