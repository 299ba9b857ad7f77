package segment_test

import (
	"errors"
	"testing"
	"time"

	"github.com/wbendinelli/xvoice/internal/segment"
	"github.com/wbendinelli/xvoice/pkg/media"
)

const rate = 16000

func waveformOf(d time.Duration) *media.Waveform {
	n := int(d.Seconds() * rate)
	return &media.Waveform{Samples: make([]float32, n), SampleRate: rate}
}

func TestSplitReferenceCase(t *testing.T) {
	t.Parallel()

	s, err := segment.NewSegmenter(
		segment.WithChunkDuration(60*time.Second),
		segment.WithOverlap(5*time.Second),
	)
	if err != nil {
		t.Fatalf("NewSegmenter: %v", err)
	}

	chunks := s.Split(waveformOf(125 * time.Second))

	want := []struct{ start, end time.Duration }{
		{0, 60 * time.Second},
		{55 * time.Second, 120 * time.Second},
		{115 * time.Second, 125 * time.Second},
	}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(chunks), len(want))
	}
	for i, w := range want {
		if chunks[i].Start != w.start || chunks[i].End != w.end {
			t.Errorf("chunk[%d]=[%v,%v], want [%v,%v]", i, chunks[i].Start, chunks[i].End, w.start, w.end)
		}
		if chunks[i].Index != i {
			t.Errorf("chunk[%d].Index=%d", i, chunks[i].Index)
		}
	}
}

func TestSplitCoverageAndOverlap(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		duration time.Duration
		d, g     time.Duration
	}{
		{"short single chunk", 30 * time.Second, 60 * time.Second, 5 * time.Second},
		{"exact multiple", 120 * time.Second, 60 * time.Second, 5 * time.Second},
		{"zero overlap", 125 * time.Second, 60 * time.Second, 0},
		{"many small chunks", 95 * time.Second, 10 * time.Second, 2 * time.Second},
		{"large overlap", 100 * time.Second, 30 * time.Second, 20 * time.Second},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s, err := segment.NewSegmenter(
				segment.WithChunkDuration(tc.d),
				segment.WithOverlap(tc.g),
			)
			if err != nil {
				t.Fatalf("NewSegmenter: %v", err)
			}
			chunks := s.Split(waveformOf(tc.duration))
			if len(chunks) == 0 {
				t.Fatal("no chunks produced")
			}

			if chunks[0].Start != 0 {
				t.Errorf("first chunk starts at %v, want 0", chunks[0].Start)
			}
			if last := chunks[len(chunks)-1]; last.End != tc.duration {
				t.Errorf("last chunk ends at %v, want %v", last.End, tc.duration)
			}
			for i := 1; i < len(chunks); i++ {
				overlap := chunks[i-1].End - chunks[i].Start
				if overlap != tc.g {
					t.Errorf("chunks %d/%d overlap by %v, want %v", i-1, i, overlap, tc.g)
				}
			}
			for i, c := range chunks {
				if c.Start >= c.End {
					t.Errorf("chunk[%d] has non-positive span [%v,%v]", i, c.Start, c.End)
				}
				if c.Duration() > tc.d+tc.g+segment.DefaultMinChunk {
					t.Errorf("chunk[%d] length %v exceeds D+g+floor", i, c.Duration())
				}
			}
		})
	}
}

func TestSplitMergesTrailingRemainder(t *testing.T) {
	t.Parallel()

	s, err := segment.NewSegmenter(
		segment.WithChunkDuration(60*time.Second),
		segment.WithOverlap(5*time.Second),
		segment.WithMinChunk(500*time.Millisecond),
	)
	if err != nil {
		t.Fatalf("NewSegmenter: %v", err)
	}

	// 120.3s leaves a 300ms remainder after two full chunks; it must be
	// absorbed by the second chunk instead of becoming its own.
	duration := 120*time.Second + 300*time.Millisecond
	chunks := s.Split(waveformOf(duration))

	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[1].End != duration {
		t.Errorf("merged chunk ends at %v, want %v", chunks[1].End, duration)
	}
	if chunks[1].Start != 55*time.Second {
		t.Errorf("merged chunk starts at %v, want 55s", chunks[1].Start)
	}
}

func TestSplitWaveformShorterThanFloor(t *testing.T) {
	t.Parallel()

	s, err := segment.NewSegmenter()
	if err != nil {
		t.Fatalf("NewSegmenter: %v", err)
	}
	chunks := s.Split(waveformOf(200 * time.Millisecond))
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Start != 0 || chunks[0].End != 200*time.Millisecond {
		t.Errorf("chunk=[%v,%v], want [0,200ms]", chunks[0].Start, chunks[0].End)
	}
}

func TestSplitEmptyWaveform(t *testing.T) {
	t.Parallel()

	s, err := segment.NewSegmenter()
	if err != nil {
		t.Fatalf("NewSegmenter: %v", err)
	}
	if chunks := s.Split(&media.Waveform{SampleRate: rate}); chunks != nil {
		t.Errorf("got %d chunks for empty waveform, want none", len(chunks))
	}
}

func TestNewSegmenterValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		opts []segment.Option
	}{
		{"zero duration", []segment.Option{segment.WithChunkDuration(0)}},
		{"negative duration", []segment.Option{segment.WithChunkDuration(-time.Second)}},
		{"negative overlap", []segment.Option{segment.WithOverlap(-time.Second)}},
		{"overlap equals duration", []segment.Option{
			segment.WithChunkDuration(time.Minute), segment.WithOverlap(time.Minute),
		}},
		{"overlap exceeds duration", []segment.Option{
			segment.WithChunkDuration(time.Minute), segment.WithOverlap(2 * time.Minute),
		}},
		{"negative floor", []segment.Option{segment.WithMinChunk(-time.Second)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := segment.NewSegmenter(tc.opts...)
			if !errors.Is(err, segment.ErrInvalidConfig) {
				t.Errorf("err=%v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestChunkSamples(t *testing.T) {
	t.Parallel()

	w := waveformOf(10 * time.Second)
	c := segment.Chunk{Index: 0, Start: 2 * time.Second, End: 3 * time.Second, Source: w}

	if got := len(c.Samples()); got != rate {
		t.Errorf("chunk sample count=%d, want %d", got, rate)
	}
	if got := c.Duration(); got != time.Second {
		t.Errorf("chunk duration=%v, want 1s", got)
	}
}
