package reassemble_test

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/wbendinelli/xvoice/internal/reassemble"
	"github.com/wbendinelli/xvoice/internal/schedule"
	"github.com/wbendinelli/xvoice/internal/segment"
	"github.com/wbendinelli/xvoice/pkg/recognize"
	"github.com/wbendinelli/xvoice/pkg/transcript"
)

func okResult(idx int, start, end time.Duration, segs ...recognize.Segment) schedule.ChunkResult {
	return schedule.ChunkResult{
		Chunk:    segment.Chunk{Index: idx, Start: start, End: end},
		Segments: segs,
		Attempts: 1,
	}
}

func failedResult(idx int, start, end time.Duration) schedule.ChunkResult {
	return schedule.ChunkResult{
		Chunk:    segment.Chunk{Index: idx, Start: start, End: end},
		Err:      &schedule.InferenceError{Index: idx, Attempts: 3, Err: errors.New("backend down")},
		Attempts: 3,
	}
}

// referenceResults models a 125s recording cut at 60s with a 5s guard:
// chunks [0,60], [55,120], [115,125]. Both cut points carry a segment heard
// by the two neighbouring chunks.
func referenceResults() []schedule.ChunkResult {
	return []schedule.ChunkResult{
		okResult(0, 0, 60*time.Second,
			recognize.Segment{Text: "welcome to the show", Start: 2 * time.Second, End: 5 * time.Second, Confidence: 0.9},
			recognize.Segment{Text: "let us move on", Start: 57 * time.Second, End: 59500 * time.Millisecond, Confidence: 0.8},
		),
		okResult(1, 55*time.Second, 120*time.Second,
			recognize.Segment{Text: "let's move on", Start: 2 * time.Second, End: 4500 * time.Millisecond, Confidence: 0.85},
			recognize.Segment{Text: "middle of the talk", Start: 30 * time.Second, End: 40 * time.Second, Confidence: 0.9},
			recognize.Segment{Text: "wrapping up now", Start: 58 * time.Second, End: 63800 * time.Millisecond, Confidence: 0.7},
		),
		okResult(2, 115*time.Second, 125*time.Second,
			recognize.Segment{Text: "wrapping up now", Start: 0, End: 3800 * time.Millisecond, Confidence: 0.88},
		),
	}
}

func TestReassembleReferenceCase(t *testing.T) {
	t.Parallel()

	r, err := reassemble.NewReassembler()
	if err != nil {
		t.Fatalf("NewReassembler returned error: %v", err)
	}

	tr, err := r.Reassemble(referenceResults())
	if err != nil {
		t.Fatalf("Reassemble returned error: %v", err)
	}

	want := []transcript.Segment{
		{Start: 2 * time.Second, End: 5 * time.Second, Text: "welcome to the show", Confidence: 0.9},
		{Start: 57 * time.Second, End: 59500 * time.Millisecond, Text: "let's move on", Confidence: 0.85},
		{Start: 85 * time.Second, End: 95 * time.Second, Text: "middle of the talk", Confidence: 0.9},
		{Start: 115 * time.Second, End: 118800 * time.Millisecond, Text: "wrapping up now", Confidence: 0.88},
	}
	if !reflect.DeepEqual(tr.Segments, want) {
		t.Errorf("Reassemble produced\n%+v\nwant\n%+v", tr.Segments, want)
	}
}

func TestReassembleBoundarySegmentAppearsOnce(t *testing.T) {
	t.Parallel()

	r, err := reassemble.NewReassembler()
	if err != nil {
		t.Fatalf("NewReassembler returned error: %v", err)
	}

	tr, err := r.Reassemble(referenceResults())
	if err != nil {
		t.Fatalf("Reassemble returned error: %v", err)
	}

	counts := map[string]int{}
	for _, s := range tr.Segments {
		counts[s.Text]++
	}
	if counts["wrapping up now"] != 1 {
		t.Errorf("boundary segment appears %d times, want exactly once", counts["wrapping up now"])
	}
	if counts["let us move on"] != 0 {
		t.Error("the earlier chunk's rendition of the cut segment survived, want the later chunk's")
	}
}

func TestReassembleTextEqualityDedup(t *testing.T) {
	t.Parallel()

	r, err := reassemble.NewReassembler()
	if err != nil {
		t.Fatalf("NewReassembler returned error: %v", err)
	}

	// The spans share only 0.4s of 2.2s, below the overlap threshold, but
	// the normalized texts are identical.
	results := []schedule.ChunkResult{
		okResult(0, 0, 60*time.Second,
			recognize.Segment{Text: "Hello, there!", Start: 57800 * time.Millisecond, End: 60 * time.Second},
		),
		okResult(1, 55*time.Second, 120*time.Second,
			recognize.Segment{Text: "hello there", Start: 200 * time.Millisecond, End: 3200 * time.Millisecond},
		),
	}

	tr, err := r.Reassemble(results)
	if err != nil {
		t.Fatalf("Reassemble returned error: %v", err)
	}
	if len(tr.Segments) != 1 {
		t.Fatalf("got %d segments, want 1: %+v", len(tr.Segments), tr.Segments)
	}
	if tr.Segments[0].Text != "hello there" {
		t.Errorf("kept %q, want the later chunk's %q", tr.Segments[0].Text, "hello there")
	}
	if tr.Segments[0].Start != 55200*time.Millisecond {
		t.Errorf("kept segment starts at %v, want 55.2s", tr.Segments[0].Start)
	}
}

func TestReassembleKeepsDistinctBoundarySegments(t *testing.T) {
	t.Parallel()

	r, err := reassemble.NewReassembler()
	if err != nil {
		t.Fatalf("NewReassembler returned error: %v", err)
	}

	// 0.5s intersection of a 2s segment stays below the threshold and the
	// texts share nothing, so both renditions are genuine speech.
	results := []schedule.ChunkResult{
		okResult(0, 0, 60*time.Second,
			recognize.Segment{Text: "the quick brown fox", Start: 57 * time.Second, End: 59 * time.Second},
		),
		okResult(1, 55*time.Second, 120*time.Second,
			recognize.Segment{Text: "a completely different sentence", Start: 3500 * time.Millisecond, End: 9 * time.Second},
		),
	}

	tr, err := r.Reassemble(results)
	if err != nil {
		t.Fatalf("Reassemble returned error: %v", err)
	}
	if len(tr.Segments) != 2 {
		t.Fatalf("got %d segments, want both boundary segments kept: %+v", len(tr.Segments), tr.Segments)
	}
	if tr.Segments[0].Text != "the quick brown fox" || tr.Segments[1].Text != "a completely different sentence" {
		t.Errorf("unexpected segments: %+v", tr.Segments)
	}
}

func TestReassembleGapForFailedChunk(t *testing.T) {
	t.Parallel()

	r, err := reassemble.NewReassembler()
	if err != nil {
		t.Fatalf("NewReassembler returned error: %v", err)
	}

	results := []schedule.ChunkResult{
		okResult(0, 0, 60*time.Second,
			recognize.Segment{Text: "before the outage", Start: 10 * time.Second, End: 20 * time.Second},
		),
		failedResult(1, 55*time.Second, 120*time.Second),
		okResult(2, 115*time.Second, 125*time.Second,
			recognize.Segment{Text: "after the outage", Start: 5 * time.Second, End: 9 * time.Second},
		),
	}

	tr, err := r.Reassemble(results)
	if err != nil {
		t.Fatalf("Reassemble returned error: %v", err)
	}

	gaps := tr.Gaps()
	if len(gaps) != 1 {
		t.Fatalf("got %d gaps, want 1: %+v", len(gaps), gaps)
	}
	if gaps[0].Start != 55*time.Second || gaps[0].End != 120*time.Second {
		t.Errorf("gap spans [%v, %v], want the failed chunk's range [55s, 2m0s]", gaps[0].Start, gaps[0].End)
	}

	var texts []string
	for _, s := range tr.Segments {
		if !s.Gap {
			texts = append(texts, s.Text)
		}
	}
	want := []string{"before the outage", "after the outage"}
	if !reflect.DeepEqual(texts, want) {
		t.Errorf("real segments = %v, want %v", texts, want)
	}
}

func TestReassembleOrdering(t *testing.T) {
	t.Parallel()

	r, err := reassemble.NewReassembler()
	if err != nil {
		t.Fatalf("NewReassembler returned error: %v", err)
	}

	results := referenceResults()
	results[1] = failedResult(1, 55*time.Second, 120*time.Second)

	tr, err := r.Reassemble(results)
	if err != nil {
		t.Fatalf("Reassemble returned error: %v", err)
	}

	for i := 1; i < len(tr.Segments); i++ {
		prev, cur := tr.Segments[i-1], tr.Segments[i]
		if cur.Start < prev.Start {
			t.Errorf("segment %d starts at %v before segment %d at %v", i, cur.Start, i-1, prev.Start)
		}
		if cur.Start == prev.Start && cur.End < prev.End {
			t.Errorf("segment %d ends at %v before equal-start segment %d at %v", i, cur.End, i-1, prev.End)
		}
	}
}

func TestReassembleIdempotent(t *testing.T) {
	t.Parallel()

	r, err := reassemble.NewReassembler()
	if err != nil {
		t.Fatalf("NewReassembler returned error: %v", err)
	}

	results := referenceResults()
	first, err := r.Reassemble(results)
	if err != nil {
		t.Fatalf("first Reassemble returned error: %v", err)
	}
	second, err := r.Reassemble(results)
	if err != nil {
		t.Fatalf("second Reassemble returned error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated Reassemble differs:\nfirst  %+v\nsecond %+v", first, second)
	}
}

func TestReassembleClampsOutOfRangeTimes(t *testing.T) {
	t.Parallel()

	r, err := reassemble.NewReassembler()
	if err != nil {
		t.Fatalf("NewReassembler returned error: %v", err)
	}

	// A 10s chunk whose backend reported spans past the window end: one
	// partially outside (clamped), one fully outside (dropped), one blank
	// (dropped).
	results := []schedule.ChunkResult{
		okResult(0, 115*time.Second, 125*time.Second,
			recognize.Segment{Text: "tail", Start: 8 * time.Second, End: 30 * time.Second},
			recognize.Segment{Text: "ghost", Start: 12 * time.Second, End: 15 * time.Second},
			recognize.Segment{Text: "   ", Start: time.Second, End: 2 * time.Second},
		),
	}

	tr, err := r.Reassemble(results)
	if err != nil {
		t.Fatalf("Reassemble returned error: %v", err)
	}
	if len(tr.Segments) != 1 {
		t.Fatalf("got %d segments, want 1: %+v", len(tr.Segments), tr.Segments)
	}
	got := tr.Segments[0]
	if got.Text != "tail" || got.Start != 123*time.Second || got.End != 125*time.Second {
		t.Errorf("segment = %+v, want tail clamped to [123s, 125s]", got)
	}
}

func TestReassembleMisalignedResults(t *testing.T) {
	t.Parallel()

	r, err := reassemble.NewReassembler()
	if err != nil {
		t.Fatalf("NewReassembler returned error: %v", err)
	}

	results := []schedule.ChunkResult{okResult(1, 0, 60*time.Second)}
	if _, err := r.Reassemble(results); err == nil {
		t.Fatal("Reassemble accepted misaligned results, want error")
	}
}

func TestReassembleEmpty(t *testing.T) {
	t.Parallel()

	r, err := reassemble.NewReassembler()
	if err != nil {
		t.Fatalf("NewReassembler returned error: %v", err)
	}

	tr, err := r.Reassemble(nil)
	if err != nil {
		t.Fatalf("Reassemble returned error: %v", err)
	}
	if tr.Segments == nil || len(tr.Segments) != 0 {
		t.Errorf("Segments = %#v, want an empty non-nil slice", tr.Segments)
	}
}

func TestNewReassemblerValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		opts []reassemble.Option
	}{
		{"zero overlap fraction", []reassemble.Option{reassemble.WithOverlapFraction(0)}},
		{"overlap fraction above one", []reassemble.Option{reassemble.WithOverlapFraction(1.5)}},
		{"zero text similarity", []reassemble.Option{reassemble.WithTextSimilarity(0)}},
		{"text similarity above one", []reassemble.Option{reassemble.WithTextSimilarity(1.01)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := reassemble.NewReassembler(tc.opts...); err == nil {
				t.Fatalf("NewReassembler accepted %s, want error", tc.name)
			}
		})
	}
}
