// Package reassemble merges per-chunk recognition results back into one
// transcript on the source media's timeline.
//
// Chunk results arrive with chunk-local timestamps and, because consecutive
// chunks overlap by the segmenter's guard interval, the words near a cut
// usually appear in both neighbours. The Reassembler rebases every segment
// to absolute time, drops the earlier chunk's rendition of each duplicated
// boundary segment (the later chunk heard it with fuller left context),
// replaces failed chunks with explicit gap markers, and returns a transcript
// ordered by start time.
package reassemble

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/antzucaro/matchr"

	"github.com/wbendinelli/xvoice/internal/schedule"
	"github.com/wbendinelli/xvoice/pkg/transcript"
)

const (
	// DefaultOverlapFraction marks two boundary segments as duplicates when
	// their time ranges share at least this fraction of the shorter one.
	DefaultOverlapFraction = 0.5

	// DefaultTextSimilarity marks two intersecting boundary segments as
	// duplicates when their normalized texts reach this Jaro-Winkler score.
	DefaultTextSimilarity = 0.9
)

// Option is a functional option for configuring a Reassembler.
type Option func(*Reassembler)

// WithOverlapFraction overrides the time-intersection duplicate threshold.
// Must be in (0, 1].
func WithOverlapFraction(f float64) Option {
	return func(r *Reassembler) {
		r.overlapFraction = f
	}
}

// WithTextSimilarity overrides the Jaro-Winkler duplicate threshold.
// Must be in (0, 1].
func WithTextSimilarity(s float64) Option {
	return func(r *Reassembler) {
		r.textSimilarity = s
	}
}

// Reassembler merges chunk results into a transcript. It is immutable after
// construction and safe for concurrent use.
type Reassembler struct {
	overlapFraction float64
	textSimilarity  float64
}

// NewReassembler creates a Reassembler. It returns an error if an option
// carries an out-of-range threshold.
func NewReassembler(opts ...Option) (*Reassembler, error) {
	r := &Reassembler{
		overlapFraction: DefaultOverlapFraction,
		textSimilarity:  DefaultTextSimilarity,
	}
	for _, o := range opts {
		o(r)
	}

	var errs []error
	if r.overlapFraction <= 0 || r.overlapFraction > 1 {
		errs = append(errs, fmt.Errorf("overlap fraction must be in (0, 1], got %g", r.overlapFraction))
	}
	if r.textSimilarity <= 0 || r.textSimilarity > 1 {
		errs = append(errs, fmt.Errorf("text similarity must be in (0, 1], got %g", r.textSimilarity))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("reassemble: invalid configuration: %w", errors.Join(errs...))
	}
	return r, nil
}

// chunkSegments holds one chunk's rebased segments during merging.
type chunkSegments struct {
	result schedule.ChunkResult
	segs   []transcript.Segment
}

// Reassemble merges the scheduler's results into a single transcript. The
// results must be index-aligned, exactly as Run returned them. The returned
// transcript carries no metadata; callers attach it.
//
// Failed chunks become gap segments spanning the chunk's absolute time
// range, so the output always covers the full source duration.
func (r *Reassembler) Reassemble(results []schedule.ChunkResult) (*transcript.Transcript, error) {
	lists := make([]chunkSegments, 0, len(results))
	for i, res := range results {
		if res.Chunk.Index != i {
			return nil, fmt.Errorf("reassemble: result %d carries chunk index %d, results must be index-aligned", i, res.Chunk.Index)
		}
		lists = append(lists, chunkSegments{result: res, segs: rebase(res)})
	}

	// Resolve duplicated boundary segments between each adjacent pair.
	for i := 0; i+1 < len(lists); i++ {
		prev, next := &lists[i], &lists[i+1]
		if prev.result.Err != nil || next.result.Err != nil {
			continue
		}
		prev.segs = r.dropTailDuplicates(prev.segs, next.segs,
			next.result.Chunk.Start, prev.result.Chunk.End)
	}

	var merged []transcript.Segment
	for _, cs := range lists {
		if cs.result.Err != nil {
			merged = append(merged, transcript.Segment{
				Start: cs.result.Chunk.Start,
				End:   cs.result.Chunk.End,
				Gap:   true,
			})
			continue
		}
		merged = append(merged, cs.segs...)
	}

	sort.SliceStable(merged, func(a, b int) bool {
		if merged[a].Start != merged[b].Start {
			return merged[a].Start < merged[b].Start
		}
		return merged[a].End < merged[b].End
	})

	if merged == nil {
		merged = []transcript.Segment{}
	}
	return &transcript.Transcript{Segments: merged}, nil
}

// rebase shifts a chunk's segments onto the source timeline, clamping each
// span to the chunk bounds. whisper.cpp pads short windows to its internal
// frame length and occasionally reports timestamps past the real audio end,
// so out-of-range spans are cut rather than trusted.
func rebase(res schedule.ChunkResult) []transcript.Segment {
	if res.Err != nil {
		return nil
	}
	chunkDur := res.Chunk.End - res.Chunk.Start

	segs := make([]transcript.Segment, 0, len(res.Segments))
	for _, s := range res.Segments {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		start := clampDuration(s.Start, 0, chunkDur)
		end := clampDuration(s.End, start, chunkDur)
		if end <= start {
			continue
		}
		segs = append(segs, transcript.Segment{
			Start:      res.Chunk.Start + start,
			End:        res.Chunk.Start + end,
			Text:       s.Text,
			Confidence: s.Confidence,
		})
	}

	sort.SliceStable(segs, func(a, b int) bool {
		if segs[a].Start != segs[b].Start {
			return segs[a].Start < segs[b].Start
		}
		return segs[a].End < segs[b].End
	})
	return segs
}

// dropTailDuplicates removes from prev every segment that duplicates one of
// next's segments inside the overlap window [overlapStart, overlapEnd].
// The later chunk's rendition survives.
func (r *Reassembler) dropTailDuplicates(prev, next []transcript.Segment, overlapStart, overlapEnd time.Duration) []transcript.Segment {
	if overlapEnd <= overlapStart || len(prev) == 0 || len(next) == 0 {
		return prev
	}

	kept := prev[:0]
	for _, a := range prev {
		if a.End <= overlapStart {
			kept = append(kept, a)
			continue
		}
		dup := false
		for _, b := range next {
			if b.Start >= overlapEnd {
				break
			}
			if r.duplicates(a, b) {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, a)
		}
	}
	return kept
}

// duplicates reports whether two rebased segments describe the same speech:
// either their spans share most of the shorter segment, or their texts match
// while the spans intersect at all.
func (r *Reassembler) duplicates(a, b transcript.Segment) bool {
	inter := intersection(a, b)
	if inter <= 0 {
		return false
	}
	shorter := a.Duration()
	if d := b.Duration(); d < shorter {
		shorter = d
	}
	if shorter > 0 && float64(inter) >= r.overlapFraction*float64(shorter) {
		return true
	}
	return r.textSimilar(a.Text, b.Text)
}

// intersection returns the length of the time range shared by two segments.
func intersection(a, b transcript.Segment) time.Duration {
	start := a.Start
	if b.Start > start {
		start = b.Start
	}
	end := a.End
	if b.End < end {
		end = b.End
	}
	return end - start
}

// textSimilar compares two texts after normalization: equal strings match,
// as do strings whose Jaro-Winkler score reaches the configured threshold.
func (r *Reassembler) textSimilar(a, b string) bool {
	na, nb := normalizeText(a), normalizeText(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}
	return matchr.JaroWinkler(na, nb, false) >= r.textSimilarity
}

// normalizeText lowercases, strips punctuation, and collapses whitespace so
// "Hello,  there!" and "hello there" compare equal.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			pendingSpace = true
		}
	}
	return b.String()
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
