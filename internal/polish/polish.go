// Package polish applies staged cleanup to a reassembled transcript.
//
// Stages run in a fixed order, each seeing the previous stage's output:
//
//  1. rules — deterministic text normalization (whitespace, punctuation
//     spacing, sentence capitalization). Enabled by default.
//  2. glossary — phonetic alignment of misrecognized words against a
//     user-supplied vocabulary. Active when a [phonetic.Matcher] is
//     attached.
//  3. llm — model-assisted review of low-confidence segments. Active when
//     an [LLMCorrector] is attached.
//
// Polish never changes segment timestamps and never touches gap markers;
// only the text of spoken segments is rewritten. The rules and glossary
// stages are deterministic and idempotent; the llm stage is neither, which
// is why it defaults to off.
package polish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/wbendinelli/xvoice/internal/polish/phonetic"
	"github.com/wbendinelli/xvoice/pkg/transcript"
)

// DefaultLLMConfidenceFloor is the segment confidence below which the llm
// stage submits a segment for review.
const DefaultLLMConfidenceFloor = 0.5

// Stage identifies which polish stage produced a correction.
type Stage string

// Stages in application order.
const (
	StageRules    Stage = "rules"
	StageGlossary Stage = "glossary"
	StageLLM      Stage = "llm"
)

// Correction records one segment text change made by a polish stage.
type Correction struct {
	// SegmentIndex locates the changed segment in the polished transcript.
	SegmentIndex int

	// Stage names the stage that made the change.
	Stage Stage

	// Original and Corrected hold the segment text before and after the
	// change.
	Original  string
	Corrected string
}

// Span is a single segment text submitted for LLM review.
type Span struct {
	// ID keys the span in the corrector's result. The polish pipeline uses
	// the segment index.
	ID int

	// Text is the segment text to review.
	Text string

	// Context carries the neighbouring segment texts so the model sees the
	// span in its spoken context.
	Context string
}

// LLMCorrector reviews low-confidence spans and returns verified replacement
// texts keyed by span ID. Spans the model left unchanged, or whose proposals
// failed verification, are absent from the result. Implemented by the
// llmpolish package.
type LLMCorrector interface {
	CorrectSegments(ctx context.Context, spans []Span) (map[int]string, error)
}

// Option is a functional option for configuring a [Polisher].
type Option func(*Polisher)

// WithRules enables or disables the deterministic rules stage. Enabled by
// default.
func WithRules(enabled bool) Option {
	return func(p *Polisher) {
		p.rules = enabled
	}
}

// WithGlossary attaches a glossary matcher as the second stage. When nil
// (the default), the glossary stage is skipped entirely.
func WithGlossary(m *phonetic.Matcher) Option {
	return func(p *Polisher) {
		p.glossary = m
	}
}

// WithLLMCorrector attaches an [LLMCorrector] as the final stage. When nil
// (the default), the llm stage is skipped entirely.
func WithLLMCorrector(c LLMCorrector) Option {
	return func(p *Polisher) {
		p.corrector = c
	}
}

// WithLLMConfidenceFloor sets the segment confidence below which a segment
// is submitted for LLM review. Segments whose recognizer reported no
// confidence at all (zero) are always submitted. Default: 0.5.
func WithLLMConfidenceFloor(floor float64) Option {
	return func(p *Polisher) {
		p.llmFloor = floor
	}
}

// Polisher applies the configured stages to transcripts. It is read-only
// after construction and safe for concurrent use.
type Polisher struct {
	rules     bool
	glossary  *phonetic.Matcher
	corrector LLMCorrector
	llmFloor  float64
}

// New returns a Polisher with the supplied options applied.
func New(opts ...Option) (*Polisher, error) {
	p := &Polisher{
		rules:    true,
		llmFloor: DefaultLLMConfidenceFloor,
	}
	for _, o := range opts {
		o(p)
	}
	if p.llmFloor < 0 || p.llmFloor > 1 {
		return nil, fmt.Errorf("polish: invalid configuration: llm confidence floor must be in [0, 1], got %g", p.llmFloor)
	}
	return p, nil
}

// Polish returns a polished copy of t together with the corrections that
// were applied. The input transcript is never modified.
//
// A failing LLM provider degrades to the unpolished text with a warning.
// Polish returns an error only for a nil transcript or when the llm stage
// is interrupted by context cancellation.
func (p *Polisher) Polish(ctx context.Context, t *transcript.Transcript) (*transcript.Transcript, []Correction, error) {
	if t == nil {
		return nil, nil, errors.New("polish: nil transcript")
	}

	out := t.Clone()
	var corrections []Correction

	if p.rules {
		corrections = append(corrections, applyRulesStage(out.Segments)...)
	}
	if p.glossary != nil && p.glossary.Len() > 0 {
		corrections = append(corrections, p.applyGlossaryStage(out.Segments)...)
	}
	if p.corrector != nil {
		llmCorrections, err := p.applyLLMStage(ctx, out.Segments)
		if err != nil {
			return out, corrections, err
		}
		corrections = append(corrections, llmCorrections...)
	}

	if len(corrections) > 0 {
		slog.Debug("transcript polished", "corrections", len(corrections))
	}
	return out, corrections, nil
}

// ---- rules stage ----

// applyRulesStage rewrites each spoken segment with the deterministic
// cleanup rules.
func applyRulesStage(segs []transcript.Segment) []Correction {
	var corrections []Correction
	for i, s := range segs {
		if s.Gap || s.Text == "" {
			continue
		}
		cleaned := applyRules(s.Text)
		if cleaned == s.Text {
			continue
		}
		corrections = append(corrections, Correction{
			SegmentIndex: i,
			Stage:        StageRules,
			Original:     s.Text,
			Corrected:    cleaned,
		})
		segs[i].Text = cleaned
	}
	return corrections
}

// ---- glossary stage ----

// applyGlossaryStage aligns segment tokens with the glossary.
func (p *Polisher) applyGlossaryStage(segs []transcript.Segment) []Correction {
	var corrections []Correction
	for i, s := range segs {
		if s.Gap || s.Text == "" {
			continue
		}
		corrected, changed := correctTokens(p.glossary, s.Text)
		if !changed {
			continue
		}
		corrections = append(corrections, Correction{
			SegmentIndex: i,
			Stage:        StageGlossary,
			Original:     s.Text,
			Corrected:    corrected,
		})
		segs[i].Text = corrected
	}
	return corrections
}

// correctTokens matches token windows against the glossary, longest window
// first, so multi-word terms win over their parts. Windows are compared
// with their punctuation shell stripped; the shell is restored around the
// replacement.
func correctTokens(m *phonetic.Matcher, text string) (string, bool) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, false
	}

	var out []string
	changed := false

	i := 0
	for i < len(tokens) {
		// Clamp window size to remaining tokens.
		maxN := m.MaxWords()
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			lead, core, trail := splitShell(window)
			if core == "" {
				continue
			}
			term, _, ok := m.Match(core)
			if !ok {
				continue
			}

			replacement := lead + term + trail
			out = append(out, replacement)
			if replacement != window {
				changed = true
			}
			i += n
			matched = true
			break
		}

		if !matched {
			out = append(out, tokens[i])
			i++
		}
	}

	if !changed {
		return text, false
	}
	return strings.Join(out, " "), true
}

// splitShell splits a token span into leading punctuation, the word core,
// and trailing punctuation. Inner punctuation stays in the core, so windows
// crossing a clause boundary score poorly and are left alone.
func splitShell(s string) (lead, core, trail string) {
	start := 0
	for start < len(s) {
		r, size := utf8.DecodeRuneInString(s[start:])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			break
		}
		start += size
	}
	end := len(s)
	for end > start {
		r, size := utf8.DecodeLastRuneInString(s[start:end])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			break
		}
		end -= size
	}
	return s[:start], s[start:end], s[end:]
}

// ---- llm stage ----

// applyLLMStage submits low-confidence spoken segments for LLM review and
// applies the verified corrections.
func (p *Polisher) applyLLMStage(ctx context.Context, segs []transcript.Segment) ([]Correction, error) {
	var spans []Span
	for i, s := range segs {
		if s.Gap || s.Text == "" {
			continue
		}
		// A zero confidence means the recognizer reported none; those
		// segments are always candidates for review.
		if s.Confidence != 0 && s.Confidence >= p.llmFloor {
			continue
		}
		spans = append(spans, Span{ID: i, Text: s.Text, Context: segmentContext(segs, i)})
	}
	if len(spans) == 0 {
		return nil, nil
	}

	fixes, err := p.corrector.CorrectSegments(ctx, spans)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("polish: llm stage: %w", err)
		}
		slog.Warn("llm polish failed, keeping recognized text", "error", err)
		return nil, nil
	}

	var corrections []Correction
	for _, sp := range spans {
		fixed, ok := fixes[sp.ID]
		if !ok || fixed == sp.Text {
			continue
		}
		corrections = append(corrections, Correction{
			SegmentIndex: sp.ID,
			Stage:        StageLLM,
			Original:     sp.Text,
			Corrected:    fixed,
		})
		segs[sp.ID].Text = fixed
	}
	return corrections, nil
}

// segmentContext joins the neighbouring spoken segment texts.
func segmentContext(segs []transcript.Segment, i int) string {
	var parts []string
	if i > 0 && !segs[i-1].Gap && segs[i-1].Text != "" {
		parts = append(parts, segs[i-1].Text)
	}
	if i+1 < len(segs) && !segs[i+1].Gap && segs[i+1].Text != "" {
		parts = append(parts, segs[i+1].Text)
	}
	return strings.Join(parts, " ")
}
