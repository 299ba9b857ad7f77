// Package llmpolish implements the language-model review stage of transcript
// polish.
//
// The [Corrector] batches low-confidence segments into completion requests.
// The model is instructed (via a conservative system prompt) to fix only
// clear recognition errors and to answer with a structured JSON list of
// corrections keyed by span ID. Every proposal is verified before it is
// accepted: the corrected text must stay similar to the original and within
// a bounded length drift, otherwise the segment keeps its recognized text.
//
// When the model response cannot be parsed, the corrector returns no
// corrections rather than surfacing an error, ensuring pipeline robustness.
package llmpolish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wbendinelli/xvoice/internal/polish"
	llm "github.com/wbendinelli/xvoice/pkg/provider/llm"
)

const (
	defaultTemperature     = 0.1
	defaultSimilarityFloor = 0.6
	defaultMaxLengthRatio  = 2.0

	// maxSpansPerRequest bounds the request size; longer transcripts are
	// reviewed in several round trips.
	maxSpansPerRequest = 24
)

// systemPrompt instructs the model to act as a conservative transcript
// reviewer and to answer in strict JSON.
const systemPrompt = `You are a transcript correction assistant reviewing automatic speech recognition output.

Your task: fix clear recognition errors in the numbered spans below.

Rules:
- ONLY fix words that are clearly misrecognized: wrong homophones, garbled words, nonsense phrases.
- Do NOT rephrase, summarise, translate, or change the meaning of a span.
- Do NOT change spans that already read correctly; leave them out of your answer.
- Keep each corrected span close to the original wording and length.
- Use the context only to understand the speech; never merge spans.

Respond with ONLY a JSON object in this exact format (no markdown, no prose):
{
  "corrections": [
    {"id": <span id>, "text": "<corrected span text>"}
  ]
}

If no spans need fixing, return an empty corrections array.`

// requestSpan is the wire shape of one span in the user message.
type requestSpan struct {
	ID      int    `json:"id"`
	Text    string `json:"text"`
	Context string `json:"context,omitempty"`
}

// llmResponse is the expected JSON structure returned by the model.
type llmResponse struct {
	Corrections []struct {
		ID   int    `json:"id"`
		Text string `json:"text"`
	} `json:"corrections"`
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithTemperature sets the sampling temperature. Lower values produce more
// deterministic corrections. Default: 0.1.
func WithTemperature(temp float64) Option {
	return func(c *Corrector) {
		c.temperature = temp
	}
}

// WithSimilarityFloor sets the minimum Jaro-Winkler similarity between a
// span and its proposed correction for the proposal to be accepted.
// Default: 0.6.
func WithSimilarityFloor(floor float64) Option {
	return func(c *Corrector) {
		c.similarityFloor = floor
	}
}

// WithMaxLengthRatio sets the maximum allowed length drift between a span
// and its proposed correction, as a ratio in either direction. Default: 2.0.
func WithMaxLengthRatio(ratio float64) Option {
	return func(c *Corrector) {
		c.maxLengthRatio = ratio
	}
}

// Corrector reviews transcript spans with an [llm.Provider]. It is safe for
// concurrent use.
//
// Model selection follows the one-provider-per-model pattern: to use a
// specific model for review, construct the [llm.Provider] with that model
// configured, rather than overriding per-request.
type Corrector struct {
	llm             llm.Provider
	temperature     float64
	similarityFloor float64
	maxLengthRatio  float64
}

// New returns a Corrector backed by the given provider.
func New(provider llm.Provider, opts ...Option) (*Corrector, error) {
	if provider == nil {
		return nil, errors.New("llmpolish: provider must not be nil")
	}

	c := &Corrector{
		llm:             provider,
		temperature:     defaultTemperature,
		similarityFloor: defaultSimilarityFloor,
		maxLengthRatio:  defaultMaxLengthRatio,
	}
	for _, o := range opts {
		o(c)
	}

	var errs []error
	if c.similarityFloor < 0 || c.similarityFloor > 1 {
		errs = append(errs, fmt.Errorf("similarity floor must be in [0, 1], got %g", c.similarityFloor))
	}
	if c.maxLengthRatio < 1 {
		errs = append(errs, fmt.Errorf("max length ratio must be >= 1, got %g", c.maxLengthRatio))
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("llmpolish: invalid configuration: %w", errors.Join(errs...))
	}
	return c, nil
}

// CorrectSegments implements [polish.LLMCorrector]. It returns the verified
// corrections keyed by span ID; spans the model left unchanged or whose
// proposals failed verification are absent from the result.
//
// Context cancellation and transport errors are returned as non-nil errors.
// An unparseable model response is not an error: the affected batch simply
// yields no corrections.
func (c *Corrector) CorrectSegments(ctx context.Context, spans []polish.Span) (map[int]string, error) {
	if len(spans) == 0 {
		return nil, nil
	}

	fixes := make(map[int]string)
	for start := 0; start < len(spans); start += maxSpansPerRequest {
		end := min(start+maxSpansPerRequest, len(spans))
		if err := c.correctBatch(ctx, spans[start:end], fixes); err != nil {
			return nil, err
		}
	}
	return fixes, nil
}

// correctBatch reviews one batch of spans and merges the accepted proposals
// into fixes.
func (c *Corrector) correctBatch(ctx context.Context, spans []polish.Span, fixes map[int]string) error {
	userMsg, err := buildUserMessage(spans)
	if err != nil {
		return fmt.Errorf("llmpolish: encode spans: %w", err)
	}

	resp, err := c.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Temperature:  c.temperature,
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: userMsg},
		},
	})
	if err != nil {
		return fmt.Errorf("llmpolish: complete: %w", err)
	}

	var parsed llmResponse
	if err := json.Unmarshal([]byte(stripMarkdown(resp.Content)), &parsed); err != nil {
		// Unparseable response: keep the recognized text, no error.
		slog.Warn("llm polish response not parseable, keeping recognized text",
			"provider", c.llm.Name(), "error", err)
		return nil
	}

	byID := make(map[int]string, len(spans))
	for _, sp := range spans {
		byID[sp.ID] = sp.Text
	}

	for _, corr := range parsed.Corrections {
		original, ok := byID[corr.ID]
		if !ok {
			continue
		}
		proposed := strings.TrimSpace(corr.Text)
		if proposed == "" || proposed == original {
			continue
		}
		if !c.verifyCorrection(original, proposed) {
			slog.Debug("llm polish proposal rejected",
				"id", corr.ID, "original", original, "proposed", proposed)
			continue
		}
		fixes[corr.ID] = proposed
	}
	return nil
}

// buildUserMessage renders the spans as a JSON array, one object per span.
func buildUserMessage(spans []polish.Span) (string, error) {
	req := make([]requestSpan, 0, len(spans))
	for _, sp := range spans {
		req = append(req, requestSpan{ID: sp.ID, Text: sp.Text, Context: sp.Context})
	}
	b, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	return "Spans:\n" + string(b), nil
}

// stripMarkdown removes optional markdown code fences (```json ... ```) that
// some models prepend and append to JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

// Ensure Corrector implements polish.LLMCorrector at compile time.
var _ polish.LLMCorrector = (*Corrector)(nil)
