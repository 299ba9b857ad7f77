package transcript

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Format selects an output serialization.
type Format string

const (
	// FormatJSON renders a machine-readable segment array with metadata.
	FormatJSON Format = "json"

	// FormatMarkdown renders paragraph-grouped text with optional inline
	// timestamps, suitable for notes tools.
	FormatMarkdown Format = "markdown"

	// FormatText renders one timestamped line per segment.
	FormatText Format = "text"
)

// IsValid reports whether f is a known output format.
func (f Format) IsValid() bool {
	switch f {
	case FormatJSON, FormatMarkdown, FormatText:
		return true
	}
	return false
}

// Ext returns the file extension (without dot) conventionally used for f.
func (f Format) Ext() string {
	switch f {
	case FormatMarkdown:
		return "md"
	case FormatText:
		return "txt"
	default:
		return "json"
	}
}

// DefaultParagraphGap is the inter-segment silence above which the Markdown
// renderer starts a new paragraph.
const DefaultParagraphGap = 2500 * time.Millisecond

// RenderOptions tune the text-based renderers. The zero value disables inline
// timestamps and uses DefaultParagraphGap.
type RenderOptions struct {
	// Timestamps enables inline [HH:MM:SS] stamps in Markdown and text output.
	Timestamps bool

	// ParagraphGap is the silence threshold for Markdown paragraph breaks.
	// Zero means DefaultParagraphGap.
	ParagraphGap time.Duration
}

// Render serializes t in the given format. The output is deterministic for a
// given Transcript value: identical inputs produce byte-identical output.
func Render(t *Transcript, f Format, opts RenderOptions) ([]byte, error) {
	switch f {
	case FormatJSON:
		return renderJSON(t)
	case FormatMarkdown:
		return renderMarkdown(t, opts), nil
	case FormatText:
		return renderText(t, opts), nil
	default:
		return nil, fmt.Errorf("transcript: unknown output format %q", f)
	}
}

// ── JSON ──────────────────────────────────────────────────────────────────────

type jsonTranscript struct {
	Source      string        `json:"source"`
	Model       string        `json:"model"`
	Language    string        `json:"language"`
	Duration    float64       `json:"duration"`
	GeneratedAt time.Time     `json:"generated_at"`
	Segments    []jsonSegment `json:"segments"`
}

type jsonSegment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
	Gap        bool    `json:"gap,omitempty"`
}

func renderJSON(t *Transcript) ([]byte, error) {
	out := jsonTranscript{
		Source:      t.Meta.Source,
		Model:       t.Meta.Model,
		Language:    t.Meta.Language,
		Duration:    t.Meta.SourceDuration.Seconds(),
		GeneratedAt: t.Meta.GeneratedAt.UTC(),
		Segments:    make([]jsonSegment, 0, len(t.Segments)),
	}
	for _, s := range t.Segments {
		out.Segments = append(out.Segments, jsonSegment{
			Start:      s.Start.Seconds(),
			End:        s.End.Seconds(),
			Text:       s.Text,
			Confidence: s.Confidence,
			Gap:        s.Gap,
		})
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("transcript: encode json: %w", err)
	}
	return append(b, '\n'), nil
}

// ── Markdown ──────────────────────────────────────────────────────────────────

func renderMarkdown(t *Transcript, opts RenderOptions) []byte {
	gap := opts.ParagraphGap
	if gap <= 0 {
		gap = DefaultParagraphGap
	}

	var b strings.Builder
	b.WriteString("# Transcript\n\n")
	if t.Meta.Source != "" {
		fmt.Fprintf(&b, "- Source: `%s`\n", t.Meta.Source)
	}
	if t.Meta.Model != "" {
		fmt.Fprintf(&b, "- Model: `%s`\n", t.Meta.Model)
	}
	if t.Meta.Language != "" {
		fmt.Fprintf(&b, "- Language: %s\n", t.Meta.Language)
	}
	if t.Meta.SourceDuration > 0 {
		fmt.Fprintf(&b, "- Duration: %s\n", t.Meta.SourceDuration.Truncate(time.Second))
	}
	if !t.Meta.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "- Generated: %s\n", t.Meta.GeneratedAt.UTC().Format(time.RFC3339))
	}
	b.WriteString("\n---\n")

	inParagraph := false
	var lastEnd time.Duration
	for _, s := range t.Segments {
		if s.Gap {
			if inParagraph {
				b.WriteString("\n")
				inParagraph = false
			}
			fmt.Fprintf(&b, "\n*[no transcription %s – %s]*\n",
				clock(s.Start), clock(s.End))
			lastEnd = s.End
			continue
		}
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		if !inParagraph || s.Start-lastEnd > gap {
			if inParagraph {
				b.WriteString("\n")
			}
			b.WriteString("\n")
			if opts.Timestamps {
				fmt.Fprintf(&b, "**[%s]** ", clock(s.Start))
			}
			b.WriteString(text)
			inParagraph = true
		} else {
			b.WriteString(" ")
			b.WriteString(text)
		}
		lastEnd = s.End
	}
	if inParagraph {
		b.WriteString("\n")
	}
	return []byte(b.String())
}

// ── Plain text ────────────────────────────────────────────────────────────────

func renderText(t *Transcript, opts RenderOptions) []byte {
	var b strings.Builder
	for _, s := range t.Segments {
		if s.Gap {
			if opts.Timestamps {
				fmt.Fprintf(&b, "[%s] ", clock(s.Start))
			}
			fmt.Fprintf(&b, "[no transcription until %s]\n", clock(s.End))
			continue
		}
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		if opts.Timestamps {
			fmt.Fprintf(&b, "[%s] ", clock(s.Start))
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return []byte(b.String())
}

// clock formats a duration as HH:MM:SS for inline timestamps.
func clock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
