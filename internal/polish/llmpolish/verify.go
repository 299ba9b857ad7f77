package llmpolish

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// verifyCorrection reports whether proposed is a plausible correction of
// original rather than a rewrite or hallucination. A proposal passes when,
// after normalization, it stays within the configured length-drift bound
// and Jaro-Winkler similarity floor.
func (c *Corrector) verifyCorrection(original, proposed string) bool {
	orig := normalizeForCompare(original)
	prop := normalizeForCompare(proposed)
	if orig == "" || prop == "" {
		return false
	}
	// Punctuation or casing fixes only; always safe to apply.
	if orig == prop {
		return true
	}

	ratio := float64(len([]rune(prop))) / float64(len([]rune(orig)))
	if ratio > c.maxLengthRatio || ratio < 1/c.maxLengthRatio {
		return false
	}

	return matchr.JaroWinkler(orig, prop, false) >= c.similarityFloor
}

// normalizeForCompare lowercases, strips punctuation, and collapses
// whitespace so the similarity check sees word content only.
func normalizeForCompare(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
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
