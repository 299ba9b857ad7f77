package polish

import (
	"strings"
	"unicode"
)

// applyRules performs the deterministic cleanup pass on segment text:
// whitespace runs collapse to a single space, edges are trimmed, spaces
// before punctuation are removed, and the first letter of each sentence is
// capitalized. The pass is idempotent.
func applyRules(text string) string {
	return capitalizeSentences(tightenPunctuation(collapseWhitespace(text)))
}

// collapseWhitespace reduces any run of whitespace to a single space and
// trims the edges.
func collapseWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// tightenPunctuation removes spaces before punctuation that binds to the
// preceding word, so "hello , world" becomes "hello, world".
func tightenPunctuation(text string) string {
	out := make([]rune, 0, len(text))
	for _, r := range text {
		if bindsToPrevious(r) {
			for len(out) > 0 && out[len(out)-1] == ' ' {
				out = out[:len(out)-1]
			}
		}
		out = append(out, r)
	}
	return string(out)
}

// bindsToPrevious reports whether r attaches to the preceding word without
// a space.
func bindsToPrevious(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ';', ':':
		return true
	}
	return false
}

// capitalizeSentences upper-cases the first letter of the text and the
// first letter after terminal punctuation. A digit also leaves the
// sentence-start state, so decimal numbers like "3.14" stay untouched.
func capitalizeSentences(text string) string {
	out := []rune(text)
	atStart := true
	for i, r := range out {
		switch {
		case atStart && unicode.IsLetter(r):
			out[i] = unicode.ToUpper(r)
			atStart = false
		case atStart && unicode.IsDigit(r):
			atStart = false
		case r == '.' || r == '!' || r == '?':
			atStart = true
		}
	}
	return string(out)
}
