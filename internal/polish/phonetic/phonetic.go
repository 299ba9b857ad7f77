// Package phonetic matches transcript tokens against a user-supplied
// glossary using Double Metaphone phonetic encoding combined with
// Jaro-Winkler string similarity for ranked candidate selection.
//
// The algorithm proceeds in two stages:
//
//  1. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each token of the input and of every glossary term. A term whose code
//     set overlaps the input's becomes a phonetic candidate.
//
//  2. Jaro-Winkler ranking: among phonetic candidates, the term with the
//     highest similarity (computed on the lowercased strings) is selected,
//     provided its score clears the phonetic threshold.
//
//     When no phonetic candidate exists, a secondary pass accepts pure
//     string similarity against a higher fuzzy threshold (default 0.85).
//
// Multi-word terms (e.g., "Llama Index") are supported: the matcher computes
// phonetic codes per word and considers the best pairwise score across all
// word pairs when ranking candidates. A term is only considered when its
// word count equals the input's and every input token aligns with the term
// token in the same position, so a replacement never adds or removes words.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// alignmentFloor is the minimum per-token similarity between the input
	// and the term at the same word position. It stops a multi-word window
	// from matching on the strength of a single token while the rest of the
	// window is unrelated.
	alignmentFloor = 0.5
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// entry is one glossary term with its precomputed phonetic codes.
type entry struct {
	term   string
	lower  string
	tokens []string
	codes  map[string]struct{}
}

// Matcher matches words against a fixed glossary of canonical terms (names,
// jargon, product names). The glossary is prepared once at construction;
// all methods are safe for concurrent use afterwards.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64

	entries  []entry
	maxWords int
}

// NewMatcher builds a Matcher over the glossary terms. Blank terms are
// dropped; earlier terms win score ties.
func NewMatcher(terms []string, opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}

	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		lower := strings.ToLower(term)
		tokens := strings.Fields(lower)
		m.entries = append(m.entries, entry{
			term:   term,
			lower:  lower,
			tokens: tokens,
			codes:  codesForTokens(tokens),
		})
		if len(tokens) > m.maxWords {
			m.maxWords = len(tokens)
		}
	}
	return m
}

// Len returns the number of glossary terms.
func (m *Matcher) Len() int {
	return len(m.entries)
}

// MaxWords returns the word count of the longest glossary term, zero when
// the glossary is empty. Callers use it to bound n-gram window sizes.
func (m *Matcher) MaxWords() int {
	return m.maxWords
}

// Match attempts to find the glossary term most phonetically similar to
// word.
//
// word may be a single word or a space-separated phrase (n-gram). Only
// terms with the same word count as the input are considered, and each
// input token must loosely align with the term token in the same position.
//
// When matched is false, corrected equals word unchanged and confidence
// is 0.
func (m *Matcher) Match(word string) (corrected string, confidence float64, matched bool) {
	if len(m.entries) == 0 || strings.TrimSpace(word) == "" {
		return word, 0, false
	}

	wordLower := strings.ToLower(strings.TrimSpace(word))
	wordTokens := strings.Fields(wordLower)
	inputCodes := codesForTokens(wordTokens)

	type candidate struct {
		term     string
		score    float64
		phonetic bool
	}

	var best candidate

	for _, e := range m.entries {
		if len(e.tokens) != len(wordTokens) {
			continue
		}
		if !tokensAlign(wordTokens, e.tokens) {
			continue
		}

		phoneticMatch := codesOverlap(inputCodes, e.codes)
		jwScore := bestJWScore(wordTokens, e.tokens, wordLower, e.lower)

		if phoneticMatch {
			if jwScore >= m.phoneticThreshold {
				if !best.phonetic || jwScore > best.score {
					best = candidate{term: e.term, score: jwScore, phonetic: true}
				}
			}
		} else if !best.phonetic {
			if jwScore >= m.fuzzyThreshold && jwScore > best.score {
				best = candidate{term: e.term, score: jwScore, phonetic: false}
			}
		}
	}

	if best.term != "" {
		return best.term, best.score, true
	}
	return word, 0, false
}

// tokensAlign reports whether every input token clears a lenient similarity
// floor against the term token in the same position.
func tokensAlign(inputTokens, termTokens []string) bool {
	for i := range inputTokens {
		if matchr.JaroWinkler(inputTokens[i], termTokens[i], false) < alignmentFloor {
			return false
		}
	}
	return true
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (produced when the word is too short or
// contains no consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	// Iterate over the smaller set for efficiency.
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the input
// and the glossary term using three strategies:
//
//  1. Full-string comparison (e.g., "lama index" vs "llama index").
//  2. Space-stripped comparison (e.g., "lamaindex" vs "llamaindex").
//  3. Best pairwise word comparison, so a strong token match lifts the
//     score of a phrase whose other tokens only drift slightly.
func bestJWScore(inputTokens, termTokens []string, inputFull, termFull string) float64 {
	// Strategy 1: full strings.
	score := matchr.JaroWinkler(inputFull, termFull, false)

	// Strategy 2: concatenated (no spaces).
	if len(inputTokens) > 1 || len(termTokens) > 1 {
		concat1 := strings.Join(inputTokens, "")
		concat2 := strings.Join(termTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	// Strategy 3: best pairwise token score.
	for _, it := range inputTokens {
		for _, tt := range termTokens {
			if s := matchr.JaroWinkler(it, tt, false); s > score {
				score = s
			}
		}
	}

	return score
}
