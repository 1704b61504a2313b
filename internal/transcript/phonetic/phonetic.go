// Package phonetic matches misheard phrases against a fixed vocabulary using
// Double Metaphone codes and Jaro-Winkler similarity.
//
// A phrase is a candidate for a vocabulary term when any of their Double
// Metaphone codes overlap. Candidates are ranked by Jaro-Winkler similarity
// and accepted above the phonetic threshold (default 0.70). When no term
// sounds alike, pure string similarity is tried with a stricter fuzzy
// threshold (default 0.85).
//
// Terms may span several words ("Living Room"). A phrase is only compared
// with terms whose word count differs from its own by at most one, so a
// split or merged word ("kitch en", "livingroom") can still match while a
// single shared word cannot pull unrelated neighbours into a correction.
// The first word of the phrase must also start like the first word of the
// term: same initial letter or an overlapping Double Metaphone code.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a term that
// sounds like the phrase. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a term that
// does not sound like the phrase. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] with the supplied options applied.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

type term struct {
	text   string
	lower  string
	tokens []string
	codes  map[string]struct{}
	lead   map[string]struct{}
}

// Vocabulary is a set of terms with their phonetic codes computed once.
type Vocabulary struct {
	terms    []term
	maxWords int
}

// Prepare builds a Vocabulary. Blank terms are ignored.
func Prepare(terms []string) *Vocabulary {
	v := &Vocabulary{}
	for _, t := range terms {
		lower := strings.ToLower(strings.TrimSpace(t))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		v.terms = append(v.terms, term{
			text:   strings.TrimSpace(t),
			lower:  strings.Join(tokens, " "),
			tokens: tokens,
			codes:  codesForTokens(tokens),
			lead:   codesForTokens(tokens[:1]),
		})
		v.maxWords = max(v.maxWords, len(tokens))
	}
	return v
}

// Len returns the number of terms.
func (v *Vocabulary) Len() int { return len(v.terms) }

// MaxWords returns the word count of the longest term, 0 when empty.
func (v *Vocabulary) MaxWords() int { return v.maxWords }

// Match returns the vocabulary term that best matches phrase. When nothing
// matches it returns phrase unchanged, 0 and false.
func (m *Matcher) Match(phrase string, v *Vocabulary) (corrected string, confidence float64, matched bool) {
	if v == nil || len(v.terms) == 0 || strings.TrimSpace(phrase) == "" {
		return phrase, 0, false
	}

	tokens := strings.Fields(strings.ToLower(phrase))
	lower := strings.Join(tokens, " ")
	codes := codesForTokens(tokens)
	lead := codesForTokens(tokens[:1])

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, t := range v.terms {
		if diff := len(tokens) - len(t.tokens); diff > 1 || diff < -1 {
			continue
		}
		if tokens[0][0] != t.tokens[0][0] && !codesOverlap(lead, t.lead) {
			continue
		}
		score := similarity(tokens, t.tokens, lower, t.lower)
		if codesOverlap(codes, t.codes) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = t.text, score, true
			}
		} else if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = t.text, score
		}
	}

	if best == "" {
		return phrase, 0, false
	}
	return best, bestScore, true
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
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

func codesOverlap(a, b map[string]struct{}) bool {
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

// similarity scores the full phrases with Jaro-Winkler. Phrases with
// different word counts are also compared with spaces removed; phrases with
// the same count also by the mean of their word-by-word scores.
func similarity(inputTokens, termTokens []string, inputFull, termFull string) float64 {
	score := matchr.JaroWinkler(inputFull, termFull, false)

	if len(inputTokens) != len(termTokens) {
		joined := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(termTokens, ""), false)
		return max(score, joined)
	}

	if len(inputTokens) > 1 {
		var sum float64
		for i := range inputTokens {
			sum += matchr.JaroWinkler(inputTokens[i], termTokens[i], false)
		}
		score = max(score, sum/float64(len(inputTokens)))
	}
	return score
}
