package transcript

import (
	"context"
	"strings"
	"unicode"

	"github.com/MrWong99/earshot/internal/transcript/phonetic"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// PhoneticCorrector slides a window over the transcript words and replaces
// the best-matching window at each position with its vocabulary term.
type PhoneticCorrector struct {
	matcher *phonetic.Matcher
	vocab   *phonetic.Vocabulary
}

var _ Corrector = (*PhoneticCorrector)(nil)

// NewPhoneticCorrector returns a corrector for vocabulary. A nil matcher
// means phonetic.New() with default thresholds.
func NewPhoneticCorrector(m *phonetic.Matcher, vocabulary []string) *PhoneticCorrector {
	if m == nil {
		m = phonetic.New()
	}
	return &PhoneticCorrector{matcher: m, vocab: phonetic.Prepare(vocabulary)}
}

// Correct applies the vocabulary to t.Text. Punctuation around replaced
// words is kept; whitespace is normalised to single spaces when anything
// changed.
func (c *PhoneticCorrector) Correct(ctx context.Context, t stt.Transcript) (*Corrected, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := &Corrected{Original: t, Text: t.Text, Corrections: []Correction{}}
	if c.vocab.Len() == 0 {
		return out, nil
	}

	words := splitWords(t.Text)
	maxN := c.vocab.MaxWords() + 1
	var b strings.Builder

	for i := 0; i < len(words); {
		best, bestN, bestScore := "", 0, 0.0
		for n := 1; n <= maxN && i+n <= len(words); n++ {
			phrase, ok := joinCores(words[i : i+n])
			if !ok {
				break
			}
			term, score, matched := c.matcher.Match(phrase, c.vocab)
			if matched && score > bestScore {
				best, bestN, bestScore = term, n, score
			}
		}

		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		if bestN == 0 {
			b.WriteString(words[i].String())
			i++
			continue
		}

		phrase, _ := joinCores(words[i : i+bestN])
		b.WriteString(words[i].lead)
		b.WriteString(best)
		b.WriteString(words[i+bestN-1].trail)
		if phrase != best {
			out.Corrections = append(out.Corrections, Correction{
				Original:   phrase,
				Corrected:  best,
				Confidence: bestScore,
			})
		}
		i += bestN
	}

	if len(out.Corrections) > 0 {
		out.Text = b.String()
	}
	return out, nil
}

type word struct {
	lead, core, trail string
}

func (w word) String() string { return w.lead + w.core + w.trail }

// splitWords splits text on whitespace and peels punctuation off both ends
// of every word.
func splitWords(text string) []word {
	fields := strings.Fields(text)
	words := make([]word, 0, len(fields))
	for _, f := range fields {
		core := strings.TrimLeftFunc(f, unicode.IsPunct)
		lead := f[:len(f)-len(core)]
		trimmed := strings.TrimRightFunc(core, unicode.IsPunct)
		words = append(words, word{lead: lead, core: trimmed, trail: core[len(trimmed):]})
	}
	return words
}

// joinCores joins the cores of ws. It reports false when a word is pure
// punctuation or carries punctuation inside the window, since a sentence
// boundary must not be merged into one phrase.
func joinCores(ws []word) (string, bool) {
	parts := make([]string, len(ws))
	for j, w := range ws {
		if w.core == "" {
			return "", false
		}
		if j > 0 && w.lead != "" {
			return "", false
		}
		if j < len(ws)-1 && w.trail != "" {
			return "", false
		}
		parts[j] = w.core
	}
	return strings.Join(parts, " "), true
}
