// Package command scores transcribed utterances against the fixed vocabulary
// of guard control phrases using a blended lexical + phonetic similarity
// metric.
//
// The lexical side is a token-set ratio built on Levenshtein distance, so word
// order and repeated words do not hurt the score ("guard mode activate" still
// matches "activate guard mode"). The phonetic side compares Double Metaphone
// encodings with Jaro-Winkler, which absorbs the transcription model's
// spelling drift ("activate gard mowed"). Both scores are on a 0–100 scale
// and are blended 40/60 in favour of the phonetic score; a decision is
// accepted only when the best blended score reaches the acceptance threshold.
//
// The matcher is a pure classifier: it never mutates guard state. Acting on
// an accepted decision is solely the arbiter's job.
package command

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

// DefaultThreshold is the minimum combined score for an accepted decision.
const DefaultThreshold = 85.0

// Blend weights for the combined score.
const (
	textWeight     = 0.4
	phoneticWeight = 0.6
)

// Kind classifies what an accepted control phrase does.
type Kind string

const (
	// KindActivate arms the guard.
	KindActivate Kind = "activate"

	// KindDeactivate stands the guard down.
	KindDeactivate Kind = "deactivate"
)

// Phrase is one vocabulary entry.
type Phrase struct {
	// Text is the canonical spoken form (e.g. "activate guard mode").
	Text string

	// Kind is the action the phrase triggers.
	Kind Kind
}

// Decision is the outcome of matching one transcript against the vocabulary.
type Decision struct {
	// Phrase is the best-scoring vocabulary entry.
	Phrase Phrase

	// TextScore is the token-set lexical similarity, 0–100.
	TextScore float64

	// PhoneticScore is the Double Metaphone similarity, 0–100.
	PhoneticScore float64

	// CombinedScore is TextScore*0.4 + PhoneticScore*0.6.
	CombinedScore float64

	// Accepted is true when CombinedScore meets the threshold.
	Accepted bool
}

// Option is a functional option for [New].
type Option func(*Matcher)

// WithThreshold overrides the acceptance threshold. Default: 85.
func WithThreshold(threshold float64) Option {
	return func(m *Matcher) { m.threshold = threshold }
}

// Matcher scores transcripts against a fixed vocabulary.
// Safe for concurrent use; read-only after construction.
type Matcher struct {
	vocab     []Phrase
	threshold float64
}

// New creates a matcher over the given vocabulary.
func New(vocab []Phrase, opts ...Option) *Matcher {
	m := &Matcher{
		vocab:     append([]Phrase(nil), vocab...),
		threshold: DefaultThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match scores transcript against every vocabulary phrase and returns the
// decision for the best one. Ties on the combined score are broken in favour
// of an exact lexical match. An empty transcript is never accepted.
func (m *Matcher) Match(transcript string) Decision {
	trimmed := strings.TrimSpace(transcript)
	if trimmed == "" || len(m.vocab) == 0 {
		return Decision{}
	}

	var best Decision
	haveBest := false
	for _, p := range m.vocab {
		text := TextScore(trimmed, p.Text)
		phonetic := PhoneticScore(trimmed, p.Text)
		combined := Combine(text, phonetic)

		d := Decision{
			Phrase:        p,
			TextScore:     text,
			PhoneticScore: phonetic,
			CombinedScore: combined,
		}
		switch {
		case !haveBest, combined > best.CombinedScore:
			best = d
			haveBest = true
		case combined == best.CombinedScore && exactMatch(trimmed, p.Text) && !exactMatch(trimmed, best.Phrase.Text):
			best = d
		}
	}

	best.Accepted = best.CombinedScore >= m.threshold
	return best
}

// Combine blends the lexical and phonetic scores 40/60.
func Combine(textScore, phoneticScore float64) float64 {
	return textScore*textWeight + phoneticScore*phoneticWeight
}

// TextScore computes token-set lexical similarity between a and b on a 0–100
// scale. Both strings are lowercased and tokenised; the score is the best
// Levenshtein-based ratio between the sorted token intersection and each
// sorted full token set, so shared words dominate and ordering is ignored.
func TextScore(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	var inter []string
	for tok := range ta {
		if _, ok := tb[tok]; ok {
			inter = append(inter, tok)
		}
	}

	joinedA := joinSorted(ta)
	joinedB := joinSorted(tb)
	score := ratio(joinedA, joinedB)

	if len(inter) > 0 {
		sort.Strings(inter)
		joinedInter := strings.Join(inter, " ")
		if s := ratio(joinedInter, joinedA); s > score {
			score = s
		}
		if s := ratio(joinedInter, joinedB); s > score {
			score = s
		}
	}
	return score
}

// PhoneticScore computes similarity of the Double Metaphone encodings of a
// and b on a 0–100 scale, taking the best Jaro-Winkler score across the
// primary/secondary code combinations.
func PhoneticScore(a, b string) float64 {
	pa, sa := phoneticCodes(a)
	pb, sb := phoneticCodes(b)
	if pa == "" || pb == "" {
		return 0
	}

	best := 0.0
	for _, ca := range []string{pa, sa} {
		if ca == "" {
			continue
		}
		for _, cb := range []string{pb, sb} {
			if cb == "" {
				continue
			}
			if s := matchr.JaroWinkler(ca, cb, false) * 100; s > best {
				best = s
			}
		}
	}
	return best
}

// tokenSet returns the unique normalised tokens of s.
func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(normalise(s)) {
		set[tok] = struct{}{}
	}
	return set
}

// joinSorted joins a token set in sorted order with single spaces.
func joinSorted(set map[string]struct{}) string {
	toks := make([]string, 0, len(set))
	for t := range set {
		toks = append(toks, t)
	}
	sort.Strings(toks)
	return strings.Join(toks, " ")
}

// ratio is a Levenshtein-based similarity on a 0–100 scale:
// 100 * (1 - distance/maxLen). Identical strings score exactly 100.
func ratio(a, b string) float64 {
	if a == b {
		return 100
	}
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 100
	}
	dist := matchr.Levenshtein(a, b)
	return 100 * (1 - float64(dist)/float64(maxLen))
}

// phoneticCodes concatenates the per-token Double Metaphone codes of s.
func phoneticCodes(s string) (primary, secondary string) {
	var p, sec strings.Builder
	// Iterate in sorted order so the concatenated code is deterministic.
	toks := strings.Fields(joinSorted(tokenSet(s)))
	for _, tok := range toks {
		cp, cs := matchr.DoubleMetaphone(tok)
		p.WriteString(cp)
		if cs != "" {
			sec.WriteString(cs)
		} else {
			sec.WriteString(cp)
		}
	}
	return p.String(), sec.String()
}

// exactMatch reports whether a and b normalise to the same token sequence,
// order included.
func exactMatch(a, b string) bool {
	return normalise(a) == normalise(b)
}

// normalise lowercases s, strips punctuation, and collapses whitespace while
// preserving token order.
func normalise(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return ' '
		}
	}, s)
	return strings.Join(strings.Fields(cleaned), " ")
}
