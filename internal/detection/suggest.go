package detection

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Suggester maps free-form labels to the closest known expression. It is
// read-only after construction and safe for concurrent use.
//
// Candidates whose Double Metaphone codes overlap the input are accepted at
// a lower Jaro-Winkler score than candidates that only look similar.
type Suggester struct {
	known             []Expression
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// SuggestOption configures a [Suggester].
type SuggestOption func(*Suggester)

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for candidates
// without phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(t float64) SuggestOption {
	return func(s *Suggester) { s.fuzzyThreshold = t }
}

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for phonetic
// candidates. Default: 0.70.
func WithPhoneticThreshold(t float64) SuggestOption {
	return func(s *Suggester) { s.phoneticThreshold = t }
}

// WithCandidates replaces the candidate set. Default: [KnownExpressions].
func WithCandidates(c []Expression) SuggestOption {
	return func(s *Suggester) { s.known = c }
}

// NewSuggester returns a [Suggester].
func NewSuggester(opts ...SuggestOption) *Suggester {
	s := &Suggester{
		known:             KnownExpressions(),
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Suggest returns the closest candidate to label and its score. ok is false
// when label is itself a candidate or nothing scores high enough.
func (s *Suggester) Suggest(label string) (match Expression, score float64, ok bool) {
	in := strings.ToLower(strings.TrimSpace(label))
	if in == "" {
		return "", 0, false
	}
	inCodes := metaphoneCodes(in)

	var (
		best     Expression
		bestJW   float64
		phonetic bool
	)
	for _, cand := range s.known {
		c := strings.ToLower(string(cand))
		if c == in {
			return "", 0, false
		}
		jw := matchr.JaroWinkler(in, c, false)
		if overlaps(inCodes, metaphoneCodes(c)) {
			if jw >= s.phoneticThreshold && (!phonetic || jw > bestJW) {
				best, bestJW, phonetic = cand, jw, true
			}
		} else if !phonetic && jw >= s.fuzzyThreshold && jw > bestJW {
			best, bestJW = cand, jw
		}
	}
	if best == "" {
		return "", 0, false
	}
	return best, bestJW, true
}

func metaphoneCodes(word string) []string {
	p, sec := matchr.DoubleMetaphone(word)
	codes := make([]string, 0, 2)
	if p != "" {
		codes = append(codes, p)
	}
	if sec != "" && sec != p {
		codes = append(codes, sec)
	}
	return codes
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
