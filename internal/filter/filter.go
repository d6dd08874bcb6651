// Package filter holds the heuristic word tables applied to transcripts.
// Tables are plain values so they can be swapped per locale.
package filter

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultFillers lists acknowledgements, fillers and greetings the engine
// tends to produce on near-silent audio
var DefaultFillers = []string{
	"thank you", "see you", "bye", "goodbye", "thanks",
	"you know", "um", "uh", "like", "so", "well",
	"okay", "ok", "right", "yeah", "yes", "no",
}

// DefaultLeadIns are openings that mark a correction response as commentary
var DefaultLeadIns = []string{"Here"}

// DefaultMinLength is the shortest transcript surfaced in real time
const DefaultMinLength = 4

// RealtimeFilter suppresses noise transcripts from live chunks
type RealtimeFilter struct {
	phrases   [][]string
	words     map[string]struct{}
	minLength int
}

// NewRealtimeFilter creates a filter from a filler table.
// Multi-word entries only match as whole phrases.
func NewRealtimeFilter(fillers []string, minLength int) *RealtimeFilter {
	f := &RealtimeFilter{
		words:     make(map[string]struct{}),
		minLength: minLength,
	}
	for _, entry := range fillers {
		tokens := strings.Fields(strings.ToLower(entry))
		switch len(tokens) {
		case 0:
		case 1:
			f.words[tokens[0]] = struct{}{}
		default:
			f.phrases = append(f.phrases, tokens)
		}
	}
	return f
}

// NewDefaultRealtimeFilter creates a filter with the default English tables
func NewDefaultRealtimeFilter() *RealtimeFilter {
	return NewRealtimeFilter(DefaultFillers, DefaultMinLength)
}

// Apply returns the trimmed transcript and true when it carries meaningful
// content, or an empty string and false when it is noise
func (f *RealtimeFilter) Apply(text string) (string, bool) {
	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)

	if utf8.RuneCountInString(lower) <= 2 || isPunctuation(lower) {
		return "", false
	}

	tokens := make([]string, 0, 8)
	for _, w := range strings.Fields(lower) {
		w = strings.TrimFunc(w, unicode.IsPunct)
		if w != "" {
			tokens = append(tokens, w)
		}
	}
	if len(tokens) == 0 || f.onlyFillers(tokens) {
		return "", false
	}

	if utf8.RuneCountInString(text) < f.minLength {
		return "", false
	}
	return text, true
}

// onlyFillers reports whether tokens can be fully covered by filler phrases and words
func (f *RealtimeFilter) onlyFillers(tokens []string) bool {
	i := 0
next:
	for i < len(tokens) {
		for _, phrase := range f.phrases {
			if hasPrefix(tokens[i:], phrase) {
				i += len(phrase)
				continue next
			}
		}
		if _, ok := f.words[tokens[i]]; !ok {
			return false
		}
		i++
	}
	return true
}

func hasPrefix(tokens, phrase []string) bool {
	if len(tokens) < len(phrase) {
		return false
	}
	for i := range phrase {
		if tokens[i] != phrase[i] {
			return false
		}
	}
	return true
}

func isPunctuation(s string) bool {
	for _, r := range s {
		if !unicode.IsPunct(r) && !unicode.IsSpace(r) && !unicode.IsSymbol(r) {
			return false
		}
	}
	return true
}

// LeadInGuard detects conversational lead-ins in correction responses
type LeadInGuard struct {
	tokens []string
}

// NewLeadInGuard creates a guard over the given lead-in tokens
func NewLeadInGuard(tokens []string) *LeadInGuard {
	return &LeadInGuard{tokens: tokens}
}

// IsCommentary reports whether text opens with a lead-in token
func (g *LeadInGuard) IsCommentary(text string) bool {
	text = strings.TrimSpace(text)
	for _, t := range g.tokens {
		if t != "" && strings.HasPrefix(text, t) {
			return true
		}
	}
	return false
}
