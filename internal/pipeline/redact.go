package pipeline

import (
	"fmt"
	"regexp"
	"strings"
)

// RedactionMap maps placeholder tokens back to the sensitive substrings
// they replaced. An empty map means nothing was redacted.
type RedactionMap map[string]string

// Redactor replaces detected PII with indexed placeholders and reverses
// the substitution after the upgrade step.
type Redactor interface {
	Redact(text string) (string, RedactionMap, error)
	Restore(text string, m RedactionMap) string
}

type piiPattern struct {
	label string
	re    *regexp.Regexp
}

// RegexRedactor is the default Redactor. Patterns run in a fixed order so
// card numbers are claimed before the looser phone pattern can match them.
type RegexRedactor struct {
	patterns []piiPattern
}

// NewRegexRedactor compiles the default PII patterns.
func NewRegexRedactor() *RegexRedactor {
	return &RegexRedactor{
		patterns: []piiPattern{
			{"EMAIL", regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)},
			{"CARD", regexp.MustCompile(`\b\d{4}[ \-]?\d{4}[ \-]?\d{4}[ \-]?\d{4}\b`)},
			{"PHONE", regexp.MustCompile(`\+\d{1,3}[ .\-]?\d{2,4}(?:[ .\-]?\d{2,4}){1,3}\b|\b0\d{1,3}[ .\-]?\d{3,4}[ .\-]?\d{3,4}\b`)},
			{"ID", regexp.MustCompile(`\b\d{9,12}\b`)},
		},
	}
}

// Redact replaces each detected PII substring with a placeholder of the
// form [LABEL_n]. The same substring always maps to the same placeholder
// within one call, keeping the map reversible.
func (r *RegexRedactor) Redact(text string) (string, RedactionMap, error) {
	m := make(RedactionMap)
	assigned := make(map[string]string) // original -> placeholder
	counts := make(map[string]int)

	for _, p := range r.patterns {
		text = p.re.ReplaceAllStringFunc(text, func(match string) string {
			if ph, ok := assigned[match]; ok {
				return ph
			}
			counts[p.label]++
			ph := fmt.Sprintf("[%s_%d]", p.label, counts[p.label])
			assigned[match] = ph
			m[ph] = match
			return ph
		})
	}
	return text, m, nil
}

// Restore substitutes the original values back into text. Placeholders
// absent from the text are ignored; unknown placeholders are left alone.
func (r *RegexRedactor) Restore(text string, m RedactionMap) string {
	if len(m) == 0 {
		return text
	}
	pairs := make([]string, 0, len(m)*2)
	for ph, original := range m {
		pairs = append(pairs, ph, original)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
