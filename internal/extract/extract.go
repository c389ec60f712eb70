// Package extract turns a free-text review critique into issue candidates.
//
// Model output is loosely structured Markdown, so extraction is heuristic.
// Two grammars work over lines of text: HeadingGrammar splits the critique
// at issue-like headings, LabelGrammar scans for literal "Description:"
// labels. An Extractor tries them in order and keeps the first non-empty
// result.
package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/joescharf/guardian/internal/models"
)

const (
	// MaxDescriptionLen bounds a stored description, in runes.
	MaxDescriptionLen = 150
	// MaxSuggestionLen bounds a stored suggestion, in runes.
	MaxSuggestionLen = 200
	// MinDescriptionLen is the shortest description HeadingGrammar accepts.
	MinDescriptionLen = 10
	// DefaultSuggestion is used when no explanation text was found.
	DefaultSuggestion = "No suggestion provided"
)

// Grammar parses a full critique into candidates.
type Grammar interface {
	Name() string
	Parse(text string) []models.Candidate
}

// Options tunes extraction.
type Options struct {
	// ParseEffort makes HeadingGrammar read an explicit
	// "Remediation Effort: Low|Medium|High" marker instead of
	// assuming Medium.
	ParseEffort bool
}

// Extractor runs grammars in order and returns the first non-empty result.
type Extractor struct {
	grammars []Grammar
}

// New returns an Extractor with the heading grammar first and the label
// grammar as fallback.
func New(opts Options) *Extractor {
	return &Extractor{grammars: []Grammar{
		HeadingGrammar{ParseEffort: opts.ParseEffort},
		LabelGrammar{},
	}}
}

// Chain builds an Extractor from explicit grammars.
func Chain(grammars ...Grammar) *Extractor {
	return &Extractor{grammars: grammars}
}

// Extract parses text into candidates. It never fails; text with no
// recognisable structure yields nil.
func (e *Extractor) Extract(text string) []models.Candidate {
	for _, g := range e.grammars {
		if found := g.Parse(text); len(found) > 0 {
			return found
		}
	}
	return nil
}

var (
	markupRe     = regexp.MustCompile("\\*\\*|__|`+|~~|\\[|\\]")
	leadMarkupRe = regexp.MustCompile(`^(?:[#>*_+\-]+\s*|\d+[.)]\s+)+`)
	spaceRe      = regexp.MustCompile(`\s+`)
	sentenceRe   = regexp.MustCompile(`\.(\s|$)`)
)

// cleanInline strips Markdown decoration and collapses whitespace.
func cleanInline(s string) string {
	s = strings.TrimSpace(s)
	s = leadMarkupRe.ReplaceAllString(s, "")
	s = markupRe.ReplaceAllString(s, "")
	s = strings.Trim(s, " *_:#")
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// firstSentence cuts s after the first period that ends a sentence.
func firstSentence(s string) string {
	if loc := sentenceRe.FindStringIndex(s); loc != nil {
		return s[:loc[0]+1]
	}
	return s
}

// truncateRunes cuts s to at most n runes.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n]))
}

// finishDescription applies the cleanup shared by both grammars.
func finishDescription(raw string) string {
	d := firstSentence(cleanInline(raw))
	return truncateRunes(d, MaxDescriptionLen)
}

// finishSuggestion cleans s, substituting the placeholder when blank.
func finishSuggestion(s string) string {
	s = cleanInline(s)
	if s == "" {
		s = DefaultSuggestion
	}
	return truncateRunes(s, MaxSuggestionLen)
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
