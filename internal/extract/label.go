package extract

import (
	"strings"

	"github.com/joescharf/guardian/internal/models"
)

const (
	descriptionLabel = "Description:"
	explanationLabel = "Explanation:"

	// labelLookahead is how many lines after a description are searched
	// for its explanation.
	labelLookahead = 10
	// minLabelDescriptionLen is exclusive: a description must be longer.
	minLabelDescriptionLen = 5
)

// LabelGrammar scans for literal "Description:" labels, each followed
// within a few lines by an optional "Explanation:" label.
type LabelGrammar struct{}

func (LabelGrammar) Name() string { return "label" }

func (g LabelGrammar) Parse(text string) []models.Candidate {
	lines := strings.Split(text, "\n")
	var out []models.Candidate
	for i := range lines {
		if c, ok := g.parseAt(lines, i); ok {
			out = append(out, c)
		}
	}
	return out
}

func (LabelGrammar) parseAt(lines []string, i int) (c models.Candidate, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c, ok = models.Candidate{}, false
		}
	}()

	idx := strings.Index(lines[i], descriptionLabel)
	if idx < 0 {
		return models.Candidate{}, false
	}
	raw := cleanInline(lines[i][idx+len(descriptionLabel):])

	// A short capture usually means the text wrapped onto the next line.
	if runeLen(raw) < MinDescriptionLen && i+1 < len(lines) {
		next := lines[i+1]
		if !strings.Contains(next, descriptionLabel) && !strings.Contains(next, explanationLabel) {
			raw = strings.TrimSpace(raw + " " + cleanInline(next))
		}
	}

	var suggestion string
	for j := i + 1; j < len(lines) && j <= i+labelLookahead; j++ {
		if strings.Contains(lines[j], descriptionLabel) {
			break
		}
		if k := strings.Index(lines[j], explanationLabel); k >= 0 {
			suggestion = lines[j][k+len(explanationLabel):]
			break
		}
	}

	d := finishDescription(raw)
	if runeLen(d) <= minLabelDescriptionLen {
		return models.Candidate{}, false
	}
	return models.Candidate{
		Description: d,
		Suggestion:  finishSuggestion(suggestion),
		Effort:      models.EffortMedium,
	}, true
}
