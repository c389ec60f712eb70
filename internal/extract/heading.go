package extract

import (
	"regexp"
	"strings"

	"github.com/joescharf/guardian/internal/models"
)

// descriptionBudget is how much region text, in runes, is gathered before
// the description is cleaned and cut.
const descriptionBudget = 100

var (
	// markerRe matches a line that opens an issue region: optional list,
	// heading or emphasis decoration, then one of the marker words.
	// Groups: issue number, colon, trailing title.
	markerRe = regexp.MustCompile(`(?i)^[\s>#*_\-+\[\]\d.)]*\b(?:bugs?|issues?|problems?|description)\b(?:\s*#?(\d+))?[\s*_\[\]]*(:)?[\s*_]*(.*)$`)

	bulletRe = regexp.MustCompile(`^(?:[-*+]|\d+[.)])\s+`)

	explanationRe = regexp.MustCompile(`(?i)explanation[\s*_\]]*:[\s*_]*(.*)$`)
	effortRe      = regexp.MustCompile(`(?i)effort[\s*_\]]*:[\s*_]*(?:\[)?\s*(low|medium|high)\b`)
	effortLabelRe = regexp.MustCompile(`(?i)remediation\s+effort|^[\s*_\[]*effort[\s*_\]]*:`)
	fixLabelRe    = regexp.MustCompile(`(?i)^[\s>*_\-+\[]*suggested\s+fix`)
)

// HeadingGrammar splits a critique at lines that start with an issue-like
// marker (Bug, Issue, Problem, Description). Text before the first marker
// is preamble and is dropped.
type HeadingGrammar struct {
	ParseEffort bool
}

func (HeadingGrammar) Name() string { return "heading" }

func (g HeadingGrammar) Parse(text string) []models.Candidate {
	var out []models.Candidate
	for _, region := range splitRegions(text) {
		if c, ok := g.parseRegion(region); ok {
			out = append(out, c)
		}
	}
	return out
}

// splitRegions groups lines into regions, each beginning at a marker line.
func splitRegions(text string) [][]string {
	var regions [][]string
	var current []string
	inFence := false
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
		if !inFence && markerRe.MatchString(line) {
			if current != nil {
				regions = append(regions, current)
			}
			current = []string{line}
			continue
		}
		if current != nil {
			current = append(current, line)
		}
	}
	if current != nil {
		regions = append(regions, current)
	}
	return regions
}

// parseRegion builds a candidate from one region. A panic while parsing
// drops the region and nothing else.
func (g HeadingGrammar) parseRegion(lines []string) (c models.Candidate, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c, ok = models.Candidate{}, false
		}
	}()

	var desc strings.Builder
	var suggestion string
	effort := models.EffortMedium
	inFence := false

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence || trimmed == "" {
			continue
		}

		if m := explanationRe.FindStringSubmatch(trimmed); m != nil {
			if suggestion == "" {
				suggestion = m[1]
			}
			continue
		}
		if effortLabelRe.MatchString(trimmed) {
			if g.ParseEffort {
				if m := effortRe.FindStringSubmatch(trimmed); m != nil {
					if e, ok := models.ParseEffort(m[1]); ok {
						effort = e
					}
				}
			}
			continue
		}
		if fixLabelRe.MatchString(trimmed) {
			continue
		}

		var text string
		switch {
		case i == 0:
			m := markerRe.FindStringSubmatch(trimmed)
			if m == nil {
				continue
			}
			// Without a number or colon, a heading or bold line such as
			// "### Bugs & Security" names a section, not an issue.
			titled := m[1] != "" || m[2] != ""
			if !titled && (strings.HasPrefix(trimmed, "#") || isSectionTitle(trimmed)) {
				continue
			}
			text = m[3]
		case isHeading(trimmed) || isEmphasis(trimmed):
			continue
		default:
			text = trimmed
		}

		if runeLen(desc.String()) >= descriptionBudget {
			continue
		}
		text = cleanInline(text)
		if text == "" {
			continue
		}
		if desc.Len() > 0 {
			desc.WriteByte(' ')
		}
		desc.WriteString(text)
	}

	d := finishDescription(desc.String())
	if runeLen(d) < MinDescriptionLen {
		return models.Candidate{}, false
	}
	return models.Candidate{
		Description: d,
		Suggestion:  finishSuggestion(suggestion),
		Effort:      effort,
	}, true
}

func isHeading(line string) bool {
	return strings.HasPrefix(line, "#") || strings.HasPrefix(line, "---") || strings.HasPrefix(line, "===")
}

// isEmphasis reports lines that open with bold or italic text rather than
// a list bullet.
func isEmphasis(line string) bool {
	if strings.HasPrefix(line, "**") || strings.HasPrefix(line, "__") {
		return true
	}
	if len(line) > 1 && (line[0] == '*' || line[0] == '_') && line[1] != ' ' {
		return true
	}
	return false
}

// isSectionTitle reports lines wholly wrapped in emphasis, optionally
// behind a list bullet: "**Bugs & Security**", "* _Performance_".
func isSectionTitle(line string) bool {
	line = strings.TrimSpace(bulletRe.ReplaceAllString(line, ""))
	for _, w := range []string{"**", "__", "*", "_"} {
		if len(line) > 2*len(w) && strings.HasPrefix(line, w) && strings.HasSuffix(line, w) {
			return true
		}
	}
	return false
}
