// Package review runs one unit of source code through the review pipeline:
// prompt, streamed critique, issue extraction, and persistence.
package review

import (
	"context"
	"iter"
	"strings"
	"unicode/utf8"

	"github.com/joescharf/guardian/internal/models"
)

// StdinUnitID identifies a unit read from standard input.
const StdinUnitID = "stdin"

// Streamer produces a response stream for a prompt.
type Streamer interface {
	Stream(ctx context.Context, prompt string) iter.Seq[models.Fragment]
	Model() string
}

// Extractor turns a complete critique into issue candidates.
type Extractor interface {
	Extract(text string) []models.Candidate
}

// Store is the subset of the issue store a review session writes to.
type Store interface {
	InsertIfNew(ctx context.Context, filePath string, c models.Candidate, runID string) (bool, error)
	CreateRun(ctx context.Context, run *models.ReviewRun) error
	FinishRun(ctx context.Context, run *models.ReviewRun) error
}

// Logger receives non-fatal problems. *output.UI satisfies it.
type Logger interface {
	Warning(format string, a ...any)
	VerboseLog(format string, a ...any)
}

type nopLogger struct{}

func (nopLogger) Warning(string, ...any)    {}
func (nopLogger) VerboseLog(string, ...any) {}

// Unit is one block of source text submitted for review.
type Unit struct {
	ID   string // file path, or StdinUnitID
	Code string
}

// Summary reports the outcome of reviewing one unit.
type Summary struct {
	UnitID        string
	RunID         string
	TextLength    int
	FragmentCount int
	IssueCount    int // candidates extracted from the critique
	Inserted      int // candidates stored as new open issues
	Failure       models.FailureKind
	Skipped       bool
}

// Session sequences prompt building, streaming, extraction and storage.
// Units are processed one at a time; a Session is not safe for concurrent use.
type Session struct {
	streamer  Streamer
	extractor Extractor
	store     Store
	log       Logger

	// OnFragment, when set, receives every fragment as it arrives,
	// including a terminal diagnostic.
	OnFragment func(models.Fragment)
}

// NewSession creates a session. A nil logger discards messages.
func NewSession(s Streamer, e Extractor, st Store, log Logger) *Session {
	if log == nil {
		log = nopLogger{}
	}
	return &Session{streamer: s, extractor: e, store: st, log: log}
}

// Run reviews one unit, appending rules to the prompt when non-blank.
// It always returns a Summary: transport failures, extraction misses and
// per-issue storage errors are reported, never raised.
func (s *Session) Run(ctx context.Context, unit Unit, rules string) Summary {
	sum := Summary{UnitID: unit.ID}
	if strings.TrimSpace(unit.Code) == "" {
		sum.Skipped = true
		return sum
	}

	run := &models.ReviewRun{UnitID: unit.ID, Model: s.streamer.Model()}
	if err := s.store.CreateRun(ctx, run); err != nil {
		s.log.Warning("Could not record review run for %s: %v", unit.ID, err)
		run = nil
	} else {
		sum.RunID = run.ID
	}

	prompt := BuildPrompt(unit.Code, rules, LanguageFor(unit.ID))

	var text strings.Builder
	for frag := range s.streamer.Stream(ctx, prompt) {
		if s.OnFragment != nil {
			s.OnFragment(frag)
		}
		if frag.Failed() {
			sum.Failure = frag.Failure
			continue
		}
		sum.FragmentCount++
		text.WriteString(frag.Text)
	}

	if sum.Failure != models.FailureNone {
		s.log.VerboseLog("Stream for %s ended with %s failure after %d fragments", unit.ID, sum.Failure, sum.FragmentCount)
	} else {
		full := text.String()
		sum.TextLength = utf8.RuneCountInString(full)
		s.persist(ctx, unit.ID, full, &sum)
	}

	if run != nil {
		run.FragmentCount = sum.FragmentCount
		run.TextLength = sum.TextLength
		run.Extracted = sum.IssueCount
		run.Inserted = sum.Inserted
		run.Failure = sum.Failure
		if err := s.store.FinishRun(ctx, run); err != nil {
			s.log.Warning("Could not finish review run %s: %v", run.ID, err)
		}
	}
	return sum
}

func (s *Session) persist(ctx context.Context, unitID, text string, sum *Summary) {
	candidates := s.extractor.Extract(text)
	sum.IssueCount = len(candidates)
	s.log.VerboseLog("Extracted %d issue(s) from %d characters", len(candidates), sum.TextLength)

	for _, c := range candidates {
		inserted, err := s.store.InsertIfNew(ctx, unitID, c, sum.RunID)
		if err != nil {
			s.log.Warning("Skipping issue %q: %v", c.Description, err)
			continue
		}
		if inserted {
			sum.Inserted++
		} else {
			s.log.VerboseLog("Already open: %s", c.Description)
		}
	}
}
