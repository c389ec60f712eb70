package cmd

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/guardian/internal/models"
	"github.com/joescharf/guardian/internal/output"
	"github.com/joescharf/guardian/internal/store"
)

var statusOpenOnly bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show issue counts per file",
	Long: `Show a per-file overview: open, resolved and won't-fix issue counts
and when the file was last reviewed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return statusOverviewRun()
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusOpenOnly, "open", false, "Only show files with open issues")
	rootCmd.AddCommand(statusCmd)
}

// fileStatus aggregates one file's issues and latest review.
type fileStatus struct {
	Path       string
	Open       int
	Resolved   int
	WontFix    int
	LastReview time.Time
}

func statusOverviewRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	files, err := collectFileStatus(ctx, s)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		ui.Info("Nothing reviewed yet. Use 'guardian review <file>' to get started.")
		return nil
	}

	table := ui.Table([]string{"File", "Open", "Resolved", "Won't fix", "Last review"})
	for _, f := range files {
		if statusOpenOnly && f.Open == 0 {
			continue
		}
		open := strconv.Itoa(f.Open)
		if f.Open > 0 {
			open = output.Yellow(open)
		}
		last := "n/a"
		if !f.LastReview.IsZero() {
			last = timeAgo(f.LastReview)
		}
		_ = table.Append([]string{
			output.Cyan(f.Path),
			open,
			strconv.Itoa(f.Resolved),
			strconv.Itoa(f.WontFix),
			last,
		})
	}
	_ = table.Render()
	return nil
}

// collectFileStatus merges issue counts and review history per file,
// sorted by path.
func collectFileStatus(ctx context.Context, s store.Store) ([]*fileStatus, error) {
	issues, err := s.ListIssues(ctx, store.IssueListFilter{})
	if err != nil {
		return nil, err
	}
	runs, err := s.ListRuns(ctx, "", 0)
	if err != nil {
		return nil, err
	}

	byPath := make(map[string]*fileStatus)
	get := func(path string) *fileStatus {
		f, ok := byPath[path]
		if !ok {
			f = &fileStatus{Path: path}
			byPath[path] = f
		}
		return f
	}

	for _, i := range issues {
		f := get(i.FilePath)
		switch i.Status {
		case models.IssueStatusOpen:
			f.Open++
		case models.IssueStatusResolved:
			f.Resolved++
		case models.IssueStatusWontfix:
			f.WontFix++
		}
	}
	for _, r := range runs {
		f := get(r.UnitID)
		if r.StartedAt.After(f.LastReview) {
			f.LastReview = r.StartedAt
		}
	}

	out := make([]*fileStatus, 0, len(byPath))
	for _, f := range byPath {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func timeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	}
}
