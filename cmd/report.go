package cmd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/guardian/internal/models"
	"github.com/joescharf/guardian/internal/store"
)

var (
	reportFormat string
	exportType   string
	exportStatus string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export data as JSON, CSV, or Markdown",
	Long:  "Export issues or review runs in various formats.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportRun()
	},
}

func init() {
	exportCmd.Flags().StringVar(&reportFormat, "format", "json", "Output format: json, csv, markdown")
	exportCmd.Flags().StringVar(&exportType, "type", "issues", "Data type: issues, runs")
	exportCmd.Flags().StringVar(&exportStatus, "status", "", "Only issues with this status")
	rootCmd.AddCommand(exportCmd)
}

func exportRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	switch exportType {
	case "issues":
		return exportIssues(ctx, s)
	case "runs":
		return exportRuns(ctx, s)
	default:
		return fmt.Errorf("unknown export type: %s (use: issues, runs)", exportType)
	}
}

func exportIssues(ctx context.Context, s store.Store) error {
	filter := store.IssueListFilter{Status: models.IssueStatus(exportStatus)}
	if filter.Status != "" && !filter.Status.Valid() {
		return fmt.Errorf("%w: %q", store.ErrInvalidStatus, exportStatus)
	}
	issues, err := s.ListIssues(ctx, filter)
	if err != nil {
		return err
	}

	switch reportFormat {
	case "json":
		if issues == nil {
			issues = []*models.Issue{}
		}
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(issues)
	case "csv":
		w := csv.NewWriter(ui.Out)
		_ = w.Write([]string{"ID", "File", "Description", "Suggestion", "Effort", "Status", "Created"})
		for _, i := range issues {
			_ = w.Write([]string{
				strconv.FormatInt(i.ID, 10), i.FilePath, i.Description, i.Suggestion,
				string(i.Effort), string(i.Status), i.CreatedAt.Format("2006-01-02"),
			})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintln(ui.Out, "# Code Issues")
		var currentFile string
		for _, i := range issuesByFile(issues) {
			if i.FilePath != currentFile {
				currentFile = i.FilePath
				fmt.Fprintln(ui.Out)
				fmt.Fprintf(ui.Out, "## %s\n\n", currentFile)
				fmt.Fprintln(ui.Out, "| ID | Description | Effort | Status |")
				fmt.Fprintln(ui.Out, "|----|-------------|--------|--------|")
			}
			fmt.Fprintf(ui.Out, "| %d | %s | %s | %s |\n", i.ID, mdEscape(i.Description), i.Effort, i.Status)
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s (use: json, csv, markdown)", reportFormat)
	}
}

func exportRuns(ctx context.Context, s store.Store) error {
	runs, err := s.ListRuns(ctx, "", 0)
	if err != nil {
		return err
	}

	switch reportFormat {
	case "json":
		if runs == nil {
			runs = []*models.ReviewRun{}
		}
		enc := json.NewEncoder(ui.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(runs)
	case "csv":
		w := csv.NewWriter(ui.Out)
		_ = w.Write([]string{"ID", "File", "Model", "Fragments", "Characters", "Extracted", "Inserted", "Failure", "Started"})
		for _, r := range runs {
			_ = w.Write([]string{
				r.ID, r.UnitID, r.Model,
				strconv.Itoa(r.FragmentCount), strconv.Itoa(r.TextLength),
				strconv.Itoa(r.Extracted), strconv.Itoa(r.Inserted),
				string(r.Failure), r.StartedAt.Format("2006-01-02 15:04:05"),
			})
		}
		w.Flush()
		return w.Error()
	case "markdown":
		fmt.Fprintln(ui.Out, "# Review Runs")
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, "| Run | File | Model | Issues | New | Failure |")
		fmt.Fprintln(ui.Out, "|-----|------|-------|--------|-----|---------|")
		for _, r := range runs {
			fmt.Fprintf(ui.Out, "| %s | %s | %s | %d | %d | %s |\n",
				shortRunID(r.ID), r.UnitID, r.Model, r.Extracted, r.Inserted, r.Failure)
		}
		return nil
	default:
		return fmt.Errorf("unknown format: %s (use: json, csv, markdown)", reportFormat)
	}
}

// issuesByFile returns issues grouped by file path, keeping store order
// within each file.
func issuesByFile(issues []*models.Issue) []*models.Issue {
	var files []string
	byFile := make(map[string][]*models.Issue)
	for _, i := range issues {
		if _, ok := byFile[i.FilePath]; !ok {
			files = append(files, i.FilePath)
		}
		byFile[i.FilePath] = append(byFile[i.FilePath], i)
	}
	out := make([]*models.Issue, 0, len(issues))
	for _, f := range files {
		out = append(out, byFile[f]...)
	}
	return out
}

func mdEscape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
