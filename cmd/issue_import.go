package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/guardian/internal/extract"
	"github.com/joescharf/guardian/internal/models"
	"github.com/joescharf/guardian/internal/output"
	"github.com/joescharf/guardian/internal/store"
)

var importFor string

var issueImportCmd = &cobra.Command{
	Use:   "import <critique-file>",
	Short: "Record issues from a saved review critique",
	Long: `Extract issues from a critique saved earlier (for example with
'guardian review --plain > review.md') and record them against a source file.

The same extraction and duplicate rules as 'guardian review' apply: an issue
that is already open for the file is not recorded twice.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueImportRun(args[0])
	},
}

func init() {
	issueImportCmd.Flags().StringVar(&importFor, "for", "", "Source file the critique is about (required)")
	_ = issueImportCmd.MarkFlagRequired("for")
	issueCmd.AddCommand(issueImportCmd)
}

func issueImportRun(file string) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	content := string(data)
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("file is empty: %s", file)
	}

	extractor := extract.New(extract.Options{ParseEffort: viper.GetBool("extract.parse_effort")})
	candidates := extractor.Extract(content)
	if len(candidates) == 0 {
		ui.Info("No issues found in %s.", file)
		return nil
	}

	previewCandidates(candidates)

	if dryRun {
		ui.DryRunMsg("Would record up to %d issues for %s", len(candidates), importFor)
		return nil
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	inserted, err := importCandidates(context.Background(), s, filepath.Clean(importFor), candidates)
	if err != nil {
		return err
	}
	ui.Success("Recorded %d new issue(s) for %s (%d already open)",
		inserted, output.Cyan(importFor), len(candidates)-inserted)
	return nil
}

func previewCandidates(candidates []models.Candidate) {
	table := ui.Table([]string{"#", "Description", "Effort"})
	for i, c := range candidates {
		_ = table.Append([]string{
			fmt.Sprintf("%d", i+1),
			truncate(c.Description, 70),
			output.EffortColor(string(c.Effort)),
		})
	}
	_ = table.Render()
}

// importCandidates stores each candidate unless an identical one is open.
func importCandidates(ctx context.Context, s store.Store, filePath string, candidates []models.Candidate) (int, error) {
	inserted := 0
	for _, c := range candidates {
		ok, err := s.InsertIfNew(ctx, filePath, c, "")
		if err != nil {
			return inserted, fmt.Errorf("record issue %q: %w", c.Description, err)
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}
