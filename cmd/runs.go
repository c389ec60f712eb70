package cmd

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joescharf/guardian/internal/models"
	"github.com/joescharf/guardian/internal/output"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs [file]",
	Short: "Show review history",
	Long:  "List recent review runs, newest first, optionally for a single file.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var unit string
		if len(args) > 0 {
			unit = args[0]
		}
		return runsRun(unit)
	},
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "l", 20, "Maximum number of runs to show (0 for all)")
	rootCmd.AddCommand(runsCmd)
}

func runsRun(unit string) error {
	s, err := getStore()
	if err != nil {
		return err
	}

	runs, err := s.ListRuns(context.Background(), unit, runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		ui.Info("No reviews recorded yet.")
		return nil
	}

	table := ui.Table([]string{"Run", "File", "Model", "Fragments", "Issues", "New", "Result", "Started"})
	for _, r := range runs {
		result := output.Green("ok")
		switch {
		case r.FinishedAt == nil:
			result = output.Yellow("incomplete")
		case r.Failure != models.FailureNone:
			result = output.Red(string(r.Failure))
		}
		_ = table.Append([]string{
			shortRunID(r.ID),
			r.UnitID,
			r.Model,
			strconv.Itoa(r.FragmentCount),
			strconv.Itoa(r.Extracted),
			strconv.Itoa(r.Inserted),
			result,
			r.StartedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	_ = table.Render()
	return nil
}

// shortRunID returns a truncated ULID for display (first 12 chars).
func shortRunID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
