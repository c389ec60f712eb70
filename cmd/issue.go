package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/guardian/internal/models"
	"github.com/joescharf/guardian/internal/output"
	"github.com/joescharf/guardian/internal/store"
)

var (
	issueFile    string
	issueStatus  string
	issueAuthor  string
	issueComment string
)

var issueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Browse and triage recorded issues",
	Long:  "List issues found by reviews, change their status, and keep notes on them.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun()
	},
}

var issueListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueListRun()
	},
}

var issueShowCmd = &cobra.Command{
	Use:   "show <issue-id>",
	Short: "Show issue details and comments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueShowRun(args[0])
	},
}

var issueResolveCmd = &cobra.Command{
	Use:   "resolve <issue-id>...",
	Short: "Mark issues as resolved",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueStatusRun(args, models.IssueStatusResolved)
	},
}

var issueWontfixCmd = &cobra.Command{
	Use:   "wontfix <issue-id>...",
	Short: "Mark issues as won't fix",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueStatusRun(args, models.IssueStatusWontfix)
	},
}

var issueReopenCmd = &cobra.Command{
	Use:   "reopen <issue-id>...",
	Short: "Reopen resolved or won't-fix issues",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueStatusRun(args, models.IssueStatusOpen)
	},
}

var issueCommentCmd = &cobra.Command{
	Use:   "comment <issue-id> <text>...",
	Short: "Add a comment to an issue",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issueCommentRun(args[0], strings.Join(args[1:], " "))
	},
}

func init() {
	issueListCmd.Flags().StringVarP(&issueFile, "file", "f", "", "Filter by file path")
	issueListCmd.Flags().StringVar(&issueStatus, "status", "", "Filter by status: open, resolved, wontfix")

	for _, c := range []*cobra.Command{issueResolveCmd, issueWontfixCmd, issueReopenCmd} {
		c.Flags().StringVarP(&issueComment, "comment", "m", "", "Comment to record with the status change")
		c.Flags().StringVar(&issueAuthor, "author", defaultAuthor(), "Comment author")
	}
	issueCommentCmd.Flags().StringVar(&issueAuthor, "author", defaultAuthor(), "Comment author")

	issueCmd.AddCommand(issueListCmd)
	issueCmd.AddCommand(issueShowCmd)
	issueCmd.AddCommand(issueResolveCmd)
	issueCmd.AddCommand(issueWontfixCmd)
	issueCmd.AddCommand(issueReopenCmd)
	issueCmd.AddCommand(issueCommentCmd)
	rootCmd.AddCommand(issueCmd)
}

func defaultAuthor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return os.Getenv("USERNAME")
}

func issueListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	filter := store.IssueListFilter{
		FilePath: issueFile,
		Status:   models.IssueStatus(issueStatus),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return fmt.Errorf("%w: %q", store.ErrInvalidStatus, issueStatus)
	}

	issues, err := s.ListIssues(ctx, filter)
	if err != nil {
		return err
	}

	if len(issues) == 0 {
		ui.Info("No issues found.")
		return nil
	}

	table := ui.Table([]string{"ID", "File", "Description", "Effort", "Status"})
	for _, issue := range issues {
		_ = table.Append([]string{
			strconv.FormatInt(issue.ID, 10),
			issue.FilePath,
			truncate(issue.Description, 60),
			output.EffortColor(string(issue.Effort)),
			output.StatusColor(string(issue.Status)),
		})
	}
	_ = table.Render()
	return nil
}

func issueShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue, err := findIssue(ctx, s, id)
	if err != nil {
		return err
	}

	fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(fmt.Sprintf("#%d", issue.ID)), issue.Description)
	fmt.Fprintf(ui.Out, "  File:       %s\n", issue.FilePath)
	fmt.Fprintf(ui.Out, "  Status:     %s\n", output.StatusColor(string(issue.Status)))
	fmt.Fprintf(ui.Out, "  Effort:     %s\n", output.EffortColor(string(issue.Effort)))
	fmt.Fprintf(ui.Out, "  Suggestion: %s\n", issue.Suggestion)
	if issue.RunID != "" {
		fmt.Fprintf(ui.Out, "  Run:        %s\n", issue.RunID)
	}
	fmt.Fprintf(ui.Out, "  Created:    %s\n", issue.CreatedAt.Format(time.RFC3339))
	if !issue.UpdatedAt.Equal(issue.CreatedAt) {
		fmt.Fprintf(ui.Out, "  Updated:    %s\n", issue.UpdatedAt.Format(time.RFC3339))
	}

	comments, err := s.ListComments(ctx, issue.ID)
	if err != nil {
		return err
	}
	if len(comments) > 0 {
		fmt.Fprintln(ui.Out)
		fmt.Fprintf(ui.Out, "  Comments (%d):\n", len(comments))
		for _, c := range comments {
			fmt.Fprintf(ui.Out, "    %s  %s: %s\n",
				c.CreatedAt.Local().Format("2006-01-02 15:04"), output.Cyan(c.Author), c.Text)
		}
	}
	return nil
}

func issueStatusRun(ids []string, status models.IssueStatus) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	for _, id := range ids {
		issue, err := findIssue(ctx, s, id)
		if err != nil {
			return err
		}

		if dryRun {
			ui.DryRunMsg("Would mark issue #%d as %s", issue.ID, status)
			continue
		}

		if err := s.SetStatus(ctx, issue.ID, status); err != nil {
			return fmt.Errorf("update issue #%d: %w", issue.ID, err)
		}
		if issueComment != "" {
			if _, err := s.AddComment(ctx, issue.ID, issueAuthor, issueComment); err != nil {
				ui.Warning("Status changed but comment failed: %v", err)
			}
		}
		ui.Success("Issue %s is now %s", output.Cyan(fmt.Sprintf("#%d", issue.ID)), output.StatusColor(string(status)))
	}
	return nil
}

func issueCommentRun(id, text string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	issue, err := findIssue(ctx, s, id)
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would comment on issue #%d as %q", issue.ID, issueAuthor)
		return nil
	}

	if _, err := s.AddComment(ctx, issue.ID, issueAuthor, text); err != nil {
		return fmt.Errorf("add comment: %w", err)
	}
	ui.Success("Comment added to issue %s", output.Cyan(fmt.Sprintf("#%d", issue.ID)))
	return nil
}

// findIssue parses an issue id (a leading # is allowed) and loads it.
func findIssue(ctx context.Context, s store.Store, id string) (*models.Issue, error) {
	n, err := strconv.ParseInt(strings.TrimPrefix(id, "#"), 10, 64)
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("invalid issue id: %s", id)
	}
	issue, err := s.GetIssue(ctx, n)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("issue not found: %s", id)
	}
	return issue, err
}

// truncate shortens s to at most n runes for table display.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
