package cmd

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/guardian/internal/extract"
	"github.com/joescharf/guardian/internal/git"
	"github.com/joescharf/guardian/internal/models"
	"github.com/joescharf/guardian/internal/output"
	"github.com/joescharf/guardian/internal/review"
)

var (
	reviewDirectory string
	reviewRules     string
	reviewPlain     bool
	reviewChanged   bool
)

// Replaceable in tests.
var (
	stdinReader     io.Reader = os.Stdin
	stdinIsTerminal           = func() bool {
		fd := os.Stdin.Fd()
		return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
	}
	gitClient git.Client = git.NewClient()
)

// skipDirs are never descended into during a directory scan.
var skipDirs = map[string]bool{
	"node_modules": true,
	"__pycache__":  true,
	"venv":         true,
	"vendor":       true,
}

var reviewCmd = &cobra.Command{
	Use:   "review [files...]",
	Short: "Review source files and record the issues found",
	Long: `Send each file to the configured model for review, stream the critique,
and store every extracted issue that is not already open for that file.

Files can be named as arguments, found with --directory (matching the
review.include patterns), selected with --changed (uncommitted files in the
current git repository), or piped on stdin. Files are reviewed one at a time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewRun(cmd.Context(), args)
	},
}

func init() {
	reviewCmd.Flags().StringVarP(&reviewDirectory, "directory", "d", "", "Review all matching files under a directory")
	reviewCmd.Flags().StringVarP(&reviewRules, "rules", "r", "", "File with additional review rules (overrides review.rules_file)")
	reviewCmd.Flags().BoolVar(&reviewChanged, "changed", false, "Review files with uncommitted changes in the current git repository")
	reviewCmd.Flags().BoolVar(&reviewPlain, "plain", false, "No colors; print each critique once it is complete")
	rootCmd.AddCommand(reviewCmd)
}

func reviewRun(ctx context.Context, args []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if reviewPlain {
		output.DisableColor()
	}

	units, err := collectUnits(args, reviewDirectory)
	if err != nil {
		return err
	}
	if len(units) == 0 {
		ui.Info("No files to review.")
		return nil
	}

	rules, err := loadRules()
	if err != nil {
		return err
	}

	if dryRun {
		for _, u := range units {
			ui.DryRunMsg("Would review %s (%d bytes)", u.ID, len(u.Code))
		}
		return nil
	}

	streamer, err := newStreamer()
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}

	extractor := extract.New(extract.Options{ParseEffort: viper.GetBool("extract.parse_effort")})
	sess := review.NewSession(streamer, extractor, s, ui)

	var critique strings.Builder
	sess.OnFragment = func(f models.Fragment) {
		if reviewPlain {
			critique.WriteString(f.Text)
			return
		}
		ui.Raw(f.Text)
	}

	failed := 0
	for _, u := range units {
		ui.Info("Reviewing %s with %s", output.Cyan(u.ID), streamer.Model())
		critique.Reset()

		sum := sess.Run(ctx, u, rules)

		if reviewPlain {
			fmt.Fprint(ui.Out, critique.String())
		}
		fmt.Fprintln(ui.Out)
		reportSummary(sum)
		if sum.Failure != models.FailureNone {
			failed++
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	// Failed streams are reported, not fatal: the store is unchanged for them.
	if failed > 0 {
		ui.Warning("%d of %d review(s) failed", failed, len(units))
	}
	return nil
}

func reportSummary(sum review.Summary) {
	switch {
	case sum.Skipped:
		ui.Info("Skipped %s: no code", sum.UnitID)
	case sum.Failure != models.FailureNone:
		ui.Error("Review of %s failed (%s); no issues recorded", sum.UnitID, sum.Failure)
	default:
		ui.VerboseLog("Received %d fragments, %d characters", sum.FragmentCount, sum.TextLength)
		ui.Success("%s: %d issue(s) found, %d new", sum.UnitID, sum.IssueCount, sum.Inserted)
	}
}

// collectUnits resolves the review input: named files, then changed files
// or a directory scan, then stdin when nothing was named and stdin is not
// a terminal.
func collectUnits(files []string, dir string) ([]review.Unit, error) {
	var units []review.Unit
	for _, f := range files {
		u, err := readUnit(f)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}

	include := viper.GetStringSlice("review.include")
	var paths []string
	switch {
	case reviewChanged:
		start := dir
		if start == "" {
			start = "."
		}
		changed, err := git.ChangedFiles(gitClient, start, include)
		if err != nil {
			return nil, fmt.Errorf("find changed files: %w", err)
		}
		if len(changed) == 0 {
			ui.Info("No uncommitted files match %s", strings.Join(include, ", "))
		}
		paths = changed
	case dir != "":
		scanned, err := scanDirectory(dir, include)
		if err != nil {
			return nil, err
		}
		if len(scanned) == 0 {
			ui.Warning("No files in %s match %s", dir, strings.Join(include, ", "))
		}
		paths = scanned
	}
	for _, p := range paths {
		u, err := readUnit(p)
		if err != nil {
			return nil, err
		}
		units = append(units, u)
	}

	if len(files) == 0 && dir == "" && !reviewChanged {
		if stdinIsTerminal() {
			return nil, fmt.Errorf("nothing to review: pass files, --directory, --changed, or pipe code on stdin")
		}
		data, err := io.ReadAll(stdinReader)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		units = append(units, review.Unit{ID: review.StdinUnitID, Code: string(data)})
	}
	return units, nil
}

func readUnit(path string) (review.Unit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return review.Unit{}, fmt.Errorf("read %s: %w", path, err)
	}
	return review.Unit{ID: filepath.Clean(path), Code: string(data)}, nil
}

// scanDirectory walks root in lexical order and returns files whose base
// name matches any include pattern. Hidden directories are skipped.
func scanDirectory(root string, include []string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan %s: not a directory", root)
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (strings.HasPrefix(name, ".") || skipDirs[name]) {
				return filepath.SkipDir
			}
			return nil
		}
		for _, pattern := range include {
			if ok, _ := filepath.Match(pattern, d.Name()); ok {
				paths = append(paths, path)
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	return paths, nil
}

// loadRules returns the custom rule text, or "" when no rules file is set.
func loadRules() (string, error) {
	path := reviewRules
	if path == "" {
		path = viper.GetString("review.rules_file")
	}
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read rules file: %w", err)
	}
	ui.VerboseLog("Loaded custom rules from %s", path)
	return string(data), nil
}
