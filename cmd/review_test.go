package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/guardian/internal/git"
	"github.com/joescharf/guardian/internal/models"
	"github.com/joescharf/guardian/internal/review"
	"github.com/joescharf/guardian/internal/store"
)

const fakeCritique = "The code has a few problems.\n\n" +
	"**Issue:** The file handle is never closed after reading.\n" +
	"**Explanation:** Use a with block so the handle is released.\n\n" +
	"**Issue:** User input is passed straight to eval.\n" +
	"**Explanation:** Parse the value with int() instead.\n"

// reviewEnv sets up testEnv plus a fake Ollama server streaming critique.
func reviewEnv(t *testing.T, critique string) (dir string, out *bytes.Buffer, prompts *[]string) {
	t.Helper()
	dir = testEnv(t)

	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Prompt string `json:"prompt"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		seen = append(seen, req.Prompt)

		// Split the critique into three chunks to exercise reassembly.
		n := len(critique) / 3
		for _, chunk := range []string{critique[:n], critique[n : 2*n], critique[2*n:]} {
			line, _ := json.Marshal(map[string]any{"response": chunk, "done": false})
			fmt.Fprintf(w, "%s\n", line)
		}
		fmt.Fprintln(w, `{"response":"","done":true}`)
	}))
	t.Cleanup(srv.Close)
	viper.Set("ollama.url", srv.URL)

	out = &bytes.Buffer{}
	ui.Out = out
	ui.ErrOut = out

	origTerm := stdinIsTerminal
	stdinIsTerminal = func() bool { return true }
	t.Cleanup(func() {
		stdinIsTerminal = origTerm
		stdinReader = os.Stdin
		reviewDirectory, reviewRules, reviewPlain = "", "", false
		dryRun = false
	})
	return dir, out, &seen
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func openIssuesFor(t *testing.T, file string) []*models.Issue {
	t.Helper()
	s, err := getStore()
	require.NoError(t, err)
	issues, err := s.ListIssues(context.Background(), store.IssueListFilter{FilePath: file, Status: models.IssueStatusOpen})
	require.NoError(t, err)
	return issues
}

func TestReviewRun_StoresIssuesOnce(t *testing.T) {
	dir, out, prompts := reviewEnv(t, fakeCritique)
	file := writeFile(t, filepath.Join(dir, "app.py"), "data = open('x').read()\neval(input())\n")

	require.NoError(t, reviewRun(context.Background(), []string{file}))
	assert.Contains(t, out.String(), "2 issue(s) found, 2 new")
	assert.Contains(t, out.String(), "never closed", "fragments are echoed as they arrive")
	require.Len(t, *prompts, 1)
	assert.Contains(t, (*prompts)[0], "eval(input())")

	require.NoError(t, reviewRun(context.Background(), []string{file}))
	assert.Contains(t, out.String(), "2 issue(s) found, 0 new")

	issues := openIssuesFor(t, file)
	require.Len(t, issues, 2)
	assert.Equal(t, "Use a with block so the handle is released.", issues[0].Suggestion)
}

func TestReviewRun_PlainPrintsCritiqueOnce(t *testing.T) {
	dir, out, _ := reviewEnv(t, fakeCritique)
	file := writeFile(t, filepath.Join(dir, "app.py"), "print(1)\n")
	reviewPlain = true

	require.NoError(t, reviewRun(context.Background(), []string{file}))
	assert.Equal(t, 1, strings.Count(out.String(), "The code has a few problems."))
}

func TestReviewRun_RulesFile(t *testing.T) {
	dir, _, prompts := reviewEnv(t, fakeCritique)
	file := writeFile(t, filepath.Join(dir, "app.py"), "print(1)\n")
	reviewRules = writeFile(t, filepath.Join(dir, "rules.txt"), "Flag every print call.")

	require.NoError(t, reviewRun(context.Background(), []string{file}))
	require.Len(t, *prompts, 1)
	assert.Contains(t, (*prompts)[0], "Flag every print call.")
}

func TestReviewRun_MissingRulesFile(t *testing.T) {
	dir, _, prompts := reviewEnv(t, fakeCritique)
	file := writeFile(t, filepath.Join(dir, "app.py"), "print(1)\n")
	reviewRules = filepath.Join(dir, "missing.txt")

	err := reviewRun(context.Background(), []string{file})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rules file")
	assert.Empty(t, *prompts)
}

func TestReviewRun_Stdin(t *testing.T) {
	_, _, prompts := reviewEnv(t, fakeCritique)
	stdinIsTerminal = func() bool { return false }
	stdinReader = strings.NewReader("x = eval(input())\n")

	require.NoError(t, reviewRun(context.Background(), nil))
	require.Len(t, *prompts, 1)
	assert.Len(t, openIssuesFor(t, review.StdinUnitID), 2)
}

func TestReviewRun_NoInput(t *testing.T) {
	reviewEnv(t, fakeCritique)

	err := reviewRun(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing to review")
}

func TestReviewRun_DryRun(t *testing.T) {
	dir, out, prompts := reviewEnv(t, fakeCritique)
	file := writeFile(t, filepath.Join(dir, "app.py"), "print(1)\n")
	dryRun = true
	ui.DryRun = true

	require.NoError(t, reviewRun(context.Background(), []string{file}))
	assert.Contains(t, out.String(), "Would review")
	assert.Empty(t, *prompts)
}

func TestReviewRun_ServerFailure(t *testing.T) {
	dir := testEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)
	viper.Set("ollama.url", srv.URL)
	out := &bytes.Buffer{}
	ui.Out, ui.ErrOut = out, out

	file := writeFile(t, filepath.Join(dir, "app.py"), "print(1)\n")
	require.NoError(t, reviewRun(context.Background(), []string{file}))
	assert.Contains(t, out.String(), "1 of 1 review(s) failed")
	assert.Contains(t, out.String(), "transport")
	assert.Empty(t, openIssuesFor(t, file))

	s, err := getStore()
	require.NoError(t, err)
	runs, err := s.ListRuns(context.Background(), file, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.FailureTransport, runs[0].Failure)
}

func TestScanDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.py"), "")
	writeFile(t, filepath.Join(dir, "pkg", "b.py"), "")
	writeFile(t, filepath.Join(dir, "pkg", "notes.md"), "")
	writeFile(t, filepath.Join(dir, ".venv", "c.py"), "")
	writeFile(t, filepath.Join(dir, "node_modules", "d.py"), "")
	writeFile(t, filepath.Join(dir, "web", "app.js"), "")

	paths, err := scanDirectory(dir, []string{"*.py"})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.py"),
		filepath.Join(dir, "pkg", "b.py"),
	}, paths)

	paths, err = scanDirectory(dir, []string{"*.py", "*.js"})
	require.NoError(t, err)
	assert.Len(t, paths, 3)

	_, err = scanDirectory(filepath.Join(dir, "a.py"), []string{"*.py"})
	assert.Error(t, err)
}

func TestCollectUnits_Directory(t *testing.T) {
	dir := testEnv(t)
	src := filepath.Join(dir, "src")
	writeFile(t, filepath.Join(src, "a.py"), "a = 1\n")
	writeFile(t, filepath.Join(src, "b.go"), "package b\n")
	viper.Set("review.include", []string{"*.py", "*.go"})

	units, err := collectUnits(nil, src)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, filepath.Join(src, "a.py"), units[0].ID)
	assert.Equal(t, "a = 1\n", units[0].Code)
}

func TestCollectUnits_MissingFile(t *testing.T) {
	testEnv(t)

	_, err := collectUnits([]string{"/nonexistent/app.py"}, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/nonexistent/app.py")
}

type stubGit struct {
	root    string
	changes []git.Change
}

func (s stubGit) RepoRoot(string) (string, error)       { return s.root, nil }
func (s stubGit) Changes(string) ([]git.Change, error) { return s.changes, nil }

func TestCollectUnits_Changed(t *testing.T) {
	dir := testEnv(t)
	writeFile(t, filepath.Join(dir, "app.py"), "print(1)\n")
	writeFile(t, filepath.Join(dir, "notes.md"), "# notes\n")

	orig := gitClient
	gitClient = stubGit{root: dir, changes: []git.Change{
		{Path: "app.py", Status: " M"},
		{Path: "notes.md", Status: "??"},
		{Path: "old.py", Status: " D"},
	}}
	reviewChanged = true
	t.Cleanup(func() {
		gitClient = orig
		reviewChanged = false
	})

	units, err := collectUnits(nil, "")
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, filepath.Join(dir, "app.py"), units[0].ID)
}
