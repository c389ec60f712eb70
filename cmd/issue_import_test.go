package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/guardian/internal/models"
	"github.com/joescharf/guardian/internal/store"
)

const savedCritique = `# Review of app.py

### Bugs & Security

* **[Issue]:** File handle is never closed after reading.
* **[Explanation]:** Use a with block.
* **[Remediation Effort]:** Low

* **[Issue]:** User input is passed straight to eval.
* **[Explanation]:** Parse the value with int() instead.
* **[Remediation Effort]:** High
`

func TestIssueImport(t *testing.T) {
	out := issueEnv(t)
	t.Cleanup(func() { importFor = "" })
	dir := t.TempDir()
	critique := filepath.Join(dir, "review.md")
	require.NoError(t, os.WriteFile(critique, []byte(savedCritique), 0644))

	// "File handle..." is already open for app.py from issueEnv.
	importFor = "app.py"
	require.NoError(t, issueImportRun(critique))
	assert.Contains(t, out.String(), "Recorded 1 new issue(s)")

	s, err := getStore()
	require.NoError(t, err)
	issues, err := s.ListIssues(context.Background(), store.IssueListFilter{FilePath: "app.py", Status: models.IssueStatusOpen})
	require.NoError(t, err)
	assert.Len(t, issues, 3)

	out.Reset()
	require.NoError(t, issueImportRun(critique))
	assert.Contains(t, out.String(), "Recorded 0 new issue(s)")
}

func TestIssueImport_DryRun(t *testing.T) {
	out := issueEnv(t)
	t.Cleanup(func() { importFor = "" })
	dryRun = true
	ui.DryRun = true
	critique := filepath.Join(t.TempDir(), "review.md")
	require.NoError(t, os.WriteFile(critique, []byte(savedCritique), 0644))

	importFor = "new.py"
	require.NoError(t, issueImportRun(critique))
	assert.Contains(t, out.String(), "Would record up to 2 issues for new.py")

	s, err := getStore()
	require.NoError(t, err)
	issues, err := s.ListIssues(context.Background(), store.IssueListFilter{FilePath: "new.py"})
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestIssueImport_Errors(t *testing.T) {
	issueEnv(t)
	dir := t.TempDir()

	err := issueImportRun(filepath.Join(dir, "missing.md"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read file")

	empty := filepath.Join(dir, "empty.md")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0644))
	err = issueImportRun(empty)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file is empty")
}

func TestImportCandidates_Dedup(t *testing.T) {
	issueEnv(t)
	s, err := getStore()
	require.NoError(t, err)

	cands := []models.Candidate{
		{Description: "Loop variable captured by closure.", Suggestion: "Copy it first.", Effort: models.EffortMedium},
		{Description: "Loop variable captured by closure.", Suggestion: "Copy it first.", Effort: models.EffortMedium},
	}
	n, err := importCandidates(context.Background(), s, "worker.py", cands)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
