package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/guardian/internal/models"
	"github.com/joescharf/guardian/internal/store"
)

func setupTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	return NewServer(s), s
}

func seedIssue(t *testing.T, s store.Store, file, desc string) *models.Issue {
	t.Helper()
	ctx := context.Background()
	inserted, err := s.InsertIfNew(ctx, file, models.Candidate{
		Description: desc,
		Suggestion:  "No suggestion provided",
		Effort:      models.EffortMedium,
	}, "")
	require.NoError(t, err)
	require.True(t, inserted)

	issues, err := s.ListIssues(ctx, store.IssueListFilter{FilePath: file})
	require.NoError(t, err)
	for _, i := range issues {
		if i.Description == desc {
			return i
		}
	}
	t.Fatalf("seeded issue %q not found", desc)
	return nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestListIssues_Empty(t *testing.T) {
	srv, _ := setupTestServer(t)

	w := do(t, srv.Router(), "GET", "/api/v1/issues", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestListIssues_Filters(t *testing.T) {
	srv, s := setupTestServer(t)
	router := srv.Router()
	a := seedIssue(t, s, "app.py", "File handle is never closed.")
	seedIssue(t, s, "util.py", "Mutable default argument is shared.")
	require.NoError(t, s.SetStatus(context.Background(), a.ID, models.IssueStatusResolved))

	w := do(t, router, "GET", "/api/v1/issues?file=app.py", "")
	require.Equal(t, http.StatusOK, w.Code)
	var issues []*models.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issues))
	require.Len(t, issues, 1)
	assert.Equal(t, models.IssueStatusResolved, issues[0].Status)

	w = do(t, router, "GET", "/api/v1/issues?status=open", "")
	require.Equal(t, http.StatusOK, w.Code)
	issues = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issues))
	require.Len(t, issues, 1)
	assert.Equal(t, "util.py", issues[0].FilePath)

	w = do(t, router, "GET", "/api/v1/issues?status=closed", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetIssue(t *testing.T) {
	srv, s := setupTestServer(t)
	router := srv.Router()
	issue := seedIssue(t, s, "app.py", "File handle is never closed.")

	w := do(t, router, "GET", "/api/v1/issues/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, issue.ID, got.ID)
	assert.Equal(t, "File handle is never closed.", got.Description)

	assert.Equal(t, http.StatusNotFound, do(t, router, "GET", "/api/v1/issues/99", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, "GET", "/api/v1/issues/abc", "").Code)
}

func TestSetStatus(t *testing.T) {
	srv, s := setupTestServer(t)
	router := srv.Router()
	seedIssue(t, s, "app.py", "File handle is never closed.")

	w := do(t, router, "PUT", "/api/v1/issues/1/status", `{"status":"wontfix"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got models.Issue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, models.IssueStatusWontfix, got.Status)

	assert.Equal(t, http.StatusBadRequest, do(t, router, "PUT", "/api/v1/issues/1/status", `{"status":"done"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, "PUT", "/api/v1/issues/1/status", `not json`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, router, "PUT", "/api/v1/issues/7/status", `{"status":"open"}`).Code)
}

func TestSetStatus_ReopenConflict(t *testing.T) {
	srv, s := setupTestServer(t)
	router := srv.Router()
	ctx := context.Background()
	first := seedIssue(t, s, "app.py", "File handle is never closed.")
	require.NoError(t, s.SetStatus(ctx, first.ID, models.IssueStatusResolved))
	// The same problem is found again and recorded as a new open issue.
	seedIssue(t, s, "app.py", "File handle is never closed.")

	w := do(t, router, "PUT", "/api/v1/issues/1/status", `{"status":"open"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestComments(t *testing.T) {
	srv, s := setupTestServer(t)
	router := srv.Router()
	seedIssue(t, s, "app.py", "File handle is never closed.")

	w := do(t, router, "GET", "/api/v1/issues/1/comments", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = do(t, router, "POST", "/api/v1/issues/1/comments", `{"author":"dana","text":"Use a with block."}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var c models.Comment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &c))
	assert.Equal(t, "dana", c.Author)
	assert.False(t, c.CreatedAt.IsZero())

	w = do(t, router, "POST", "/api/v1/issues/1/comments", `{"author":" ","text":"anonymous"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, "POST", "/api/v1/issues/5/comments", `{"author":"dana","text":"nowhere"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, router, "GET", "/api/v1/issues/1/comments", "")
	var comments []*models.Comment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &comments))
	require.Len(t, comments, 1)
	assert.Equal(t, "Use a with block.", comments[0].Text)
}

func TestListRuns(t *testing.T) {
	srv, s := setupTestServer(t)
	router := srv.Router()
	ctx := context.Background()

	run := &models.ReviewRun{UnitID: "app.py", Model: "gemma:2b"}
	require.NoError(t, s.CreateRun(ctx, run))
	run.FragmentCount = 12
	require.NoError(t, s.FinishRun(ctx, run))
	require.NoError(t, s.CreateRun(ctx, &models.ReviewRun{UnitID: "util.py", Model: "gemma:2b"}))

	w := do(t, router, "GET", "/api/v1/runs?file=app.py", "")
	require.Equal(t, http.StatusOK, w.Code)
	var runs []*models.ReviewRun
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)
	assert.Equal(t, 12, runs[0].FragmentCount)

	assert.Equal(t, http.StatusBadRequest, do(t, router, "GET", "/api/v1/runs?limit=x", "").Code)
}

func TestCORSPreflight(t *testing.T) {
	srv, _ := setupTestServer(t)

	w := do(t, srv.Router(), "OPTIONS", "/api/v1/issues", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
