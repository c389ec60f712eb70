package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/joescharf/guardian/internal/models"
	"github.com/joescharf/guardian/internal/store"
)

// Server provides the REST API handlers for browsing and triaging issues.
type Server struct {
	store store.Store
}

// NewServer creates a new API server.
func NewServer(s store.Store) *Server {
	return &Server{store: s}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/issues", s.listIssues)
	mux.HandleFunc("GET /api/v1/issues/{id}", s.getIssue)
	mux.HandleFunc("PUT /api/v1/issues/{id}/status", s.setStatus)
	mux.HandleFunc("GET /api/v1/issues/{id}/comments", s.listComments)
	mux.HandleFunc("POST /api/v1/issues/{id}/comments", s.addComment)

	mux.HandleFunc("GET /api/v1/runs", s.listRuns)

	return logMiddleware(corsMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// storeErrorStatus maps store sentinels to HTTP status codes.
func storeErrorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrInvalidStatus), errors.Is(err, store.ErrAuthorRequired):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrDuplicateOpen):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// issueID parses the {id} path value.
func issueID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil && id > 0
}

// --- Issues ---

func (s *Server) listIssues(w http.ResponseWriter, r *http.Request) {
	filter := store.IssueListFilter{
		FilePath: r.URL.Query().Get("file"),
		Status:   models.IssueStatus(r.URL.Query().Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, store.ErrInvalidStatus.Error())
		return
	}
	issues, err := s.store.ListIssues(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if issues == nil {
		issues = []*models.Issue{}
	}
	writeJSON(w, http.StatusOK, issues)
}

func (s *Server) getIssue(w http.ResponseWriter, r *http.Request) {
	id, ok := issueID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid issue id")
		return
	}
	issue, err := s.store.GetIssue(r.Context(), id)
	if err != nil {
		writeError(w, storeErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

func (s *Server) setStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := issueID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid issue id")
		return
	}
	var body struct {
		Status models.IssueStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	// SetStatus ignores unknown ids, so check existence first.
	if _, err := s.store.GetIssue(r.Context(), id); err != nil {
		writeError(w, storeErrorStatus(err), err.Error())
		return
	}
	if err := s.store.SetStatus(r.Context(), id, body.Status); err != nil {
		writeError(w, storeErrorStatus(err), err.Error())
		return
	}

	issue, err := s.store.GetIssue(r.Context(), id)
	if err != nil {
		writeError(w, storeErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, issue)
}

// --- Comments ---

func (s *Server) listComments(w http.ResponseWriter, r *http.Request) {
	id, ok := issueID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid issue id")
		return
	}
	if _, err := s.store.GetIssue(r.Context(), id); err != nil {
		writeError(w, storeErrorStatus(err), err.Error())
		return
	}
	comments, err := s.store.ListComments(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if comments == nil {
		comments = []*models.Comment{}
	}
	writeJSON(w, http.StatusOK, comments)
}

func (s *Server) addComment(w http.ResponseWriter, r *http.Request) {
	id, ok := issueID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid issue id")
		return
	}
	var body struct {
		Author string `json:"author"`
		Text   string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if _, err := s.store.GetIssue(r.Context(), id); err != nil {
		writeError(w, storeErrorStatus(err), err.Error())
		return
	}

	c, err := s.store.AddComment(r.Context(), id, body.Author, body.Text)
	if err != nil {
		if storeErrorStatus(err) == http.StatusInternalServerError {
			slog.Warn("failed to add comment", "issue", id, "error", err)
		}
		writeError(w, storeErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// --- Review runs ---

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	runs, err := s.store.ListRuns(r.Context(), r.URL.Query().Get("file"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []*models.ReviewRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}
