package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/guardian/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection serializes every read and write, so the browser
	// surfaces and the review pipeline can share one store safely.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order. It is safe to call
// on every process start.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// --- Issues ---

const issueColumns = `id, file_path, description, suggestion, effort, status, run_id, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssue(row rowScanner) (*models.Issue, error) {
	issue := &models.Issue{}
	var effort, status string
	if err := row.Scan(&issue.ID, &issue.FilePath, &issue.Description, &issue.Suggestion,
		&effort, &status, &issue.RunID, &issue.CreatedAt, &issue.UpdatedAt); err != nil {
		return nil, err
	}
	issue.Effort = models.Effort(effort)
	issue.Status = models.IssueStatus(status)
	return issue, nil
}

// InsertIfNew creates an open issue for the candidate unless an open issue
// with the same file path and description already exists. The check and the
// insert run as one statement inside a transaction; the partial unique index
// on open issues backs the same rule for any other writer.
func (s *SQLiteStore) InsertIfNew(ctx context.Context, filePath string, c models.Candidate, runID string) (bool, error) {
	if strings.TrimSpace(c.Description) == "" {
		return false, fmt.Errorf("insert issue: description is required")
	}
	effort := c.Effort
	if effort == "" {
		effort = models.EffortMedium
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin insert issue: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO issues (file_path, description, suggestion, effort, status, run_id, created_at, updated_at)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM issues WHERE file_path = ? AND description = ? AND status = ?
		)`,
		filePath, c.Description, c.Suggestion, string(effort), string(models.IssueStatusOpen), runID, now, now,
		filePath, c.Description, string(models.IssueStatusOpen),
	)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert issue: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert issue: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit insert issue: %w", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) GetIssue(ctx context.Context, id int64) (*models.Issue, error) {
	issue, err := scanIssue(s.db.QueryRowContext(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("issue %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get issue: %w", err)
	}
	return issue, nil
}

// ListIssues returns issues ordered by status (open, resolved, wontfix),
// then file path and id.
func (s *SQLiteStore) ListIssues(ctx context.Context, filter IssueListFilter) ([]*models.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues`
	var conditions []string
	var args []any

	if filter.FilePath != "" {
		conditions = append(conditions, "file_path = ?")
		args = append(args, filter.FilePath)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY
		CASE status WHEN 'open' THEN 0 WHEN 'resolved' THEN 1 WHEN 'wontfix' THEN 2 ELSE 3 END,
		file_path, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var issues []*models.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// SetStatus changes an issue's status. Unknown ids are a no-op.
func (s *SQLiteStore) SetStatus(ctx context.Context, id int64, status models.IssueStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE issues SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), id)
	if isUniqueViolation(err) {
		return fmt.Errorf("reopen issue %d: %w", id, ErrDuplicateOpen)
	}
	if err != nil {
		return fmt.Errorf("set issue status: %w", err)
	}
	return nil
}

// --- Comments ---

func (s *SQLiteStore) AddComment(ctx context.Context, issueID int64, author, text string) (*models.Comment, error) {
	author = strings.TrimSpace(author)
	if author == "" {
		return nil, ErrAuthorRequired
	}

	c := &models.Comment{
		IssueID:   issueID,
		Author:    author,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO comments (issue_id, author, text, created_at) VALUES (?, ?, ?, ?)`,
		c.IssueID, c.Author, c.Text, c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("add comment: %w", err)
	}
	c.ID, err = result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("add comment: %w", err)
	}
	return c, nil
}

// ListComments returns an issue's comments in the order they were written.
func (s *SQLiteStore) ListComments(ctx context.Context, issueID int64) ([]*models.Comment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, issue_id, author, text, created_at FROM comments
		WHERE issue_id = ? ORDER BY created_at, id`, issueID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var comments []*models.Comment
	for rows.Next() {
		c := &models.Comment{}
		if err := rows.Scan(&c.ID, &c.IssueID, &c.Author, &c.Text, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// --- Review runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.ReviewRun) error {
	if run.ID == "" {
		run.ID = newULID()
	}
	run.StartedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO review_runs (id, unit_id, model, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.UnitID, run.Model, run.StartedAt)
	if err != nil {
		return fmt.Errorf("create review run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run *models.ReviewRun) error {
	now := time.Now().UTC()
	run.FinishedAt = &now

	result, err := s.db.ExecContext(ctx,
		`UPDATE review_runs SET fragment_count=?, text_length=?, extracted=?, inserted=?, failure=?, finished_at=?
		WHERE id=?`,
		run.FragmentCount, run.TextLength, run.Extracted, run.Inserted, string(run.Failure), now, run.ID)
	if err != nil {
		return fmt.Errorf("finish review run: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("review run %s: %w", run.ID, ErrNotFound)
	}
	return nil
}

// ListRuns returns the most recent review runs, optionally for one unit.
// A limit of zero or less returns every run.
func (s *SQLiteStore) ListRuns(ctx context.Context, unitID string, limit int) ([]*models.ReviewRun, error) {
	query := `SELECT id, unit_id, model, fragment_count, text_length, extracted, inserted, failure, started_at, finished_at
		FROM review_runs`
	var args []any
	if unitID != "" {
		query += " WHERE unit_id = ?"
		args = append(args, unitID)
	}
	query += " ORDER BY started_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list review runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*models.ReviewRun
	for rows.Next() {
		run := &models.ReviewRun{}
		var failure string
		var finishedAt sql.NullTime
		if err := rows.Scan(&run.ID, &run.UnitID, &run.Model, &run.FragmentCount, &run.TextLength,
			&run.Extracted, &run.Inserted, &failure, &run.StartedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("scan review run: %w", err)
		}
		run.Failure = models.FailureKind(failure)
		if finishedAt.Valid {
			run.FinishedAt = &finishedAt.Time
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
