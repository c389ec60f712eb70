package store

import (
	"context"
	"errors"

	"github.com/joescharf/guardian/internal/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAuthorRequired is returned by AddComment when the author is blank.
	ErrAuthorRequired = errors.New("comment author is required")
	// ErrInvalidStatus is returned for status values outside open/resolved/wontfix.
	ErrInvalidStatus = errors.New("invalid issue status")
	// ErrDuplicateOpen is returned when a status change would leave two open
	// issues with the same file path and description.
	ErrDuplicateOpen = errors.New("an open issue with the same description already exists")
)

// IssueListFilter specifies filters for listing issues.
type IssueListFilter struct {
	FilePath string
	Status   models.IssueStatus
}

// Store defines the persistence interface for guardian. It is the only
// gateway through which issues and comments are read or mutated.
type Store interface {
	// Issues
	InsertIfNew(ctx context.Context, filePath string, c models.Candidate, runID string) (bool, error)
	GetIssue(ctx context.Context, id int64) (*models.Issue, error)
	ListIssues(ctx context.Context, filter IssueListFilter) ([]*models.Issue, error)
	SetStatus(ctx context.Context, id int64, status models.IssueStatus) error

	// Comments
	AddComment(ctx context.Context, issueID int64, author, text string) (*models.Comment, error)
	ListComments(ctx context.Context, issueID int64) ([]*models.Comment, error)

	// Review runs
	CreateRun(ctx context.Context, run *models.ReviewRun) error
	FinishRun(ctx context.Context, run *models.ReviewRun) error
	ListRuns(ctx context.Context, unitID string, limit int) ([]*models.ReviewRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
