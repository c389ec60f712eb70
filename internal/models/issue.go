package models

import (
	"strings"
	"time"
)

// IssueStatus represents the triage state of an issue.
type IssueStatus string

const (
	IssueStatusOpen     IssueStatus = "open"
	IssueStatusResolved IssueStatus = "resolved"
	IssueStatusWontfix  IssueStatus = "wontfix"
)

// Valid reports whether s is one of the known statuses.
func (s IssueStatus) Valid() bool {
	switch s {
	case IssueStatusOpen, IssueStatusResolved, IssueStatusWontfix:
		return true
	}
	return false
}

// Effort is the coarse remediation estimate attached to an issue.
type Effort string

const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

// ParseEffort maps free text such as "Low", "medium" or "HIGH" to an Effort.
func ParseEffort(s string) (Effort, bool) {
	switch Effort(normalize(s)) {
	case EffortLow:
		return EffortLow, true
	case EffortMedium:
		return EffortMedium, true
	case EffortHigh:
		return EffortHigh, true
	}
	return "", false
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Candidate is an extracted, not yet persisted issue.
type Candidate struct {
	Description string
	Suggestion  string
	Effort      Effort
}

// Issue is a persisted review finding for one source unit.
// Description, Suggestion and Effort never change after creation.
type Issue struct {
	ID          int64       `json:"id"`
	FilePath    string      `json:"file_path"`
	Description string      `json:"description"`
	Suggestion  string      `json:"suggestion"`
	Effort      Effort      `json:"effort"`
	Status      IssueStatus `json:"status"`
	RunID       string      `json:"run_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Comment is an append-only note on an issue.
type Comment struct {
	ID        int64     `json:"id"`
	IssueID   int64     `json:"issue_id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
