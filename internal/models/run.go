package models

import "time"

// ReviewRun records one ingestion pass over a single unit.
type ReviewRun struct {
	ID            string      `json:"id"`
	UnitID        string      `json:"unit_id"`
	Model         string      `json:"model"`
	FragmentCount int         `json:"fragment_count"`
	TextLength    int         `json:"text_length"`
	Extracted     int         `json:"extracted"`
	Inserted      int         `json:"inserted"`
	Failure       FailureKind `json:"failure,omitempty"`
	StartedAt     time.Time   `json:"started_at"`
	FinishedAt    *time.Time  `json:"finished_at,omitempty"`
}
