package models

import "time"

// RunStatus captures the lifecycle of a queued crawl run.
type RunStatus string

const (
	RunStatusQueued     RunStatus = "QUEUED"
	RunStatusProcessing RunStatus = "PROCESSING"
	RunStatusFinished   RunStatus = "FINISHED"
	RunStatusFailed     RunStatus = "FAILED"
)

// Run is the outcome of one ingest-and-notify pass.
type Run struct {
	ID           string       `json:"id"`
	Source       string       `json:"source"`
	Status       RunStatus    `json:"status"`
	Inserted     int          `json:"inserted"`
	Skipped      int          `json:"skipped"`
	New          int          `json:"new"`
	Updated      int          `json:"updated"`
	Counts       NoticeCounts `json:"counts"`
	Watermark    *time.Time   `json:"watermark,omitempty"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
	ErrorMessage *string      `json:"error_message,omitempty"`
}
