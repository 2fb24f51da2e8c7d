package db

import "time"

// Batch statuses.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusStopped  = "stopped"
)

// Batch is one row of batch history.
type Batch struct {
	ID               string     `json:"id"`
	TaskName         string     `json:"task_name"`
	Kind             string     `json:"kind"`
	Total            int        `json:"total"`
	Concurrency      int        `json:"concurrency"`
	SuccessCount     int        `json:"success_count"`
	FailedCount      int        `json:"failed_count"`
	InterruptedCount int        `json:"interrupted_count"`
	SkippedCount     int        `json:"skipped_count"`
	Status           string     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}

// BatchItem is the resolved outcome of one item.
type BatchItem struct {
	BatchID    string    `json:"batch_id"`
	Label      string    `json:"item_label"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}
