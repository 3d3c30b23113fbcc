package models

import "time"

// BatchStatus represents the state of one import batch.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchCommitted BatchStatus = "committed"
	BatchFailed    BatchStatus = "failed"
	BatchSkipped   BatchStatus = "skipped"
)

// BatchJob is one fixed-size slice of a bulk import.
type BatchJob struct {
	Index    int64       `json:"index"`
	Offset   int64       `json:"offset"`
	RowCount int64       `json:"rowCount"`
	Status   BatchStatus `json:"status"`
	Error    string      `json:"error,omitempty"`
}

// BatchFailure records why a batch did not commit.
type BatchFailure struct {
	Index  int64  `json:"index"`
	Offset int64  `json:"offset"`
	Reason string `json:"reason"`
}

// ImportSummary is the result of a bulk import run.
type ImportSummary struct {
	Elapsed        time.Duration  `json:"-"`
	ElapsedSeconds float64        `json:"elapsed"`
	BatchesTotal   int64          `json:"batches_total"`
	BatchesOK      int64          `json:"batches_ok"`
	BatchesFailed  int64          `json:"batches_failed"`
	BatchesSkipped int64          `json:"batches_skipped"`
	RowsCommitted  int64          `json:"rows_committed"`
	RowsDropped    int64          `json:"rows_dropped"` // remainder of total_rows / batch_size
	Failures       []BatchFailure `json:"failures,omitempty"`
}

// UserRow is one synthetic row produced by the importer.
type UserRow struct {
	ID       int64
	Name     string
	Email    string
	Password string
}
