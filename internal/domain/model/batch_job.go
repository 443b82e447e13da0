package model

import (
	"encoding/json"
	"time"
)

const (
	JobStatusPending    = "PENDING"
	JobStatusProcessing = "PROCESSING"
	JobStatusCompleted  = "COMPLETED"
	JobStatusFailed     = "FAILED"
)

// TerminalJobStatus reports whether a job can no longer change state on its own.
func TerminalJobStatus(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

// JobCriteria is the search/selection payload a batch job carries. For the
// provider fetch path only PropertyIDs and Provider matter; Extra passes
// vendor-specific filters through untouched.
type JobCriteria struct {
	Provider    string          `json:"provider,omitempty"`
	PropertyIDs []string        `json:"property_ids"`
	Extra       json.RawMessage `json:"extra,omitempty"`
}

// BatchJob is one row in batch_jobs. Parent jobs aggregate child results and
// are never claimed by the queue worker; child jobs carry a disjoint slice of
// the parent's property id list.
type BatchJob struct {
	ID            int64        `json:"id"`
	Status        string       `json:"status"`
	Criteria      *JobCriteria `json:"criteria"`
	IsParent      bool         `json:"is_parent"`
	ParentID      *int64       `json:"parent_id,omitempty"`
	BatchNumber   int          `json:"batch_number,omitempty"`
	BatchOffset   int          `json:"batch_offset,omitempty"`
	BatchSize     int          `json:"batch_size,omitempty"`
	TotalRecords  int          `json:"total_records"`
	Processed     int          `json:"processed_records"`
	SuccessCount  int          `json:"success_count"`
	ErrorCount    int          `json:"error_count"`
	Priority      int          `json:"priority"`
	Attempts      int          `json:"attempts"`
	ErrorDetails  *string      `json:"error_details,omitempty"`
	LockedAt      *time.Time   `json:"locked_at,omitempty"`
	LockedBy      *string      `json:"locked_by,omitempty"`
	NextAttemptAt *time.Time   `json:"next_attempt_at,omitempty"`
	CreatedBy     string       `json:"created_by"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// JobProgress is the snapshot callers get from CalculateJobProgress.
type JobProgress struct {
	Processed       int `json:"processed"`
	Total           int `json:"total"`
	Success         int `json:"success"`
	Errors          int `json:"errors"`
	PercentComplete int `json:"percent_complete"`
}

// BatchResult summarizes one executed batch (one child job, or one page
// within a child job).
type BatchResult struct {
	ProcessedCount int `json:"processed_count"`
	SuccessCount   int `json:"success_count"`
	ErrorCount     int `json:"error_count"`
}

// QueueStats aggregates job counts by queue-level state.
type QueueStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
}
