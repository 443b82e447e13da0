package model

import "time"

const (
	DupCheckPending    = "pending"
	DupCheckInProgress = "in_progress"
	DupCheckCompleted  = "completed"
	DupCheckFailed     = "failed"
)

// DuplicateMatch is one property id that already exists in the database.
type DuplicateMatch struct {
	ExternalID string `json:"external_id"`
}

// DuplicateCheckJob is the in-memory record of one asynchronous duplicate
// check. It lives only as long as the process; durability across restarts is
// an accepted limitation of this admin flow.
type DuplicateCheckJob struct {
	ID               string           `json:"id"`
	Status           string           `json:"status"`
	TotalBatches     int              `json:"total_batches"`
	CompletedBatches int              `json:"completed_batches"`
	PartialResults   []DuplicateMatch `json:"partial_results"`
	Result           []DuplicateMatch `json:"result,omitempty"`
	Error            string           `json:"error,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}
