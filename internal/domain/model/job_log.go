package model

import "time"

const (
	LogLevelInfo    = "INFO"
	LogLevelWarning = "WARNING"
	LogLevelError   = "ERROR"
)

// JobLog is one append-only audit line for a batch job. Logs are written on
// every significant state transition and never mutated; retention is an
// external concern.
type JobLog struct {
	ID        int64     `json:"id"`
	JobID     int64     `json:"job_id"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
