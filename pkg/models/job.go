package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStateQueued    = "queued"
	JobStateSubmitted = "submitted"
	JobStatePolling   = "polling"
	JobStateCompleted = "completed"
	JobStateTimedOut  = "timed_out"
	JobStateFailed    = "failed"
)

// IsJobState reports whether state is one of the known job states.
func IsJobState(state string) bool {
	switch state {
	case JobStateQueued, JobStateSubmitted, JobStatePolling,
		JobStateCompleted, JobStateTimedOut, JobStateFailed:
		return true
	}
	return false
}

// IsTerminalJobState reports whether a job in state can no longer change.
func IsTerminalJobState(state string) bool {
	return state == JobStateCompleted || state == JobStateTimedOut || state == JobStateFailed
}

// Job tracks one async tool call. The API returns the job on POST /api/v1/jobs;
// the client polls GET /api/v1/jobs/{job_id} until its state is terminal.
type Job struct {
	ID             uuid.UUID      `db:"id"              json:"id"`
	Tool           string         `db:"tool"            json:"tool"`
	State          string         `db:"state"           json:"state"`
	Arguments      map[string]any `db:"arguments"       json:"arguments,omitempty"`
	CorrelationKey *string        `db:"correlation_key" json:"correlation_key,omitempty"`
	Attempts       int            `db:"attempts"        json:"attempts"`
	Artifacts      []Artifact     `db:"artifacts"       json:"artifacts,omitempty"`
	ResultText     *string        `db:"result_text"     json:"result_text,omitempty"`
	ErrorKind      *string        `db:"error_kind"      json:"error_kind,omitempty"`
	ErrorMessage   *string        `db:"error_message"   json:"error_message,omitempty"`
	SubmittedAt    *time.Time     `db:"submitted_at"    json:"submitted_at,omitempty"`
	CompletedAt    *time.Time     `db:"completed_at"    json:"completed_at,omitempty"`
	CreatedAt      time.Time      `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"      json:"updated_at"`
}

// Artifact is one stored result of a job.
type Artifact struct {
	Identifier string `json:"identifier"`
	Name       string `json:"name"`
	Location   string `json:"location"`
	Size       int    `json:"size"`
}
