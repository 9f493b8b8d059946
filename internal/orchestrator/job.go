package orchestrator

import "time"

// State is the lifecycle position of a remote job.
type State string

const (
	StateSubmitted State = "submitted"
	StatePolling   State = "polling"
	StateCompleted State = "completed"
	StateTimedOut  State = "timed_out"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateTimedOut || s == StateFailed
}

func (s State) rank() int {
	switch s {
	case StateSubmitted:
		return 1
	case StatePolling:
		return 2
	case StateCompleted, StateTimedOut, StateFailed:
		return 3
	default:
		return 0
	}
}

// Job is one submitted unit of remote work, identified among the service's
// other jobs only by its correlation key.
type Job struct {
	CorrelationKey string
	SubmittedAt    time.Time
	State          State
	// Attempts counts the status polls made so far.
	Attempts int
}

// TransitionFunc observes every state change of a job.
type TransitionFunc func(Job)

// AttemptFunc observes every status poll. err is the poll's error, if any.
type AttemptFunc func(job Job, err error)

// ProgressFunc observes both the state changes and the status polls of a
// job. A poll is reported with the job still in StatePolling.
type ProgressFunc func(Job)
