package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrSubmissionFailed = errors.New("job submission failed")
	ErrTimeout          = errors.New("job timed out")
	ErrDownloadFailed   = errors.New("job result download failed")
	ErrPersistFailed    = errors.New("job result persist failed")
	ErrCanceled         = errors.New("job canceled")

	ErrEmptyKey   = errors.New("correlation key is empty")
	ErrAlreadyRun = errors.New("orchestrator already run")
)

// Error is the terminal failure of a run. Kind is one of the sentinel errors
// above; Err is the cause, if any. errors.Is matches both.
type Error struct {
	Kind     error
	Key      string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Key != "" {
		fmt.Fprintf(&b, " (key %q)", e.Key)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Kind returns a stable code for the failure kind of err, or "" when err did
// not come from a run.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSubmissionFailed):
		return "submission_failed"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrDownloadFailed):
		return "download_failed"
	case errors.Is(err, ErrCanceled):
		return "canceled"
	default:
		return ""
	}
}
