package assistant

import (
	"errors"
	"fmt"
)

var (
	// ErrRunFailed matches any run that ended in a non-successful terminal state.
	ErrRunFailed = errors.New("assistant run failed")
	// ErrPollTimeout indicates the run did not finish within the wait budget.
	ErrPollTimeout = errors.New("assistant run did not finish in time")
	// ErrEmptyContent indicates a submit with neither text nor image.
	ErrEmptyContent = errors.New("content is empty")
)

// RunError describes a run that reached a failure state.
type RunError struct {
	RunID   string
	Status  RunStatus
	Code    string
	Message string
}

func (e *RunError) Error() string {
	msg := fmt.Sprintf("run %s ended with status %s", e.RunID, e.Status)
	if e.Code != "" || e.Message != "" {
		msg += fmt.Sprintf(" (%s: %s)", e.Code, e.Message)
	}
	return msg
}

func (e *RunError) Is(target error) bool {
	return target == ErrRunFailed
}
