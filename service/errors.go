package service

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
)

var (
	// ErrInvalidInput rejects a submission before anything is persisted or enqueued.
	ErrInvalidInput = errors.New("invalid input")
	// ErrJobInFlight means a job for the project is already pending or running.
	ErrJobInFlight = errors.New("job already in flight for project")
	// ErrAlreadyCompleted refuses to re-run a project that already has its video.
	ErrAlreadyCompleted = errors.New("project already completed")
	// ErrUnsupportedFormat names a format outside the format table.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrGeneration reports malformed or missing output from a generation provider.
	ErrGeneration = errors.New("generation error")
)

// StageError ties a failure to the stage that produced it and the stack at
// the point it surfaced.
type StageError struct {
	Stage string
	Err   error
	Stack []byte
}

func newStageError(stage string, err error) *StageError {
	return &StageError{Stage: stage, Err: err, Stack: debug.Stack()}
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Diagnostic renders the message and stack as one string for error_message.
func Diagnostic(err error) string {
	if err == nil {
		return ""
	}
	var stack []byte
	var se *StageError
	if errors.As(err, &se) {
		stack = se.Stack
	} else {
		stack = debug.Stack()
	}
	return fmt.Sprintf("%s\n\nStack Trace:\n%s", err.Error(), strings.TrimSpace(string(stack)))
}
