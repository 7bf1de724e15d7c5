package runtime

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrContainerNotFound = errors.New("container not found")
	ErrConnectionFailed  = errors.New("runtime connection failed")

	// ErrComposeFailed underlies every non-zero compose exit.
	ErrComposeFailed = errors.New("compose command failed")
)

// ComposeError reports a non-zero exit from the external compose CLI.
// Build and start treat any occurrence as fatal for the run.
type ComposeError struct {
	Op       string // build, up, down, ...
	ExitCode int
	Err      error
}

func (e *ComposeError) Error() string {
	return fmt.Sprintf("docker compose %s exited %d", e.Op, e.ExitCode)
}

func (e *ComposeError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrComposeFailed
}

// InspectError wraps runtime inspection failures with context.
type InspectError struct {
	Op      string
	Subject string
	Message string
	Err     error
}

func (e *InspectError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Subject, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *InspectError) Unwrap() error {
	return e.Err
}

// NewInspectError creates a new InspectError.
func NewInspectError(op, subject, message string, err error) *InspectError {
	return &InspectError{Op: op, Subject: subject, Message: message, Err: err}
}
