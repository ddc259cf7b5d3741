package orchestrator

import (
	"errors"
	"fmt"
)

// ErrShuttingDown is returned by Submit after Stop has begun.
var ErrShuttingDown = errors.New("orchestrator is shutting down")

// ValidationError rejects a malformed execution request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// NotFoundError indicates an unknown execution ID.
type NotFoundError struct {
	ExecutionID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("execution not found: %s", e.ExecutionID)
}

// IsNotFound reports whether err is (or wraps) an execution NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
