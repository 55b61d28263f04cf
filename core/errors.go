package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Request-level errors
	ErrInvalidInput = errors.New("malformed request")
	ErrPlanInvalid  = errors.New("plan invalid after repair rounds")
	ErrCancelled    = errors.New("cancelled")

	// Planner errors
	ErrMalformedPlanOutput = errors.New("planner produced malformed output")

	// Tool-related errors
	ErrUnknownTool      = errors.New("unknown tool")
	ErrToolFailed       = errors.New("tool execution failed")
	ErrDeadlineExceeded = errors.New("tool deadline exceeded")
	ErrOutOfSandbox     = errors.New("path outside sandbox roots")

	// Template errors
	ErrTemplateSyntax = errors.New("malformed template reference")

	// Session errors
	ErrSessionBusy     = errors.New("session already has an active task")
	ErrSessionNotFound = errors.New("session not found")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	// Operation errors
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

// OrchestrationError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type OrchestrationError struct {
	Op      string // Operation that failed (e.g., "executor.RunStep")
	Kind    string // Error kind (e.g., "tool", "plan", "session")
	ID      string // Optional ID of the entity involved
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *OrchestrationError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *OrchestrationError) Unwrap() error {
	return e.Err
}

// NewOrchestrationError creates a new OrchestrationError
func NewOrchestrationError(op, kind string, err error) *OrchestrationError {
	return &OrchestrationError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// IsRetryable checks if an error is retryable.
// Retryable errors are typically transient tool or availability issues.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrToolFailed) ||
		errors.Is(err, ErrDeadlineExceeded)
}

// IsFatalForStep checks if an error must never trigger a step retry
func IsFatalForStep(err error) bool {
	return errors.Is(err, ErrOutOfSandbox) ||
		errors.Is(err, ErrCancelled)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}
