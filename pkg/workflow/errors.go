package workflow

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of a routing error.
type ErrorClass string

const (
	// ClassIgnoredEvent indicates an unsupported event/action or
	// bot-authored content. Silent: no report is posted.
	ClassIgnoredEvent ErrorClass = "ignored_event"

	// ClassNoWorkflow indicates no recognized phase token in the text.
	// Silent: no report is posted.
	ClassNoWorkflow ErrorClass = "no_workflow_detected"

	// ClassValidation indicates a dependent phase without a resolvable
	// instance. Reported synchronously to the originating issue.
	ClassValidation ErrorClass = "validation_error"

	// ClassDispatch indicates the phase could not be enqueued or launched.
	// Reported; the instance document is left unchanged.
	ClassDispatch ErrorClass = "dispatch_failure"
)

// RouterError represents a classified routing error with context.
type RouterError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Reason is a short machine-readable reason code.
	Reason string `json:"reason,omitempty"`

	// Remediation is posted to the issue for reportable classes. It
	// contains a worked example using the exact phase token requested.
	Remediation string `json:"remediation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *RouterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.Err.Error())
	}
	return fmt.Sprintf("[%s] %s", e.Class, e.Message)
}

// Unwrap returns the underlying error for error chain inspection.
func (e *RouterError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *RouterError) Is(target error) bool {
	t, ok := target.(*RouterError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// NewIgnoredEvent creates an error for an event the router does not react to.
func NewIgnoredEvent(reason string) *RouterError {
	return &RouterError{
		Class:   ClassIgnoredEvent,
		Message: "event ignored",
		Reason:  reason,
	}
}

// NewNoWorkflowDetected creates an error for text without a phase token.
func NewNoWorkflowDetected() *RouterError {
	return &RouterError{
		Class:   ClassNoWorkflow,
		Message: "no workflow detected",
		Reason:  "no workflow detected",
	}
}

// NewValidationError creates a precondition failure with remediation text.
func NewValidationError(message, reason, remediation string) *RouterError {
	return &RouterError{
		Class:       ClassValidation,
		Message:     message,
		Reason:      reason,
		Remediation: remediation,
	}
}

// NewDispatchFailure creates an error for a failed enqueue or launch.
func NewDispatchFailure(message string, err error) *RouterError {
	return &RouterError{
		Class:   ClassDispatch,
		Message: message,
		Err:     err,
	}
}

// IsIgnored reports whether the error is an IgnoredEvent.
func IsIgnored(err error) bool {
	return hasClass(err, ClassIgnoredEvent)
}

// IsNoWorkflow reports whether the error is a NoWorkflowDetected.
func IsNoWorkflow(err error) bool {
	return hasClass(err, ClassNoWorkflow)
}

// IsValidation reports whether the error is a ValidationError.
func IsValidation(err error) bool {
	return hasClass(err, ClassValidation)
}

// IsDispatchFailure reports whether the error is a DispatchFailure.
func IsDispatchFailure(err error) bool {
	return hasClass(err, ClassDispatch)
}

func hasClass(err error, class ErrorClass) bool {
	var rerr *RouterError
	if !errors.As(err, &rerr) {
		return false
	}
	return rerr.Class == class
}
