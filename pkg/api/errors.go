package api

import (
	"context"
	"errors"
	"fmt"
)

// ErrorType represents the category of an error.
type ErrorType string

const (
	ErrorTypeServerError     ErrorType = "server_error"
	ErrorTypeInvalidRequest  ErrorType = "invalid_request"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeConflict        ErrorType = "conflict"
	ErrorTypeUnauthorized    ErrorType = "unauthorized"
	ErrorTypeForbidden       ErrorType = "forbidden"
	ErrorTypeTooManyRequests ErrorType = "too_many_requests"

	ErrorTypeNotContributed     ErrorType = "not_contributed"
	ErrorTypeAlreadyRegistered  ErrorType = "already_registered"
	ErrorTypeNoImplementation   ErrorType = "no_implementation"
	ErrorTypeAlreadyImplemented ErrorType = "already_implemented"
	ErrorTypeCancelled          ErrorType = "cancelled"
	ErrorTypeExecution          ErrorType = "execution_error"
)

// APIError represents a structured API error with type, code, param, and message.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Type, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorResponse wraps an APIError for JSON serialization as the top-level error response.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// NewInvalidRequestError creates an APIError for invalid request parameters.
func NewInvalidRequestError(param, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeInvalidRequest,
		Param:   param,
		Message: message,
	}
}

// NewNotFoundError creates an APIError for resources that cannot be found.
func NewNotFoundError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewConflictError creates an APIError for requests that do not fit the
// current state of a resource.
func NewConflictError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeConflict,
		Message: message,
	}
}

// NewServerError creates an APIError for internal server errors.
func NewServerError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeServerError,
		Message: message,
	}
}

// ToolError is returned by the registry and the orchestrator.
type ToolError struct {
	Type    ErrorType
	ToolID  string
	Message string
	Err     error
}

func (e *ToolError) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	return e.Message
}

func (e *ToolError) Unwrap() error { return e.Err }

// Is matches another *ToolError by type, so the sentinels below work with
// errors.Is regardless of tool id or message.
func (e *ToolError) Is(target error) bool {
	var t *ToolError
	if !errors.As(target, &t) {
		return false
	}
	return t.Type == e.Type && (t.ToolID == "" || t.ToolID == e.ToolID)
}

// APIError converts e to the wire error envelope.
func (e *ToolError) APIError() *APIError {
	return &APIError{Type: e.Type, Param: e.ToolID, Message: e.Error()}
}

// Sentinels for errors.Is.
var (
	ErrNotContributed     = &ToolError{Type: ErrorTypeNotContributed}
	ErrAlreadyRegistered  = &ToolError{Type: ErrorTypeAlreadyRegistered}
	ErrNoImplementation   = &ToolError{Type: ErrorTypeNoImplementation}
	ErrAlreadyImplemented = &ToolError{Type: ErrorTypeAlreadyImplemented}
	ErrCancelled          = &ToolError{Type: ErrorTypeCancelled}
	ErrExecution          = &ToolError{Type: ErrorTypeExecution}
)

// NotContributedError reports an unknown tool id.
func NotContributedError(toolID string) *ToolError {
	return &ToolError{
		Type:    ErrorTypeNotContributed,
		ToolID:  toolID,
		Message: fmt.Sprintf("tool %q was not contributed", toolID),
	}
}

// AlreadyRegisteredError reports a duplicate tool or tool set id.
func AlreadyRegisteredError(id string) *ToolError {
	return &ToolError{
		Type:    ErrorTypeAlreadyRegistered,
		ToolID:  id,
		Message: fmt.Sprintf("tool %q is already registered", id),
	}
}

// NoImplementationError reports a tool without an attached implementation.
func NoImplementationError(toolID string) *ToolError {
	return &ToolError{
		Type:    ErrorTypeNoImplementation,
		ToolID:  toolID,
		Message: fmt.Sprintf("tool %q does not have an implementation registered", toolID),
	}
}

// AlreadyImplementedError reports a second implementation for a tool.
func AlreadyImplementedError(toolID string) *ToolError {
	return &ToolError{
		Type:    ErrorTypeAlreadyImplemented,
		ToolID:  toolID,
		Message: fmt.Sprintf("tool %q already has an implementation", toolID),
	}
}

// CancellationError reports a denied confirmation or a cancelled call.
// It unwraps to context.Canceled.
func CancellationError(toolID string) *ToolError {
	return &ToolError{
		Type:    ErrorTypeCancelled,
		ToolID:  toolID,
		Message: "canceled",
		Err:     context.Canceled,
	}
}

// ExecutionError wraps a failure returned by an implementation.
func ExecutionError(toolID string, err error) *ToolError {
	return &ToolError{Type: ErrorTypeExecution, ToolID: toolID, Err: err}
}

// IsCancellation reports whether err is a cancellation, either a
// CancellationError or a context cancellation.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
