package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unified error code across the service.
type ErrorCode string

// Request error codes
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"
	ErrUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrForbidden      ErrorCode = "FORBIDDEN"
	ErrRateLimited    ErrorCode = "RATE_LIMITED"
	ErrTimeout        ErrorCode = "TIMEOUT"
	ErrInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrUpstreamError  ErrorCode = "UPSTREAM_ERROR"
)

// Workflow error codes
const (
	ErrMissingInput        ErrorCode = "MISSING_INPUT"
	ErrCheckpointNotFound  ErrorCode = "CHECKPOINT_NOT_FOUND"
	ErrTaskNotFound        ErrorCode = "TASK_NOT_FOUND"
	ErrTaskCancelled       ErrorCode = "TASK_CANCELLED"
	ErrInvalidState        ErrorCode = "INVALID_STATE"
	ErrStorageUnavailable  ErrorCode = "STORAGE_UNAVAILABLE"
	ErrEditBudgetExhausted ErrorCode = "EDIT_BUDGET_EXHAUSTED"
	ErrAgentFailed         ErrorCode = "AGENT_FAILED"
	ErrRoadmapIDExhausted  ErrorCode = "ROADMAP_ID_EXHAUSTED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Retryable  bool      `json:"retryable"`
	Agent      string    `json:"agent,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithAgent sets the agent name that produced the error.
func (e *Error) WithAgent(agent string) *Error {
	e.Agent = agent
	return e
}

// WrapError wraps err with a code and message. A nil err yields nil.
func WrapError(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsErrorCode reports whether any *Error in err's chain carries code.
func IsErrorCode(err error, code ErrorCode) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}
	return false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// NewMissingInputError 表示前置阶段的产出缺失，属于调用契约违例，不可重试。
func NewMissingInputError(stage, field string) *Error {
	return NewError(ErrMissingInput, fmt.Sprintf("stage %s requires %s", stage, field)).
		WithHTTPStatus(http.StatusInternalServerError)
}

// NewRateLimitError creates a retryable rate-limit error.
func NewRateLimitError(message string) *Error {
	return NewError(ErrRateLimited, message).
		WithHTTPStatus(http.StatusTooManyRequests).
		WithRetryable(true)
}

// NewNotFoundError creates a task-not-found error.
func NewNotFoundError(taskID string) *Error {
	return NewError(ErrTaskNotFound, "task not found: "+taskID).
		WithHTTPStatus(http.StatusNotFound)
}

// NewInvalidRequestError creates a 400 error.
func NewInvalidRequestError(message string) *Error {
	return NewError(ErrInvalidRequest, message).WithHTTPStatus(http.StatusBadRequest)
}
