package transport

import (
	"fmt"
)

// Error represents a failed exchange with the generation backend
type Error struct {
	Type       string
	Op         string
	StatusCode int
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	status := ""
	if e.StatusCode != 0 {
		status = fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("transport error [%s] during %s%s: %s (caused by: %v)", e.Type, e.Op, status, e.Message, e.Cause)
	}
	return fmt.Sprintf("transport error [%s] during %s%s: %s", e.Type, e.Op, status, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Transport error types
const (
	ErrorTypeNetwork    = "network"
	ErrorTypeStatus     = "http_status"
	ErrorTypeDecode     = "decode"
	ErrorTypeStream     = "stream"
	ErrorTypeTaskFailed = "task_failed"
)

// NewNetworkError creates an error for connection level failures
func NewNetworkError(op string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeNetwork,
		Op:      op,
		Message: "backend unreachable",
		Cause:   cause,
	}
}

// NewStatusError creates an error for non-2xx responses
func NewStatusError(op string, statusCode int, detail string) *Error {
	if detail == "" {
		detail = "unexpected response status"
	}
	return &Error{
		Type:       ErrorTypeStatus,
		Op:         op,
		StatusCode: statusCode,
		Message:    detail,
	}
}

// NewDecodeError creates an error for malformed response bodies
func NewDecodeError(op string, cause error) *Error {
	return &Error{
		Type:    ErrorTypeDecode,
		Op:      op,
		Message: "malformed response body",
		Cause:   cause,
	}
}

// NewStreamError creates an error for an {"error": ...} event in a stream
func NewStreamError(op string, message string) *Error {
	return &Error{
		Type:    ErrorTypeStream,
		Op:      op,
		Message: message,
	}
}

// NewTaskFailedError creates an error for a backend task that ended in failure
func NewTaskFailedError(op string, taskID string, message string) *Error {
	if message == "" {
		message = "task failed"
	}
	return &Error{
		Type:    ErrorTypeTaskFailed,
		Op:      op,
		Message: fmt.Sprintf("task %s: %s", taskID, message),
	}
}
