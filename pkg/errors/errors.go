// Package errors provides structured error handling for nodewarden with rich
// context, stack traces, and error categorization. It enables consistent error
// handling patterns across the connector framework.
//
// # Overview
//
// The errors package extends Go's standard error handling with:
//   - Error categorization through ErrorType
//   - Structured context with key-value details
//   - Automatic stack trace capture
//   - Error wrapping with cause preservation
//   - Retryability detection, including an explicit per-error override
//
// # Basic Usage
//
//	// Create a new error
//	err := errors.New(errors.ErrorTypeConfig, "missing api key")
//
//	// Add context
//	err = err.WithDetail("network", "ionet")
//
//	// Wrap existing errors
//	if err := client.Get(url); err != nil {
//	    return errors.Wrap(err, errors.ErrorTypeAPI, "status fetch failed").
//	        WithDetail("url", url)
//	}
//
// # Retryability
//
// Retry decisions live in one place: IsRetryable. Rate-limit errors are
// deliberately non-retryable by default so a saturated bucket does not feed a
// retry storm; callers that want to wait out a limit can mark the error with
// AsRetryable.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
)

// ErrorType represents the category of error, used for fallback-tier
// selection, retry classification, and monitoring.
type ErrorType string

const (
	// ErrorTypeInternal represents internal system errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeAPI represents upstream HTTP API failures
	ErrorTypeAPI ErrorType = "api"
	// ErrorTypeConnection represents connection errors
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeRateLimit represents rate limit errors
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeScraper represents browser automation failures
	ErrorTypeScraper ErrorType = "scraper"
	// ErrorTypeCache represents cache store failures
	ErrorTypeCache ErrorType = "cache"
	// ErrorTypeAuthentication represents authentication errors
	ErrorTypeAuthentication ErrorType = "authentication"
	// ErrorTypeNotFound represents resource not found errors
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeCapability represents operations a network does not support
	ErrorTypeCapability ErrorType = "capability"
)

// Error represents a structured error with context.
//
// Fields:
//   - Type: Categorizes the error for handling strategies
//   - Message: Human-readable error description
//   - Cause: The underlying error that caused this error
//   - Details: Key-value pairs providing additional context
//   - Retryable: Optional override of the type-based retry classification
//   - Stack: Call stack at the point of error creation
type Error struct {
	Type      ErrorType
	Message   string
	Cause     error
	Details   map[string]interface{}
	Retryable *bool
	Stack     []StackFrame
}

// StackFrame represents a single frame in the call stack, capturing
// the function name, file path, and line number for debugging.
type StackFrame struct {
	Function string // Fully qualified function name
	File     string // Source file path
	Line     int    // Line number in source file
}

// Error implements the error interface, returning a formatted error message
// that includes the error type, message, and cause (if present).
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error, enabling compatibility with errors.Is
// and errors.As for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail adds a key-value detail to the error. This method can be chained
// for adding multiple details.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// AsRetryable overrides the type-based classification and marks the error
// as retryable.
func (e *Error) AsRetryable() *Error {
	retryable := true
	e.Retryable = &retryable
	return e
}

// AsFatal overrides the type-based classification and marks the error
// as non-retryable.
func (e *Error) AsFatal() *Error {
	retryable := false
	e.Retryable = &retryable
	return e
}

// New creates a new error with the given type and message, automatically
// capturing the call stack at the point of creation.
func New(errType ErrorType, message string) *Error {
	return &Error{
		Type:    errType,
		Message: message,
		Stack:   captureStack(2),
	}
}

// Newf creates a new error with a formatted message.
func Newf(errType ErrorType, format string, args ...interface{}) *Error {
	return &Error{
		Type:    errType,
		Message: fmt.Sprintf(format, args...),
		Stack:   captureStack(2),
	}
}

// Wrap wraps an existing error with additional context, preserving the
// original error as the cause. If the error is already a structured Error,
// its stack trace is preserved. Returns nil if the input error is nil.
func Wrap(err error, errType ErrorType, message string) *Error {
	if err == nil {
		return nil
	}

	// If already our error type, preserve the stack
	var existingErr *Error
	if errors.As(err, &existingErr) {
		return &Error{
			Type:    errType,
			Message: message,
			Cause:   err,
			Stack:   existingErr.Stack,
		}
	}

	return &Error{
		Type:    errType,
		Message: message,
		Cause:   err,
		Stack:   captureStack(2),
	}
}

// FromHTTPStatus creates an error classified from an upstream HTTP status
// code. 5xx maps to a retryable API error, 429 to a rate-limit error, 401/403
// to authentication, 404 to not-found, and remaining 4xx to a fatal API error.
func FromHTTPStatus(status int, message string) *Error {
	var e *Error
	switch {
	case status >= 500:
		e = &Error{Type: ErrorTypeAPI, Message: message}
		e.AsRetryable()
	case status == http.StatusTooManyRequests:
		e = &Error{Type: ErrorTypeRateLimit, Message: message}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e = &Error{Type: ErrorTypeAuthentication, Message: message}
	case status == http.StatusNotFound:
		e = &Error{Type: ErrorTypeNotFound, Message: message}
	default:
		e = &Error{Type: ErrorTypeAPI, Message: message}
		e.AsFatal()
	}
	e.Stack = captureStack(2)
	return e.WithDetail("status_code", status)
}

// IsRetryable returns true if the error should be retried. An explicit
// Retryable override wins; otherwise timeout and connection errors are
// retryable and everything else, including rate-limit errors, is not.
func IsRetryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	if e.Retryable != nil {
		return *e.Retryable
	}

	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeConnection:
		return true
	default:
		return false
	}
}

// IsType checks if the error is of the given type.
func IsType(err error, errType ErrorType) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Type == errType
}

// As is a convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// captureStack captures the current call stack up to maxFrames deep,
// skipping the specified number of frames from the top.
func captureStack(skip int) []StackFrame {
	const maxFrames = 32
	frames := make([]StackFrame, 0, maxFrames)

	for i := skip; i < maxFrames+skip; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		frames = append(frames, StackFrame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}
