// Package errors provides structured errors with machine-readable codes
// for the wharf gateway. Codes are stable wire values: API handlers emit
// them verbatim in JSON error bodies.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode is a stable, machine-readable error identifier.
type ErrorCode string

const (
	// Authentication / authorization
	ErrCodeMissingToken       ErrorCode = "missing_token"
	ErrCodeInvalidToken       ErrorCode = "invalid_token"
	ErrCodeRevokedToken       ErrorCode = "revoked_token"
	ErrCodeWriteScopeRequired ErrorCode = "write_scope_required"
	ErrCodeWritesDisabled     ErrorCode = "writes_disabled"

	// Request shape
	ErrCodeValidation ErrorCode = "invalid_request"
	ErrCodeNotFound   ErrorCode = "not_found"

	// Streaming / sessions
	ErrCodeSessionBusy   ErrorCode = "session_busy"
	ErrCodeProtocol      ErrorCode = "protocol_error"
	ErrCodeStreamLimit   ErrorCode = "stream_limit"
	ErrCodeRunnerFailure ErrorCode = "runner_failure"

	// Daemon and storage
	ErrCodeDaemonNotRunning ErrorCode = "daemon_not_running"
	ErrCodeDaemonStale      ErrorCode = "daemon_stale"
	ErrCodeStorage          ErrorCode = "storage_error"
	ErrCodeInternal         ErrorCode = "internal"
)

// Error is a structured wharf error.
type Error struct {
	Code        ErrorCode
	Message     string
	Underlying  error
	UserMessage string
	Retryable   bool
}

// New creates a structured error.
func New(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a structured error with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an existing error. Returns nil when
// err is nil so call sites can wrap unconditionally.
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Underlying: err}
}

// WithUserMessage sets the human-friendly message returned to API callers.
func (e *Error) WithUserMessage(message string) *Error {
	e.UserMessage = message
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))
	if e.Underlying != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Underlying.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Underlying
}

// CodeOf extracts the ErrorCode from err, or ErrCodeInternal when err is
// not a structured wharf error.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var we *Error
	if stderrors.As(err, &we) {
		return we.Code
	}
	return ErrCodeInternal
}

// HTTPStatus maps an ErrorCode to the status the gateway responds with.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrCodeMissingToken, ErrCodeInvalidToken, ErrCodeRevokedToken:
		return 401
	case ErrCodeWriteScopeRequired, ErrCodeWritesDisabled:
		return 403
	case ErrCodeNotFound:
		return 404
	case ErrCodeValidation, ErrCodeProtocol:
		return 400
	case ErrCodeSessionBusy:
		return 409
	case ErrCodeStreamLimit:
		return 429
	case ErrCodeDaemonNotRunning, ErrCodeDaemonStale:
		return 503
	default:
		return 500
	}
}
