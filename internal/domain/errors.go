package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the orchestration core. Callers classify with errors.Is;
// adapters wrap these with DomainError to add operation context.
var (
	// ErrNotFound indicates a referenced entity (conversation, tool, profile)
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates a malformed or rejected request.
	ErrInvalidInput = errors.New("invalid input")

	// ErrBusy indicates a conversation already has a live stream.
	ErrBusy = errors.New("conversation busy")

	// ErrNetwork indicates a transport-level failure talking to the provider.
	ErrNetwork = errors.New("network error")

	// ErrAuth indicates invalid or missing provider credentials.
	ErrAuth = errors.New("authentication failed")

	// ErrRateLimit indicates the provider or a tool refused due to rate limiting.
	ErrRateLimit = errors.New("rate limited")

	// ErrTimeout indicates an operation exceeded its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrToolExecution indicates a tool call failed after all retries.
	ErrToolExecution = errors.New("tool execution failed")

	// ErrOutputValidation indicates the model's final output failed validation
	// after all retries.
	ErrOutputValidation = errors.New("output validation failed")

	// ErrCancelled indicates the user stopped the stream.
	ErrCancelled = errors.New("cancelled")

	// ErrInternal indicates a bug or invariant violation.
	ErrInternal = errors.New("internal error")
)

// ErrorCode is a stable machine-readable code carried on events so the UI can
// branch without string matching.
type ErrorCode string

const (
	CodeNotFound         ErrorCode = "not_found"
	CodeInvalidInput     ErrorCode = "invalid_input"
	CodeBusy             ErrorCode = "busy"
	CodeNetwork          ErrorCode = "network"
	CodeAuth             ErrorCode = "auth"
	CodeRateLimit        ErrorCode = "rate_limit"
	CodeTimeout          ErrorCode = "timeout"
	CodeToolExecution    ErrorCode = "tool_execution_failed"
	CodeOutputValidation ErrorCode = "output_validation_failed"
	CodeCancelled        ErrorCode = "cancelled"
	CodeInternal         ErrorCode = "internal"
)

var sentinelCodes = []struct {
	err  error
	code ErrorCode
}{
	{ErrNotFound, CodeNotFound},
	{ErrInvalidInput, CodeInvalidInput},
	{ErrBusy, CodeBusy},
	{ErrNetwork, CodeNetwork},
	{ErrAuth, CodeAuth},
	{ErrRateLimit, CodeRateLimit},
	{ErrTimeout, CodeTimeout},
	{ErrToolExecution, CodeToolExecution},
	{ErrOutputValidation, CodeOutputValidation},
	{ErrCancelled, CodeCancelled},
	{ErrInternal, CodeInternal},
}

// CodeOf maps an error to its taxonomy code. Unrecognized errors are Internal.
func CodeOf(err error) ErrorCode {
	for _, sc := range sentinelCodes {
		if errors.Is(err, sc.err) {
			return sc.code
		}
	}
	return CodeInternal
}

// IsRetryable reports whether the error belongs to the retryable part of the
// taxonomy. Everything else is surfaced to the user immediately.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrTimeout)
}

// DomainError attaches the failing operation and optional detail to a
// sentinel. It unwraps to the sentinel so errors.Is keeps working.
type DomainError struct {
	Op     string
	Err    error
	Detail string
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %v: %s", e.Op, e.Err, e.Detail)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// WrapOp wraps err with the operation name. Returns nil for nil err.
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return &DomainError{Op: op, Err: err}
}

// WrapOpDetail wraps err with the operation name and a human-readable detail.
func WrapOpDetail(op string, err error, detail string) error {
	if err == nil {
		return nil
	}
	return &DomainError{Op: op, Err: err, Detail: detail}
}
