package usecase

import (
	"context"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"hearth/internal/domain"
)

// ErrorCategory indicates whether a provider error is worth retrying.
type ErrorCategory int

const (
	ErrorCategoryUnknown   ErrorCategory = iota
	ErrorCategoryRetryable               // 429, 5xx, connection errors, timeouts
	ErrorCategoryPermanent               // 401, 403, 400, malformed requests
)

// ClassifiedError is the result of classification.
type ClassifiedError struct {
	Original   error
	Category   ErrorCategory
	Sentinel   error // mapped taxonomy sentinel, never nil
	StatusCode int   // extracted HTTP status, or 0
}

// Code returns the taxonomy code for the classified error.
func (c ClassifiedError) Code() domain.ErrorCode {
	return domain.CodeOf(c.Sentinel)
}

// Retryable reports whether a retry may succeed.
func (c ClassifiedError) Retryable() bool {
	return c.Category == ErrorCategoryRetryable
}

// ErrorClassifier maps provider and transport errors onto the error
// taxonomy. Adapters wrap sentinels where they can; the classifier covers
// the rest via the embedded HTTP status and string fallbacks.
type ErrorClassifier struct{}

// NewErrorClassifier creates a classifier.
func NewErrorClassifier() *ErrorClassifier {
	return &ErrorClassifier{}
}

// apiErrorPattern matches "API error <status>:" produced by the provider
// adapter for non-2xx responses.
var apiErrorPattern = regexp.MustCompile(`API error (\d+):`)

// Classify inspects err and returns its category and taxonomy sentinel.
func (c *ErrorClassifier) Classify(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{Sentinel: domain.ErrInternal}
	}

	if ce := c.classifyBySentinel(err); ce.Category != ErrorCategoryUnknown {
		return ce
	}

	errStr := err.Error()
	if matches := apiErrorPattern.FindStringSubmatch(errStr); len(matches) == 2 {
		code, _ := strconv.Atoi(matches[1])
		return c.classifyByStatus(err, code)
	}

	return c.classifyByString(err, errStr)
}

func (c *ErrorClassifier) classifyBySentinel(err error) ClassifiedError {
	switch {
	case errors.Is(err, domain.ErrRateLimit):
		return ClassifiedError{Original: err, Category: ErrorCategoryRetryable, Sentinel: domain.ErrRateLimit}
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ClassifiedError{Original: err, Category: ErrorCategoryRetryable, Sentinel: domain.ErrTimeout}
	case errors.Is(err, domain.ErrNetwork):
		return ClassifiedError{Original: err, Category: ErrorCategoryRetryable, Sentinel: domain.ErrNetwork}
	case errors.Is(err, domain.ErrAuth):
		return ClassifiedError{Original: err, Category: ErrorCategoryPermanent, Sentinel: domain.ErrAuth}
	case errors.Is(err, domain.ErrCancelled), errors.Is(err, context.Canceled):
		return ClassifiedError{Original: err, Category: ErrorCategoryPermanent, Sentinel: domain.ErrCancelled}
	case errors.Is(err, domain.ErrInvalidInput):
		return ClassifiedError{Original: err, Category: ErrorCategoryPermanent, Sentinel: domain.ErrInvalidInput}
	case errors.Is(err, domain.ErrToolExecution):
		return ClassifiedError{Original: err, Category: ErrorCategoryPermanent, Sentinel: domain.ErrToolExecution}
	case errors.Is(err, domain.ErrOutputValidation):
		return ClassifiedError{Original: err, Category: ErrorCategoryPermanent, Sentinel: domain.ErrOutputValidation}
	case errors.Is(err, domain.ErrBusy):
		return ClassifiedError{Original: err, Category: ErrorCategoryPermanent, Sentinel: domain.ErrBusy}
	case errors.Is(err, domain.ErrNotFound):
		return ClassifiedError{Original: err, Category: ErrorCategoryPermanent, Sentinel: domain.ErrNotFound}
	default:
		return ClassifiedError{Original: err, Category: ErrorCategoryUnknown, Sentinel: domain.ErrInternal}
	}
}

func (c *ErrorClassifier) classifyByStatus(err error, code int) ClassifiedError {
	switch {
	case code == 429:
		return ClassifiedError{Original: err, Category: ErrorCategoryRetryable, Sentinel: domain.ErrRateLimit, StatusCode: code}
	case code == 401 || code == 403:
		return ClassifiedError{Original: err, Category: ErrorCategoryPermanent, Sentinel: domain.ErrAuth, StatusCode: code}
	case code == 408:
		return ClassifiedError{Original: err, Category: ErrorCategoryRetryable, Sentinel: domain.ErrTimeout, StatusCode: code}
	case code >= 500 && code < 600:
		return ClassifiedError{Original: err, Category: ErrorCategoryRetryable, Sentinel: domain.ErrNetwork, StatusCode: code}
	default:
		return ClassifiedError{Original: err, Category: ErrorCategoryPermanent, Sentinel: domain.ErrInvalidInput, StatusCode: code}
	}
}

func (c *ErrorClassifier) classifyByString(err error, errStr string) ClassifiedError {
	lower := strings.ToLower(errStr)

	for _, p := range []string{"rate limit", "too many requests"} {
		if strings.Contains(lower, p) {
			return ClassifiedError{Original: err, Category: ErrorCategoryRetryable, Sentinel: domain.ErrRateLimit}
		}
	}

	for _, p := range []string{"timeout", "deadline exceeded"} {
		if strings.Contains(lower, p) {
			return ClassifiedError{Original: err, Category: ErrorCategoryRetryable, Sentinel: domain.ErrTimeout}
		}
	}

	for _, p := range []string{
		"connection refused", "no such host", "connection reset",
		"broken pipe", "eof",
	} {
		if strings.Contains(lower, p) {
			return ClassifiedError{Original: err, Category: ErrorCategoryRetryable, Sentinel: domain.ErrNetwork}
		}
	}

	return ClassifiedError{Original: err, Category: ErrorCategoryPermanent, Sentinel: domain.ErrInternal}
}
