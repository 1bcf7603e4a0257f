package client

import (
	"context"
	"errors"
	"strings"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

// Error category constants used as the weatherApiErrorsTotal label.
const (
	ErrorCategoryTimeout       ErrorCategory = "timeout"
	ErrorCategoryNetwork       ErrorCategory = "network"
	ErrorCategoryInvalidAPIKey ErrorCategory = "invalid_api_key"
	ErrorCategoryNotFound      ErrorCategory = "location_not_found"
	ErrorCategoryRateLimited   ErrorCategory = "rate_limited"
	ErrorCategoryUpstream5xx   ErrorCategory = "upstream_5xx"
	ErrorCategoryParsing       ErrorCategory = "parsing"
	ErrorCategoryValidation    ErrorCategory = "validation"
	ErrorCategoryUnknown       ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory for metrics.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorCategoryTimeout
	case errors.Is(err, ErrInvalidAPIKey):
		return ErrorCategoryInvalidAPIKey
	case errors.Is(err, ErrNotFound):
		return ErrorCategoryNotFound
	case errors.Is(err, ErrRateLimited):
		return ErrorCategoryRateLimited
	case errors.Is(err, ErrUpstreamUnavailable):
		return ErrorCategoryUpstream5xx
	}

	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"):
		return ErrorCategoryTimeout
	case strings.Contains(errStr, "connection"), strings.Contains(errStr, "network"):
		return ErrorCategoryNetwork
	case strings.Contains(errStr, "parse"), strings.Contains(errStr, "unmarshal"):
		return ErrorCategoryParsing
	case strings.Contains(errStr, "invalid"), strings.Contains(errStr, "validation"):
		return ErrorCategoryValidation
	}
	return ErrorCategoryUnknown
}
