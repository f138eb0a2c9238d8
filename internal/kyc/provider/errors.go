package provider

import (
	"errors"
	"fmt"
)

// ErrorCategory is the normalised failure taxonomy shared by all adapters.
type ErrorCategory string

const (
	ErrorTimeout          ErrorCategory = "timeout"
	ErrorBadData          ErrorCategory = "bad_data"
	ErrorAuthentication   ErrorCategory = "authentication"
	ErrorProviderOutage   ErrorCategory = "provider_outage"
	ErrorContractMismatch ErrorCategory = "contract_mismatch"
	ErrorRateLimited      ErrorCategory = "rate_limited"
	ErrorInternal         ErrorCategory = "internal"
)

// Error wraps an adapter failure with its category.
type Error struct {
	Category   ErrorCategory
	ProviderID string
	Message    string
	Underlying error
	// Retryable is true for transient failures worth resubmitting.
	Retryable bool
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("provider %s [%s]: %s: %v", e.ProviderID, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("provider %s [%s]: %s", e.ProviderID, e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// NewError builds a categorised error. Timeouts, outages and rate limiting
// are retryable.
func NewError(category ErrorCategory, providerID, message string, underlying error) *Error {
	retryable := category == ErrorTimeout ||
		category == ErrorProviderOutage ||
		category == ErrorRateLimited

	return &Error{
		Category:   category,
		ProviderID: providerID,
		Message:    message,
		Underlying: underlying,
		Retryable:  retryable,
	}
}

// IsRetryable reports whether err is a retryable adapter failure.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// CategoryOf extracts the category, defaulting to ErrorInternal.
func CategoryOf(err error) ErrorCategory {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ErrorInternal
}
