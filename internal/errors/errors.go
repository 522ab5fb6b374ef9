package errors

import (
	"fmt"
)

// HyokaError is the structured error type for hyokadb.
// It provides context for error handling, logging, and user presentation.
type HyokaError struct {
	// Code is the unique error code (e.g., "ERR_402_DERIVATION").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Validation, Internal).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error
}

// Error implements the error interface.
func (e *HyokaError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *HyokaError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with HyokaError.
func (e *HyokaError) Is(target error) bool {
	if t, ok := target.(*HyokaError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *HyokaError) WithDetail(key, value string) *HyokaError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new HyokaError with the given code and message.
// Category and severity are derived from the code.
func New(code string, message string, cause error) *HyokaError {
	return &HyokaError{
		Code:     code,
		Message:  message,
		Category: categoryFromCode(code),
		Severity: severityFromCode(code),
		Cause:    cause,
	}
}

// Wrap creates a HyokaError from an existing error.
// The error's message becomes the HyokaError message.
func Wrap(code string, err error) *HyokaError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// DerivationError creates an error for a projection rule that cannot
// derive a chunk (e.g., missing program linkage). Fatal to the
// enclosing transaction.
func DerivationError(message string, cause error) *HyokaError {
	return New(ErrCodeDerivation, message, cause)
}

// IndexSyncError creates an error for a rejected index posting write.
// Fatal to the enclosing transaction.
func IndexSyncError(message string, cause error) *HyokaError {
	return New(ErrCodeIndexSync, message, cause)
}

// ValidationError creates a validation-related error.
func ValidationError(message string, cause error) *HyokaError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *HyokaError {
	return New(ErrCodeInternal, message, cause)
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if he, ok := err.(*HyokaError); ok {
		return he.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a HyokaError.
// Returns empty string if not a HyokaError.
func GetCode(err error) string {
	if he, ok := err.(*HyokaError); ok {
		return he.Code
	}
	return ""
}

// GetCategory extracts the category from a HyokaError.
// Returns empty string if not a HyokaError.
func GetCategory(err error) Category {
	if he, ok := err.(*HyokaError); ok {
		return he.Category
	}
	return ""
}
