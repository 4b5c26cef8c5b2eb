package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different types of errors in the system
type ErrorType string

const (
	// ErrorTypeNotFound indicates a resource was not found
	ErrorTypeNotFound ErrorType = "NOT_FOUND"

	// ErrorTypeValidation indicates a validation error
	ErrorTypeValidation ErrorType = "VALIDATION"

	// ErrorTypeInternal indicates an internal server error
	ErrorTypeInternal ErrorType = "INTERNAL"

	// ErrorTypeExternal indicates an error from external service
	ErrorTypeExternal ErrorType = "EXTERNAL"

	// ErrorTypeFetchFailed indicates the records service could not be reached
	// or answered with a non-success status
	ErrorTypeFetchFailed ErrorType = "FETCH_FAILED"

	// ErrorTypeMalformedResponse indicates a records response without the
	// expected paginated shape
	ErrorTypeMalformedResponse ErrorType = "MALFORMED_RESPONSE"

	// ErrorTypeInvalidFilterValue indicates a numeric filter bound that could
	// not be parsed; the bound is ignored
	ErrorTypeInvalidFilterValue ErrorType = "INVALID_FILTER_VALUE"
)

// DefaultFetchMessage is shown when a failed fetch carries no usable server message
const DefaultFetchMessage = "Unable to load records. Please try again."

// AppError represents an application error
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	// Status is the upstream HTTP status, when one was received.
	Status int
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeValidation,
		Message: message,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Err:     err,
	}
}

// NewExternalError creates a new external service error
func NewExternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeExternal,
		Message: message,
		Err:     err,
	}
}

// NewFetchFailedError creates a fetch failure. status is 0 for transport errors.
func NewFetchFailedError(message string, status int, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeFetchFailed,
		Message: message,
		Err:     err,
		Status:  status,
	}
}

// NewMalformedResponseError creates an error for a response missing expected fields
func NewMalformedResponseError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeMalformedResponse,
		Message: message,
		Err:     err,
	}
}

// NewInvalidFilterValueError creates an error for an unparseable filter bound
func NewInvalidFilterValueError(filter, value string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeInvalidFilterValue,
		Message: fmt.Sprintf("invalid value %q for filter %s", value, filter),
		Err:     err,
	}
}

// TypeOf returns the ErrorType of the first AppError in err's chain, or "" if none.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ""
}

// IsType reports whether err's chain contains an AppError of type t.
func IsType(err error, t ErrorType) bool {
	return TypeOf(err) == t
}

// As returns the first AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
