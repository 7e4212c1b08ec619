// Package errors provides structured error handling for the application
// Following enterprise patterns for error management and observability
package errors

import (
	"fmt"
	"strings"
)

// ErrorCode represents an error code
type ErrorCode string

// Error codes for the account, subscription, and generation layers
const (
	// Account / identity errors
	CodeAuthFailed         ErrorCode = "AUTH_FAILED"
	CodeEmailAlreadyExists ErrorCode = "EMAIL_ALREADY_EXISTS"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeValidationFailed   ErrorCode = "VALIDATION_FAILED"
	CodeVerificationFailed ErrorCode = "VERIFICATION_FAILED"
	CodeUpdateFailed       ErrorCode = "UPDATE_FAILED"
	CodeSignOutFailed      ErrorCode = "SIGN_OUT_FAILED"

	// Generation errors
	CodeMealPlanFailed     ErrorCode = "MEAL_PLAN_FAILED"
	CodeShoppingListFailed ErrorCode = "SHOPPING_LIST_FAILED"
	CodeSchemaMismatch     ErrorCode = "SCHEMA_MISMATCH"

	// Infrastructure errors
	CodeInternal             ErrorCode = "INTERNAL_ERROR"
	CodeExternalServiceError ErrorCode = "EXTERNAL_SERVICE_ERROR"
)

// AppError represents an application error with structured information
type AppError struct {
	Code     ErrorCode              `json:"code"`
	Message  string                 `json:"message"`
	Details  string                 `json:"details,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Cause    error                  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithMetadata adds metadata to the error
func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// WithCause adds a cause error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message, details string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// Predefined error constructors for common scenarios

// NewAuthError creates an authentication error carrying the user-facing
// message mapped from an identity-provider error code
func NewAuthError(message string) *AppError {
	if message == "" {
		message = "Authentication failed. Please try again."
	}
	return NewAppError(CodeAuthFailed, message, "")
}

// NewAccountCreationError creates the duplicate-email account creation error.
// The message is distinct from the generic auth fallback so the UI can tell
// an already-registered email apart from other provider failures.
func NewAccountCreationError(email string) *AppError {
	return NewAppError(
		CodeEmailAlreadyExists,
		"An account with this email already exists. Try signing in instead.",
		"",
	).WithMetadata("email", email)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	message := "Resource not found"
	if resource != "" {
		message = fmt.Sprintf("%s not found", strings.Title(resource))
	}
	return NewAppError(CodeNotFound, message, "")
}

// NewValidationError creates a validation error
func NewValidationError(details string) *AppError {
	return NewAppError(CodeValidationFailed, "Validation failed", details)
}

// NewVerificationError creates a post-write consistency check error
func NewVerificationError(details string) *AppError {
	return NewAppError(
		CodeVerificationFailed,
		"Premium status could not be verified after the grant",
		details,
	)
}

// NewUpdateError creates a generic profile update error
func NewUpdateError(cause error) *AppError {
	return NewAppError(
		CodeUpdateFailed,
		"Failed to update profile",
		"",
	).WithCause(cause)
}

// NewSignOutError creates a generic sign-out error
func NewSignOutError(cause error) *AppError {
	return NewAppError(
		CodeSignOutFailed,
		"Failed to sign out. Please try again.",
		"",
	).WithCause(cause)
}

// NewMealPlanError creates the generic meal plan failure.
// The original parse or shape error is deliberately not chained: the
// message shown to the caller replaces it entirely.
func NewMealPlanError() *AppError {
	return NewAppError(
		CodeMealPlanFailed,
		"Failed to generate meal plan. Please try again.",
		"",
	)
}

// NewShoppingListError creates the generic shopping list failure
func NewShoppingListError() *AppError {
	return NewAppError(
		CodeShoppingListFailed,
		"Failed to generate shopping list. Please try again.",
		"",
	)
}

// NewSchemaMismatchError creates an error for a generation response that
// parsed as JSON but violated the expected shape
func NewSchemaMismatchError(shape string, cause error) *AppError {
	return NewAppError(
		CodeSchemaMismatch,
		"Generated response did not match the expected schema",
		fmt.Sprintf("invalid %s shape", shape),
	).WithCause(cause)
}

// NewInternalError creates an internal error
func NewInternalError(message string) *AppError {
	if message == "" {
		message = "An unexpected error occurred"
	}
	return NewAppError(CodeInternal, message, "")
}

// NewExternalServiceError creates an external service error
func NewExternalServiceError(service string, cause error) *AppError {
	return NewAppError(
		CodeExternalServiceError,
		"External service error",
		fmt.Sprintf("Failed to communicate with %s", service),
	).WithCause(cause)
}

// Utility functions

// Wrap wraps an error as an internal error if it's not already an AppError
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	if appErr, ok := err.(*AppError); ok {
		return appErr
	}

	return NewInternalError(message).WithCause(err)
}

// Is checks if an error is of a specific error code
func Is(err error, code ErrorCode) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return CodeInternal
}
