package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrTypeExtraction represents external extractor failures
	ErrTypeExtraction ErrorType = "extraction"
	// ErrTypeMetadata represents missing or malformed side-car metadata
	ErrTypeMetadata ErrorType = "metadata"
	// ErrTypeTagging represents tag block rewrite failures
	ErrTypeTagging ErrorType = "tagging"
	// ErrTypePlacement represents failures committing a file to its final location
	ErrTypePlacement ErrorType = "placement"
	// ErrTypeDirectory represents failures provisioning a required directory
	ErrTypeDirectory ErrorType = "directory"
	// ErrTypeFileSystem represents generic file system errors
	ErrTypeFileSystem ErrorType = "filesystem"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeInvalidTransition represents a rejected track status change
	ErrTypeInvalidTransition ErrorType = "invalid_transition"
	// ErrTypeUnknown represents unknown errors
	ErrTypeUnknown ErrorType = "unknown"
)

// AppError represents an application error with context
type AppError struct {
	Type       ErrorType
	Message    string
	StatusCode int
	Retryable  bool
	// Output holds the captured extractor transcript, if any
	Output string
	Cause  error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewExtractionError creates an extraction error carrying the tool transcript
func NewExtractionError(message, output string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeExtraction,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Retryable:  true,
		Output:     output,
		Cause:      cause,
	}
}

// NewMetadataError creates a new metadata error
func NewMetadataError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeMetadata,
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewTaggingError creates a new tagging error
func NewTaggingError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeTagging,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewPlacementError creates a new placement error
func NewPlacementError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypePlacement,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewDirectoryError creates an error for a directory that could not be created
func NewDirectoryError(path string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeDirectory,
		Message:    fmt.Sprintf("could not create directory %s", path),
		StatusCode: http.StatusInternalServerError,
		Retryable:  false,
		Cause:      cause,
	}
}

// NewFileSystemError creates a new file system error
func NewFileSystemError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrTypeFileSystem,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Retryable:  true,
		Cause:      cause,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:       ErrTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
		Retryable:  false,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Type:       ErrTypeValidation,
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Retryable:  false,
	}
}

// NewInvalidTransitionError creates an error for a rejected status change
func NewInvalidTransitionError(id, from, to string) *AppError {
	return &AppError{
		Type:       ErrTypeInvalidTransition,
		Message:    fmt.Sprintf("track %s cannot move from %s to %s", id, from, to),
		StatusCode: http.StatusConflict,
		Retryable:  false,
	}
}

// AsAppError finds the first AppError in the chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Retryable
	}
	return false
}

// GetErrorType returns the error type from an error
func GetErrorType(err error) ErrorType {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Type
	}
	return ErrTypeUnknown
}

// StatusCode returns the HTTP status that best describes err
func StatusCode(err error) int {
	if appErr, ok := AsAppError(err); ok && appErr.StatusCode != 0 {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// TranscriptOf returns the extractor transcript attached to err, if any
func TranscriptOf(err error) string {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Output
	}
	return ""
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return GetErrorType(err) == ErrTypeNotFound
}

// IsExtractionError checks if an error is an extraction error
func IsExtractionError(err error) bool {
	return GetErrorType(err) == ErrTypeExtraction
}

// IsDirectoryError checks if an error is a directory provisioning error
func IsDirectoryError(err error) bool {
	return GetErrorType(err) == ErrTypeDirectory
}
