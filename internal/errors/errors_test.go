package errors

import (
	"fmt"
	"net/http"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name: "error without cause",
			err: &AppError{
				Type:    ErrTypeExtraction,
				Message: "extractor exited 1",
			},
			expected: "extraction: extractor exited 1",
		},
		{
			name: "error with cause",
			err: &AppError{
				Type:    ErrTypePlacement,
				Message: "copy failed",
				Cause:   fmt.Errorf("disk full"),
			},
			expected: "placement: copy failed (caused by: disk full)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("underlying error")
	err := &AppError{
		Type:  ErrTypeFileSystem,
		Cause: cause,
	}

	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}
}

func TestNewExtractionError(t *testing.T) {
	cause := fmt.Errorf("exit status 1")
	err := NewExtractionError("all attempts failed", "ERROR: video unavailable", cause)

	if err.Type != ErrTypeExtraction {
		t.Errorf("Type = %v, want %v", err.Type, ErrTypeExtraction)
	}
	if err.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %v, want %v", err.StatusCode, http.StatusBadGateway)
	}
	if !err.Retryable {
		t.Error("Expected extraction error to be retryable")
	}
	if err.Output != "ERROR: video unavailable" {
		t.Errorf("Output = %q", err.Output)
	}
	if err.Cause != cause {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
}

func TestNewDirectoryError(t *testing.T) {
	cause := fmt.Errorf("permission denied")
	err := NewDirectoryError("/music", cause)

	if err.Type != ErrTypeDirectory {
		t.Errorf("Type = %v, want %v", err.Type, ErrTypeDirectory)
	}
	if err.Message != "could not create directory /music" {
		t.Errorf("Message = %q", err.Message)
	}
	if err.Retryable {
		t.Error("Expected directory error to be non-retryable")
	}
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("track not found")

	if err.Type != ErrTypeNotFound {
		t.Errorf("Type = %v, want %v", err.Type, ErrTypeNotFound)
	}
	if err.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %v, want %v", err.StatusCode, http.StatusNotFound)
	}
	if err.Retryable {
		t.Error("Expected not found error to be non-retryable")
	}
}

func TestNewInvalidTransitionError(t *testing.T) {
	err := NewInvalidTransitionError("abc", "downloaded", "pending")

	if err.Type != ErrTypeInvalidTransition {
		t.Errorf("Type = %v, want %v", err.Type, ErrTypeInvalidTransition)
	}
	if err.StatusCode != http.StatusConflict {
		t.Errorf("StatusCode = %v, want %v", err.StatusCode, http.StatusConflict)
	}
	want := "invalid_transition: track abc cannot move from downloaded to pending"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %v, want %v", got, want)
	}
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("invalid input")

	if err.Type != ErrTypeValidation {
		t.Errorf("Type = %v, want %v", err.Type, ErrTypeValidation)
	}
	if err.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %v, want %v", err.StatusCode, http.StatusBadRequest)
	}
}

func TestHelpersSeeThroughWrapping(t *testing.T) {
	inner := NewExtractionError("failed", "transcript text", nil)
	wrapped := fmt.Errorf("download abc: %w", inner)

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"GetErrorType", GetErrorType(wrapped), ErrTypeExtraction},
		{"IsRetryable", IsRetryable(wrapped), true},
		{"TranscriptOf", TranscriptOf(wrapped), "transcript text"},
		{"StatusCode", StatusCode(wrapped), http.StatusBadGateway},
		{"IsExtractionError", IsExtractionError(wrapped), true},
		{"IsNotFound", IsNotFound(wrapped), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestHelpersOnPlainErrors(t *testing.T) {
	plain := fmt.Errorf("plain")

	if GetErrorType(plain) != ErrTypeUnknown {
		t.Errorf("GetErrorType = %v, want %v", GetErrorType(plain), ErrTypeUnknown)
	}
	if IsRetryable(plain) {
		t.Error("plain error should not be retryable")
	}
	if TranscriptOf(plain) != "" {
		t.Error("plain error should have no transcript")
	}
	if StatusCode(plain) != http.StatusInternalServerError {
		t.Errorf("StatusCode = %v", StatusCode(plain))
	}
}
