package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	expected := "INVALID_INPUT: test error"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("hardware busy")
	err := WrapError(originalErr, ErrCodeInitError, "resource construction failed", 503)

	if err.Cause != originalErr {
		t.Errorf("Cause = %v, want %v", err.Cause, originalErr)
	}
	if !strings.Contains(err.Error(), "hardware busy") {
		t.Errorf("Error() should contain cause, got: %v", err.Error())
	}
	if !errors.Is(err, originalErr) {
		t.Error("errors.Is should see the cause through Unwrap")
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	err.WithContext("field", "value").WithContext("count", 42)

	if err.Context["field"] != "value" {
		t.Errorf("Context[field] = %v, want 'value'", err.Context["field"])
	}
	if err.Context["count"] != 42 {
		t.Errorf("Context[count] = %v, want 42", err.Context["count"])
	}
}

func TestNewViewNotFoundError(t *testing.T) {
	err := NewViewNotFoundError(7)
	if err.Code != ErrCodeViewNotFound {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeViewNotFound)
	}
	if err.HTTPStatus != 404 {
		t.Errorf("HTTPStatus = %v, want 404", err.HTTPStatus)
	}
	if err.Context["view_tag"] != 7 {
		t.Errorf("Context[view_tag] = %v, want 7", err.Context["view_tag"])
	}
}

func TestNewInvalidConfigurationError(t *testing.T) {
	cause := errors.New("fps must be > 0")
	err := NewInvalidConfigurationError(cause)
	if err.Code != ErrCodeInvalidConfiguration {
		t.Errorf("Code = %v, want %v", err.Code, ErrCodeInvalidConfiguration)
	}
	if err.HTTPStatus != 422 {
		t.Errorf("HTTPStatus = %v, want 422", err.HTTPStatus)
	}
}

func TestIsAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", 400)
	regularErr := errors.New("regular error")

	if !IsAppError(appErr) {
		t.Error("IsAppError() should return true for AppError")
	}
	if IsAppError(regularErr) {
		t.Error("IsAppError() should return false for regular error")
	}
}

func TestGetAppError(t *testing.T) {
	appErr := NewAppError(ErrCodeInvalidInput, "test", 400)

	if result := GetAppError(appErr); result != appErr {
		t.Errorf("GetAppError() = %v, want %v", result, appErr)
	}

	wrapped := fmt.Errorf("start failed: %w", appErr)
	if result := GetAppError(wrapped); result != appErr {
		t.Error("GetAppError() should extract AppError from a fmt wrapped error")
	}

	if result := GetAppError(errors.New("regular error")); result != nil {
		t.Error("GetAppError() should return nil for regular error")
	}
	if result := GetAppError(nil); result != nil {
		t.Error("GetAppError(nil) should return nil")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(NewStreamStartRejectedError(errors.New("bad key"))); got != ErrCodeStreamStartRejected {
		t.Errorf("CodeOf() = %v, want %v", got, ErrCodeStreamStartRejected)
	}
	if got := CodeOf(errors.New("plain")); got != ErrCodeInternal {
		t.Errorf("CodeOf() = %v, want %v", got, ErrCodeInternal)
	}
}
