package errors

import (
	"context"
	"fmt"
	"testing"
)

func TestNewAppError(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "Test error", nil)

	if err.Code != ErrCodeInvalidInput {
		t.Errorf("Expected code %s, got %s", ErrCodeInvalidInput, err.Code)
	}

	if err.Message != "Test error" {
		t.Errorf("Expected message 'Test error', got %s", err.Message)
	}

	if err.Severity != SeverityLow {
		t.Errorf("Expected severity %s, got %s", SeverityLow, err.Severity)
	}
}

func TestAppErrorMessage(t *testing.T) {
	err := NewAppErrorWithDetails(ErrCodeIndicatorFailed, "cci failed", "period=1", ErrDivisionByZero)
	want := "[INDICATOR_FAILED] cci failed: period=1: division by zero"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
}

func TestAppErrorWithContext(t *testing.T) {
	err := NewAppError(ErrCodeCombinationFailed, "Test error", nil)
	err = err.WithContext("combination", 7)

	if err.Context["combination"] != 7 {
		t.Errorf("Expected context combination 7, got %v", err.Context["combination"])
	}
}

func TestAppErrorIsRecoverable(t *testing.T) {
	tests := []struct {
		code        ErrorCode
		recoverable bool
	}{
		{ErrCodeParameterInvalid, true},
		{ErrCodeIndicatorFailed, true},
		{ErrCodeWorkerTimeout, true},
		{ErrCodeInvalidInput, false},
		{ErrCodeOptimizationTimeout, false},
	}

	for _, test := range tests {
		err := NewAppError(test.code, "Test", nil)
		if err.IsRecoverable() != test.recoverable {
			t.Errorf("Code %s: expected recoverable=%v", test.code, test.recoverable)
		}
	}
}

func TestAppErrorIsRetryable(t *testing.T) {
	retryableErr := NewAppError(ErrCodeWorkerTimeout, "Timeout", nil)
	nonRetryableErr := NewAppError(ErrCodeInvalidInput, "Invalid input", nil)

	if !retryableErr.IsRetryable() {
		t.Error("Worker timeout should be retryable")
	}

	if nonRetryableErr.IsRetryable() {
		t.Error("Invalid input error should not be retryable")
	}
}

func TestWrapError(t *testing.T) {
	if WrapError(nil, ErrCodeInternal, "nil") != nil {
		t.Error("Wrapping nil should return nil")
	}

	wrapped := WrapError(context.DeadlineExceeded, ErrCodeWorkerTimeout, "combination timed out")
	if wrapped.Code != ErrCodeWorkerTimeout {
		t.Errorf("Expected code %s, got %s", ErrCodeWorkerTimeout, wrapped.Code)
	}
	if wrapped.Unwrap() != context.DeadlineExceeded {
		t.Error("Expected cause to be preserved")
	}

	original := NewAppError(ErrCodeParameterInvalid, "fast >= slow", nil)
	if WrapError(original, ErrCodeInternal, "wrapped") != original {
		t.Error("Wrapping an AppError should return it unchanged")
	}
}

func TestIsThroughWrapping(t *testing.T) {
	inner := InvalidInput("series has %d bars", 3)
	outer := fmt.Errorf("load: %w", inner)

	if !IsAppError(outer) {
		t.Error("Expected wrapped AppError to be detected")
	}
	if !Is(outer, ErrCodeInvalidInput) {
		t.Error("Expected Is to match through fmt wrapping")
	}
	if Is(outer, ErrCodeNumeric) {
		t.Error("Expected Is to reject other codes")
	}
	if CodeOf(fmt.Errorf("plain")) != ErrCodeInternal {
		t.Error("Plain errors map to INTERNAL_ERROR")
	}
	if GetAppError(outer).Message != "series has 3 bars" {
		t.Errorf("Unexpected message %q", GetAppError(outer).Message)
	}
}

func BenchmarkNewAppError(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = NewAppError(ErrCodeInvalidInput, "test error", nil)
	}
}
