package apperrors

import (
	"errors"
	"testing"
)

func TestNewError(t *testing.T) {
	err := NewError(10001, "test error")

	if err.Code != 10001 {
		t.Errorf("Expected code 10001, got %d", err.Code)
	}
	if err.Message != "test error" {
		t.Errorf("Expected message 'test error', got '%s'", err.Message)
	}
	if err.Err != nil {
		t.Error("Expected Err to be nil")
	}
}

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			err:      NewError(11001, "bad payload"),
			expected: "[11001] bad payload",
		},
		{
			name:     "with wrapped error",
			err:      NewError(11001, "bad payload").Wrap(errors.New("original error")),
			expected: "[11001] bad payload: original error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, got)
			}
		})
	}
}

func TestAppError_Wrap(t *testing.T) {
	originalErr := errors.New("original error")
	appErr := ErrNotFriends.Wrap(originalErr)

	if appErr.Code != ErrNotFriends.Code {
		t.Errorf("Expected code %d, got %d", ErrNotFriends.Code, appErr.Code)
	}
	if appErr.Message != ErrNotFriends.Message {
		t.Errorf("Expected message '%s', got '%s'", ErrNotFriends.Message, appErr.Message)
	}
	if appErr.Err != originalErr {
		t.Error("Expected wrapped error to be the original error")
	}
}

func TestAppError_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	appErr := ErrStoreError.Wrap(originalErr)

	unwrapped := errors.Unwrap(appErr)
	if unwrapped != originalErr {
		t.Error("Expected unwrapped error to be the original error")
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		target   *AppError
		expected bool
	}{
		{
			name:     "same error",
			err:      ErrNotFriends,
			target:   ErrNotFriends,
			expected: true,
		},
		{
			name:     "wrapped same error",
			err:      ErrNotFriends.Wrap(errors.New("wrapped")),
			target:   ErrNotFriends,
			expected: true,
		},
		{
			name:     "different error",
			err:      ErrRateLimited,
			target:   ErrNotFriends,
			expected: false,
		},
		{
			name:     "plain error",
			err:      errors.New("plain"),
			target:   ErrNotFriends,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.target); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(ErrCredentialExpired); got != CodeCredentialExpired {
		t.Errorf("Expected %d, got %d", CodeCredentialExpired, got)
	}
	if got := GetCode(errors.New("plain")); got != CodeServerError {
		t.Errorf("Expected %d for plain error, got %d", CodeServerError, got)
	}
}

func TestGetMessage(t *testing.T) {
	if got := GetMessage(ErrUnknownMessageType); got != "unknown message type" {
		t.Errorf("Unexpected message: %s", got)
	}
	if got := GetMessage(errors.New("plain")); got != "internal server error" {
		t.Errorf("Unexpected message for plain error: %s", got)
	}
}
