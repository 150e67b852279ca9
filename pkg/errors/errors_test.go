package errors

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := NewNotFoundError("stream")
	want := "NOT_FOUND: stream not found"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestAppError_WithCause(t *testing.T) {
	cause := errors.New("redis: connection refused")
	err := WrapError(cause, ErrCodeServiceUnavailable, "metrics sink unreachable", http.StatusServiceUnavailable)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should see through the wrapper")
	}
	if !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Error() should include the cause, got %q", err.Error())
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewInvalidInputError("unknown stream state")
	err.WithContext("stream_id", "stream-1").WithContext("state", "melting")

	if err.Context["stream_id"] != "stream-1" {
		t.Errorf("Context[stream_id] = %v, want stream-1", err.Context["stream_id"])
	}
	if err.Context["state"] != "melting" {
		t.Errorf("Context[state] = %v, want melting", err.Context["state"])
	}
}

func TestConstructors_StatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  *AppError
		code ErrorCode
		http int
	}{
		{"invalid input", NewInvalidInputError("bad metric name"), ErrCodeInvalidInput, http.StatusBadRequest},
		{"not found", NewNotFoundError("alert"), ErrCodeNotFound, http.StatusNotFound},
		{"conflict", NewConflictError("stream already registered"), ErrCodeConflict, http.StatusConflict},
		{"rate limit", NewRateLimitError(), ErrCodeRateLimit, http.StatusTooManyRequests},
		{"internal", NewInternalError("aggregation failed"), ErrCodeInternal, http.StatusInternalServerError},
		{"unavailable", NewServiceUnavailableError("sink offline"), ErrCodeServiceUnavailable, http.StatusServiceUnavailable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.Code != tc.code {
				t.Errorf("Code = %v, want %v", tc.err.Code, tc.code)
			}
			if tc.err.HTTPStatus != tc.http {
				t.Errorf("HTTPStatus = %d, want %d", tc.err.HTTPStatus, tc.http)
			}
		})
	}
}

func TestIsAppError(t *testing.T) {
	if !IsAppError(NewNotFoundError("stream")) {
		t.Error("IsAppError() should return true for AppError")
	}
	if IsAppError(errors.New("stream not found")) {
		t.Error("IsAppError() should return false for a plain error")
	}
}

func TestGetAppError(t *testing.T) {
	appErr := NewConflictError("stream already registered")
	if got := GetAppError(appErr); got != appErr {
		t.Errorf("GetAppError() = %v, want %v", got, appErr)
	}

	wrapped := WrapError(errors.New("pipeline exec failed"), ErrCodeInternal, "persist failed", http.StatusInternalServerError)
	if GetAppError(wrapped) == nil {
		t.Error("GetAppError() should extract AppError from a wrapped error")
	}

	if GetAppError(errors.New("plain")) != nil {
		t.Error("GetAppError() should return nil for a plain error")
	}
	if GetAppError(nil) != nil {
		t.Error("GetAppError() should return nil for nil")
	}
}
