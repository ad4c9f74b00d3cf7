package errors_test

import (
	"errors"
	"fmt"
	"testing"

	. "codejudge/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{CompilationError, "Compilation error"},
		{InvalidParams, "Invalid parameters"},
		{SandboxError, "Sandbox environment error"},
		{ErrorCode(99999), "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{Success, 200},
		{InvalidParams, 400},
		{InvalidValue, 400},
		{ValidationFailed, 400},
		{NotFound, 404},
		{CodeTooLarge, 413},
		{TooManyRequests, 429},
		{JudgeSystemError, 500},
		{InternalServerError, 500},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.wantStatus)
			}
		})
	}
}

func TestNew(t *testing.T) {
	err := New(RuntimeError)

	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if err.Code != RuntimeError {
		t.Errorf("Code = %v, want %v", err.Code, RuntimeError)
	}
	if err.Error() != RuntimeError.Message() {
		t.Errorf("Error() = %v, want %v", err.Error(), RuntimeError.Message())
	}
}

func TestNewf(t *testing.T) {
	err := Newf(TimeLimitExceeded, "exceeded %dms", 500)

	want := "exceeded 500ms"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}
}

func TestWrap(t *testing.T) {
	originalErr := errors.New("no space left on device")
	wrappedErr := Wrap(originalErr, SandboxError)

	if wrappedErr.Code != SandboxError {
		t.Errorf("Code = %v, want %v", wrappedErr.Code, SandboxError)
	}
	if wrappedErr.Unwrap() != originalErr {
		t.Error("Unwrap() should return original error")
	}
	if Wrap(nil, SandboxError) != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestError_WithDetail(t *testing.T) {
	err := New(ValidationFailed).
		WithDetail("field", "testCases[0].inputParameters[1]").
		WithDetail("reason", "not an int")

	if err.Details["field"] != "testCases[0].inputParameters[1]" {
		t.Error("Field detail not set correctly")
	}
	if err.Details["reason"] != "not an int" {
		t.Error("Reason detail not set correctly")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{
			name: "nil error",
			err:  nil,
			want: Success,
		},
		{
			name: "custom error",
			err:  New(CompilationError),
			want: CompilationError,
		},
		{
			name: "wrapped custom error",
			err:  fmt.Errorf("build: %w", New(TimeLimitExceeded)),
			want: TimeLimitExceeded,
		},
		{
			name: "standard error",
			err:  errors.New("standard error"),
			want: InternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.want {
				t.Errorf("GetCode() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIs(t *testing.T) {
	err := New(RuntimeError)

	if !Is(err, RuntimeError) {
		t.Error("Is() should return true for matching code")
	}
	if Is(err, CompilationError) {
		t.Error("Is() should return false for non-matching code")
	}
	if Is(nil, RuntimeError) {
		t.Error("Is() should return false for nil error")
	}
}

func TestSubmissionFault(t *testing.T) {
	faults := []ErrorCode{CompilationError, RuntimeError, TimeLimitExceeded, MemoryLimitExceeded, WrongAnswer}
	for _, code := range faults {
		if !code.SubmissionFault() {
			t.Errorf("%v should be a submission fault", code)
		}
	}
	for _, code := range []ErrorCode{SandboxError, PrepareError, JudgeSystemError, InvalidValue} {
		if code.SubmissionFault() {
			t.Errorf("%v should not be a submission fault", code)
		}
	}
}

func TestValidationError(t *testing.T) {
	err := ValidationError("solution", "required")
	if err.Code != ValidationFailed {
		t.Errorf("Code = %v, want %v", err.Code, ValidationFailed)
	}
	if err.Details["field"] != "solution" || err.Details["reason"] != "required" {
		t.Errorf("Details = %v", err.Details)
	}
	if err.Code.HTTPStatus() != 400 {
		t.Errorf("HTTPStatus() = %v, want 400", err.Code.HTTPStatus())
	}
}

func TestGetError(t *testing.T) {
	plain := errors.New("disk full")
	if got := GetError(plain); got.Code != InternalServerError || !errors.Is(got, plain) {
		t.Errorf("GetError(plain) = %+v", got)
	}
	coded := Wrapf(plain, SandboxError, "create session failed")
	if got := GetError(fmt.Errorf("open: %w", coded)); got != coded {
		t.Errorf("GetError should return the wrapped *Error")
	}
	if coded.Stack == "" {
		t.Error("Stack should be captured")
	}
}
