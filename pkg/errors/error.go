package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

const stackDepth = 10

// Error carries an ErrorCode through the layers of the judge. Message is what
// callers see; Details holds structured context such as the offending field.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Err     error
	Stack   string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code.Message()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, msg string, cause error) *Error {
	return &Error{Code: code, Message: msg, Err: cause, Stack: callers(4)}
}

// New creates an error carrying the code's default message.
func New(code ErrorCode) *Error {
	return newError(code, code.Message(), nil)
}

// Newf creates an error with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *Error {
	return newError(code, fmt.Sprintf(format, args...), nil)
}

// Wrap attaches code to err. An *Error is recoded in place.
func Wrap(err error, code ErrorCode) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		e.Code = code
		return e
	}
	return newError(code, err.Error(), err)
}

// Wrapf attaches code and a formatted message to err.
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return newError(code, fmt.Sprintf(format, args...), err)
}

// WithMessage replaces the message.
func (e *Error) WithMessage(msg string) *Error {
	e.Message = msg
	return e
}

// WithDetail records one key of structured context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ValidationError reports an intake field that failed validation.
func ValidationError(field, reason string) *Error {
	return New(ValidationFailed).WithDetail("field", field).WithDetail("reason", reason)
}

// GetCode returns the code of the first *Error in err's chain: Success for a
// nil err and InternalServerError when the chain has no *Error.
func GetCode(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return InternalServerError
}

// GetError returns the first *Error in err's chain, wrapping err as an
// InternalServerError when there is none.
func GetError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return Wrap(err, InternalServerError)
}

// Is reports whether err carries code.
func Is(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// SubmissionFault reports whether the code describes a failure caused by the
// submitted program rather than by the judge itself.
func (c ErrorCode) SubmissionFault() bool {
	switch c {
	case CompilationError, RuntimeError, TimeLimitExceeded, MemoryLimitExceeded, OutputLimitExceeded, WrongAnswer:
		return true
	default:
		return false
	}
}

func callers(skip int) string {
	var pcs [stackDepth]uintptr
	n := runtime.Callers(skip, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	var b strings.Builder
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !strings.HasPrefix(frame.Function, "runtime.") {
			fmt.Fprintf(&b, "\n\t%s:%d %s", frame.File, frame.Line, frame.Function)
		}
		if !more {
			return b.String()
		}
	}
}
