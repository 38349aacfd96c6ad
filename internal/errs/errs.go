package errs

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies why a scenario step failed.
type Code string

const (
	NavigationTimeout       Code = "navigation_timeout"
	ElementNotFound         Code = "element_not_found"
	AssertionMismatch       Code = "assertion_mismatch"
	UnexpectedConsoleError  Code = "unexpected_console_error"
	MultiContextSyncFailure Code = "multi_context_sync_failure"
	InvalidArgument         Code = "invalid_argument"
	Unavailable             Code = "unavailable"
	Canceled                Code = "canceled"
	Internal                Code = "internal"
)

// Error is a coded scenario failure. Expected and Actual are filled for
// comparisons so a report can show both sides without re-parsing Message.
type Error struct {
	Code     Code
	Message  string
	Expected string
	Actual   string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Expected != "" || e.Actual != "" {
		msg = fmt.Sprintf("%s (expected %q, got %q)", msg, e.Expected, e.Actual)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a coded error with message.
func New(code Code, message string) error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a coded error with message and cause.
func Wrap(code Code, message string, cause error) error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     cause,
	}
}

// Mismatch creates an assertion_mismatch error carrying both values.
func Mismatch(message, expected, actual string) error {
	return &Error{
		Code:     AssertionMismatch,
		Message:  message,
		Expected: expected,
		Actual:   actual,
	}
}

// CodeOf returns the error code, defaulting to internal.
// Context cancellation and deadline errors without a coded wrapper map to canceled.
func CodeOf(err error) Code {
	if err == nil {
		return Internal
	}
	var coded *Error
	if errors.As(err, &coded) {
		if coded.Code == "" {
			return Internal
		}
		return coded.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Canceled
	}
	return Internal
}

// MessageOf returns the human-readable part of a coded error, or the raw
// error text when the error carries no code.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var coded *Error
	if errors.As(err, &coded) {
		if coded.Message != "" {
			return coded.Message
		}
		if coded.Err != nil {
			return coded.Err.Error()
		}
		return string(coded.Code)
	}
	return err.Error()
}

// ValuesOf returns the expected and actual values recorded on a mismatch.
func ValuesOf(err error) (expected, actual string) {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Expected, coded.Actual
	}
	return "", ""
}
