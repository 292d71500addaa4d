// Package errors provides stack-carrying error wrappers for the
// parameter-search service.
package errors

import (
	"fmt"
	"runtime"
	"strings"
)

// Error is an error with context and a captured stack trace.
type Error struct {
	// The underlying error that was returned
	Err error
	// A human-readable message describing the error
	Message string
	// The operation that was being performed when the error occurred
	Operation string
	// The stack trace
	Stack []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Message != "" {
		b.WriteString(e.Message)
	}
	if e.Operation != "" {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString("operation=")
		b.WriteString(e.Operation)
	}
	if e.Err != nil {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// WithOperation adds an operation to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// StackTrace returns the captured stack trace.
func (e *Error) StackTrace() []string { return e.Stack }

// New creates a new error with a message.
func New(msg string) *Error {
	return &Error{Message: msg, Stack: stackTrace()}
}

// Errorf creates a new error with a formatted message.
func Errorf(format string, args ...interface{}) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Stack: stackTrace()}
}

// Wrap wraps an error with additional context. A nil err returns nil.
func Wrap(err error, msg string) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		if msg != "" {
			e.Message = msg
		}
		return e
	}
	return &Error{Err: err, Message: msg, Stack: stackTrace()}
}

// Wrapf wraps an error with a formatted message. A nil err returns nil.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

func stackTrace() []string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:])
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]string, 0, n)
	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") && !strings.Contains(frame.File, "internal/errors") {
			stack = append(stack, fmt.Sprintf("%s\n\t%s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}
	return stack
}
