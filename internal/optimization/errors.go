package optimization

import "fmt"

// Error kinds. ConfigError marks a construction-time failure that is raised
// before the loop starts and never retried; EvalError marks a failure from
// the caller's objective function, which aborts the run.
const (
	KindConfig = "config"
	KindEval   = "evaluation"
)

// Error is an optimization error with component and operation context.
type Error struct {
	// Kind classifies the error (KindConfig, KindEval).
	Kind string
	// Message describes the error that occurred.
	Message string
	// Op is the operation that caused the error.
	Op string
	// Component is the component where the error occurred.
	Component string
	// Err is the underlying error that triggered this one, if any.
	Err error
}

// Error returns the string representation of the error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var prefix string
	switch {
	case e.Component != "" && e.Op != "":
		prefix = fmt.Sprintf("%s: %s", e.Component, e.Op)
	case e.Component != "":
		prefix = e.Component
	case e.Op != "":
		prefix = e.Op
	}

	if e.Err != nil {
		if prefix != "" {
			return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	if prefix != "" {
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	}
	return e.Message
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithOperation adds operation context to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Op = op
	return e
}

// WithComponent adds component context to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// NewConfigError creates a fail-fast configuration error.
func NewConfigError(message string) *Error {
	return &Error{Kind: KindConfig, Message: message}
}

// NewConfigErrorf creates a fail-fast configuration error with a formatted
// message.
func NewConfigErrorf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConfig, Message: fmt.Sprintf(format, args...)}
}

// WrapEvalError wraps a failure from the caller's objective function. The
// original error stays reachable through Unwrap so the caller's sentinel
// checks keep working. If err is nil, WrapEvalError returns nil.
func WrapEvalError(err error, op string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindEval, Message: "objective evaluation failed", Op: op, Err: err}
}

// WrapError wraps an existing error with additional context.
// If err is nil, WrapError returns nil.
func WrapError(err error, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Message: message, Err: err}
}

// IsConfigError reports whether err is a construction-time configuration
// error.
func IsConfigError(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == KindConfig
}

// IsEvalError reports whether err came from the caller's objective function.
func IsEvalError(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == KindEval
}
