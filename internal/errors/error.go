package errors

import (
	stderrors "errors"
	"fmt"
)

// Category represents the type of error.
type Category string

const (
	CategoryRouting   Category = "routing"
	CategoryDispatch  Category = "dispatch"
	CategoryLifecycle Category = "lifecycle"
	CategoryHandler   Category = "handler"
	CategorySync      Category = "sync"
	CategoryTransport Category = "transport"
	CategoryConfig    Category = "config"
	CategoryCommand   Category = "command"
)

// Error is a structured error with a registered code and an optional cause.
type Error struct {
	// Code is a unique error identifier (e.g., "R001").
	Code string

	// Category is the error type (routing, dispatch, etc.).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Fatal marks errors that terminate the interaction they occurred in.
	Fatal bool

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is reports whether target carries the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Code == "" {
		return false
	}
	return t.Code == e.Code
}

// WithSuggestion adds a fix suggestion to the error.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *Error) WithDetail(d string) *Error {
	e.Detail = d
	return e
}

// WithDetailf adds a formatted explanation to the error.
func (e *Error) WithDetailf(format string, args ...any) *Error {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// Wrap wraps another error.
func (e *Error) Wrap(err error) *Error {
	e.Wrapped = err
	return e
}

// New creates an Error from a registered error code.
func New(code string) *Error {
	template, ok := registry[code]
	if !ok {
		return &Error{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &Error{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
		Fatal:    template.Fatal,
	}
}

// FromError returns the first Error in err's chain, or err wrapped in a new
// Error with code.
func FromError(err error, code string) *Error {
	if err == nil {
		return nil
	}
	var le *Error
	if stderrors.As(err, &le) {
		return le
	}
	return New(code).Wrap(err)
}

// CodeOf returns the code of the first Error in err's chain, or "".
func CodeOf(err error) string {
	var le *Error
	if stderrors.As(err, &le) {
		return le.Code
	}
	return ""
}

// IsFatal reports whether err carries a fatal coded error.
func IsFatal(err error) bool {
	var le *Error
	if stderrors.As(err, &le) {
		return le.Fatal
	}
	return false
}
