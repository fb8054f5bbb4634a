// Package errors provides the service's HTTP-aware error type and the
// middleware that turns panics and failed requests into logged JSON errors.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
)

// Error is an error with an HTTP status, context and a stack trace.
type Error struct {
	// Err is the underlying cause, if any.
	Err error
	// Message is a human-readable description safe to return to clients.
	Message string
	// Operation is the operation being performed when the error occurred.
	Operation string
	// Code is the HTTP status reported to clients. Zero means 500.
	Code int
	Stack []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Operation != "" {
		b.WriteString(e.Operation)
	}
	if e.Message != "" {
		if b.Len() > 0 {
			b.WriteString(": ")
		}
		b.WriteString(e.Message)
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
func (e *Error) Unwrap() error {
	return e.Err
}

// WithOperation sets the operation.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithCode sets the HTTP status.
func (e *Error) WithCode(code int) *Error {
	e.Code = code
	return e
}

// StackTrace returns the stack captured when the error was created.
func (e *Error) StackTrace() []string {
	return e.Stack
}

// New creates an error with a message.
func New(msg string) *Error {
	return &Error{Message: msg, Stack: stackTrace()}
}

// Errorf creates an error with a formatted message.
func Errorf(format string, args ...interface{}) *Error {
	return &Error{Message: fmt.Sprintf(format, args...), Stack: stackTrace()}
}

// Wrap wraps err with a message. It returns nil when err is nil.
func Wrap(err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Err: err, Message: msg, Code: StatusCode(err), Stack: stackTrace()}
}

// Wrapf wraps err with a formatted message. It returns nil when err is nil.
func Wrapf(err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{Err: err, Message: fmt.Sprintf(format, args...), Code: StatusCode(err), Stack: stackTrace()}
}

// BadRequest reports invalid client input.
func BadRequest(format string, args ...interface{}) *Error {
	return Errorf(format, args...).WithCode(http.StatusBadRequest)
}

// NotFound reports a missing resource.
func NotFound(format string, args ...interface{}) *Error {
	return Errorf(format, args...).WithCode(http.StatusNotFound)
}

// Conflict reports a request that does not fit the resource's state.
func Conflict(format string, args ...interface{}) *Error {
	return Errorf(format, args...).WithCode(http.StatusConflict)
}

// Unavailable reports that the service cannot take more work.
func Unavailable(format string, args ...interface{}) *Error {
	return Errorf(format, args...).WithCode(http.StatusServiceUnavailable)
}

// StatusCode returns the HTTP status carried by the first *Error in err's
// chain, or 500.
func StatusCode(err error) int {
	var e *Error
	if stderrors.As(err, &e) && e.Code != 0 {
		return e.Code
	}
	return http.StatusInternalServerError
}

// WriteJSON writes err as {"error": message} with its HTTP status. Errors
// without a status are reported as a generic internal error.
func WriteJSON(w http.ResponseWriter, err error) {
	code := StatusCode(err)
	msg := err.Error()
	if code >= http.StatusInternalServerError {
		msg = http.StatusText(code)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
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

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}
