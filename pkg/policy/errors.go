package policy

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine errors for propagation decisions: only
// config errors are fatal, everything else degrades to a violation so the
// evaluator always returns a Decision.
type ErrorKind string

const (
	// ErrorKindConfig indicates a malformed policy source or duplicate
	// policy name. Fatal at load: the process must refuse to start rather
	// than run with a partial rule set.
	ErrorKindConfig ErrorKind = "config"

	// ErrorKindCheckFault indicates an unexpected internal fault inside a
	// checker. It is caught at the check boundary and converted into a
	// violation naming the failing policy, logged distinctly from ordinary
	// policy violations.
	ErrorKindCheckFault ErrorKind = "check-fault"
)

// Error is a classified engine error with policy context.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Policy  string    `json:"policy,omitempty"`
	Source  string    `json:"source,omitempty"`
	Err     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Policy != "" {
		msg += fmt.Sprintf(" (policy=%s)", e.Policy)
	}
	if e.Source != "" {
		msg += fmt.Sprintf(" (source=%s)", e.Source)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewConfigError creates a fatal policy-source error.
func NewConfigError(message string, err error) *Error {
	return &Error{Kind: ErrorKindConfig, Message: message, Err: err}
}

// NewCheckFaultError creates a check-boundary fault for the named policy.
func NewCheckFaultError(policyName, message string, err error) *Error {
	return &Error{Kind: ErrorKindCheckFault, Message: message, Policy: policyName, Err: err}
}

// WithPolicy adds policy context to an error.
func (e *Error) WithPolicy(name string) *Error {
	e.Policy = name
	return e
}

// WithSource adds the originating file path to an error.
func (e *Error) WithSource(source string) *Error {
	e.Source = source
	return e
}

// IsConfigError reports whether err is a fatal policy-source error.
func IsConfigError(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == ErrorKindConfig
	}
	return false
}

// IsCheckFault reports whether err is an internal checker fault.
func IsCheckFault(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == ErrorKindCheckFault
	}
	return false
}
