// Package reconcile drives one configuration domain of one device from
// its current state to a requested state: fetch, diff, execute, verify.
// Every failure is classified for retry and recovery decisions.
package reconcile

import (
	"errors"
	"fmt"
)

// Class is the failure classification.
type Class string

const (
	// ClassChannel covers transport-level failures: connection loss,
	// timeouts, authentication. Retryable.
	ClassChannel Class = "channel_error"

	// ClassDeviceBusy means the device refused because another
	// operation is in progress. Retryable.
	ClassDeviceBusy Class = "device_busy"

	// ClassUnsupported means this device or firmware lacks the
	// operation. Not retryable.
	ClassUnsupported Class = "unsupported_operation"

	// ClassInvalidRequest means the request could never succeed as
	// expressed. Not retryable.
	ClassInvalidRequest Class = "invalid_request"

	// ClassMalformedResponse means device output defied the expected
	// grammar or vocabulary. Not retryable.
	ClassMalformedResponse Class = "malformed_response"

	// ClassPreconditionFailed means the request is well formed but the
	// device's state rules it out. Not retryable.
	ClassPreconditionFailed Class = "precondition_failed"
)

// Error is a classified reconciliation failure. Raw keeps the device's
// verbatim output and Command the (redacted) command that provoked it.
type Error struct {
	Class   Class  `json:"class"`
	Message string `json:"message"`
	Command string `json:"command,omitempty"`
	Raw     string `json:"raw,omitempty"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Command != "" {
		return fmt.Sprintf("[%s] %s (command=%q)%s", e.Class, e.Message, e.Command, e.unwrapSuffix())
	}
	return fmt.Sprintf("[%s] %s%s", e.Class, e.Message, e.unwrapSuffix())
}

func (e *Error) unwrapSuffix() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// Unwrap returns the underlying error for chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same class.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// NewChannelError creates a channel-level failure.
func NewChannelError(message string, err error) *Error {
	return &Error{Class: ClassChannel, Message: message, Err: err}
}

// NewDeviceBusyError creates a device-busy failure.
func NewDeviceBusyError(message string, err error) *Error {
	return &Error{Class: ClassDeviceBusy, Message: message, Err: err}
}

// NewUnsupportedError creates an unsupported-operation failure.
func NewUnsupportedError(message string, err error) *Error {
	return &Error{Class: ClassUnsupported, Message: message, Err: err}
}

// NewInvalidRequestError creates an invalid-request failure.
func NewInvalidRequestError(message string, err error) *Error {
	return &Error{Class: ClassInvalidRequest, Message: message, Err: err}
}

// NewMalformedResponseError creates a malformed-response failure.
func NewMalformedResponseError(message string, err error) *Error {
	return &Error{Class: ClassMalformedResponse, Message: message, Err: err}
}

// NewPreconditionError creates a precondition failure.
func NewPreconditionError(message string, err error) *Error {
	return &Error{Class: ClassPreconditionFailed, Message: message, Err: err}
}

// WithCommand attaches the provoking command, already redacted.
func (e *Error) WithCommand(command string) *Error {
	e.Command = command
	return e
}

// WithRaw attaches the device's verbatim output.
func (e *Error) WithRaw(raw string) *Error {
	e.Raw = raw
	return e
}

// IsRetryable reports whether the failure may clear on retry. Only
// channel errors and device-busy qualify.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Class == ClassChannel || e.Class == ClassDeviceBusy
	}
	return false
}

// ClassOf returns the classification of err, or "" for unclassified
// errors.
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}
