package domain

import "fmt"

// DecodeError reports device output that parsed structurally but could
// not be interpreted: a missing marker, or a value outside a field's
// vocabulary. Raw is kept verbatim for operators.
type DecodeError struct {
	Field   string
	Raw     string
	Message string
}

func (e *DecodeError) Error() string {
	if e.Field != "" && e.Raw != "" {
		return fmt.Sprintf("decode %s: %s (got %q)", e.Field, e.Message, e.Raw)
	}
	if e.Field != "" {
		return fmt.Sprintf("decode %s: %s", e.Field, e.Message)
	}
	return "decode: " + e.Message
}

// newUnrecognized builds the DecodeError for a value outside a field's
// fixed vocabulary. Vocabularies are matched case-sensitively.
func newUnrecognized(field, raw string) *DecodeError {
	return &DecodeError{Field: field, Raw: raw, Message: "unrecognized value"}
}

// newMissing builds the DecodeError for an expected field or marker the
// output never produced.
func newMissing(field string) *DecodeError {
	return &DecodeError{Field: field, Message: "not present in response"}
}

// RequestError reports a request that is invalid before any command is
// sent.
type RequestError struct {
	Message string
}

func (e *RequestError) Error() string {
	return e.Message
}

// PreconditionError reports a request that is well formed but cannot
// apply to the device's current state.
type PreconditionError struct {
	Message string
}

func (e *PreconditionError) Error() string {
	return e.Message
}

// UnsupportedError reports an operation this device or firmware does not
// provide.
type UnsupportedError struct {
	Operation string
}

func (e *UnsupportedError) Error() string {
	return "operation not supported by device: " + e.Operation
}
