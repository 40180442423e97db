package reconcile

import (
	"context"
	"errors"
	"strings"

	"github.com/piwi3910/iloctl/pkg/clp"
	"github.com/piwi3910/iloctl/pkg/domain"
)

// temporary is implemented by transport errors that may clear on retry.
type temporary interface {
	Temporary() bool
}

// Classify maps an arbitrary error onto the failure taxonomy. Already
// classified errors pass through unchanged.
func Classify(err error) *Error {
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}

	var parseErr *clp.ParseError
	if errors.As(err, &parseErr) {
		return NewMalformedResponseError("response could not be parsed", err)
	}
	var decodeErr *domain.DecodeError
	if errors.As(err, &decodeErr) {
		return NewMalformedResponseError(decodeErr.Error(), err)
	}
	var reqErr *domain.RequestError
	if errors.As(err, &reqErr) {
		return NewInvalidRequestError(reqErr.Message, err)
	}
	var preErr *domain.PreconditionError
	if errors.As(err, &preErr) {
		return NewPreconditionError(preErr.Message, err)
	}
	var unsupErr *domain.UnsupportedError
	if errors.As(err, &unsupErr) {
		return NewUnsupportedError(unsupErr.Error(), err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewChannelError("command timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return NewChannelError("operation canceled", err)
	}
	var tmp temporary
	if errors.As(err, &tmp) {
		return NewChannelError("transport failure", err)
	}

	// Errors reaching the engine from the session without further
	// context are channel-level by default.
	return NewChannelError(err.Error(), err)
}

// Device-text patterns for failures the device reports in prose rather
// than status codes. Matching is case-insensitive.
var (
	busyPatterns = []string{
		"busy",
		"try again later",
		"in progress",
		"another session",
	}
	unsupportedPatterns = []string{
		"not supported",
		"unsupported",
		"unknown command",
		"command not recognized",
	}
	invalidPatterns = []string{
		"syntax error",
		"invalid property",
		"invalid parameter",
		"invalid option",
	}
)

// classifyDeviceText classifies a device-reported failure from its
// output text.
func classifyDeviceText(command, raw string) *Error {
	lower := strings.ToLower(raw)
	for _, p := range busyPatterns {
		if strings.Contains(lower, p) {
			return NewDeviceBusyError("device busy", nil).WithCommand(command).WithRaw(raw)
		}
	}
	for _, p := range unsupportedPatterns {
		if strings.Contains(lower, p) {
			return NewUnsupportedError("operation not supported by device", nil).WithCommand(command).WithRaw(raw)
		}
	}
	for _, p := range invalidPatterns {
		if strings.Contains(lower, p) {
			return NewInvalidRequestError("device rejected command", nil).WithCommand(command).WithRaw(raw)
		}
	}
	return NewPreconditionError("device reported failure", nil).WithCommand(command).WithRaw(raw)
}
