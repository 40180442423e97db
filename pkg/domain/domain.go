// Package domain defines the typed configuration domains of an iLO
// controller and, for each, the decoding of CLP output into state and the
// planning of command sequences that converge the device toward a
// requested state. Decoders and planners are pure; nothing here touches
// the transport.
package domain

import (
	"errors"
	"fmt"

	"github.com/piwi3910/iloctl/pkg/clp"
)

// Kind identifies a configuration domain.
type Kind string

const (
	KindPower        Kind = "power"
	KindBoot         Kind = "boot"
	KindUser         Kind = "user"
	KindVirtualMedia Kind = "virtual_media"
	KindRAID         Kind = "raid"
	KindHostname     Kind = "hostname"
)

// State is a decoded snapshot of one domain. Snapshots are immutable
// values; every fetch produces a fresh one.
type State interface {
	Kind() Kind

	// Fields renders the snapshot as flat name/value pairs for logging
	// and CLI output.
	Fields() map[string]string
}

// Request is a desired partial state for one domain. Unset fields mean
// "leave as is".
type Request interface {
	Kind() Kind
	Validate() error
}

// Command is one unit of work to send over the session.
type Command struct {
	// Text is the exact line sent to the device.
	Text string

	// Redacted is the transcript-safe form of Text. Empty means Text
	// contains no secrets and may be logged as is.
	Redacted string

	// Check inspects the parsed response before the engine's default
	// status check. Returning ErrAlreadySatisfied marks the command as
	// a no-op success and skips the status check; any other error fails
	// the command. Returning nil falls through to the status check, as
	// does a nil Check.
	Check func(doc *clp.Document) error
}

// Display returns the loggable form of the command.
func (c Command) Display() string {
	if c.Redacted != "" {
		return c.Redacted
	}
	return c.Text
}

// ErrAlreadySatisfied is returned by a Command check when the device
// reports the command's effect is already in place. The engine treats it
// as success without counting a change.
var ErrAlreadySatisfied = errors.New("already satisfied")

// VerifyResult is the outcome of comparing post-execution state against
// the request.
type VerifyResult int

const (
	// VerifyConverged means the device state matches the request.
	VerifyConverged VerifyResult = iota

	// VerifyPending means the state does not match yet but the
	// divergence is a documented deferred effect (a pending boot mode,
	// a reset in flight).
	VerifyPending

	// VerifyMismatch means the state diverges in a way that is not a
	// known deferred effect.
	VerifyMismatch
)

// Handler binds the decode, plan, and verify steps of one domain.
type Handler interface {
	Kind() Kind

	// FetchCommands returns the read commands whose combined output
	// decodes into this domain's state. The request is available so
	// fetches can address request-scoped sub-targets.
	FetchCommands(req Request) []Command

	// Decode turns the fetch output, one document per fetch command in
	// order, into a state snapshot.
	Decode(docs []*clp.Document) (State, error)

	// Plan computes the ordered commands that converge current toward
	// the request. An empty plan means already converged.
	Plan(current State, req Request) ([]Command, error)

	// Verify compares the re-fetched state against the request.
	Verify(final State, req Request) (VerifyResult, string)
}

// HandlerFor returns the handler for a domain kind.
func HandlerFor(kind Kind) (Handler, error) {
	switch kind {
	case KindPower:
		return PowerHandler{}, nil
	case KindBoot:
		return BootHandler{}, nil
	case KindUser:
		return UserHandler{}, nil
	case KindVirtualMedia:
		return VirtualMediaHandler{}, nil
	case KindRAID:
		return RAIDHandler{}, nil
	case KindHostname:
		return HostnameHandler{}, nil
	default:
		return nil, fmt.Errorf("unknown domain kind %q", kind)
	}
}

// badKind reports a request handed to the wrong handler. Callers route by
// Kind so this only fires on a programming error.
func badKind(h Handler, req Request) error {
	return fmt.Errorf("%s handler received %s request", h.Kind(), req.Kind())
}
