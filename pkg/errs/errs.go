// Package errs defines the closed error-kind taxonomy shared by every
// protocol machine. Validators and state machines never return bare errors;
// they return a *Error so the transport layer can map it to a wire status
// without inspecting strings.
package errs

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Kind is a closed set — there is no Kind other than the ones declared here.
type Kind int

const (
	// MissingResource means an entity lookup failed.
	MissingResource Kind = iota
	// BadFormatReceived means an inbound payload violated schema, URN, or
	// field constraints.
	BadFormatReceived
	// BadFormatEmitted means this node tried to construct a message that
	// violates its own outbound contract (programmer error, never the
	// peer's fault).
	BadFormatEmitted
	// Unauthorized means a missing or invalid bearer/VP.
	Unauthorized
	// Forbidden means the role/state does not admit the requested
	// operation.
	Forbidden
	// Database means persistence failed.
	Database
	// Peer means an outbound call to a peer, wallet, or catalog failed.
	Peer
	// FeatureNotImpl means the protocol path is recognized but not
	// supported.
	FeatureNotImpl
	// Parse means an internal conversion failed.
	Parse
)

func (k Kind) String() string {
	switch k {
	case MissingResource:
		return "MissingResource"
	case BadFormatReceived:
		return "BadFormat{Received}"
	case BadFormatEmitted:
		return "BadFormat{Emitted}"
	case Unauthorized:
		return "Unauthorized"
	case Forbidden:
		return "Forbidden"
	case Database:
		return "Database"
	case Peer:
		return "Peer"
	case FeatureNotImpl:
		return "FeatureNotImpl"
	case Parse:
		return "Parse"
	default:
		return "Unknown"
	}
}

// HTTPStatus maps a Kind to the wire status code from §7.
func (k Kind) HTTPStatus() int {
	switch k {
	case MissingResource:
		return http.StatusNotFound
	case BadFormatReceived, BadFormatEmitted:
		return http.StatusBadRequest
	case Unauthorized:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case Database, Parse:
		return http.StatusInternalServerError
	case Peer:
		return http.StatusBadGateway
	case FeatureNotImpl:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// Error is the typed error returned by every validator, state machine, and
// orchestrator call.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs a typed error with no underlying cause.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap preserves cause as a stack-carrying chain (via pkg/errors) while
// attaching a Kind for transport mapping. Use this at the point an error
// first crosses into orchestrator code — repository and outbound-call
// errors arrive untyped and become a *Error exactly once.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		cause:   errors.Wrap(cause, fmt.Sprintf(format, args...)),
	}
}

// As extracts a *Error from err, returning (nil, false) if err is not one.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it is a *Error, or Database otherwise —
// the orchestrator's fallback for unexpected errors bubbling out of a
// repository call.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Database
}
