// Package errors provides the error taxonomy shared by every zero-copy package.
// This is a leaf package with no internal dependencies so that the memory,
// side-channel, logic and memcon packages can all import it.
//
// Import graph: errors <- memory <- slotqueue <- logic <- sidechannel <- memcon
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the category of a zero-copy failure.
type ErrorCode int

const (
	// ErrUnexpectedState indicates an operation was invoked in a state that
	// does not allow it (e.g. Connect called twice). Always synchronous and
	// recoverable by inspecting the client state first.
	ErrUnexpectedState ErrorCode = iota + 1

	// ErrPeerDisconnected indicates the server shut the connection down cleanly.
	ErrPeerDisconnected

	// ErrPeerCrashed indicates the server went away abnormally (termination
	// of the side channel or an I/O failure while talking to it).
	ErrPeerCrashed

	// ErrProtocol indicates a violation of the expected message sequence or of
	// the slot-token discipline. Fatal to the session.
	ErrProtocol
)

// String returns a human-readable name for the error code.
func (e ErrorCode) String() string {
	switch e {
	case ErrUnexpectedState:
		return "UnexpectedState"
	case ErrPeerDisconnected:
		return "PeerDisconnected"
	case ErrPeerCrashed:
		return "PeerCrashed"
	case ErrProtocol:
		return "Protocol"
	default:
		return fmt.Sprintf("Unknown(%d)", int(e))
	}
}

// ZeroCopyError is an error carrying an ErrorCode.
//
// Two ZeroCopyErrors match under errors.Is when their codes are equal, so
// callers can test against the exported sentinels:
//
//	if errors.Is(err, zcerrors.PeerCrashed) { ... }
type ZeroCopyError struct {
	Code    ErrorCode
	Message string

	// Err is the underlying cause, if any (e.g. a syscall error).
	Err error
}

// Error implements the error interface.
func (e *ZeroCopyError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return e.Code.String()
	}
}

// Unwrap returns the underlying cause.
func (e *ZeroCopyError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a ZeroCopyError with the same code.
func (e *ZeroCopyError) Is(target error) bool {
	var t *ZeroCopyError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	UnexpectedState  = &ZeroCopyError{Code: ErrUnexpectedState}
	PeerDisconnected = &ZeroCopyError{Code: ErrPeerDisconnected}
	PeerCrashed      = &ZeroCopyError{Code: ErrPeerCrashed}
	Protocol         = &ZeroCopyError{Code: ErrProtocol}
)

// New creates a ZeroCopyError with the given code and message.
func New(code ErrorCode, message string) *ZeroCopyError {
	return &ZeroCopyError{Code: code, Message: message}
}

// Newf creates a ZeroCopyError with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *ZeroCopyError {
	return &ZeroCopyError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a ZeroCopyError with the given code wrapping err.
func Wrap(code ErrorCode, message string, err error) *ZeroCopyError {
	return &ZeroCopyError{Code: code, Message: message, Err: err}
}

// ============================================================================
// Factory Functions
// ============================================================================

// NewUnexpectedStateError creates an UnexpectedState error for an operation
// invoked in the given state.
func NewUnexpectedStateError(operation, state string) *ZeroCopyError {
	return &ZeroCopyError{
		Code:    ErrUnexpectedState,
		Message: fmt.Sprintf("%s not allowed in state %s", operation, state),
	}
}

// NewPeerDisconnectedError creates a PeerDisconnected error.
func NewPeerDisconnectedError(message string) *ZeroCopyError {
	return &ZeroCopyError{Code: ErrPeerDisconnected, Message: message}
}

// NewPeerCrashedError creates a PeerCrashed error.
func NewPeerCrashedError(message string, cause error) *ZeroCopyError {
	return &ZeroCopyError{Code: ErrPeerCrashed, Message: message, Err: cause}
}

// NewProtocolError creates a Protocol error.
func NewProtocolError(message string) *ZeroCopyError {
	return &ZeroCopyError{Code: ErrProtocol, Message: message}
}

// ============================================================================
// Predicates
// ============================================================================

// CodeOf extracts the ErrorCode from err. Returns 0 and false if err does not
// wrap a ZeroCopyError.
func CodeOf(err error) (ErrorCode, bool) {
	var zerr *ZeroCopyError
	if errors.As(err, &zerr) {
		return zerr.Code, true
	}
	return 0, false
}

// IsUnexpectedState reports whether err carries ErrUnexpectedState.
func IsUnexpectedState(err error) bool {
	return errors.Is(err, UnexpectedState)
}

// IsPeerDisconnected reports whether err carries ErrPeerDisconnected.
func IsPeerDisconnected(err error) bool {
	return errors.Is(err, PeerDisconnected)
}

// IsPeerCrashed reports whether err carries ErrPeerCrashed.
func IsPeerCrashed(err error) bool {
	return errors.Is(err, PeerCrashed)
}

// IsProtocol reports whether err carries ErrProtocol.
func IsProtocol(err error) bool {
	return errors.Is(err, Protocol)
}
