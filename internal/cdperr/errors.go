// Package cdperr defines the error taxonomy shared by the CDP client, its
// action primitives, and the state orchestrator. Every error a caller can usefully switch on
// wraps one of the sentinels below, so callers use errors.Is rather than
// string matching.
package cdperr

import "errors"

// Sentinel errors, one per §7 taxonomy entry. Concrete errors returned by
// the package wrap these with context via fmt.Errorf("...: %w", sentinel).
var (
	// ErrConnection means the browser could not be reached, or the
	// WebSocket connection closed unexpectedly.
	ErrConnection = errors.New("cdp: connection error")

	// ErrProtocol means the browser returned a CDP error object for a
	// command. Type-assert to *ProtocolError to recover the code and
	// message.
	ErrProtocol = errors.New("cdp: protocol error")

	// ErrSessionLost means a target session detached and could not be
	// recovered by the one bounded recovery attempt.
	ErrSessionLost = errors.New("cdp: session lost")

	// ErrTimeout means a per-command or global operation exceeded its
	// budget.
	ErrTimeout = errors.New("cdp: timeout")

	// ErrNotFound means a selector index was missing, or the element it
	// named vanished between observation and action.
	ErrNotFound = errors.New("cdp: not found")

	// ErrOccluded means a pre-action geometry check found the element
	// covered by another node.
	ErrOccluded = errors.New("cdp: occluded")

	// ErrNotVisible means a pre-action geometry check found the element
	// not visible.
	ErrNotVisible = errors.New("cdp: not visible")

	// ErrInputRejected means a select value wasn't among the option's
	// values, or press_key named an unknown key.
	ErrInputRejected = errors.New("cdp: input rejected")

	// ErrPartialData means one of DOM/Snapshot/AX failed to load, and the
	// merger ran on whatever subset succeeded. Not fatal; returned
	// alongside a BrowserState, not in place of one.
	ErrPartialData = errors.New("cdp: partial data")
)

// ProtocolError carries the code and message from a CDP error response. It
// wraps ErrProtocol, so errors.Is(err, ErrProtocol) holds for values of this
// type.
type ProtocolError struct {
	Method  string
	Code    int64
	Message string
}

func (e *ProtocolError) Error() string {
	return "cdp: " + e.Method + ": " + e.Message
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

// NotFoundError names the index that could not be resolved.
type NotFoundError struct {
	Index int
}

func (e *NotFoundError) Error() string {
	return "cdp: element index not found in selector map"
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }
