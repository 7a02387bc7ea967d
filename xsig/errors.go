package xsig

import "errors"

var (
	// ErrProtocol indicates a malformed or undecodable frame on the wire.
	// The connection recovers by requesting a fresh full update; it is never fatal.
	ErrProtocol = errors.New("xsig: protocol error")

	// ErrIncompleteFrame indicates that the buffer holds the beginning of a frame and more bytes are needed.
	ErrIncompleteFrame = errors.New("xsig: incomplete frame")

	// ErrEncoding indicates that a value can't be represented on the wire, e.g. a serial payload
	// longer than MaxSerialLength or a join beyond the frame's addressable range.
	ErrEncoding = errors.New("xsig: encoding error")
)

var (
	// ErrValidation indicates that a join number, join-id or value is outside its declared range.
	// It is returned before any I/O takes place.
	ErrValidation = errors.New("xsig: validation error")

	// ErrRateLimited indicates that the caller exceeded the update budget of a join.
	// The engine doesn't retry; the caller must back off.
	ErrRateLimited = errors.New("xsig: join update rate exceeded")
)

var (
	// ErrNotAvailable indicates that no synchronized control-system connection is present.
	ErrNotAvailable = errors.New("xsig: control system not available")

	// ErrConnClosed indicates that the connection was closed while an operation was in progress.
	ErrConnClosed = errors.New("xsig: connection closed")

	// ErrCommandQueueFull indicates that the outbound command queue stayed full for the whole
	// command timeout.
	ErrCommandQueueFull = errors.New("xsig: command queue full")
)

var (
	// ErrInvalidTransition is returned when an attempt is made to transition the connection
	// state to an invalid state.
	ErrInvalidTransition = errors.New("xsig: invalid state transition")

	// ErrServerStarted is returned by Start when the server is already listening.
	ErrServerStarted = errors.New("xsig: server already started")
)

// IsConnectionError reports whether err belongs to the connection class of errors
// (ErrNotAvailable, ErrConnClosed or ErrCommandQueueFull).
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrNotAvailable) || errors.Is(err, ErrConnClosed) || errors.Is(err, ErrCommandQueueFull)
}
