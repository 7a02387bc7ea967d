package xsig

// JoinIO is the narrow join interface consumed by device abstractions.
//
// Get methods never block on network I/O: they return the last known value, or the zero value
// when the control system isn't available or join is out of range.
//
// Set methods validate join and value and queue the update for the control system. They fail
// with ErrValidation, ErrEncoding, ErrNotAvailable, ErrRateLimited or ErrCommandQueueFull.
// A successful return means the update was queued, not that it was written.
type JoinIO interface {
	// Available reports whether a control system is connected and has completed the initial sync.
	Available() bool

	GetDigital(join int) bool
	// SetDigital doesn't change the local value; it is updated when the control system echoes it.
	SetDigital(join int, value bool) error

	GetAnalog(join int) uint16
	// SetAnalog updates the local value once the command is written.
	SetAnalog(join int, value uint16) error

	GetSerial(join int) string
	// SetSerial updates the local value once the command is written.
	SetSerial(join int, value string) error

	// RegisterCallback registers cb for events of id and returns a function that removes the
	// registration. id is a join-id, SystemID or AnyJoinID.
	RegisterCallback(id JoinID, cb Callback) (unregister func())
}

// Engine is a JoinIO that owns the control-system listener.
type Engine interface {
	JoinIO

	// Start binds the listener on host:port and begins accepting control-system connections.
	Start(host string, port int) error
	// Stop closes the listener and the active connection. It is idempotent, and the engine
	// can be started again afterwards.
	Stop() error
}
