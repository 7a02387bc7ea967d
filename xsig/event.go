package xsig

import (
	"strconv"
	"time"
)

// SystemState is the payload of an event delivered to SystemID subscribers.
type SystemState string

const (
	// SystemConnected is fired once per connection, when the control system completes the
	// initial sync handshake.
	SystemConnected SystemState = "connected"
	// SystemDisconnected is fired once per connection, when it is torn down.
	SystemDisconnected SystemState = "disconnected"
)

// Event is delivered to callbacks registered for a join-id.
//
// For join events exactly one of Digital, Analog or Serial is meaningful, selected by Type.
// System events carry only ID (SystemID) and System.
type Event struct {
	ID   JoinID
	Type JoinType
	Join int

	Digital bool
	Analog  uint16
	Serial  string

	System SystemState

	// Time is when the engine observed the change.
	Time time.Time
}

// NewJoinEvent returns the event describing frame f.
func NewJoinEvent(f Frame) Event {
	return Event{
		ID:      f.JoinID(),
		Type:    f.Type,
		Join:    f.Join,
		Digital: f.Digital,
		Analog:  f.Analog,
		Serial:  f.Serial,
		Time:    time.Now(),
	}
}

// NewSystemEvent returns a SystemID event with the given state.
func NewSystemEvent(state SystemState) Event {
	return Event{ID: SystemID, System: state, Time: time.Now()}
}

// IsSystem reports whether e is a connection lifecycle event.
func (e Event) IsSystem() bool { return e.ID == SystemID }

// Text returns the value as text: "1"/"0" for digital joins, decimal for analog joins,
// the payload for serial joins and the state name for system events.
func (e Event) Text() string {
	if e.IsSystem() {
		return string(e.System)
	}

	switch e.Type {
	case Digital:
		if e.Digital {
			return "1"
		}
		return "0"
	case Analog:
		return strconv.FormatUint(uint64(e.Analog), 10)
	default:
		return e.Serial
	}
}

// Callback handles events of a registered join-id.
//
// Callbacks run on their own goroutine. A returned error is logged and otherwise ignored.
type Callback func(ev Event) error
