package xsig

import (
	"fmt"
	"strconv"
)

// JoinType is the type of a join: digital, analog or serial.
type JoinType byte

const (
	// Digital joins carry a boolean.
	Digital JoinType = 'd'
	// Analog joins carry an unsigned 16-bit value.
	Analog JoinType = 'a'
	// Serial joins carry a UTF-8 string.
	Serial JoinType = 's'
)

// String returns the long name of the join type.
func (t JoinType) String() string {
	switch t {
	case Digital:
		return "digital"
	case Analog:
		return "analog"
	case Serial:
		return "serial"
	default:
		return "unknown"
	}
}

// Valid reports whether t is one of Digital, Analog or Serial.
func (t JoinType) Valid() bool {
	return t == Digital || t == Analog || t == Serial
}

// Join number limits shared by the three join namespaces.
const (
	MinJoin = 1
	MaxJoin = 65535
)

// Highest join numbers the frame layouts can address.
// Digital frames carry a 12-bit join index, analog and serial frames a 10-bit one.
const (
	MaxDigitalWireJoin = 1 << 12
	MaxAnalogWireJoin  = 1 << 10
	MaxSerialWireJoin  = 1 << 10
)

// JoinID is the string key of a join used for callback subscription and rate-limit bucketing,
// e.g. "d10", "a1" or "s3".
type JoinID string

const (
	// SystemID receives connection lifecycle events ("connected" and "disconnected").
	SystemID JoinID = "system"
	// AnyJoinID receives every join event. It doesn't receive system events.
	AnyJoinID JoinID = "*"
)

// NewJoinID returns the join-id of a join.
func NewJoinID(t JoinType, join int) JoinID {
	return JoinID(string(rune(t)) + strconv.Itoa(join))
}

// DigitalID returns the join-id of digital join n.
func DigitalID(n int) JoinID { return NewJoinID(Digital, n) }

// AnalogID returns the join-id of analog join n.
func AnalogID(n int) JoinID { return NewJoinID(Analog, n) }

// SerialID returns the join-id of serial join n.
func SerialID(n int) JoinID { return NewJoinID(Serial, n) }

// Parse splits a join-id into its type and join number.
// It fails with ErrValidation for the sentinel ids and for malformed or out of range ids.
func (id JoinID) Parse() (JoinType, int, error) {
	if len(id) < 2 {
		return 0, 0, fmt.Errorf("%w: malformed join-id %q", ErrValidation, string(id))
	}

	t := JoinType(id[0])
	if !t.Valid() {
		return 0, 0, fmt.Errorf("%w: unknown join type in %q", ErrValidation, string(id))
	}

	n, err := strconv.Atoi(string(id[1:]))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: malformed join number in %q", ErrValidation, string(id))
	}

	if err := ValidateJoin(t, n); err != nil {
		return 0, 0, err
	}

	return t, n, nil
}

// IsSystem reports whether id is the system sentinel.
func (id JoinID) IsSystem() bool { return id == SystemID }

// ValidateJoin checks that join lies within MinJoin..MaxJoin.
func ValidateJoin(t JoinType, join int) error {
	if join < MinJoin || join > MaxJoin {
		return fmt.Errorf("%w: %s join %d out of range [%d, %d]", ErrValidation, t, join, MinJoin, MaxJoin)
	}

	return nil
}

// maxWireJoin returns the highest join a frame of type t can address.
func maxWireJoin(t JoinType) int {
	if t == Digital {
		return MaxDigitalWireJoin
	}

	return MaxAnalogWireJoin
}
