// Package xsig provides the building blocks of the Crestron XSIG protocol: a binary TCP protocol that
// carries typed join updates between a control processor and an integration.
//
// This package offers encoding and decoding of XSIG frames, join identifiers, the error taxonomy,
// the Engine and JoinIO capability interfaces, and a generic connection state manager for the
// handshake that precedes data exchange.
//
// Join Types:
// A join is an addressable I/O point, numbered from 1 independently per type:
//   - Digital: a boolean signal, 2-byte frame with inverted sense bit.
//   - Analog: an unsigned 16-bit signal, 4-byte frame.
//   - Serial: a UTF-8 string, variable length frame terminated by 0xFF.
//
// Control Bytes:
//   - UpdateRequest (0xFD): asks the peer for a full dump of its join values.
//   - SyncAll (0xFB): the control system's answer marking a complete dump.
//   - ClearOutputs (0xFC): forces all outputs to zero.
//
// Join-ids:
// Callbacks are keyed by a JoinID, e.g. "d10", "a1" or "s3", plus the SystemID sentinel for
// connection lifecycle events and AnyJoinID for every join event.
//
// Connection States:
// ConnStateMgr tracks ListeningState -> UnsyncedState -> SyncedState. The engine becomes available
// once the control system answers the initial update request with SyncAll.
package xsig
