package xsig

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Control bytes. Each one is a complete single-byte frame.
const (
	// SyncAll marks the control system's response to an update request ("all joins follow").
	SyncAll byte = 0xFB
	// ClearOutputs forces all outputs to zero.
	ClearOutputs byte = 0xFC
	// UpdateRequest asks the peer for a full dump of its join values.
	UpdateRequest byte = 0xFD
)

// Frame layout constants.
const (
	// SerialTerminator ends every serial frame.
	SerialTerminator byte = 0xFF

	// MaxSerialLength is the longest serial payload, in bytes, accepted for encoding.
	MaxSerialLength = 252

	// MaxInboundSerialLength bounds how many payload bytes the decoder buffers while waiting for a
	// serial terminator before declaring the frame malformed.
	MaxInboundSerialLength = 4096

	digitalFrameLen = 2
	analogFrameLen  = 4
	serialHeaderLen = 2
)

// Frame is one decoded unit of the XSIG stream: either a control byte or a join update.
type Frame struct {
	// Control is the control byte for control frames, zero otherwise.
	Control byte
	// Type is the join type of a join frame, zero for control frames.
	Type JoinType
	// Join is the 1-based join number.
	Join int

	Digital bool
	Analog  uint16
	Serial  string
}

// IsControl reports whether f is a control frame.
func (f Frame) IsControl() bool { return f.Control != 0 }

// JoinID returns the join-id of a join frame.
func (f Frame) JoinID() JoinID { return NewJoinID(f.Type, f.Join) }

// String returns a short human readable form used in logs.
func (f Frame) String() string {
	if f.IsControl() {
		return fmt.Sprintf("control(0x%02X)", f.Control)
	}

	switch f.Type {
	case Digital:
		return fmt.Sprintf("d%d=%t", f.Join, f.Digital)
	case Analog:
		return fmt.Sprintf("a%d=%d", f.Join, f.Analog)
	case Serial:
		return fmt.Sprintf("s%d=%q", f.Join, f.Serial)
	default:
		return "unknown"
	}
}

// DecodeFrame decodes the frame at the start of buf.
//
// It returns the frame and the number of bytes it occupies. When buf holds only the beginning
// of a frame, it returns ErrIncompleteFrame and n == 0. When the leading bytes can't start any
// frame, it returns an error wrapping ErrProtocol and n == 1: the caller skips that byte and
// resynchronizes.
//
// The frame kind is discriminated on the first one or two bytes, in this order: control bytes,
// digital, analog, serial. Further bytes are only inspected once the kind is known.
func DecodeFrame(buf []byte) (Frame, int, error) {
	if len(buf) == 0 {
		return Frame{}, 0, ErrIncompleteFrame
	}

	b0 := buf[0]
	switch b0 {
	case SyncAll, ClearOutputs, UpdateRequest:
		return Frame{Control: b0}, 1, nil
	}

	t := leadType(b0)
	if t == 0 {
		return Frame{}, 1, fmt.Errorf("%w: unexpected lead byte 0x%02X", ErrProtocol, b0)
	}

	if len(buf) < 2 {
		return Frame{}, 0, ErrIncompleteFrame
	}

	b1 := buf[1]
	if b1&0x80 != 0 {
		return Frame{}, 1, fmt.Errorf("%w: join byte 0x%02X has bit 7 set after lead byte 0x%02X", ErrProtocol, b1, b0)
	}

	switch t {
	case Digital:
		return Frame{
			Type:    Digital,
			Join:    (int(b0&0x1F)<<7 | int(b1)) + 1,
			Digital: ^b0>>5&0x01 == 1,
		}, digitalFrameLen, nil

	case Analog:
		if len(buf) < analogFrameLen {
			return Frame{}, 0, ErrIncompleteFrame
		}

		b2, b3 := buf[2], buf[3]
		if (b2|b3)&0x80 != 0 {
			return Frame{}, 1, fmt.Errorf("%w: analog value bytes 0x%02X 0x%02X have bit 7 set", ErrProtocol, b2, b3)
		}

		return Frame{
			Type:   Analog,
			Join:   (int(b0&0x07)<<7 | int(b1)) + 1,
			Analog: uint16(b0&0x30)<<10 | uint16(b2)<<7 | uint16(b3),
		}, analogFrameLen, nil

	default:
		end := bytes.IndexByte(buf[serialHeaderLen:], SerialTerminator)
		if end < 0 {
			if len(buf)-serialHeaderLen > MaxInboundSerialLength {
				return Frame{}, 1, fmt.Errorf("%w: serial payload exceeds %d bytes without terminator", ErrProtocol, MaxInboundSerialLength)
			}

			return Frame{}, 0, ErrIncompleteFrame
		}

		payload := buf[serialHeaderLen : serialHeaderLen+end]
		s := string(payload)
		if !utf8.Valid(payload) {
			s = strings.ToValidUTF8(s, "�")
		}

		return Frame{
			Type:   Serial,
			Join:   (int(b0&0x07)<<7 | int(b1)) + 1,
			Serial: s,
		}, serialHeaderLen + end + 1, nil
	}
}

// leadType returns the join type whose frames may start with b0, or zero if none.
// Digital is checked first because its pattern overlaps the high bits of the others.
func leadType(b0 byte) JoinType {
	switch {
	case b0&0xC0 == 0x80:
		return Digital
	case b0&0xC8 == 0xC0:
		return Analog
	case b0&0xF8 == 0xC8:
		return Serial
	default:
		return 0
	}
}

// EncodeDigital encodes a digital join update.
// The sense bit is inverted on the wire: ON clears bit 5 of the first byte.
func EncodeDigital(join int, value bool) ([]byte, error) {
	return AppendDigital(nil, join, value)
}

// AppendDigital appends the encoding of a digital join update to dst.
func AppendDigital(dst []byte, join int, value bool) ([]byte, error) {
	if err := checkWireJoin(Digital, join); err != nil {
		return dst, err
	}

	idx := join - 1
	b0 := byte(0x80 | (idx>>7)&0x1F)
	if !value {
		b0 |= 0x20
	}

	return append(dst, b0, byte(idx&0x7F)), nil
}

// EncodeAnalog encodes an analog join update.
func EncodeAnalog(join int, value uint16) ([]byte, error) {
	return AppendAnalog(nil, join, value)
}

// AppendAnalog appends the encoding of an analog join update to dst.
//
// The two most significant value bits travel in bits 4-5 of the first byte, the remaining
// fourteen in two 7-bit payload bytes.
func AppendAnalog(dst []byte, join int, value uint16) ([]byte, error) {
	if err := checkWireJoin(Analog, join); err != nil {
		return dst, err
	}

	idx := join - 1
	v := int(value)

	return append(dst,
		byte(0xC0|(v>>10)&0x30|(idx>>7)&0x07),
		byte(idx&0x7F),
		byte((v>>7)&0x7F),
		byte(v&0x7F),
	), nil
}

// EncodeSerial encodes a serial join update.
func EncodeSerial(join int, value string) ([]byte, error) {
	return AppendSerial(nil, join, value)
}

// AppendSerial appends the encoding of a serial join update to dst.
//
// The payload must be valid UTF-8 of at most MaxSerialLength bytes. Valid UTF-8 never contains
// the 0xFF terminator.
func AppendSerial(dst []byte, join int, value string) ([]byte, error) {
	if err := checkWireJoin(Serial, join); err != nil {
		return dst, err
	}

	if len(value) > MaxSerialLength {
		return dst, fmt.Errorf("%w: serial payload too long (%d>%d)", ErrEncoding, len(value), MaxSerialLength)
	}

	if !utf8.ValidString(value) {
		return dst, fmt.Errorf("%w: serial payload is not valid UTF-8", ErrEncoding)
	}

	idx := join - 1
	dst = append(dst, byte(0xC8|(idx>>7)&0x07), byte(idx&0x7F))
	dst = append(dst, value...)

	return append(dst, SerialTerminator), nil
}

// EncodeFrame encodes any frame produced by DecodeFrame.
func EncodeFrame(f Frame) ([]byte, error) {
	if f.IsControl() {
		return []byte{f.Control}, nil
	}

	switch f.Type {
	case Digital:
		return EncodeDigital(f.Join, f.Digital)
	case Analog:
		return EncodeAnalog(f.Join, f.Analog)
	case Serial:
		return EncodeSerial(f.Join, f.Serial)
	default:
		return nil, fmt.Errorf("%w: unknown join type %q", ErrEncoding, rune(f.Type))
	}
}

func checkWireJoin(t JoinType, join int) error {
	if err := ValidateJoin(t, join); err != nil {
		return err
	}

	if limit := maxWireJoin(t); join > limit {
		return fmt.Errorf("%w: %s join %d beyond wire range [1, %d]", ErrEncoding, t, join, limit)
	}

	return nil
}
