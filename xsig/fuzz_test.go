package xsig

import (
	"bytes"
	"errors"
	"testing"
)

// FuzzDecodeFrame feeds arbitrary byte streams through the frame decoder.
//
// Invariants: DecodeFrame never panics, always makes progress on protocol errors, and every
// decoded join frame re-encodes to the bytes it was decoded from (serial frames with invalid
// UTF-8 excepted).
func FuzzDecodeFrame(f *testing.F) {
	f.Add([]byte{0x80, 0x09})
	f.Add([]byte{0xC0, 0x00, 0x07, 0x68})
	f.Add([]byte{0xC8, 0x02, 'h', 'i', 0xFF})
	f.Add([]byte{0xFB, 0xFC, 0xFD})
	f.Add([]byte{0x00, 0x41, 0xFF, 0xFE})
	f.Add([]byte{0xC8, 0x00, 0xC3, 0x28, 0xFF})
	f.Add([]byte{0x80, 0x80, 0xC0, 0x00, 0x80, 0x00})

	f.Fuzz(func(t *testing.T, data []byte) {
		buf := data
		for len(buf) > 0 {
			frame, n, err := DecodeFrame(buf)
			if errors.Is(err, ErrIncompleteFrame) {
				if n != 0 {
					t.Fatalf("incomplete frame consumed %d bytes", n)
				}
				return
			}

			if err != nil {
				if !errors.Is(err, ErrProtocol) || n != 1 {
					t.Fatalf("unexpected decode result: n=%d err=%v", n, err)
				}
				buf = buf[1:]
				continue
			}

			if n <= 0 || n > len(buf) {
				t.Fatalf("invalid frame length %d for %d bytes", n, len(buf))
			}

			encoded, err := EncodeFrame(frame)
			switch {
			case err != nil && frame.Type == Serial && len(frame.Serial) > MaxSerialLength:
				// inbound serial payloads may exceed the outbound cap
			case err != nil:
				t.Fatalf("re-encode %v: %v", frame, err)
			case frame.Type == Serial && !bytes.Equal(encoded, buf[:n]):
				// invalid UTF-8 was replaced on decode
			case !bytes.Equal(encoded, buf[:n]):
				t.Fatalf("re-encode mismatch: % X != % X", encoded, buf[:n])
			}

			buf = buf[n:]
		}
	})
}
