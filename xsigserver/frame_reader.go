package xsigserver

import (
	"errors"
	"io"

	"github.com/arloliu/go-xsig/xsig"
)

const readChunkSize = 4096

// frameReader reads and decodes XSIG frames from a byte stream.
//
// The stream has no length prefix: bytes are buffered until xsig.DecodeFrame can decode a full
// frame. Undecodable bytes are skipped one at a time, so the reader resynchronizes on the next
// valid lead byte.
//
// frameReader is NOT goroutine-safe. Only the connection's read loop calls ReadFrame.
type frameReader struct {
	r     io.Reader
	buf   []byte
	chunk []byte
	err   error // sticky read error, returned once buffered frames are drained
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{
		r:     r,
		buf:   make([]byte, 0, readChunkSize),
		chunk: make([]byte, readChunkSize),
	}
}

// ReadFrame returns the next frame.
//
// An error wrapping xsig.ErrProtocol reports one skipped byte; the caller may continue reading.
// Any other error comes from the underlying reader (io.EOF when the peer closed the stream) and
// is final. A partial frame pending at EOF is reported as io.ErrUnexpectedEOF.
func (fr *frameReader) ReadFrame() (xsig.Frame, error) {
	for {
		if len(fr.buf) > 0 {
			f, n, err := xsig.DecodeFrame(fr.buf)
			if !errors.Is(err, xsig.ErrIncompleteFrame) {
				fr.consume(n)
				return f, err
			}
		}

		if fr.err != nil {
			if len(fr.buf) > 0 && errors.Is(fr.err, io.EOF) {
				return xsig.Frame{}, io.ErrUnexpectedEOF
			}
			return xsig.Frame{}, fr.err
		}

		n, err := fr.r.Read(fr.chunk)
		if n > 0 {
			fr.buf = append(fr.buf, fr.chunk[:n]...)
		}
		if err != nil {
			fr.err = err
		}
	}
}

// Buffered returns the number of bytes read but not yet decoded.
func (fr *frameReader) Buffered() int {
	return len(fr.buf)
}

func (fr *frameReader) consume(n int) {
	rest := copy(fr.buf, fr.buf[n:])
	fr.buf = fr.buf[:rest]
}
