package pool

import "sync"

// FrameBufferSize fits the largest outbound XSIG frame: a serial header, 252 payload bytes and
// the terminator.
const FrameBufferSize = 256

// buffers that grew past this are left to the garbage collector
const maxPooledBufferSize = 4 * FrameBufferSize

var frameBufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, FrameBufferSize)
		return &b
	},
}

// GetFrameBuffer returns an empty buffer for encoding one frame. Return it with PutFrameBuffer.
func GetFrameBuffer() *[]byte {
	b, _ := frameBufferPool.Get().(*[]byte)
	*b = (*b)[:0]

	return b
}

// PutFrameBuffer returns b to the pool. b must not be used afterwards.
func PutFrameBuffer(b *[]byte) {
	if b == nil || cap(*b) > maxPooledBufferSize {
		return
	}

	frameBufferPool.Put(b)
}
