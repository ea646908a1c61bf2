package transport

import "sync"

// maxDatagram covers jumbo frames. RFC 6762 §17 allows mDNS packets up to
// 9000 bytes on such links.
const maxDatagram = 9000

var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, maxDatagram)
		return &b
	},
}

// GetBuffer returns a receive buffer from the pool. Callers must copy what
// they keep and hand the buffer back with PutBuffer.
func GetBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

// PutBuffer returns b to the pool.
func PutBuffer(b *[]byte) {
	if b == nil || cap(*b) < maxDatagram {
		return
	}
	*b = (*b)[:maxDatagram]
	bufferPool.Put(b)
}
