package modem

import "bytes"

// ScanBufferSize is the capacity of the buffer a wait accumulates modem
// output in. One slot is kept for the terminator, so a wait sees at most
// ScanBufferSize-1 bytes.
const ScanBufferSize = 256

// boundedBuffer records bytes into a fixed slice without ever growing it.
//
// The content is always followed by a 0x00 terminator inside the slice, so
// at most len(data)-1 bytes are kept. Once full, further bytes are dropped:
// nothing is evicted, which means a marker arriving after the buffer filled
// up is never seen.
type boundedBuffer struct {
	data []byte
	n    int
}

// newBoundedBuffer zeroes data and returns an empty buffer over it.
func newBoundedBuffer(data []byte) boundedBuffer {
	clear(data)
	return boundedBuffer{data: data}
}

// push appends c and reports whether it was recorded.
func (b *boundedBuffer) push(c byte) bool {
	if b.n >= len(b.data)-1 {
		return false
	}
	b.data[b.n] = c
	b.n++
	b.data[b.n] = 0
	return true
}

func (b *boundedBuffer) contains(marker string) bool {
	return bytes.Contains(b.data[:b.n], []byte(marker))
}

func (b *boundedBuffer) full() bool {
	return len(b.data) == 0 || b.n >= len(b.data)-1
}

func (b *boundedBuffer) bytes() []byte {
	return b.data[:b.n]
}
