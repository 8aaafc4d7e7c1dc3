package logging

import (
	"os"
	"sync"
)

// RingBuffer keeps the tail of the log stream in memory so a crash can
// dump recent context even when file logging is off. It implements
// io.Writer; once the capacity is reached the oldest bytes are evicted.
type RingBuffer struct {
	mu      sync.Mutex
	buf     []byte
	pos     int
	wrapped bool
}

// NewRingBuffer creates a ring buffer holding up to size bytes.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1024 * 1024
	}
	return &RingBuffer{buf: make([]byte, size)}
}

// Write implements io.Writer and never fails. A write larger than the
// whole buffer keeps only its tail.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	if excess := n - len(rb.buf); excess > 0 {
		p = p[excess:]
	}
	for len(p) > 0 {
		w := copy(rb.buf[rb.pos:], p)
		p = p[w:]
		rb.pos += w
		if rb.pos == len(rb.buf) {
			rb.pos = 0
			rb.wrapped = true
		}
	}
	return n, nil
}

// Bytes returns the retained log tail in write order.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.wrapped {
		return append([]byte(nil), rb.buf[:rb.pos]...)
	}
	out := make([]byte, 0, len(rb.buf))
	out = append(out, rb.buf[rb.pos:]...)
	return append(out, rb.buf[:rb.pos]...)
}

// DumpToFile writes the retained tail to path.
func (rb *RingBuffer) DumpToFile(path string) error {
	return os.WriteFile(path, rb.Bytes(), 0600)
}
