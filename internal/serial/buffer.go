package serial

import (
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by writes to a closed Buffer.
var ErrClosed = errors.New("serial: buffer closed")

// DefaultBufferSize holds about a second of sensor output at 57600 baud.
const DefaultBufferSize = 8 * 1024

// Buffer is a bounded FIFO of raw bytes shared between a producer (a port
// pump or a replay) and the decoder. When full, the oldest bytes are dropped
// so the decoder always works on recent data.
type Buffer struct {
	mu      sync.Mutex
	cond    *sync.Cond
	data    []byte
	max     int
	dropped uint64
	closed  bool
}

func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = DefaultBufferSize
	}
	b := &Buffer{max: max, data: make([]byte, 0, max)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}
	n := len(p)
	if n >= b.max {
		b.dropped += uint64(len(b.data) + n - b.max)
		b.data = append(b.data[:0], p[n-b.max:]...)
	} else {
		if over := len(b.data) + n - b.max; over > 0 {
			b.dropped += uint64(over)
			b.data = append(b.data[:0], b.data[over:]...)
		}
		b.data = append(b.data, p...)
	}
	b.cond.Broadcast()
	return n, nil
}

// Read blocks until at least one byte is available. After Close it drains
// what is left and then returns io.EOF.
func (b *Buffer) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.data) == 0 && !b.closed {
		b.cond.Wait()
	}
	if len(b.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, b.data)
	b.data = append(b.data[:0], b.data[n:]...)
	return n, nil
}

func (b *Buffer) Buffered() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data), nil
}

// Dropped is the number of bytes discarded on overflow.
func (b *Buffer) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
	return nil
}
