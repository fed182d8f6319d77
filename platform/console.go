package platform

import (
	"strings"
	"sync"
)

// BufferConsole is an in-memory console sink, used by tests.
type BufferConsole struct {
	mu  sync.Mutex
	buf strings.Builder
}

// Putc appends one byte.
func (c *BufferConsole) Putc(b byte) {
	c.mu.Lock()
	c.buf.WriteByte(b)
	c.mu.Unlock()
}

// String returns everything written so far.
func (c *BufferConsole) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

// Reset discards buffered output.
func (c *BufferConsole) Reset() {
	c.mu.Lock()
	c.buf.Reset()
	c.mu.Unlock()
}
