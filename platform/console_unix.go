//go:build unix

package platform

import (
	"os"

	"golang.org/x/sys/unix"
)

// FDConsole writes directly to a raw file descriptor, bypassing buffered
// writers: the panic path must make no assumptions about the state of
// userspace buffering. Write errors are swallowed, Putc must not block or
// fail.
type FDConsole struct {
	FD int
}

// NewStderrConsole returns a console sink on the standard error
// descriptor.
func NewStderrConsole() *FDConsole {
	return &FDConsole{FD: int(os.Stderr.Fd())}
}

// Putc writes one byte.
func (c *FDConsole) Putc(b byte) {
	buf := [1]byte{b}
	_, _ = unix.Write(c.FD, buf[:])
}
