//go:build !unix

package platform

import "os"

// FDConsole writes directly to standard error on platforms without raw
// descriptor access.
type FDConsole struct {
	FD int
}

// NewStderrConsole returns a console sink on standard error.
func NewStderrConsole() *FDConsole {
	return &FDConsole{FD: int(os.Stderr.Fd())}
}

// Putc writes one byte.
func (c *FDConsole) Putc(b byte) {
	buf := [1]byte{b}
	_, _ = os.Stderr.Write(buf[:])
}
