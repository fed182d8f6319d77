package platform

import (
	"sync/atomic"

	"github.com/joeycumines/go-microkern/cpu"
	"github.com/joeycumines/go-microkern/oserror"
)

// HeapAllocator satisfies stack allocations from the Go heap.
type HeapAllocator struct{}

// AllocStack returns a zeroed stack.
func (HeapAllocator) AllocStack() (*[cpu.StackWords]uint32, error) {
	return new([cpu.StackWords]uint32), nil
}

// FailAllocator is a test double that succeeds After times and then
// surfaces AllocFailed forever.
type FailAllocator struct {
	// After is the number of allocations to permit before failing.
	After int64

	used atomic.Int64
}

// AllocStack fails once the permitted allocations are used up.
func (a *FailAllocator) AllocStack() (*[cpu.StackWords]uint32, error) {
	if a.used.Add(1) > a.After {
		return nil, oserror.AllocFailed
	}
	return new([cpu.StackWords]uint32), nil
}
