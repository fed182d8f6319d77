package interrupt

import (
	"math"
	"sync/atomic"
)

// depthCounter is the interrupt-nesting counter: the uniprocessor
// degenerate form of a spinlock. The CPU interrupt flag is cleared on the
// first disable and restored when the depth returns to zero, so
// disable/enable pairs compose under nesting — blocking primitives call
// scheduler routines that disable and enable internally.
type depthCounter struct {
	depth   atomic.Uint32
	intFlag atomic.Bool
}

func (c *depthCounter) init(depth uint32) {
	c.depth.Store(depth)
	c.intFlag.Store(depth == 0)
}

func (c *depthCounter) value() uint32 { return c.depth.Load() }

func (c *depthCounter) disable() {
	c.intFlag.Store(false)
	for {
		d := c.depth.Load()
		if d == math.MaxUint32 {
			return
		}
		if c.depth.CompareAndSwap(d, d+1) {
			return
		}
	}
}

// enable returns true when the depth reached zero and the interrupt flag
// was set.
func (c *depthCounter) enable() bool {
	for {
		d := c.depth.Load()
		if d == 0 {
			c.intFlag.Store(true)
			return true
		}
		if c.depth.CompareAndSwap(d, d-1) {
			if d == 1 {
				c.intFlag.Store(true)
				return true
			}
			return false
		}
	}
}

// Disable clears the CPU interrupt flag and increments the disable depth,
// saturating at the maximum.
func (t *Table) Disable() {
	t.depth.disable()
}

// Enable decrements the disable depth toward zero; when it reaches zero
// the CPU interrupt flag is set and a halted CPU is kicked so pending
// hardware interrupts get delivered at the next boundary.
func (t *Table) Enable() {
	if t.depth.enable() {
		t.pending.kick()
	}
}

// Depth returns the current disable depth.
func (t *Table) Depth() uint32 { return t.depth.value() }

// InterruptsEnabled reports the CPU interrupt flag.
func (t *Table) InterruptsEnabled() bool { return t.depth.intFlag.Load() }

// Lock is the blocking primitives' inner lock: on this uniprocessor target
// it is an alias of Disable. A multiprocessor port must replace it with a
// test-and-set spinlock that also disables local interrupts.
func (t *Table) Lock() { t.Disable() }

// Unlock releases the inner lock (alias of Enable).
func (t *Table) Unlock() { t.Enable() }
