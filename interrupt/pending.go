package interrupt

import (
	"sync"

	"github.com/joeycumines/go-microkern/oserror"
)

// pendingSet tracks hardware interrupts raised by asynchronous sources
// (the timer goroutine, tests) until the CPU reaches an instruction
// boundary. It plays the role of the controller holding the request line:
// a vector posted while the interrupt flag is clear is not lost, it is
// delivered once interrupts are enabled again. Unlike the edge-triggered
// hardware latch, posts accumulate per vector, so a burst of timer ticks
// posted against a halted CPU is delivered tick for tick.
type pendingSet struct {
	mu     sync.Mutex
	counts [VectorCount]uint32
	wake   chan struct{}
}

func (p *pendingSet) init() {
	p.wake = make(chan struct{}, 1)
}

func (p *pendingSet) post(vector uint32) {
	p.mu.Lock()
	p.counts[vector]++
	p.mu.Unlock()
	p.kick()
}

func (p *pendingSet) kick() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// take removes and returns the lowest pending vector, matching the
// controller's fixed priority order.
func (p *pendingSet) take() (uint32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for v, n := range p.counts {
		if n != 0 {
			p.counts[v] = n - 1
			return uint32(v), true
		}
	}
	return 0, false
}

func (p *pendingSet) any() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, n := range p.counts {
		if n != 0 {
			return true
		}
	}
	return false
}

// Post marks a hardware interrupt pending and wakes a halted CPU. It is
// the only interrupt entry point that is safe off the CPU.
func (t *Table) Post(vector uint32) error {
	if vector >= VectorCount {
		return oserror.OutOfBound
	}
	t.pending.post(vector)
	return nil
}

// Pending reports whether any hardware interrupt awaits delivery.
func (t *Table) Pending() bool { return t.pending.any() }

// DeliverPending dispatches every pending hardware interrupt, lowest
// vector first, provided the CPU interrupt flag is set. It is called at
// the kernel's instruction boundaries: API entries, explicit safepoints,
// and the idle thread's halt loop. Delivery of one vector may suspend the
// calling thread; remaining vectors are picked up at the next boundary.
func (t *Table) DeliverPending() {
	for t.depth.intFlag.Load() {
		vector, ok := t.pending.take()
		if !ok {
			return
		}
		t.stubs[vector].invoke(t, 0)
	}
}

// HaltUntilInterrupt blocks until a hardware interrupt is pending or stop
// is closed: the idle thread's `hlt`.
func (t *Table) HaltUntilInterrupt(stop <-chan struct{}) {
	for !t.pending.any() {
		select {
		case <-t.pending.wake:
		case <-stop:
			return
		}
	}
}
