// Package interrupt implements the simulated machine's 256-entry vector
// table, the per-vector stubs, the central dispatcher, and the
// interrupt-nesting (disable-depth) counter that stands in for a spinlock
// on the uniprocessor target.
//
// Software interrupts (Raise, the `int N` analogue) dispatch synchronously
// on the calling goroutine and, like the instruction, ignore the CPU
// interrupt flag; the dispatcher itself masks maskable vectors while the
// disable depth is non-zero. Hardware interrupts from asynchronous sources
// (Post) are held pending, like a controller holding the line, and are
// delivered by DeliverPending at the kernel's instruction boundaries.
package interrupt

import (
	"sync"
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"github.com/joeycumines/go-microkern/cpu"
	"github.com/joeycumines/go-microkern/oserror"
	"github.com/joeycumines/logiface"
)

// Vector layout.
const (
	// VectorCount is fixed by the ISA.
	VectorCount = 256

	// MinLine is the lowest user-registrable vector; 0..31 are CPU traps.
	MinLine = 0x20

	// MaxLine is the highest user-registrable vector.
	MaxLine = VectorCount - 2

	// SpuriousLine acknowledges and returns.
	SpuriousLine = VectorCount - 1

	// SchedTimerLine is the scheduler timer tick vector; the platform
	// timer remaps its IRQ here.
	SchedTimerLine = 32

	// SchedSwLine is the scheduler's software-yield vector. Never masked
	// by the disable depth.
	SchedSwLine = 33

	// PlatformIRQBase is the first vector of the platform IRQ range
	// (keyboard, RTC, mouse, ATA, ...).
	PlatformIRQBase = 34

	// PanicLine is the explicit panic vector, raised by reboot via a
	// zeroed descriptor table reload. Never masked.
	PanicLine = 42
)

// Handler is a function invoked by the dispatcher for one vector. Handlers
// for hardware IRQ vectors are responsible for issuing end-of-interrupt to
// the IRQ controller.
type Handler func(state *cpu.State, vector uint32, stack *cpu.StackState)

// StateSource renders the architectural register state handed to handlers.
// The kernel installs a source reflecting the current thread's context;
// without one, stubs synthesize a zeroed frame.
type StateSource func() (cpu.State, cpu.StackState)

type descriptor struct {
	handler Handler
	enabled bool
}

// Table is the per-machine interrupt table and dispatch engine.
type Table struct {
	logger  *logiface.Logger[logiface.Event]
	limiter *catrate.Limiter

	source StateSource

	mu       sync.Mutex
	handlers [VectorCount]descriptor
	stubs    [VectorCount]stub

	panicHandler Handler

	depth   depthCounter
	pending pendingSet
}

// Option configures a Table.
type Option interface {
	applyTable(*Table)
}

type optionFunc func(*Table)

func (f optionFunc) applyTable(t *Table) { f(t) }

// WithLogger attaches a structured logger; nil is a valid no-op logger.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return optionFunc(func(t *Table) { t.logger = logger })
}

// New builds a table with all 256 stubs generated from the common template,
// CPU traps 0..31 and the panic vector wired to the panic handler, and the
// spurious vector wired to the acknowledge-and-return sink. The machine
// starts with interrupts disabled (depth 1), as at boot.
func New(options ...Option) *Table {
	t := &Table{
		// Masked and spurious interrupts log at most a few times per
		// second per vector; an interrupt storm must not become a log
		// storm.
		limiter: catrate.NewLimiter(map[time.Duration]int{time.Second: 2}),
	}
	for _, o := range options {
		if o != nil {
			o.applyTable(t)
		}
	}

	t.generateStubs()

	t.panicHandler = t.defaultPanic

	for i := 0; i < 32; i++ {
		t.handlers[i] = descriptor{handler: t.dispatchPanic, enabled: true}
	}
	t.handlers[PanicLine] = descriptor{handler: t.dispatchPanic, enabled: true}
	t.handlers[SpuriousLine] = descriptor{handler: t.spurious, enabled: true}

	t.depth.init(1)
	t.pending.init()

	return t
}

// SetStateSource installs the renderer for architectural state snapshots.
func (t *Table) SetStateSource(source StateSource) {
	t.mu.Lock()
	t.source = source
	t.mu.Unlock()
}

// SetPanic installs the kernel's dump-and-halt routine. The handler is
// invoked for CPU traps, the panic vector, and any vector with no
// registered handler.
func (t *Table) SetPanic(handler Handler) {
	t.mu.Lock()
	if handler != nil {
		t.panicHandler = handler
	}
	t.mu.Unlock()
}

// SetSpurious replaces the spurious-interrupt sink, typically so the
// platform can issue the end-of-interrupt the sink owes the controller.
func (t *Table) SetSpurious(handler Handler) {
	t.mu.Lock()
	if handler != nil {
		t.handlers[SpuriousLine] = descriptor{handler: handler, enabled: true}
	}
	t.mu.Unlock()
}

// Register attaches a handler to a vector in [MinLine, MaxLine].
func (t *Table) Register(vector uint32, handler Handler) error {
	if vector < MinLine || vector > MaxLine {
		return oserror.UnauthorizedLine
	}
	if handler == nil {
		return oserror.NullPointer
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.handlers[vector].handler != nil {
		return oserror.AlreadyRegistered
	}
	t.handlers[vector] = descriptor{handler: handler, enabled: true}

	t.logger.Debug().
		Uint64(`vector`, uint64(vector)).
		Log(`interrupt handler registered`)

	return nil
}

// Remove detaches the handler from a vector in [MinLine, MaxLine].
func (t *Table) Remove(vector uint32) error {
	if vector < MinLine || vector > MaxLine {
		return oserror.UnauthorizedLine
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.handlers[vector].handler == nil {
		return oserror.NotRegistered
	}
	t.handlers[vector] = descriptor{}

	t.logger.Debug().
		Uint64(`vector`, uint64(vector)).
		Log(`interrupt handler removed`)

	return nil
}

// Registered reports whether a vector currently has an enabled handler.
func (t *Table) Registered(vector uint32) bool {
	if vector >= VectorCount {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.handlers[vector]
	return d.enabled && d.handler != nil
}

func (t *Table) spurious(_ *cpu.State, vector uint32, _ *cpu.StackState) {
	if _, ok := t.limiter.Allow(vector); ok {
		t.logger.Debug().
			Uint64(`vector`, uint64(vector)).
			Log(`spurious interrupt`)
	}
}

// dispatchPanic adapts the mutable panic handler slot into a Handler.
func (t *Table) dispatchPanic(state *cpu.State, vector uint32, stack *cpu.StackState) {
	t.mu.Lock()
	h := t.panicHandler
	t.mu.Unlock()
	h(state, vector, stack)
}

// defaultPanic is in effect until the kernel installs its dump routine.
func (t *Table) defaultPanic(_ *cpu.State, vector uint32, stack *cpu.StackState) {
	t.logger.Err().
		Uint64(`vector`, uint64(vector)).
		Uint64(`eip`, uint64(stack.EIP)).
		Log(`unhandled interrupt`)
}
