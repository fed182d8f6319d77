// Package platform provides the external collaborators the kernel core is
// parameterized over: a periodic timer source, an IRQ controller, a console
// sink for panic and debug output, and a memory allocator for thread
// stacks. The concrete implementations model legacy PC hardware (8253/8254
// PIT, chained 8259 PICs) closely enough for the core's contracts, with
// deterministic variants for tests.
package platform

import (
	"github.com/joeycumines/go-microkern/cpu"
	"github.com/joeycumines/go-microkern/interrupt"
)

// Timer frequency bounds accepted by the core, in Hz.
const (
	MinTimerHz = 100
	MaxTimerHz = 8000
)

// IRQ numbering on the legacy controller pair.
const (
	IRQCount     = 16
	CascadeIRQ   = 2
	TimerIRQ     = 0
	KeyboardIRQ  = 1
	RTCIRQ       = 8
	MouseIRQ     = 12
	PrimaryATA   = 14
	SecondaryATA = 15
)

type (
	// TimerSource emits periodic ticks on the scheduler timer vector.
	// Arm both programs the frequency and registers the tick handler, as
	// a single operation: there is no window in which the timer runs
	// without its handler, and re-arming an armed timer is rejected.
	TimerSource interface {
		// Arm binds the source to a machine's interrupt table,
		// programs it at hz, and registers h on the timer vector.
		// Errors: OutOfBound for hz outside [MinTimerHz, MaxTimerHz],
		// UnauthorizedAction when already armed.
		Arm(table *interrupt.Table, hz uint32, h interrupt.Handler) error

		// Stop disarms the source and removes the handler. Stopping a
		// stopped source is an UnauthorizedAction.
		Stop() error

		// Hz returns the armed frequency, or zero.
		Hz() uint32
	}

	// IRQController masks, unmasks, and acknowledges platform IRQs, and
	// maps them into the core's vector range.
	IRQController interface {
		// SetMask enables (unmasks) or disables an IRQ line. NoSuchIRQ
		// above the last line.
		SetMask(irq uint32, enabled bool) error

		// EOI acknowledges an IRQ. NoSuchIRQ above the last line.
		EOI(irq uint32) error

		// VectorFor maps an IRQ number to its interrupt vector.
		VectorFor(irq uint32) uint32
	}

	// ConsoleSink receives panic and debug bytes. Putc must not block.
	ConsoleSink interface {
		Putc(b byte)
	}

	// Allocator supplies thread stacks. The kernel surfaces a nil result
	// as AllocFailed.
	Allocator interface {
		AllocStack() (*[cpu.StackWords]uint32, error)
	}
)
