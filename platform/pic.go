package platform

import (
	"sync"

	"github.com/joeycumines/go-microkern/interrupt"
	"github.com/joeycumines/go-microkern/oserror"
)

// PIC models the chained pair of 8259 interrupt controllers. IRQs 0..7
// live on the master, 8..15 on the slave behind the cascade line; all
// lines start masked. The core maps IRQ n to vector PlatformIRQOffset+n.
type PIC struct {
	mu     sync.Mutex
	master uint8 // interrupt mask register, bit set = masked
	slave  uint8
	eois   [IRQCount]uint64
}

// PlatformIRQOffset is where the controller's lines are remapped, clear of
// the CPU trap range.
const PlatformIRQOffset = interrupt.SchedTimerLine

// NewPIC returns a controller with every line masked.
func NewPIC() *PIC {
	return &PIC{master: 0xff, slave: 0xff}
}

// SetMask unmasks (enabled) or masks an IRQ line. Unmasking a slave line
// implicitly unmasks the cascade IRQ on the master, since the slave's
// requests arrive through it.
func (p *PIC) SetMask(irq uint32, enabled bool) error {
	if irq >= IRQCount {
		return oserror.NoSuchIRQ
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if irq >= 8 {
		if enabled {
			p.master &^= 1 << CascadeIRQ
			p.slave &^= 1 << (irq - 8)
		} else {
			p.slave |= 1 << (irq - 8)
		}
		return nil
	}

	if enabled {
		p.master &^= 1 << irq
	} else {
		p.master |= 1 << irq
	}
	return nil
}

// Masked reports whether a line is masked. Out-of-range lines read as
// masked.
func (p *PIC) Masked(irq uint32) bool {
	if irq >= IRQCount {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if irq >= 8 {
		return p.slave&(1<<(irq-8)) != 0
	}
	return p.master&(1<<irq) != 0
}

// EOI acknowledges an IRQ, counting the acknowledgement against that line
// only; no separate master acknowledgement is recorded for slave lines.
func (p *PIC) EOI(irq uint32) error {
	if irq >= IRQCount {
		return oserror.NoSuchIRQ
	}
	p.mu.Lock()
	p.eois[irq]++
	p.mu.Unlock()
	return nil
}

// EOICount returns how many acknowledgements a line has received.
func (p *PIC) EOICount(irq uint32) uint64 {
	if irq >= IRQCount {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.eois[irq]
}

// VectorFor maps an IRQ number into the core's vector range.
func (p *PIC) VectorFor(irq uint32) uint32 {
	return PlatformIRQOffset + irq
}
