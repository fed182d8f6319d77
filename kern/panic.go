package kern

import (
	"fmt"

	"github.com/joeycumines/go-microkern/cpu"
	"github.com/joeycumines/go-microkern/interrupt"
)

// PanicError is the terminal result of a kernel panic, returned by Run
// after the dump.
type PanicError struct {
	Vector uint32
	Reason string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("microkern: kernel panic: %s (vector %#04x)", e.Reason, e.Vector)
}

var trapReasons = map[uint32]string{
	0:                  "Division by zero",
	1:                  "Debug exception",
	2:                  "Non maskable interrupt",
	3:                  "Breakpoint",
	4:                  "Overflow",
	5:                  "Bound range exceeded",
	6:                  "Invalid opcode",
	7:                  "Device not available",
	8:                  "Double fault",
	9:                  "Coprocessor segment overrun",
	10:                 "Invalid TSS",
	11:                 "Segment not present",
	12:                 "Stack fault",
	13:                 "General protection fault",
	14:                 "Page fault",
	16:                 "x87 floating point exception",
	17:                 "Alignment check",
	18:                 "Machine check",
	19:                 "SIMD floating point exception",
	interrupt.PanicLine: "Kernel panic requested",
}

func reasonFor(vector uint32) string {
	if r, ok := trapReasons[vector]; ok {
		return r
	}
	return "Unknown"
}

// panicHandler is wired into the interrupt table for CPU traps, the panic
// vector, and unhandled vectors: dump the architectural state to the
// console sink, then halt the machine. On real hardware the CPU spins in
// hlt; here the machine enters its terminal Halted state, Run returns the
// *PanicError, and thread goroutines end at their next suspension point.
func (k *Kernel) panicHandler(state *cpu.State, vector uint32, stack *cpu.StackState) {
	reason := reasonFor(vector)

	k.logger.Err().
		Uint64(`vector`, uint64(vector)).
		Str(`reason`, reason).
		Log(`kernel panic`)

	k.dump(state, vector, stack, reason)
	k.halt(&PanicError{Vector: vector, Reason: reason})
}

// threadPanic routes a Go-level panic in a thread entry to the kernel
// panic path: on the modelled machine an unrecoverable fault in kernel
// code is a CPU trap.
func (k *Kernel) threadPanic(t *Thread, recovered any) {
	k.logger.Err().
		Int(`pid`, int(t.pid)).
		Str(`name`, t.name).
		Any(`recovered`, recovered).
		Log(`thread fault`)

	state, stack := k.renderState()
	reason := fmt.Sprintf("Thread fault: %v", recovered)
	k.dump(&state, interrupt.PanicLine, &stack, reason)
	k.halt(&PanicError{Vector: interrupt.PanicLine, Reason: reason})
}

// fatal reports an internal invariant violation and halts via the panic
// path. It is the destination of every "cannot happen" branch in the
// scheduler.
func (k *Kernel) fatal(msg string, err error) {
	k.logger.Err().
		Err(err).
		Log(msg)

	state, stack := k.renderState()
	k.dump(&state, interrupt.PanicLine, &stack, msg)
	k.halt(&PanicError{Vector: interrupt.PanicLine, Reason: msg})
}

// Reboot software-triggers the explicit panic vector, the modelled
// equivalent of reloading a zeroed descriptor table to force a fault.
func (k *Kernel) Reboot() {
	_ = k.table.Raise(interrupt.PanicLine)
}

const dumpWidth = 80

func (k *Kernel) dumpLine(s string) {
	if len(s) > dumpWidth {
		s = s[:dumpWidth]
	}
	for i := 0; i < len(s); i++ {
		k.cons.Putc(s[i])
	}
	k.cons.Putc('\n')
}

func (k *Kernel) dumpRow(cells ...string) {
	line := "|"
	for _, c := range cells {
		line += " " + c + "  |"
	}
	if pad := dumpWidth - 1 - len(line); pad > 0 {
		for i := 0; i < pad; i++ {
			line += " "
		}
	}
	line += "|"
	k.dumpLine(line)
}

func (k *Kernel) dumpRule(title string) {
	if title == "" {
		k.dumpLine("|" + pad("", dumpWidth-2, '=') + "|")
		return
	}
	body := " " + title + " "
	left := (dumpWidth - 2 - len(body)) / 2
	right := dumpWidth - 2 - len(body) - left
	k.dumpLine("|" + pad("", left, '=') + body + pad("", right, '=') + "|")
}

func pad(s string, n int, c byte) string {
	for len(s) < n {
		s += string(c)
	}
	return s
}

// dump writes the fixed-format panic frame: reason, vector id, faulting
// instruction pointer, general registers, segment selectors, and every
// EFLAGS bit.
func (k *Kernel) dump(state *cpu.State, vector uint32, stack *cpu.StackState, reason string) {
	f := cpu.DecodeFlags(stack.EFLAGS)

	k.dumpLine("#" + pad("", 29, '=') + "      OS PANIC      " + pad("", 29, '=') + "#")
	k.dumpRow(fmt.Sprintf("Reason: %-40s", reason), fmt.Sprintf("INT ID: 0x%02X", vector))
	k.dumpRow(fmt.Sprintf("Instruction: 0x%08X", stack.EIP), fmt.Sprintf("Error code: 0x%08X", stack.ErrorCode))
	k.dumpRule("CPU STATE")
	k.dumpRow(
		fmt.Sprintf("EAX: 0x%08X", state.EAX),
		fmt.Sprintf("EBX: 0x%08X", state.EBX),
		fmt.Sprintf("ECX: 0x%08X", state.ECX),
		fmt.Sprintf("EDX: 0x%08X", state.EDX),
	)
	k.dumpRow(
		fmt.Sprintf("ESI: 0x%08X", state.ESI),
		fmt.Sprintf("EDI: 0x%08X", state.EDI),
		fmt.Sprintf("EBP: 0x%08X", state.EBP),
		fmt.Sprintf("ESP: 0x%08X", state.ESP),
	)
	k.dumpRule("SEGMENT REGISTERS")
	k.dumpRow(
		fmt.Sprintf("CS: 0x%08X", stack.CS),
		fmt.Sprintf("DS: 0x%08X", state.DS),
		fmt.Sprintf("SS: 0x%08X", state.SS),
	)
	k.dumpRow(
		fmt.Sprintf("ES: 0x%08X", state.ES),
		fmt.Sprintf("FS: 0x%08X", state.FS),
		fmt.Sprintf("GS: 0x%08X", state.GS),
	)
	k.dumpRule("EFLAGS REG")
	k.dumpRow(
		fmt.Sprintf("CF: %d", f.CF),
		fmt.Sprintf("PF: %d", f.PF),
		fmt.Sprintf("AF: %d", f.AF),
		fmt.Sprintf("ZF: %d", f.ZF),
		fmt.Sprintf("SF: %d", f.SF),
		fmt.Sprintf("TF: %d", f.TF),
	)
	k.dumpRow(
		fmt.Sprintf("IF: %d", f.IF),
		fmt.Sprintf("DF: %d", f.DF),
		fmt.Sprintf("OF: %d", f.OF),
		fmt.Sprintf("NT: %d", f.NT),
		fmt.Sprintf("RF: %d", f.RF),
		fmt.Sprintf("VM: %d", f.VM),
	)
	k.dumpRow(
		fmt.Sprintf("AC: %d", f.AC),
		fmt.Sprintf("VIF: %d", f.VIF),
		fmt.Sprintf("VIP: %d", f.VIP),
		fmt.Sprintf("ID: %d", f.ID),
		fmt.Sprintf("IOPL: %d", f.IOPL),
	)
	k.dumpLine("#" + pad("", dumpWidth-2, '=') + "#")
}
