package interrupt

import (
	"github.com/joeycumines/go-microkern/cpu"
	"github.com/joeycumines/go-microkern/oserror"
)

// stub is one generated low-level entry routine. All 256 are instances of
// the same template; the only per-vector variation is the id and whether
// the CPU pushes an error code for it architecturally.
type stub struct {
	vector       uint32
	hasErrorCode bool
}

// errorCodeVectors are the CPU traps that push an error code; every other
// vector gets a zero placeholder so the frame shape is uniform.
var errorCodeVectors = map[uint32]bool{
	8:  true, // double fault
	10: true, // invalid TSS
	11: true, // segment not present
	12: true, // stack-segment fault
	13: true, // general protection
	14: true, // page fault
	17: true, // alignment check
	30: true, // security exception
}

func (t *Table) generateStubs() {
	for v := uint32(0); v < VectorCount; v++ {
		t.stubs[v] = stub{vector: v, hasErrorCode: errorCodeVectors[v]}
	}
}

// invoke performs the stub's frame normalization and enters the dispatcher:
// push a zero error-code placeholder when the vector does not supply one,
// record the vector id, save the register block in canonical order, call
// the dispatcher, restore.
func (s *stub) invoke(t *Table, errorCode uint32) {
	var (
		state cpu.State
		stack cpu.StackState
	)

	t.mu.Lock()
	source := t.source
	t.mu.Unlock()
	if source != nil {
		state, stack = source()
	} else {
		stack.CS = cpu.KernelCS
		stack.EFLAGS = cpu.FlagsInit
	}

	if s.hasErrorCode {
		stack.ErrorCode = errorCode
	} else {
		stack.ErrorCode = 0
	}

	t.dispatch(&state, s.vector, &stack)
}

// Raise delivers a software interrupt: the dispatch runs synchronously on
// the caller, exactly like the `int N` instruction, and is therefore not
// gated on the CPU interrupt flag. Out-of-range vectors are rejected
// rather than aliased onto vector 0.
func (t *Table) Raise(vector uint32) error {
	if vector >= VectorCount {
		return oserror.OutOfBound
	}
	t.stubs[vector].invoke(t, 0)
	return nil
}

// RaiseFault is Raise for error-code vectors, carrying the code into the
// normalized frame.
func (t *Table) RaiseFault(vector, errorCode uint32) error {
	if vector >= VectorCount {
		return oserror.OutOfBound
	}
	t.stubs[vector].invoke(t, errorCode)
	return nil
}

// dispatch is the single high-level entry point shared by all stubs.
//
// While the disable depth is non-zero every vector is masked except the
// panic vector, the software-yield vector, and the CPU traps below
// MinLine; masked vectors return without invoking any handler. Otherwise
// the registered handler runs (and owes the controller its EOI), or the
// panic handler does.
func (t *Table) dispatch(state *cpu.State, vector uint32, stack *cpu.StackState) {
	if t.depth.value() > 0 &&
		vector != PanicLine &&
		vector != SchedSwLine &&
		vector >= MinLine {
		if _, ok := t.limiter.Allow(vector); ok {
			t.logger.Debug().
				Uint64(`vector`, uint64(vector)).
				Uint64(`depth`, uint64(t.depth.value())).
				Log(`interrupt masked`)
		}
		return
	}

	t.mu.Lock()
	d := t.handlers[vector]
	t.mu.Unlock()

	if d.enabled && d.handler != nil {
		d.handler(state, vector, stack)
		return
	}

	t.dispatchPanic(state, vector, stack)
}
