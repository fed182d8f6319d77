package interrupt

import (
	"testing"
	"time"

	"github.com/joeycumines/go-microkern/cpu"
	"github.com/joeycumines/go-microkern/oserror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	vector uint32
	stack  cpu.StackState
}

// recorder accumulates dispatches for assertions.
type recorder struct {
	calls []recorded
}

func (r *recorder) handler(_ *cpu.State, vector uint32, stack *cpu.StackState) {
	r.calls = append(r.calls, recorded{vector: vector, stack: *stack})
}

func TestTable_bootsWithInterruptsDisabled(t *testing.T) {
	tbl := New()
	assert.Equal(t, uint32(1), tbl.Depth())
	assert.False(t, tbl.InterruptsEnabled())
}

func TestTable_registerBounds(t *testing.T) {
	tbl := New()
	var r recorder

	assert.ErrorIs(t, tbl.Register(MinLine-1, r.handler), oserror.UnauthorizedLine)
	assert.ErrorIs(t, tbl.Register(MaxLine+1, r.handler), oserror.UnauthorizedLine)
	assert.ErrorIs(t, tbl.Register(40, nil), oserror.NullPointer)

	require.NoError(t, tbl.Register(40, r.handler))
	assert.ErrorIs(t, tbl.Register(40, r.handler), oserror.AlreadyRegistered)

	assert.ErrorIs(t, tbl.Remove(MinLine-1), oserror.UnauthorizedLine)
	assert.ErrorIs(t, tbl.Remove(41), oserror.NotRegistered)
	require.NoError(t, tbl.Remove(40))
	assert.ErrorIs(t, tbl.Remove(40), oserror.NotRegistered)
	assert.False(t, tbl.Registered(40))
}

func TestTable_raiseDispatchesTrueVector(t *testing.T) {
	tbl := New()
	tbl.Enable()

	var r recorder
	require.NoError(t, tbl.Register(0x30, r.handler))

	require.NoError(t, tbl.Raise(0x30))
	require.Len(t, r.calls, 1)
	assert.Equal(t, uint32(0x30), r.calls[0].vector)
	assert.Zero(t, r.calls[0].stack.ErrorCode)
}

func TestTable_raiseRejectsOutOfRange(t *testing.T) {
	tbl := New()
	assert.ErrorIs(t, tbl.Raise(VectorCount), oserror.OutOfBound)
	assert.ErrorIs(t, tbl.Post(VectorCount), oserror.OutOfBound)
	assert.ErrorIs(t, tbl.RaiseFault(VectorCount, 0), oserror.OutOfBound)
}

func TestTable_errorCodeNormalization(t *testing.T) {
	tbl := New()

	var r recorder
	tbl.SetPanic(r.handler)

	// Vector 13 pushes an error code architecturally; the stub must
	// preserve it.
	require.NoError(t, tbl.RaiseFault(13, 0xdead))
	require.Len(t, r.calls, 1)
	assert.Equal(t, uint32(0xdead), r.calls[0].stack.ErrorCode)

	// Vector 3 does not; the placeholder must read zero even when a
	// code is supplied.
	require.NoError(t, tbl.RaiseFault(3, 0xdead))
	require.Len(t, r.calls, 2)
	assert.Zero(t, r.calls[1].stack.ErrorCode)
}

func TestTable_maskingRules(t *testing.T) {
	tbl := New() // depth 1: masked

	var irq, sched, panics recorder
	require.NoError(t, tbl.Register(40, irq.handler))
	require.NoError(t, tbl.Register(SchedSwLine, sched.handler))
	tbl.SetPanic(panics.handler)

	// Maskable vector: dropped while the depth is non-zero.
	require.NoError(t, tbl.Raise(40))
	assert.Empty(t, irq.calls)

	// The software-yield vector and the panic vector are exempt.
	require.NoError(t, tbl.Raise(SchedSwLine))
	assert.Len(t, sched.calls, 1)
	require.NoError(t, tbl.Raise(PanicLine))
	assert.Len(t, panics.calls, 1)

	// CPU traps below MinLine are exempt too.
	require.NoError(t, tbl.Raise(5))
	assert.Len(t, panics.calls, 2)

	tbl.Enable()
	require.NoError(t, tbl.Raise(40))
	assert.Len(t, irq.calls, 1)
}

func TestTable_nestingComposition(t *testing.T) {
	tbl := New()
	tbl.Enable()
	require.True(t, tbl.InterruptsEnabled())

	const n = 5
	for i := 0; i < n; i++ {
		tbl.Disable()
	}
	assert.Equal(t, uint32(n), tbl.Depth())

	// Any strictly shorter enable sequence leaves interrupts disabled.
	for i := 0; i < n-1; i++ {
		tbl.Enable()
		assert.False(t, tbl.InterruptsEnabled(), "after %d enables", i+1)
	}

	tbl.Enable()
	assert.True(t, tbl.InterruptsEnabled())
	assert.Zero(t, tbl.Depth())

	// Underflow saturates.
	tbl.Enable()
	assert.Zero(t, tbl.Depth())
	assert.True(t, tbl.InterruptsEnabled())
}

func TestTable_unhandledVectorPanics(t *testing.T) {
	tbl := New()
	tbl.Enable()

	var panics recorder
	tbl.SetPanic(panics.handler)

	require.NoError(t, tbl.Raise(100))
	require.Len(t, panics.calls, 1)
	assert.Equal(t, uint32(100), panics.calls[0].vector)
}

func TestTable_spuriousSinkDoesNotPanic(t *testing.T) {
	tbl := New()
	tbl.Enable()

	var panics recorder
	tbl.SetPanic(panics.handler)

	require.NoError(t, tbl.Raise(SpuriousLine))
	assert.Empty(t, panics.calls)

	var spur recorder
	tbl.SetSpurious(spur.handler)
	require.NoError(t, tbl.Raise(SpuriousLine))
	assert.Len(t, spur.calls, 1)
}

func TestTable_pendingDelivery(t *testing.T) {
	tbl := New()

	var r recorder
	require.NoError(t, tbl.Register(40, r.handler))
	require.NoError(t, tbl.Register(34, r.handler))

	require.NoError(t, tbl.Post(40))
	require.NoError(t, tbl.Post(40))
	require.NoError(t, tbl.Post(34))
	assert.True(t, tbl.Pending())

	// Interrupt flag clear: nothing is delivered, nothing is lost.
	tbl.DeliverPending()
	assert.Empty(t, r.calls)
	assert.True(t, tbl.Pending())

	tbl.Enable()
	tbl.DeliverPending()
	require.Len(t, r.calls, 3)
	assert.Equal(t, uint32(34), r.calls[0].vector, "lowest vector first")
	assert.Equal(t, uint32(40), r.calls[1].vector)
	assert.Equal(t, uint32(40), r.calls[2].vector, "posts accumulate per vector")
	assert.False(t, tbl.Pending())
}

func TestTable_haltUntilInterrupt(t *testing.T) {
	tbl := New()

	done := make(chan struct{})
	go func() {
		defer close(done)
		tbl.HaltUntilInterrupt(nil)
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("halt returned without a pending interrupt")
	default:
	}

	require.NoError(t, tbl.Post(40))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("halt did not wake on post")
	}
}

func TestTable_haltUntilInterruptStop(t *testing.T) {
	tbl := New()

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		tbl.HaltUntilInterrupt(stop)
	}()

	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("halt did not observe stop")
	}
}

func TestTable_stateSource(t *testing.T) {
	tbl := New()
	tbl.Enable()

	tbl.SetStateSource(func() (cpu.State, cpu.StackState) {
		return cpu.State{EAX: 7, ESP: 42}, cpu.StackState{EIP: 0x1234, CS: cpu.KernelCS, EFLAGS: cpu.FlagsInit}
	})

	var got cpu.State
	require.NoError(t, tbl.Register(50, func(state *cpu.State, _ uint32, _ *cpu.StackState) {
		got = *state
	}))

	require.NoError(t, tbl.Raise(50))
	assert.Equal(t, uint32(7), got.EAX)
	assert.Equal(t, uint32(42), got.ESP)
}
