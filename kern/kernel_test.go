package kern

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/go-microkern/interrupt"
	"github.com/joeycumines/go-microkern/oserror"
	"github.com/joeycumines/go-microkern/platform"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runKernel drives Run with a generous timeout so a scheduling bug fails
// the test instead of hanging the suite.
func runKernel(t *testing.T, k *Kernel) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := k.Run(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "kernel deadlocked")
	return err
}

// newTestKernel wires a deterministic machine: manual timer, buffered
// console.
func newTestKernel(t *testing.T, init ThreadFunc, opts ...Option) (*Kernel, *platform.ManualTimer) {
	t.Helper()
	timer := platform.NewManualTimer()
	opts = append([]Option{
		WithTimerSource(timer),
		WithConsole(new(platform.BufferConsole)),
	}, opts...)
	k, err := New(init, opts...)
	require.NoError(t, err)
	return k, timer
}

func TestNew_validation(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, oserror.NullPointer)

	_, err = New(func(any) any { return nil }, WithTickRate(platform.MaxTimerHz+1))
	assert.ErrorIs(t, err, oserror.OutOfBound)

	_, err = New(func(any) any { return nil }, WithInitThread("init", LowestPriority+1, nil))
	assert.ErrorIs(t, err, oserror.ForbiddenPriority)

	_, err = New(func(any) any { return nil }, WithTimerSource(nil))
	assert.ErrorIs(t, err, oserror.NullPointer)
}

func TestKernel_bootAndShutdown(t *testing.T) {
	ran := false

	var k *Kernel
	k, _ = newTestKernel(t, func(arg any) any {
		ran = true
		assert.Equal(t, "boot", arg)
		k.Shutdown()
		return nil
	}, WithInitThread("init", DefaultInitPriority, "boot"))

	require.NoError(t, runKernel(t, k))
	assert.True(t, ran)
	assert.Equal(t, SystemHalted, k.State())
}

func TestKernel_doubleRun(t *testing.T) {
	var k *Kernel
	k, _ = newTestKernel(t, func(any) any {
		k.Shutdown()
		return nil
	})
	require.NoError(t, runKernel(t, k))
	assert.ErrorIs(t, k.Run(context.Background()), oserror.UnauthorizedAction)
}

func TestKernel_contextCancel(t *testing.T) {
	started := make(chan struct{})

	var k *Kernel
	var s Semaphore
	k, _ = newTestKernel(t, func(any) any {
		require.NoError(t, s.Init(k, 0))
		close(started)
		// Parks forever; cancellation must still halt the machine.
		_ = s.Pend()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	err := k.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, SystemHalted, k.State())
}

func TestKernel_identityAndIntrospection(t *testing.T) {
	var k *Kernel
	k, _ = newTestKernel(t, func(any) any {
		assert.Equal(t, int32(1), k.PID())
		assert.Equal(t, int32(0), k.PPID(), "init is created by the idle thread")
		assert.Equal(t, "init", k.Name())
		assert.Equal(t, uint32(DefaultInitPriority), k.Priority())
		assert.Equal(t, uint32(2), k.ThreadCount(), "idle + init")

		child, err := k.Create(func(any) any { return nil }, 40, "child", nil)
		require.NoError(t, err)
		assert.Equal(t, int32(2), child.PID())
		assert.Equal(t, int32(1), child.PPID())
		assert.Equal(t, uint32(3), k.ThreadCount())

		infos := k.ThreadsInfo()
		require.Len(t, infos, 3)
		assert.Equal(t, int32(0), infos[0].PID)
		assert.Equal(t, "idle", infos[0].Name)
		assert.Equal(t, uint32(IdlePriority), infos[0].Priority)
		assert.Equal(t, "init", infos[1].Name)
		assert.Equal(t, "child", infos[2].Name)

		require.NoError(t, k.Join(child, nil))
		assert.Equal(t, uint32(2), k.ThreadCount())

		k.Shutdown()
		return nil
	})

	require.NoError(t, runKernel(t, k))
}

func TestKernel_nameTruncation(t *testing.T) {
	long := strings.Repeat("x", MaxNameLength+10)

	var k *Kernel
	k, _ = newTestKernel(t, func(any) any {
		child, err := k.Create(func(any) any { return nil }, 40, long, nil)
		require.NoError(t, err)
		assert.Len(t, child.Name(), MaxNameLength)
		require.NoError(t, k.Join(child, nil))
		k.Shutdown()
		return nil
	})

	require.NoError(t, runKernel(t, k))
}

func TestKernel_createValidation(t *testing.T) {
	var k *Kernel
	k, _ = newTestKernel(t, func(any) any {
		_, err := k.Create(nil, 10, "x", nil)
		assert.ErrorIs(t, err, oserror.NullPointer)

		_, err = k.Create(func(any) any { return nil }, LowestPriority+1, "x", nil)
		assert.ErrorIs(t, err, oserror.ForbiddenPriority)

		k.Shutdown()
		return nil
	})

	require.NoError(t, runKernel(t, k))
}

func TestKernel_createBeforeBoot(t *testing.T) {
	k, _ := newTestKernel(t, func(any) any { return nil })
	_, err := k.Create(func(any) any { return nil }, 10, "early", nil)
	assert.ErrorIs(t, err, oserror.UnauthorizedAction)
}

func TestKernel_allocFailureSurfaces(t *testing.T) {
	// Two stacks succeed (idle, init); the third thread fails.
	var k *Kernel
	k, _ = newTestKernel(t, func(any) any {
		_, err := k.Create(func(any) any { return nil }, 40, "unlucky", nil)
		assert.ErrorIs(t, err, oserror.AllocFailed)
		k.Shutdown()
		return nil
	}, WithAllocator(&platform.FailAllocator{After: 2}))

	require.NoError(t, runKernel(t, k))
}

func TestKernel_joinReturnValueAndErrors(t *testing.T) {
	var k *Kernel
	k, _ = newTestKernel(t, func(any) any {
		assert.ErrorIs(t, k.Join(nil, nil), oserror.NullPointer)

		child, err := k.Create(func(arg any) any {
			return arg.(int) + 5
		}, 40, "worker", 37)
		require.NoError(t, err)

		var ret any
		require.NoError(t, k.Join(child, &ret))
		assert.Equal(t, 42, ret)

		// The handle no longer refers to a live object.
		assert.ErrorIs(t, k.Join(child, nil), oserror.NoSuchID)

		k.Shutdown()
		return nil
	})

	require.NoError(t, runKernel(t, k))
}

func TestKernel_joinExclusivity(t *testing.T) {
	var k *Kernel
	var gate Semaphore

	k, _ = newTestKernel(t, func(any) any {
		require.NoError(t, gate.Init(k, 0))

		// Both outrank init, so each runs and parks during its Create:
		// the worker on the semaphore, the joiner on the worker.
		worker, err := k.Create(func(any) any {
			_ = gate.Pend()
			return nil
		}, 20, "worker", nil)
		require.NoError(t, err)

		joiner, err := k.Create(func(any) any {
			return k.Join(worker, nil)
		}, 20, "joiner", nil)
		require.NoError(t, err)

		assert.ErrorIs(t, k.Join(worker, nil), oserror.UnauthorizedAction)

		require.NoError(t, gate.Post())

		var ret any
		require.NoError(t, k.Join(joiner, &ret))
		assert.Nil(t, ret, "the joiner's own join must have succeeded")

		k.Shutdown()
		return nil
	})

	require.NoError(t, runKernel(t, k))
}

func TestKernel_zombieReapedImmediately(t *testing.T) {
	var k *Kernel
	k, _ = newTestKernel(t, func(any) any {
		child, err := k.Create(func(any) any { return "done" }, 10, "eager", nil)
		require.NoError(t, err)
		// Priority 10 outranks init: the child already ran to
		// completion and sits on the zombie queue.
		assert.Equal(t, Zombie, child.State())

		var ret any
		require.NoError(t, k.Join(child, &ret))
		assert.Equal(t, "done", ret)
		assert.Equal(t, Dead, child.State())

		k.Shutdown()
		return nil
	})

	require.NoError(t, runKernel(t, k))
}

func TestKernel_manualTicksDriveUptime(t *testing.T) {
	var k *Kernel
	var timer *platform.ManualTimer
	k, timer = newTestKernel(t, func(any) any {
		assert.Zero(t, k.Ticks())

		timer.Tick(3)
		k.Safepoint()

		assert.Equal(t, uint64(3), k.Ticks())
		// 100 Hz: 10ms per tick.
		assert.Equal(t, uint64(30), k.Uptime())

		k.Shutdown()
		return nil
	})

	require.NoError(t, runKernel(t, k))
}

// lockedBuffer serializes writes from the kernel's logging path.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestKernel_structuredLogging(t *testing.T) {
	var buf lockedBuffer
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(
			stumpy.WithWriter(&buf),
			stumpy.WithTimeField(``),
		),
	).Logger()

	var k *Kernel
	k, _ = newTestKernel(t, func(any) any {
		child, err := k.Create(func(any) any { return nil }, 40, "logged", nil)
		require.NoError(t, err)
		require.NoError(t, k.Join(child, nil))
		k.Shutdown()
		return nil
	}, WithLogger(logger))

	require.NoError(t, runKernel(t, k))

	out := buf.String()
	assert.Contains(t, out, `"msg":"scheduler initialized"`)
	assert.Contains(t, out, `"msg":"machine halted"`)
}

func TestKernel_spuriousAcknowledged(t *testing.T) {
	pic := platform.NewPIC()

	var k *Kernel
	k, _ = newTestKernel(t, func(any) any {
		require.NoError(t, k.Table().Raise(interrupt.SpuriousLine))
		assert.Equal(t, uint64(1), pic.EOICount(7))
		k.Shutdown()
		return nil
	}, WithIRQController(pic))

	require.NoError(t, runKernel(t, k))
}

func TestDefaultAccessor(t *testing.T) {
	assert.Nil(t, Default())
	k, _ := newTestKernel(t, func(any) any { return nil })
	SetDefault(k)
	t.Cleanup(func() { SetDefault(nil) })
	assert.Same(t, k, Default())
}
