package kern

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-microkern/cpu"
	"github.com/joeycumines/go-microkern/interrupt"
	"github.com/joeycumines/go-microkern/klist"
	"github.com/joeycumines/go-microkern/oserror"
	"github.com/joeycumines/go-microkern/platform"
	"github.com/joeycumines/logiface"
	"golang.org/x/exp/slices"
)

// Scheduling constants.
const (
	// HighestPriority is the most urgent priority value.
	HighestPriority = 0

	// LowestPriority is the least urgent priority value a thread may
	// carry; it is also the idle thread's priority.
	LowestPriority = 64

	// IdlePriority is the priority of the idle thread.
	IdlePriority = LowestPriority

	// DefaultInitPriority is the priority the init thread runs at unless
	// overridden.
	DefaultInitPriority = 32

	// DefaultTickRate is the timer frequency armed by Run when none is
	// configured, in Hz.
	DefaultTickRate = 100

	// MaxNameLength bounds thread names, in bytes.
	MaxNameLength = 32
)

// SystemState is the machine's lifecycle state.
type SystemState int32

const (
	// SystemIdle means the machine has not booted.
	SystemIdle SystemState = iota
	// SystemRunning means the scheduler is live.
	SystemRunning
	// SystemHalted is terminal: shutdown, reboot, or panic.
	SystemHalted
)

// String returns a human-readable representation of the state.
func (s SystemState) String() string {
	switch s {
	case SystemIdle:
		return "Idle"
	case SystemRunning:
		return "Running"
	case SystemHalted:
		return "Halted"
	default:
		return "Unknown"
	}
}

// Kernel is the per-machine scheduler singleton. All scheduler state is
// mutated only while holding the CPU (the thread baton); the handful of
// fields readable from off the CPU are atomic.
type Kernel struct {
	logger *logiface.Logger[logiface.Event]

	table *interrupt.Table
	timer platform.TimerSource
	irqc  platform.IRQController
	cons  platform.ConsoleSink
	alloc platform.Allocator

	hz uint32

	initEntry    ThreadFunc
	initName     string
	initPriority uint32
	initArg      any

	idle     *Thread
	current  *Thread
	previous *Thread

	active   *klist.List[*Thread]
	sleeping *klist.List[*Thread]
	zombie   *klist.List[*Thread]
	global   *klist.List[*Thread]
	ioWait   *klist.List[*Thread]

	firstSchedule bool
	bootstrapped  bool

	lastPID     atomic.Int32
	threadCount atomic.Uint32
	ticks       atomic.Uint64
	sysState    atomic.Int32

	started  atomic.Bool
	haltOnce sync.Once
	haltCh   chan struct{}
	runDone  chan struct{}
	runErr   error
}

// ThreadFunc is a thread entry routine.
type ThreadFunc func(arg any) any

// Option configures a Kernel.
type Option interface {
	applyKernel(*Kernel) error
}

type optionFunc func(*Kernel) error

func (f optionFunc) applyKernel(k *Kernel) error { return f(k) }

// WithLogger attaches a structured logger; nil is a valid no-op logger.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return optionFunc(func(k *Kernel) error {
		k.logger = logger
		return nil
	})
}

// WithTimerSource replaces the default real-time PIT, e.g. with a
// deterministic platform.ManualTimer. Run binds the source to this
// kernel's interrupt table when it arms it.
func WithTimerSource(timer platform.TimerSource) Option {
	return optionFunc(func(k *Kernel) error {
		if timer == nil {
			return oserror.NullPointer
		}
		k.timer = timer
		return nil
	})
}

// WithIRQController replaces the default PIC model.
func WithIRQController(irqc platform.IRQController) Option {
	return optionFunc(func(k *Kernel) error {
		if irqc == nil {
			return oserror.NullPointer
		}
		k.irqc = irqc
		return nil
	})
}

// WithConsole replaces the default stderr console sink.
func WithConsole(cons platform.ConsoleSink) Option {
	return optionFunc(func(k *Kernel) error {
		if cons == nil {
			return oserror.NullPointer
		}
		k.cons = cons
		return nil
	})
}

// WithAllocator replaces the default heap allocator.
func WithAllocator(alloc platform.Allocator) Option {
	return optionFunc(func(k *Kernel) error {
		if alloc == nil {
			return oserror.NullPointer
		}
		k.alloc = alloc
		return nil
	})
}

// WithTickRate sets the frequency Run arms the timer at, in Hz.
func WithTickRate(hz uint32) Option {
	return optionFunc(func(k *Kernel) error {
		if hz < platform.MinTimerHz || hz > platform.MaxTimerHz {
			return oserror.OutOfBound
		}
		k.hz = hz
		return nil
	})
}

// WithInitThread overrides the init thread's name, priority, and argument.
func WithInitThread(name string, priority uint32, arg any) Option {
	return optionFunc(func(k *Kernel) error {
		if priority > LowestPriority {
			return oserror.ForbiddenPriority
		}
		k.initName = name
		k.initPriority = priority
		k.initArg = arg
		return nil
	})
}

// New builds a machine whose first non-idle thread runs init. Collaborators
// default to the real-time PIT, the PIC model, the stderr console, and the
// heap allocator; tests swap in deterministic variants.
func New(init ThreadFunc, options ...Option) (*Kernel, error) {
	if init == nil {
		return nil, oserror.NullPointer
	}

	k := &Kernel{
		hz:           DefaultTickRate,
		initEntry:    init,
		initName:     "init",
		initPriority: DefaultInitPriority,
		active:       klist.New[*Thread](),
		sleeping:     klist.New[*Thread](),
		zombie:       klist.New[*Thread](),
		global:       klist.New[*Thread](),
		ioWait:       klist.New[*Thread](),
		haltCh:       make(chan struct{}),
		runDone:      make(chan struct{}),
	}

	for _, o := range options {
		if o == nil {
			continue
		}
		if err := o.applyKernel(k); err != nil {
			return nil, err
		}
	}

	k.table = interrupt.New(interrupt.WithLogger(k.logger))
	if k.timer == nil {
		k.timer = platform.NewPIT()
	}
	if k.irqc == nil {
		k.irqc = platform.NewPIC()
	}
	if k.cons == nil {
		k.cons = platform.NewStderrConsole()
	}
	if k.alloc == nil {
		k.alloc = platform.HeapAllocator{}
	}

	k.table.SetStateSource(k.renderState)
	k.table.SetPanic(k.panicHandler)
	k.table.SetSpurious(func(_ *cpu.State, _ uint32, _ *cpu.StackState) {
		// Spurious interrupts arrive as IRQ 7 on the master controller:
		// acknowledge and return.
		_ = k.irqc.EOI(7)
	})

	if err := k.table.Register(interrupt.SchedSwLine, k.scheduleHandler); err != nil {
		return nil, err
	}

	return k, nil
}

// Table exposes the machine's interrupt table, for wiring timer sources and
// registering driver handlers.
func (k *Kernel) Table() *interrupt.Table { return k.table }

// Run boots the machine and blocks until it halts. Booting creates the idle
// thread, arms the timer at the configured rate, and performs the first
// schedule; the idle thread bootstraps the init thread on its first pass.
// Run returns nil after a clean Shutdown, the panic as a *PanicError after
// a kernel panic, and the context error if ctx is cancelled (the machine is
// shut down first).
func (k *Kernel) Run(ctx context.Context) error {
	if !k.started.CompareAndSwap(false, true) {
		return oserror.UnauthorizedAction
	}

	idle, err := k.newThread(k.idleEntry, IdlePriority, "idle", nil)
	if err != nil {
		return err
	}
	idle.pid = 0
	idle.ppid = 0
	k.lastPID.Store(0)
	k.idle = idle
	k.current = idle
	k.previous = idle
	idle.state = Elected
	if err := k.global.Enlist(idle.globalNode, idle.priority); err != nil {
		return err
	}
	k.threadCount.Add(1)

	if err := k.irqc.SetMask(platform.TimerIRQ, true); err != nil {
		return err
	}
	if err := k.timer.Arm(k.table, k.hz, k.tickHandler); err != nil {
		return err
	}

	k.sysState.Store(int32(SystemRunning))

	k.logger.Info().
		Uint64(`hz`, uint64(k.hz)).
		Log(`scheduler initialized`)

	// First schedule: dispatches into the idle thread's synthetic frame.
	if err := k.table.Raise(interrupt.SchedSwLine); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		k.halt(nil)
		<-k.runDone
		return ctx.Err()
	case <-k.runDone:
		return k.runErr
	}
}

// Shutdown halts the machine: the timer stops, parked threads are released,
// and Run returns. Safe from kernel threads and from off the CPU alike.
// Idempotent.
func (k *Kernel) Shutdown() {
	k.halt(nil)
}

func (k *Kernel) halt(err error) {
	k.haltOnce.Do(func() {
		k.sysState.Store(int32(SystemHalted))
		k.runErr = err
		close(k.haltCh)
		if k.timer.Hz() != 0 {
			_ = k.timer.Stop()
		}
		k.logger.Info().Log(`machine halted`)
		close(k.runDone)
	})
}

func (k *Kernel) halted() bool {
	return SystemState(k.sysState.Load()) == SystemHalted
}

// State returns the machine lifecycle state.
func (k *Kernel) State() SystemState {
	return SystemState(k.sysState.Load())
}

// ThreadCount returns the number of live (non-Dead) threads, the idle
// thread included.
func (k *Kernel) ThreadCount() uint32 { return k.threadCount.Load() }

// Ticks returns the number of timer ticks since boot.
func (k *Kernel) Ticks() uint64 { return k.ticks.Load() }

// Uptime returns milliseconds since boot, derived from the tick count.
func (k *Kernel) Uptime() uint64 { return k.uptimeMS() }

func (k *Kernel) uptimeMS() uint64 {
	return k.ticks.Load() * 1000 / uint64(k.hz)
}

// Current returns the elected thread. Thread context only.
func (k *Kernel) Current() *Thread { return k.current }

// PID returns the elected thread's pid. Thread context only.
func (k *Kernel) PID() int32 { return k.current.pid }

// PPID returns the elected thread's parent pid. Thread context only.
func (k *Kernel) PPID() int32 { return k.current.ppid }

// Priority returns the elected thread's priority. Thread context only.
func (k *Kernel) Priority() uint32 { return k.current.priority }

// Name returns the elected thread's name. Thread context only.
func (k *Kernel) Name() string { return k.current.name }

// ThreadInfo is one row of the ThreadsInfo snapshot.
type ThreadInfo struct {
	PID      int32
	PPID     int32
	Name     string
	Priority uint32
	State    ThreadState

	StartTime uint64
	EndTime   uint64
	ExecTime  uint64
}

// ThreadsInfo snapshots every live thread, sorted by pid. Thread context
// (or post-halt) only.
func (k *Kernel) ThreadsInfo() []ThreadInfo {
	var out []ThreadInfo
	k.global.Each(func(t *Thread) {
		out = append(out, ThreadInfo{
			PID:       t.pid,
			PPID:      t.ppid,
			Name:      t.name,
			Priority:  t.priority,
			State:     t.state,
			StartTime: t.startTime,
			EndTime:   t.endTime,
			ExecTime:  t.execTime,
		})
	})
	slices.SortFunc(out, func(a, b ThreadInfo) int {
		return int(a.PID) - int(b.PID)
	})
	return out
}

// Default kernel accessor: the machine is inherently a singleton per CPU,
// and embedders that want ambient access register theirs here.
var defaultKernel atomic.Pointer[Kernel]

// SetDefault registers the ambient kernel.
func SetDefault(k *Kernel) { defaultKernel.Store(k) }

// Default returns the ambient kernel, or nil.
func Default() *Kernel { return defaultKernel.Load() }
