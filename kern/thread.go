package kern

import (
	"runtime"

	"github.com/joeycumines/go-microkern/cpu"
	"github.com/joeycumines/go-microkern/klist"
	"github.com/joeycumines/go-microkern/oserror"
)

// ThreadState is a thread's lifecycle state.
type ThreadState uint8

const (
	// Ready threads are members of the run queue.
	Ready ThreadState = iota
	// Elected is the single thread currently holding the CPU.
	Elected
	// Sleeping threads are members of the sleep queue, keyed by wakeup
	// deadline.
	Sleeping
	// Joining threads wait for another thread's exit; they are members
	// of no queue, only of the target's joiner back-reference.
	Joining
	// Blocked threads are members of exactly one primitive's wait list.
	Blocked
	// Zombie threads have exited but their return value has not been
	// reaped.
	Zombie
	// Dead is terminal: reaped, no list membership, storage collectable.
	Dead
)

// String returns a human-readable representation of the state.
func (s ThreadState) String() string {
	switch s {
	case Ready:
		return "Ready"
	case Elected:
		return "Elected"
	case Sleeping:
		return "Sleeping"
	case Joining:
		return "Joining"
	case Blocked:
		return "Blocked"
	case Zombie:
		return "Zombie"
	case Dead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// BlockKind records which family of primitive a Blocked thread waits on.
type BlockKind uint8

const (
	BlockSem BlockKind = iota
	BlockMutex
	BlockQueue
	BlockIO
)

// String returns a human-readable representation of the kind.
func (b BlockKind) String() string {
	switch b {
	case BlockSem:
		return "Sem"
	case BlockMutex:
		return "Mutex"
	case BlockQueue:
		return "Queue"
	case BlockIO:
		return "Io"
	default:
		return "Unknown"
	}
}

// wrapperEIP is the simulated address of the thread wrapper, loaded as the
// EIP of every synthetic trap frame.
const wrapperEIP = 0x00100000

// Thread is a kernel thread control block. Fields are owned by the CPU:
// they are read and written only while the thread's machine holds the
// baton, or after the machine has halted.
type Thread struct {
	pid      int32
	ppid     int32
	name     string
	priority uint32

	state     ThreadState
	blockKind BlockKind

	entry  ThreadFunc
	arg    any
	retVal any

	wakeupDeadline uint64

	esp uint32
	ebp uint32
	eip uint32

	stack *[cpu.StackWords]uint32

	joiner *Thread

	// schedNode is the thread's membership in scheduler queues (run,
	// sleep, zombie); waitNode its membership in primitive wait lists.
	// Each is linked into at most one list at a time.
	schedNode  *klist.Node[*Thread]
	waitNode   *klist.Node[*Thread]
	globalNode *klist.Node[*Thread]

	startTime uint64
	endTime   uint64
	execTime  uint64
	lastSched uint64

	// gate is the thread's half of the CPU baton: a one-slot binary
	// semaphore its goroutine parks on whenever the thread is not
	// Elected.
	gate chan struct{}
}

// PID returns the thread's identifier.
func (t *Thread) PID() int32 { return t.pid }

// PPID returns the creator's identifier.
func (t *Thread) PPID() int32 { return t.ppid }

// Name returns the thread's name.
func (t *Thread) Name() string { return t.name }

// Priority returns the thread's priority.
func (t *Thread) Priority() uint32 { return t.priority }

// State returns the thread's lifecycle state. Thread context (or
// post-halt) only.
func (t *Thread) State() ThreadState { return t.state }

// ReturnValue returns the value the entry routine returned. Meaningful
// once the thread is Zombie or reaped.
func (t *Thread) ReturnValue() any { return t.retVal }

// newThread allocates a control block and stack and lays the synthetic
// trap frame so the first dispatch "returns" into the wrapper. The
// goroutine backing the thread starts parked; it runs nothing until the
// scheduler elects the thread for the first time.
func (k *Kernel) newThread(entry ThreadFunc, priority uint32, name string, arg any) (*Thread, error) {
	stack, err := k.alloc.AllocStack()
	if err != nil {
		return nil, err
	}
	if stack == nil {
		return nil, oserror.AllocFailed
	}

	if len(name) > MaxNameLength {
		name = name[:MaxNameLength]
	}

	t := &Thread{
		pid:      k.lastPID.Add(1),
		name:     name,
		priority: priority,
		entry:    entry,
		arg:      arg,
		state:    Ready,
		stack:    stack,
		eip:      wrapperEIP,
		gate:     make(chan struct{}, 1),
	}
	if k.current != nil {
		t.ppid = k.current.pid
	}
	t.esp, t.ebp = cpu.InitFrame(stack, wrapperEIP)
	t.schedNode = klist.NewNode(t)
	t.waitNode = klist.NewNode(t)
	t.globalNode = klist.NewNode(t)

	go func() {
		select {
		case <-t.gate:
		case <-k.haltCh:
			return
		}
		if k.halted() {
			return
		}
		k.threadWrapper(t)
	}()

	return t, nil
}

// threadWrapper is the routine every synthetic frame "returns" into: it
// records the start time, runs the entry function, stores the return
// value, and enters the exit path. It never returns.
func (k *Kernel) threadWrapper(t *Thread) {
	defer func() {
		if r := recover(); r != nil {
			k.threadPanic(t, r)
		}
	}()

	t.startTime = k.uptimeMS()
	t.retVal = t.entry(t.arg)
	t.endTime = k.uptimeMS()
	t.execTime = t.endTime - t.startTime

	k.exitCurrent(t)
}

// exitCurrent transitions the calling thread to Zombie, wakes its joiner
// if one is recorded, enlists it on the zombie queue, and yields away for
// the last time.
func (k *Kernel) exitCurrent(t *Thread) {
	if k.halted() {
		runtime.Goexit()
	}

	t.state = Zombie

	if j := t.joiner; j != nil && j.state == Joining {
		j.state = Ready
		if err := k.active.Enlist(j.schedNode, j.priority); err != nil {
			k.fatal(`could not enqueue joining thread`, err)
		}
	}

	if err := k.zombie.Enlist(t.schedNode, 0); err != nil {
		k.fatal(`could not enqueue zombie thread`, err)
	}

	k.logger.Debug().
		Int(`pid`, int(t.pid)).
		Str(`name`, t.name).
		Log(`thread exited`)

	k.yield()

	// Only a reap or a halt resumes a zombie, and both end the
	// goroutine.
	runtime.Goexit()
}

// parkSelf blocks the calling thread's goroutine until the scheduler hands
// it the baton again. Reaped and halted threads never resume; their
// goroutines end here.
func (k *Kernel) parkSelf(t *Thread) {
	select {
	case <-t.gate:
	case <-k.haltCh:
		runtime.Goexit()
	}
	if k.halted() || t.state == Dead {
		runtime.Goexit()
	}
}

// switchContext hands the baton from prev to next. The outgoing goroutine
// touches no kernel state between the handoff and its own park.
func (k *Kernel) switchContext(prev, next *Thread) {
	if prev == next {
		return
	}
	next.gate <- struct{}{}
	k.parkSelf(prev)
}

// renderState materializes the current thread's architectural state for
// the interrupt stubs.
func (k *Kernel) renderState() (cpu.State, cpu.StackState) {
	var flags uint32 = cpu.FlagsInit
	if !k.table.InterruptsEnabled() {
		flags &^= cpu.FlagIF
	}

	t := k.current
	if t == nil {
		return cpu.State{
				SS: cpu.KernelDS, GS: cpu.KernelDS, FS: cpu.KernelDS,
				ES: cpu.KernelDS, DS: cpu.KernelDS,
			}, cpu.StackState{
				EIP: wrapperEIP, CS: cpu.KernelCS, EFLAGS: flags,
			}
	}

	return cpu.State{
			ESP: t.esp,
			EBP: t.ebp,
			SS:  cpu.KernelDS,
			GS:  cpu.KernelDS,
			FS:  cpu.KernelDS,
			ES:  cpu.KernelDS,
			DS:  cpu.KernelDS,
		}, cpu.StackState{
			EIP:    t.eip,
			CS:     cpu.KernelCS,
			EFLAGS: flags,
		}
}

// idleEntry is the distinguished idle thread: on its first pass it leaves
// the boot-time disable and bootstraps the init thread, then loops enabling
// interrupts and halting until one arrives. It is never parked and never
// joined.
func (k *Kernel) idleEntry(any) any {
	if !k.bootstrapped {
		k.bootstrapped = true
		// Like every fresh thread (cpu.FlagsInit), init starts with the
		// interrupt flag set.
		k.table.Enable()
		if _, err := k.Create(k.initEntry, k.initPriority, k.initName, k.initArg); err != nil {
			k.fatal(`could not create init thread`, err)
		}
	}

	for {
		k.table.Enable()
		k.table.HaltUntilInterrupt(k.haltCh)
		if k.halted() {
			return nil
		}
		k.table.DeliverPending()
	}
}
