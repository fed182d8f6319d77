package kern

import (
	"github.com/joeycumines/go-microkern/cpu"
	"github.com/joeycumines/go-microkern/interrupt"
	"github.com/joeycumines/go-microkern/klist"
	"github.com/joeycumines/go-microkern/oserror"
	"github.com/joeycumines/go-microkern/platform"
)

// tickHandler services the scheduler timer vector: count the tick,
// acknowledge the controller, and raise the software-yield vector so the
// generic dispatch path performs the context switch atomically from the
// tick's frame. No thread manipulation happens here.
func (k *Kernel) tickHandler(_ *cpu.State, _ uint32, _ *cpu.StackState) {
	k.ticks.Add(1)
	_ = k.irqc.EOI(platform.TimerIRQ)
	_ = k.table.Raise(interrupt.SchedSwLine)
}

// scheduleHandler services the software-yield vector: save the outgoing
// thread's stack pointer, elect the next thread, and restore its context.
// The very first invocation only dispatches into the idle thread's
// synthetic frame.
func (k *Kernel) scheduleHandler(state *cpu.State, _ uint32, _ *cpu.StackState) {
	if k.halted() || k.idle == nil {
		return
	}

	if !k.firstSchedule {
		k.firstSchedule = true
		// Boot CPU: hand the baton to the idle thread and return to
		// the caller of Run.
		k.idle.gate <- struct{}{}
		return
	}

	prev := k.current
	// The word below the saved frame holds the stub's return address.
	prev.esp = state.ESP - 1

	k.selectNext()

	k.switchContext(prev, k.current)

	// Back on the CPU: the epilogue popped the saved frame.
	prev.esp = state.ESP
}

// selectNext implements the election policy: a still-running previous
// thread returns to the run queue, a sleeping one to the sleep queue;
// expired sleepers are drained into the run queue; the most urgent ready
// thread wins, the idle thread by default.
func (k *Kernel) selectNext() {
	now := k.uptimeMS()
	prev := k.current
	k.previous = prev

	switch prev.state {
	case Elected:
		if err := k.active.Enlist(prev.schedNode, prev.priority); err != nil {
			k.fatal(`could not enqueue old thread`, err)
		}
		prev.state = Ready
	case Sleeping:
		if err := k.sleeping.Enlist(prev.schedNode, deadlineKey(prev.wakeupDeadline)); err != nil {
			k.fatal(`could not enqueue sleeping thread`, err)
		}
	default:
		// Blocked, Joining, and Zombie threads were enlisted by the
		// caller's blocking path.
	}

	// Wake expired sleepers. The list is deadline-ordered, so the first
	// unexpired sleeper ends the drain.
	for {
		node := k.sleeping.Delist()
		if node == nil {
			break
		}
		s := node.Data
		if s.wakeupDeadline <= now {
			s.state = Ready
			if err := k.active.Enlist(node, s.priority); err != nil {
				k.fatal(`could not wake sleeping thread`, err)
			}
			continue
		}
		if err := k.sleeping.Enlist(node, deadlineKey(s.wakeupDeadline)); err != nil {
			k.fatal(`could not requeue sleeping thread`, err)
		}
		break
	}

	next := k.idle
	if node := k.active.Delist(); node != nil {
		next = node.Data
	}
	next.state = Elected

	prev.execTime += now - prev.lastSched
	next.lastSched = now

	k.current = next
}

// deadlineKey maps a wakeup deadline onto a list priority key so the
// earliest deadline delists first.
func deadlineKey(deadline uint64) uint32 {
	return uint32(deadline)
}

// yield raises the software-yield vector; the dispatcher re-enters the
// scheduler and performs the switch.
func (k *Kernel) yield() {
	_ = k.table.Raise(interrupt.SchedSwLine)
}

// Yield cooperatively gives up the CPU. The calling thread returns to the
// run queue at its priority and resumes once re-elected.
func (k *Kernel) Yield() {
	k.Safepoint()
	k.yield()
}

// Safepoint delivers pending hardware interrupts. It is an architectural
// instruction boundary: compute-bound threads call it inside long loops so
// timer preemption can take effect, the way the Go runtime inserts
// preemption points.
func (k *Kernel) Safepoint() {
	k.table.DeliverPending()
}

// Sleep parks the calling thread until at least ms milliseconds of uptime
// have elapsed. The idle thread must not sleep.
func (k *Kernel) Sleep(ms uint64) error {
	k.Safepoint()

	t := k.current
	if t == k.idle {
		return oserror.UnauthorizedAction
	}

	t.wakeupDeadline = k.uptimeMS() + ms
	t.state = Sleeping
	k.yield()

	return nil
}

// Create spawns a thread. The new thread is enlisted at its priority; if
// it is more urgent than the caller, the caller yields immediately so the
// new thread preempts. Safe from interrupt context (it never parks).
func (k *Kernel) Create(entry ThreadFunc, priority uint32, name string, arg any) (*Thread, error) {
	if entry == nil {
		return nil, oserror.NullPointer
	}
	if priority > LowestPriority {
		return nil, oserror.ForbiddenPriority
	}
	if k.current == nil {
		return nil, oserror.UnauthorizedAction
	}

	t, err := k.newThread(entry, priority, name, arg)
	if err != nil {
		return nil, err
	}

	if err := k.active.Enlist(t.schedNode, t.priority); err != nil {
		return nil, err
	}
	if err := k.global.Enlist(t.globalNode, t.priority); err != nil {
		return nil, err
	}
	k.threadCount.Add(1)

	k.logger.Debug().
		Int(`pid`, int(t.pid)).
		Int(`ppid`, int(t.ppid)).
		Str(`name`, t.name).
		Uint64(`priority`, uint64(t.priority)).
		Log(`thread created`)

	if k.firstSchedule && t.priority < k.current.priority {
		k.yield()
	}

	return t, nil
}

// Join waits for a thread to exit and reaps it. A Zombie target is reaped
// immediately; a live one records the caller as its joiner (at most one)
// and parks it until the exit path wakes it. The reaped return value is
// written through ret when non-nil.
func (k *Kernel) Join(t *Thread, ret *any) error {
	k.Safepoint()

	if t == nil {
		return oserror.NullPointer
	}

	switch t.state {
	case Dead:
		return oserror.NoSuchID
	case Zombie:
		k.reap(t, ret)
		return nil
	}

	if t.joiner != nil {
		return oserror.UnauthorizedAction
	}

	self := k.current
	t.joiner = self
	self.state = Joining
	k.yield()

	// The exit path only wakes the joiner once the target is Zombie.
	k.reap(t, ret)
	return nil
}

func (k *Kernel) reap(t *Thread, ret *any) {
	if ret != nil {
		*ret = t.retVal
	}

	if err := k.zombie.RemoveNode(t.schedNode); err != nil {
		k.fatal(`could not remove zombie thread`, err)
	}
	if err := k.global.RemoveNode(t.globalNode); err != nil {
		k.fatal(`could not remove thread from global table`, err)
	}

	t.state = Dead
	t.joiner = nil
	k.threadCount.Add(^uint32(0))

	// Release the parked goroutine; it observes Dead and ends.
	select {
	case t.gate <- struct{}{}:
	default:
	}

	k.logger.Debug().
		Int(`pid`, int(t.pid)).
		Str(`name`, t.name).
		Log(`thread reaped`)
}

// lockThread removes the calling thread from election, recording the kind
// of block, and returns its wait-list node for the primitive to enlist.
// Returns nil for the idle thread, which must never block.
func (k *Kernel) lockThread(kind BlockKind) *klist.Node[*Thread] {
	t := k.current
	if t == k.idle {
		return nil
	}
	t.state = Blocked
	t.blockKind = kind
	return t.waitNode
}

// unlockThread returns a parked thread to the run queue. The node is the
// wait-list node previously delisted by the caller; the thread is enqueued
// on the run queue before this returns, but only runs once someone yields.
// With reschedule set the caller yields immediately (signal-and-switch).
func (k *Kernel) unlockThread(node *klist.Node[*Thread], _ BlockKind, reschedule bool) error {
	if node == nil || node.Data == nil {
		return oserror.NullPointer
	}

	t := node.Data
	t.state = Ready
	if err := k.active.Enlist(t.schedNode, t.priority); err != nil {
		return err
	}

	if reschedule && k.firstSchedule {
		k.yield()
	}

	return nil
}

// LockIO parks the calling thread on the IO wait list until a driver
// releases it with UnlockIO. The idle thread must not block.
func (k *Kernel) LockIO() error {
	k.Safepoint()

	node := k.lockThread(BlockIO)
	if node == nil {
		return oserror.UnauthorizedAction
	}
	if err := k.ioWait.Enlist(node, 0); err != nil {
		return err
	}
	k.yield()
	return nil
}

// UnlockIO releases the longest-waiting IO-blocked thread and reschedules.
// Returns NoSuchID when nothing waits.
func (k *Kernel) UnlockIO() error {
	node := k.ioWait.Delist()
	if node == nil {
		return oserror.NoSuchID
	}
	return k.unlockThread(node, BlockIO, true)
}
