// Package kern implements the kernel core of a simulated uniprocessor
// 32-bit x86 machine: thread objects with synthetic trap-frame contexts, a
// preemptive priority scheduler driven by a timer tick and a software-yield
// vector, and the blocking primitives (mutex, counting semaphore, bounded
// queue, single-slot mailbox) built on the shared park/unpark protocol.
//
// Kernel threads are backed by goroutines gated so that exactly one runs at
// any moment; the baton is the simulated CPU. Hardware interrupts posted by
// asynchronous sources are delivered at instruction boundaries: the kern
// calls that may park the caller (Yield, Sleep, Join, LockIO, every Pend,
// and the queue and mailbox Post), explicit Safepoint calls, and the idle
// thread's halt loop. Compute-bound threads call Safepoint the way the Go
// runtime inserts preemption points into loops.
//
// A machine is wired and booted like so:
//
//	k, err := kern.New(initFunc,
//		kern.WithLogger(logger),
//		kern.WithTickRate(1000),
//	)
//	if err != nil { ... }
//	err = k.Run(ctx)
//
// Run arms the timer, performs the first schedule, and blocks until the
// machine halts via Shutdown, Reboot, or a kernel panic. The init function
// runs as the first non-idle thread and typically creates the rest of the
// system.
package kern
