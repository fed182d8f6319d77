package kern

import (
	"github.com/joeycumines/go-microkern/klist"
	"github.com/joeycumines/go-microkern/oserror"
)

// Semaphore is a counting semaphore with a FIFO wait list. Negative
// initial levels are permitted and serve as rendezvous barriers: the level
// must climb above zero before any pend completes.
//
// Post never forces a reschedule, so it is legal from interrupt context.
type Semaphore struct {
	k       *Kernel
	waiting *klist.List[*Thread]

	level int32

	init bool
}

// Init prepares the semaphore at the given level.
func (s *Semaphore) Init(k *Kernel, level int32) error {
	if s == nil || k == nil {
		return oserror.NullPointer
	}

	*s = Semaphore{
		k:       k,
		waiting: klist.New[*Thread](),
		level:   level,
		init:    true,
	}

	return nil
}

// Destroy wakes every waiter — their pending Pend calls return
// Uninitialized — and marks the semaphore uninitialized.
func (s *Semaphore) Destroy() error {
	if s == nil {
		return oserror.NullPointer
	}

	k := s.k
	if k == nil {
		return oserror.Uninitialized
	}
	k.table.Lock()

	if !s.init {
		k.table.Unlock()
		return oserror.Uninitialized
	}
	s.init = false

	for {
		node := s.waiting.Delist()
		if node == nil {
			break
		}
		if err := k.unlockThread(node, BlockSem, false); err != nil {
			k.table.Unlock()
			k.fatal(`could not unlock thread from semaphore`, err)
			return err
		}
	}

	k.table.Unlock()
	return nil
}

// Pend takes a token, parking the caller while none is available.
func (s *Semaphore) Pend() error {
	if s == nil {
		return oserror.NullPointer
	}

	k := s.k
	if k == nil {
		return oserror.Uninitialized
	}
	k.Safepoint()
	k.table.Lock()

	if !s.init {
		k.table.Unlock()
		return oserror.Uninitialized
	}

	for s.init && s.level < 1 {
		node := k.lockThread(BlockSem)
		if node == nil {
			k.table.Unlock()
			k.fatal(`idle thread blocked on semaphore`, oserror.NullPointer)
			return oserror.UnauthorizedAction
		}
		if err := s.waiting.Enlist(node, 0); err != nil {
			k.table.Unlock()
			k.fatal(`could not enqueue thread to semaphore`, err)
			return err
		}
		k.table.Unlock()
		k.yield()
		k.table.Lock()
	}

	if !s.init {
		k.table.Unlock()
		return oserror.Uninitialized
	}

	s.level--

	k.table.Unlock()
	return nil
}

// Post releases a token. If the level climbs above zero and a thread
// waits, it becomes Ready; it runs once the caller next yields
// (signal-and-continue — Post must stay safe from interrupt handlers).
func (s *Semaphore) Post() error {
	if s == nil {
		return oserror.NullPointer
	}

	k := s.k
	if k == nil {
		return oserror.Uninitialized
	}
	k.table.Lock()

	if !s.init {
		k.table.Unlock()
		return oserror.Uninitialized
	}

	s.level++

	if s.level > 0 {
		node := s.waiting.Delist()
		k.table.Unlock()
		if node != nil {
			if err := k.unlockThread(node, BlockSem, false); err != nil {
				k.fatal(`could not unlock thread from semaphore`, err)
				return err
			}
		}
		return nil
	}

	k.table.Unlock()
	return nil
}

// TryPend attempts to take a token without blocking. It returns the
// post-operation level, with SemLocked (and the unchanged level) when no
// token is available.
func (s *Semaphore) TryPend() (int32, error) {
	if s == nil {
		return 0, oserror.NullPointer
	}

	k := s.k
	if k == nil {
		return 0, oserror.Uninitialized
	}
	k.table.Lock()
	defer k.table.Unlock()

	if !s.init {
		return 0, oserror.Uninitialized
	}

	if s.level < 1 {
		return s.level, oserror.SemLocked
	}

	s.level--
	return s.level, nil
}

// Level returns the current level. Snapshot only.
func (s *Semaphore) Level() (int32, error) {
	if s == nil {
		return 0, oserror.NullPointer
	}

	k := s.k
	if k == nil {
		return 0, oserror.Uninitialized
	}
	k.table.Lock()
	defer k.table.Unlock()

	if !s.init {
		return 0, oserror.Uninitialized
	}
	return s.level, nil
}
