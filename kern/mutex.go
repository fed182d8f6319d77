package kern

import (
	"github.com/joeycumines/go-microkern/klist"
	"github.com/joeycumines/go-microkern/oserror"
)

// MutexFlag configures mutex behavior at init.
type MutexFlag uint32

const (
	// MutexFlagRecursive lets the owner re-pend; the mutex frees once
	// posts balance pends.
	MutexFlagRecursive MutexFlag = 1 << iota
)

// Mutex is a blocking mutual-exclusion primitive with a FIFO wait list.
// Non-recursive unless initialized with MutexFlagRecursive. The zero value
// is uninitialized; Init it before use.
type Mutex struct {
	k       *Kernel
	waiting *klist.List[*Thread]

	locked bool
	flags  MutexFlag
	owner  int32
	depth  uint32

	init bool
}

// Init prepares the mutex for use on a machine, unlocked.
func (m *Mutex) Init(k *Kernel) error {
	return m.InitFlags(k, 0)
}

// InitFlags is Init with behavior flags.
func (m *Mutex) InitFlags(k *Kernel, flags MutexFlag) error {
	if m == nil || k == nil {
		return oserror.NullPointer
	}

	*m = Mutex{
		k:       k,
		waiting: klist.New[*Thread](),
		flags:   flags,
		init:    true,
	}

	return nil
}

// Destroy wakes every waiter — their pending Pend calls return
// Uninitialized — and marks the mutex uninitialized.
func (m *Mutex) Destroy() error {
	if m == nil {
		return oserror.NullPointer
	}

	k := m.k
	if k == nil {
		return oserror.Uninitialized
	}
	k.table.Lock()

	if !m.init {
		k.table.Unlock()
		return oserror.Uninitialized
	}
	m.init = false

	for {
		node := m.waiting.Delist()
		if node == nil {
			break
		}
		if err := k.unlockThread(node, BlockMutex, false); err != nil {
			k.table.Unlock()
			k.fatal(`could not unlock thread from mutex`, err)
			return err
		}
	}

	k.table.Unlock()
	return nil
}

// Pend acquires the mutex, parking the caller FIFO behind earlier waiters
// while it is held.
func (m *Mutex) Pend() error {
	if m == nil {
		return oserror.NullPointer
	}

	k := m.k
	if k == nil {
		return oserror.Uninitialized
	}
	k.Safepoint()
	k.table.Lock()

	if !m.init {
		k.table.Unlock()
		return oserror.Uninitialized
	}

	if m.flags&MutexFlagRecursive != 0 && m.locked && m.owner == k.current.pid {
		m.depth++
		k.table.Unlock()
		return nil
	}

	for m.init && m.locked {
		node := k.lockThread(BlockMutex)
		if node == nil {
			k.table.Unlock()
			k.fatal(`idle thread blocked on mutex`, oserror.NullPointer)
			return oserror.UnauthorizedAction
		}
		if err := m.waiting.Enlist(node, 0); err != nil {
			k.table.Unlock()
			k.fatal(`could not enqueue thread to mutex`, err)
			return err
		}
		k.table.Unlock()
		k.yield()
		k.table.Lock()
	}

	if !m.init {
		k.table.Unlock()
		return oserror.Uninitialized
	}

	m.locked = true
	m.owner = k.current.pid
	m.depth = 1

	k.table.Unlock()
	return nil
}

// Post releases the mutex and, if a thread waits, hands it the CPU
// (signal-and-switch). Posting a recursive mutex held more than once only
// decrements the depth. Posting a recursive mutex from a non-owner is an
// UnauthorizedAction.
func (m *Mutex) Post() error {
	if m == nil {
		return oserror.NullPointer
	}

	k := m.k
	if k == nil {
		return oserror.Uninitialized
	}
	k.table.Lock()

	if !m.init {
		k.table.Unlock()
		return oserror.Uninitialized
	}

	if m.flags&MutexFlagRecursive != 0 {
		if m.owner != k.current.pid {
			k.table.Unlock()
			return oserror.UnauthorizedAction
		}
		if m.depth > 1 {
			m.depth--
			k.table.Unlock()
			return nil
		}
	}

	m.locked = false
	m.owner = 0
	m.depth = 0

	node := m.waiting.Delist()
	k.table.Unlock()

	if node != nil {
		if err := k.unlockThread(node, BlockMutex, true); err != nil {
			k.fatal(`could not unlock thread from mutex`, err)
			return err
		}
	}

	return nil
}

// TryPend attempts to acquire without blocking; MutexLocked when held,
// except that a recursive mutex held by the caller is re-acquired.
func (m *Mutex) TryPend() error {
	if m == nil {
		return oserror.NullPointer
	}

	k := m.k
	if k == nil {
		return oserror.Uninitialized
	}
	k.table.Lock()
	defer k.table.Unlock()

	if !m.init {
		return oserror.Uninitialized
	}

	if m.locked {
		if m.flags&MutexFlagRecursive != 0 && m.owner == k.current.pid {
			m.depth++
			return nil
		}
		return oserror.MutexLocked
	}

	m.locked = true
	m.owner = k.current.pid
	m.depth = 1
	return nil
}
