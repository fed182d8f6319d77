package kern

import (
	"github.com/joeycumines/go-microkern/klist"
	"github.com/joeycumines/go-microkern/oserror"
)

// Mailbox is a single-slot rendezvous: the queue contract at capacity one,
// over a value slot and a full flag. Pend and Post each wake at most one
// peer of the opposite role.
type Mailbox[T any] struct {
	k *Kernel

	slot T
	full bool

	readers *klist.List[*Thread]
	writers *klist.List[*Thread]

	init bool
}

// Init prepares the mailbox, empty.
func (m *Mailbox[T]) Init(k *Kernel) error {
	if m == nil || k == nil {
		return oserror.NullPointer
	}

	*m = Mailbox[T]{
		k:       k,
		readers: klist.New[*Thread](),
		writers: klist.New[*Thread](),
		init:    true,
	}

	return nil
}

// Destroy wakes every parked reader and writer — their pending calls
// return Uninitialized — and marks the mailbox uninitialized.
func (m *Mailbox[T]) Destroy() error {
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

	for _, waiting := range []*klist.List[*Thread]{m.readers, m.writers} {
		for {
			node := waiting.Delist()
			if node == nil {
				break
			}
			if err := k.unlockThread(node, BlockQueue, false); err != nil {
				k.table.Unlock()
				k.fatal(`could not unlock thread from mailbox`, err)
				return err
			}
		}
	}

	k.table.Unlock()
	return nil
}

// Post stores a value, parking the caller while the slot is occupied, and
// hands the CPU to a parked reader if one waits.
func (m *Mailbox[T]) Post(elt T) error {
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

	for m.init && m.full {
		node := k.lockThread(BlockQueue)
		if node == nil {
			k.table.Unlock()
			k.fatal(`idle thread blocked on mailbox`, oserror.NullPointer)
			return oserror.UnauthorizedAction
		}
		if err := m.writers.Enlist(node, 0); err != nil {
			k.table.Unlock()
			k.fatal(`could not enqueue thread to mailbox`, err)
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

	m.slot = elt
	m.full = true

	node := m.readers.Delist()
	k.table.Unlock()

	if node != nil {
		if err := k.unlockThread(node, BlockQueue, true); err != nil {
			k.fatal(`could not unlock thread from mailbox`, err)
			return err
		}
	}

	return nil
}

// Pend takes the value, parking the caller while the slot is empty, and
// hands the CPU to a parked writer if one waits.
func (m *Mailbox[T]) Pend() (T, error) {
	var zero T
	if m == nil {
		return zero, oserror.NullPointer
	}

	k := m.k
	if k == nil {
		return zero, oserror.Uninitialized
	}
	k.Safepoint()
	k.table.Lock()

	if !m.init {
		k.table.Unlock()
		return zero, oserror.Uninitialized
	}

	for m.init && !m.full {
		node := k.lockThread(BlockQueue)
		if node == nil {
			k.table.Unlock()
			k.fatal(`idle thread blocked on mailbox`, oserror.NullPointer)
			return zero, oserror.UnauthorizedAction
		}
		if err := m.readers.Enlist(node, 0); err != nil {
			k.table.Unlock()
			k.fatal(`could not enqueue thread to mailbox`, err)
			return zero, err
		}
		k.table.Unlock()
		k.yield()
		k.table.Lock()
	}

	if !m.init {
		k.table.Unlock()
		return zero, oserror.Uninitialized
	}

	val := m.slot
	m.slot = zero
	m.full = false

	node := m.writers.Delist()
	k.table.Unlock()

	if node != nil {
		if err := k.unlockThread(node, BlockQueue, true); err != nil {
			k.fatal(`could not unlock thread from mailbox`, err)
			return zero, err
		}
	}

	return val, nil
}

// IsEmpty reports whether the slot is vacant.
func (m *Mailbox[T]) IsEmpty() (bool, error) {
	if m == nil {
		return false, oserror.NullPointer
	}

	k := m.k
	if k == nil {
		return false, oserror.Uninitialized
	}
	k.table.Lock()
	defer k.table.Unlock()

	if !m.init {
		return false, oserror.Uninitialized
	}
	return !m.full, nil
}
