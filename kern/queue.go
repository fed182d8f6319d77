package kern

import (
	"github.com/joeycumines/go-microkern/klist"
	"github.com/joeycumines/go-microkern/oserror"
)

// Queue is a bounded FIFO of values with blocking post and pend: writers
// park while the ring is full, readers while it is empty. Values are
// observed in insertion order across any interleaving of producers and
// consumers.
type Queue[T any] struct {
	k *Kernel

	buf      []T
	head     uint32 // producer index
	tail     uint32 // consumer index
	length   uint32
	capacity uint32

	readers *klist.List[*Thread]
	writers *klist.List[*Thread]

	init bool
}

// Init allocates the ring at the given capacity.
func (q *Queue[T]) Init(k *Kernel, capacity uint32) error {
	if q == nil || k == nil {
		return oserror.NullPointer
	}
	if capacity == 0 {
		return oserror.OutOfBound
	}

	*q = Queue[T]{
		k:        k,
		buf:      make([]T, capacity),
		capacity: capacity,
		readers:  klist.New[*Thread](),
		writers:  klist.New[*Thread](),
		init:     true,
	}

	return nil
}

// Destroy wakes every parked reader and writer — their pending calls
// return Uninitialized — and marks the queue uninitialized.
func (q *Queue[T]) Destroy() error {
	if q == nil {
		return oserror.NullPointer
	}

	k := q.k
	if k == nil {
		return oserror.Uninitialized
	}
	k.table.Lock()

	if !q.init {
		k.table.Unlock()
		return oserror.Uninitialized
	}
	q.init = false

	for _, waiting := range []*klist.List[*Thread]{q.readers, q.writers} {
		for {
			node := waiting.Delist()
			if node == nil {
				break
			}
			if err := k.unlockThread(node, BlockQueue, false); err != nil {
				k.table.Unlock()
				k.fatal(`could not unlock thread from queue`, err)
				return err
			}
		}
	}

	k.table.Unlock()
	return nil
}

// Post appends a value, parking the caller while the ring is full, and
// hands the CPU to a parked reader if one waits.
func (q *Queue[T]) Post(elt T) error {
	if q == nil {
		return oserror.NullPointer
	}

	k := q.k
	if k == nil {
		return oserror.Uninitialized
	}
	k.Safepoint()
	k.table.Lock()

	if !q.init {
		k.table.Unlock()
		return oserror.Uninitialized
	}

	for q.init && q.length == q.capacity {
		node := k.lockThread(BlockQueue)
		if node == nil {
			k.table.Unlock()
			k.fatal(`idle thread blocked on queue`, oserror.NullPointer)
			return oserror.UnauthorizedAction
		}
		if err := q.writers.Enlist(node, 0); err != nil {
			k.table.Unlock()
			k.fatal(`could not enqueue thread to queue`, err)
			return err
		}
		k.table.Unlock()
		k.yield()
		k.table.Lock()
	}

	if !q.init {
		k.table.Unlock()
		return oserror.Uninitialized
	}

	q.buf[q.head] = elt
	q.head = (q.head + 1) % q.capacity
	q.length++

	node := q.readers.Delist()
	k.table.Unlock()

	if node != nil {
		if err := k.unlockThread(node, BlockQueue, true); err != nil {
			k.fatal(`could not unlock thread from queue`, err)
			return err
		}
	}

	return nil
}

// Pend removes the oldest value, parking the caller while the ring is
// empty, and hands the CPU to a parked writer if one waits.
func (q *Queue[T]) Pend() (T, error) {
	var zero T
	if q == nil {
		return zero, oserror.NullPointer
	}

	k := q.k
	if k == nil {
		return zero, oserror.Uninitialized
	}
	k.Safepoint()
	k.table.Lock()

	if !q.init {
		k.table.Unlock()
		return zero, oserror.Uninitialized
	}

	for q.init && q.length == 0 {
		node := k.lockThread(BlockQueue)
		if node == nil {
			k.table.Unlock()
			k.fatal(`idle thread blocked on queue`, oserror.NullPointer)
			return zero, oserror.UnauthorizedAction
		}
		if err := q.readers.Enlist(node, 0); err != nil {
			k.table.Unlock()
			k.fatal(`could not enqueue thread to queue`, err)
			return zero, err
		}
		k.table.Unlock()
		k.yield()
		k.table.Lock()
	}

	if !q.init {
		k.table.Unlock()
		return zero, oserror.Uninitialized
	}

	val := q.buf[q.tail]
	q.buf[q.tail] = zero
	q.tail = (q.tail + 1) % q.capacity
	q.length--

	node := q.writers.Delist()
	k.table.Unlock()

	if node != nil {
		if err := k.unlockThread(node, BlockQueue, true); err != nil {
			k.fatal(`could not unlock thread from queue`, err)
			return zero, err
		}
	}

	return val, nil
}

// Length returns the number of buffered values.
func (q *Queue[T]) Length() (uint32, error) {
	if q == nil {
		return 0, oserror.NullPointer
	}

	k := q.k
	if k == nil {
		return 0, oserror.Uninitialized
	}
	k.table.Lock()
	defer k.table.Unlock()

	if !q.init {
		return 0, oserror.Uninitialized
	}
	return q.length, nil
}

// IsEmpty reports whether the queue holds no values.
func (q *Queue[T]) IsEmpty() (bool, error) {
	n, err := q.Length()
	return n == 0, err
}
