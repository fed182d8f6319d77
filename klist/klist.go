// Package klist implements the doubly-linked priority list used by the
// scheduler's run, sleep, and bookkeeping queues, and by the wait list of
// every blocking primitive.
//
// Ordering is deliberately asymmetric: Enlist inserts from the head, sorted
// so that higher priority keys sit closer to the head with FIFO order inside
// a priority class, while Delist removes from the tail. With equal keys (the
// common waiter case) the list degenerates to a FIFO queue; with distinct
// keys the tail always holds the oldest node of the lowest key, so queues
// keyed by thread priority pop the most urgent thread, and queues keyed by
// wakeup deadline pop the earliest deadline.
//
// Lists are not internally synchronized. Callers hold the owning object's
// interrupt-nesting lock. Node membership is exclusive: enlisting a node
// that is already linked is a programming error and panics.
package klist

import "github.com/joeycumines/go-microkern/oserror"

type (
	// Node is a single list entry carrying an opaque payload. A node
	// belongs to at most one list at a time.
	Node[T comparable] struct {
		prev     *Node[T]
		next     *Node[T]
		priority uint32

		// Data is the payload the node was created with.
		Data T
	}

	// List is a doubly-linked list of nodes ordered by priority key,
	// non-strictly decreasing from head to tail.
	List[T comparable] struct {
		head *Node[T]
		tail *Node[T]
	}
)

// NewNode returns an unlinked node wrapping data.
func NewNode[T comparable](data T) *Node[T] {
	return &Node[T]{Data: data}
}

// Priority returns the key the node was last enlisted with.
func (n *Node[T]) Priority() uint32 { return n.priority }

// linked reports whether the node has list neighbours. The sole member of
// a list has none, so Enlist additionally checks the target list's head.
func (n *Node[T]) linked() bool { return n.prev != nil || n.next != nil }

// Release validates that the node is unlinked. Node storage is collected
// by the garbage collector; only the membership invariant is worth
// enforcing here.
func (n *Node[T]) Release() error {
	if n == nil {
		return oserror.NullPointer
	}
	if n.linked() {
		return oserror.UnauthorizedAction
	}
	return nil
}

// New returns an empty list.
func New[T comparable]() *List[T] {
	return &List[T]{}
}

// Destroy validates that the list is empty. Destroying a list that still
// has members is an UnauthorizedAction.
func (l *List[T]) Destroy() error {
	if l == nil {
		return oserror.NullPointer
	}
	if l.head != nil || l.tail != nil {
		return oserror.UnauthorizedAction
	}
	return nil
}

// Enlist inserts node with the given priority key. The walk starts at the
// head and skips every node with a strictly greater key, so new nodes land
// behind existing nodes of the same key (FIFO within a class, given that
// Delist pops the tail).
//
// Enlisting a node that is already a member of a list panics: membership is
// move-only, and a double enlist is a bug in the caller, not a runtime
// condition.
func (l *List[T]) Enlist(node *Node[T], priority uint32) error {
	if l == nil || node == nil {
		return oserror.NullPointer
	}
	if node.linked() || l.head == node {
		panic("klist: enlist of a node that is already a list member")
	}

	node.priority = priority

	if l.head == nil {
		l.head = node
		l.tail = node
		node.prev = nil
		node.next = nil
		return nil
	}

	cursor := l.head
	for cursor != nil && cursor.priority > priority {
		cursor = cursor.next
	}

	if cursor != nil {
		node.next = cursor
		node.prev = cursor.prev
		cursor.prev = node
		if node.prev != nil {
			node.prev.next = node
		} else {
			l.head = node
		}
	} else {
		// Fell off the end, new tail.
		node.prev = l.tail
		node.next = nil
		l.tail.next = node
		l.tail = node
	}

	return nil
}

// Delist removes and returns the tail: the oldest node at the lowest
// priority key present. Returns nil when the list is empty or nil.
func (l *List[T]) Delist() *Node[T] {
	if l == nil || l.head == nil {
		return nil
	}

	node := l.tail
	if node.prev != nil {
		node.prev.next = nil
		l.tail = node.prev
	} else {
		l.head = nil
		l.tail = nil
	}

	node.prev = nil
	node.next = nil

	return node
}

// Remove unlinks the first node whose payload equals data. Returns NoSuchID
// when no node carries the payload.
func (l *List[T]) Remove(data T) error {
	if l == nil {
		return oserror.NullPointer
	}

	node := l.head
	for node != nil && node.Data != data {
		node = node.next
	}
	if node == nil {
		return oserror.NoSuchID
	}

	l.unlink(node)
	return nil
}

// RemoveNode unlinks a specific node. Returns NoSuchID if the node is not a
// member of this list.
func (l *List[T]) RemoveNode(node *Node[T]) error {
	if l == nil || node == nil {
		return oserror.NullPointer
	}
	cursor := l.head
	for cursor != nil && cursor != node {
		cursor = cursor.next
	}
	if cursor == nil {
		return oserror.NoSuchID
	}
	l.unlink(node)
	return nil
}

func (l *List[T]) unlink(node *Node[T]) {
	switch {
	case node.prev != nil && node.next != nil:
		node.prev.next = node.next
		node.next.prev = node.prev
	case node.prev == nil && node.next != nil:
		l.head = node.next
		node.next.prev = nil
	case node.prev != nil && node.next == nil:
		l.tail = node.prev
		node.prev.next = nil
	default:
		l.head = nil
		l.tail = nil
	}
	node.prev = nil
	node.next = nil
}

// Empty reports whether the list has no members.
func (l *List[T]) Empty() bool {
	return l == nil || l.head == nil
}

// Len counts the members. O(n); diagnostics only.
func (l *List[T]) Len() int {
	if l == nil {
		return 0
	}
	n := 0
	for cursor := l.head; cursor != nil; cursor = cursor.next {
		n++
	}
	return n
}

// Each visits every payload from head to tail. The list must not be
// modified during the walk.
func (l *List[T]) Each(fn func(data T)) {
	if l == nil {
		return
	}
	for cursor := l.head; cursor != nil; cursor = cursor.next {
		fn(cursor.Data)
	}
}
