// Package oserror defines the single tagged result kind shared by every
// fallible operation in the kernel core. Values are comparable sentinels,
// usable with [errors.Is].
package oserror

import "fmt"

// Code identifies the outcome of a kernel operation. The zero value is Ok,
// which is never returned as an error; successful operations return nil.
type Code int

const (
	// Ok indicates success. Never returned as an error.
	Ok Code = iota

	// NullPointer indicates a required reference was absent.
	NullPointer

	// OutOfBound indicates an index, priority, or timer frequency outside
	// its valid range.
	OutOfBound

	// UnauthorizedLine indicates an interrupt vector outside the
	// user-registrable range.
	UnauthorizedLine

	// AlreadyRegistered indicates a handler already exists for the vector.
	AlreadyRegistered

	// NotRegistered indicates no handler exists for the vector.
	NotRegistered

	// NoSuchIRQ indicates the requested IRQ does not exist on the
	// interrupt controller.
	NoSuchIRQ

	// AllocFailed indicates the memory allocator returned nothing.
	AllocFailed

	// UnauthorizedAction indicates an operation forbidden in the current
	// context, e.g. sleeping from the idle thread, or deleting a non-empty
	// list.
	UnauthorizedAction

	// ForbiddenPriority indicates a priority value above the lowest.
	ForbiddenPriority

	// Uninitialized indicates the primitive was destroyed, or never
	// initialized.
	Uninitialized

	// NoSuchID indicates the handle does not refer to a live object.
	NoSuchID

	// MutexLocked indicates a mutex try-pend failed because it is held.
	MutexLocked

	// SemLocked indicates a semaphore try-pend found no token available.
	SemLocked
)

var descriptions = map[Code]string{
	Ok:                 "ok",
	NullPointer:        "null pointer",
	OutOfBound:         "value out of bounds",
	UnauthorizedLine:   "unauthorized interrupt line",
	AlreadyRegistered:  "interrupt handler already registered",
	NotRegistered:      "interrupt handler not registered",
	NoSuchIRQ:          "no such irq",
	AllocFailed:        "allocation failed",
	UnauthorizedAction: "unauthorized action",
	ForbiddenPriority:  "forbidden priority",
	Uninitialized:      "primitive uninitialized",
	NoSuchID:           "no such id",
	MutexLocked:        "mutex locked",
	SemLocked:          "semaphore locked",
}

// Error implements the error interface.
func (c Code) Error() string {
	return "microkern: " + c.String()
}

// String returns the description of the code, without the package prefix.
func (c Code) String() string {
	if s, ok := descriptions[c]; ok {
		return s
	}
	return fmt.Sprintf("unknown code (%d)", int(c))
}
