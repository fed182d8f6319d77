// Package cpu models the architectural state of the simulated 32-bit
// protected-mode x86 processor: the register file saved by interrupt stubs,
// the frame pushed by the CPU on interrupt entry, EFLAGS, the kernel's flat
// segment selectors, and the synthetic trap frame laid into a fresh thread
// stack so that the dispatcher's epilogue "returns" into the thread entry.
package cpu

// Stack and frame geometry, in 32-bit machine words.
const (
	// StackWords is the fixed per-thread kernel stack size.
	StackWords = 2048

	// FrameWords is the size of the full saved interrupt frame: EFLAGS,
	// CS, EIP, error code, vector id, the five segment selectors, the
	// seven general registers (EAX..EDI, EBP), and the frame pointer word.
	FrameWords = 18
)

// Flat kernel segment selectors.
const (
	KernelCS = 0x08
	KernelDS = 0x10
)

// FlagsInit is the EFLAGS image loaded into a fresh thread context: the
// interrupt-enable bit plus the always-set reserved bit, so the first
// dispatch into the thread resumes with interrupts enabled.
const FlagsInit = 0x0202

// EFLAGS bits.
const (
	FlagCF    uint32 = 1 << 0
	FlagPF    uint32 = 1 << 2
	FlagAF    uint32 = 1 << 4
	FlagZF    uint32 = 1 << 6
	FlagSF    uint32 = 1 << 7
	FlagTF    uint32 = 1 << 8
	FlagIF    uint32 = 1 << 9
	FlagDF    uint32 = 1 << 10
	FlagOF    uint32 = 1 << 11
	FlagIOPL0 uint32 = 1 << 12
	FlagIOPL1 uint32 = 1 << 13
	FlagNT    uint32 = 1 << 14
	FlagRF    uint32 = 1 << 16
	FlagVM    uint32 = 1 << 17
	FlagAC    uint32 = 1 << 18
	FlagVIF   uint32 = 1 << 19
	FlagVIP   uint32 = 1 << 20
	FlagID    uint32 = 1 << 21
)

type (
	// State is the register block saved by the per-vector stubs, in the
	// canonical save order.
	State struct {
		ESP uint32
		EBP uint32
		EDI uint32
		ESI uint32
		EDX uint32
		ECX uint32
		EBX uint32
		EAX uint32

		SS uint32
		GS uint32
		FS uint32
		ES uint32
		DS uint32
	}

	// StackState is the frame the CPU pushes on interrupt entry, after
	// the stub has normalized vectors that push no error code.
	StackState struct {
		ErrorCode uint32
		EIP       uint32
		CS        uint32
		EFLAGS    uint32
	}

	// Flags is the bit-by-bit decode of an EFLAGS image, as reported by
	// the panic dump.
	Flags struct {
		CF   uint8
		PF   uint8
		AF   uint8
		ZF   uint8
		SF   uint8
		TF   uint8
		IF   uint8
		DF   uint8
		OF   uint8
		NT   uint8
		RF   uint8
		VM   uint8
		AC   uint8
		VIF  uint8
		VIP  uint8
		ID   uint8
		IOPL uint8
	}
)

func bit(eflags, mask uint32) uint8 {
	if eflags&mask != 0 {
		return 1
	}
	return 0
}

// DecodeFlags splits an EFLAGS image into its individual bits.
func DecodeFlags(eflags uint32) Flags {
	return Flags{
		CF:   bit(eflags, FlagCF),
		PF:   bit(eflags, FlagPF),
		AF:   bit(eflags, FlagAF),
		ZF:   bit(eflags, FlagZF),
		SF:   bit(eflags, FlagSF),
		TF:   bit(eflags, FlagTF),
		IF:   bit(eflags, FlagIF),
		DF:   bit(eflags, FlagDF),
		OF:   bit(eflags, FlagOF),
		NT:   bit(eflags, FlagNT),
		RF:   bit(eflags, FlagRF),
		VM:   bit(eflags, FlagVM),
		AC:   bit(eflags, FlagAC),
		VIF:  bit(eflags, FlagVIF),
		VIP:  bit(eflags, FlagVIP),
		ID:   bit(eflags, FlagID),
		IOPL: bit(eflags, FlagIOPL0) | bit(eflags, FlagIOPL1)<<1,
	}
}

// InitFrame lays the synthetic trap frame at the high end of a fresh thread
// stack. Addresses within the simulated stack are word indices. The layout,
// from the top down, is the exact image the dispatcher's epilogue pops:
//
//	stack[n-1]  EFLAGS (FlagsInit)
//	stack[n-2]  CS
//	stack[n-3]  EIP (the thread wrapper)
//	stack[n-4]  error code placeholder
//	stack[n-5]  vector id placeholder
//	stack[n-6]  DS
//	stack[n-7]  ES
//	stack[n-8]  FS
//	stack[n-9]  GS
//	stack[n-10] SS
//	stack[n-11] EAX
//	stack[n-12] EBX
//	stack[n-13] ECX
//	stack[n-14] EDX
//	stack[n-15] ESI
//	stack[n-16] EDI
//	stack[n-17] EBP
//	stack[n-18] frame pointer (address of stack[n-17])
//
// It returns the initial ESP and EBP, again as word indices.
func InitFrame(stack *[StackWords]uint32, eip uint32) (esp, ebp uint32) {
	const n = StackWords

	ebp = n - 1
	esp = n - 18

	stack[n-1] = FlagsInit
	stack[n-2] = KernelCS
	stack[n-3] = eip
	stack[n-4] = 0
	stack[n-5] = 0
	stack[n-6] = KernelDS
	stack[n-7] = KernelDS
	stack[n-8] = KernelDS
	stack[n-9] = KernelDS
	stack[n-10] = KernelDS
	stack[n-11] = 0
	stack[n-12] = 0
	stack[n-13] = 0
	stack[n-14] = 0
	stack[n-15] = 0
	stack[n-16] = 0
	stack[n-17] = ebp
	stack[n-18] = n - 17

	return esp, ebp
}
