package knobprof

import (
	"unsafe"

	"github.com/stealthrocket/knobprof/internal/dwarfexpr"
)

// UnwindPC is the tag base added to a sample's Sampled field for each
// unwound caller frame, matching the original's UNWIND_PC marker: frame 0
// is tagged 0, frame N of an unwind is tagged UnwindPC+N.
const UnwindPC = 1 << 16

// CallInstructionSize is the assumed length, in bytes, of the call
// instruction immediately preceding a return address on the unwound stack.
// spec.md §9 flags this as ISA-specific; x86-64's common `call rel32`/`call
// r/m64` encodings are 5-7 bytes, and profil.c hardcodes 6. Kept as a
// variable rather than a constant so an alternate ISA build can override it.
var CallInstructionSize uint64 = 6

// Context is the interrupted thread's captured register/stack snapshot,
// the Go-side stand-in for profil.c's ucontext_t argument to the SIGPROF
// handler. Populating it from the real signal trampoline is this
// repository's external collaborator (spec.md §1 Non-goals); production
// embeddings are expected to fill it in from cgo or a platform-specific
// assembly handler.
type Context struct {
	dwarfexpr.Context

	// PC is the program counter at the point of interruption (or, for an
	// unwound frame, the return address of that frame).
	PC uint64

	// TID is the OS thread id that took the signal.
	TID int32
}

// ProcessMemory implements dwarfexpr.Memory by reading directly out of the
// current process's address space via unsafe pointer dereference. It never
// allocates, making it safe to use from the SIGPROF hot path. It does no
// bounds check beyond rejecting a zero address: a read of unmapped memory
// faults the process, so out-of-range reads are the caller's responsibility
// to avoid.
type ProcessMemory struct{}

// Read implements dwarfexpr.Memory.
func (ProcessMemory) Read(addr uint64, size int) (uint64, bool) {
	if addr == 0 || size <= 0 || size > 8 {
		return 0, false
	}
	var v uint64
	base := unsafe.Pointer(uintptr(addr))
	for i := 0; i < size; i++ {
		b := *(*byte)(unsafe.Pointer(uintptr(base) + uintptr(i)))
		v |= uint64(b) << (8 * i)
	}
	return v, true
}
