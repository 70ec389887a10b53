package alloc

import (
	"github.com/wippyai/sandbox-runtime/internal/platform"
)

// Slot is one reserved virtual address range, large enough for a full
// instance layout. Slots are created by a region, handed out to at most one
// Alloc at a time, and returned to the region's free list on release; they
// are never moved or resized.
//
// Layout, low to high addresses:
//
//	+---------------------+
//	| runtime data (1pg)  |  committed, guest-visible instance data
//	+---------------------+
//	| heap address space  |  accessible prefix grows in place; the rest,
//	|  ... + heap guard   |  including the trailing guard, stays PROT_NONE
//	+---------------------+
//	| stack               |  grows down toward the heap guard
//	+---------------------+
//	| stack guard (1pg)   |  never accessible
//	+---------------------+
//	| globals             |
//	+---------------------+
//	| sigstack guard (1pg)|  never accessible
//	+---------------------+
//	| signal stack        |
//	+---------------------+
type Slot struct {
	mem    []byte
	limits Limits

	heapOff     uint64
	stackOff    uint64
	globalsOff  uint64
	sigstackOff uint64
}

// NewSlot lays out a slot over a raw reservation obtained from the platform.
// The reservation must be at least limits.TotalMemorySize() bytes.
func NewSlot(mem []byte, limits Limits) *Slot {
	page := uint64(platform.PageSize())

	heapOff := runtimeDataSize()
	stackOff := heapOff + limits.HeapAddressSpaceSize
	globalsOff := stackOff + limits.StackSize + page
	sigstackOff := globalsOff + limits.GlobalsSize + page

	return &Slot{
		mem:         mem,
		limits:      limits,
		heapOff:     heapOff,
		stackOff:    stackOff,
		globalsOff:  globalsOff,
		sigstackOff: sigstackOff,
	}
}

// Limits returns the limits the slot was laid out with.
func (s *Slot) Limits() Limits { return s.limits }

// Mem returns the whole reservation.
func (s *Slot) Mem() []byte { return s.mem }

// Start returns the base address of the reservation.
func (s *Slot) Start() uintptr { return platform.SliceAddr(s.mem) }

// RuntimeData returns the committed page at the start of the slot.
func (s *Slot) RuntimeData() []byte { return s.mem[:runtimeDataSize():runtimeDataSize()] }

// HeapRegion returns the full heap address space, accessible or not.
func (s *Slot) HeapRegion() []byte {
	return s.mem[s.heapOff : s.heapOff+s.limits.HeapAddressSpaceSize : s.heapOff+s.limits.HeapAddressSpaceSize]
}

// HeapStart returns the address of the first heap byte.
func (s *Slot) HeapStart() uintptr { return s.Start() + uintptr(s.heapOff) }

// StackRegion returns the guest stack pages.
func (s *Slot) StackRegion() []byte {
	return s.mem[s.stackOff : s.stackOff+s.limits.StackSize : s.stackOff+s.limits.StackSize]
}

// StackStart returns the address of the lowest stack byte.
func (s *Slot) StackStart() uintptr { return s.Start() + uintptr(s.stackOff) }

// StackTop returns the address one past the highest stack byte; the stack
// grows down from it.
func (s *Slot) StackTop() uintptr { return s.StackStart() + uintptr(s.limits.StackSize) }

// GlobalsRegion returns the globals pages.
func (s *Slot) GlobalsRegion() []byte {
	return s.mem[s.globalsOff : s.globalsOff+s.limits.GlobalsSize : s.globalsOff+s.limits.GlobalsSize]
}

// GlobalsStart returns the address of the globals region.
func (s *Slot) GlobalsStart() uintptr { return s.Start() + uintptr(s.globalsOff) }

// SigstackRegion returns the alternate signal stack pages.
func (s *Slot) SigstackRegion() []byte {
	return s.mem[s.sigstackOff : s.sigstackOff+s.limits.SignalStackSize : s.sigstackOff+s.limits.SignalStackSize]
}

// SigstackStart returns the address of the signal stack region.
func (s *Slot) SigstackStart() uintptr { return s.Start() + uintptr(s.sigstackOff) }

// Contains reports whether addr falls anywhere inside the reservation.
func (s *Slot) Contains(addr uintptr) bool {
	start := s.Start()
	return addr >= start && addr < start+uintptr(len(s.mem))
}
