package alloc

import (
	"math"
	"unsafe"

	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/internal/platform"
	"github.com/wippyai/sandbox-runtime/module"
)

// Backing is the subset of a region's behavior an Alloc needs: protection
// changes inside its slot and the return path for the slot itself. The
// region package provides the implementation.
type Backing interface {
	// ExpandHeap makes [start, start+length) of the slot's heap region
	// accessible. Offsets are relative to the heap start.
	ExpandHeap(slot *Slot, start, length uint64) error

	// ResetHeap decommits the heap back to the module's initial size and
	// reapplies the module's sparse page data.
	ResetHeap(a *Alloc, m module.Module) error

	// DropAlloc decommits all of an Alloc's pages and returns its slot to
	// the free list. The reservation itself is retained.
	DropAlloc(a *Alloc)
}

// AddrLocation classifies where in an Alloc's slot an address falls.
type AddrLocation int

const (
	LocUnknown AddrLocation = iota
	LocHeap
	LocInaccessibleHeap
	LocStack
	// LocStackGuard names the guard page directly above the stack's top
	// address. The page below the stack is the tail of the heap address
	// space, so a downward overflow classifies as LocInaccessibleHeap.
	LocStackGuard
	LocGlobals
	LocSigStack
	LocSigStackGuard
)

func (l AddrLocation) String() string {
	switch l {
	case LocHeap:
		return "heap"
	case LocInaccessibleHeap:
		return "inaccessible heap"
	case LocStack:
		return "stack"
	case LocStackGuard:
		return "stack guard"
	case LocGlobals:
		return "globals"
	case LocSigStack:
		return "signal stack"
	case LocSigStackGuard:
		return "signal stack guard"
	default:
		return "unknown"
	}
}

// FaultFatal reports whether a fault at this location invalidates the whole
// process's confidence in the sandbox. Faults in the addressable guest
// regions are expected; faults on the signal stack guard or outside the
// slot are not.
func (l AddrLocation) FaultFatal() bool {
	return l == LocUnknown || l == LocSigStackGuard
}

// Alloc tracks how much of one slot's heap is currently accessible. It is
// owned exclusively by one instance.
type Alloc struct {
	heapAccessibleSize   uint64
	heapInaccessibleSize uint64
	heapMemorySizeLimit  uint64
	slot                 *Slot
	region               Backing
}

// New builds an Alloc over a slot. The heap starts fully inaccessible; the
// region's ResetHeap commits the initial pages.
func New(slot *Slot, heapMemorySizeLimit uint64, region Backing) *Alloc {
	return &Alloc{
		heapAccessibleSize:   0,
		heapInaccessibleSize: slot.Limits().HeapAddressSpaceSize,
		heapMemorySizeLimit:  heapMemorySizeLimit,
		slot:                 slot,
		region:               region,
	}
}

// Slot returns the slot backing this Alloc. It panics after Drop.
func (a *Alloc) Slot() *Slot {
	if a.slot == nil {
		panic("alloc used after drop")
	}
	return a.slot
}

// HeapAccessibleSize returns the current accessible heap size in bytes.
func (a *Alloc) HeapAccessibleSize() uint64 { return a.heapAccessibleSize }

// HeapMemorySizeLimit returns the per-instance cap on backed heap memory.
func (a *Alloc) HeapMemorySizeLimit() uint64 { return a.heapMemorySizeLimit }

// TakeSlot detaches and returns the slot, leaving the Alloc unusable. Only
// the owning region calls this, on the drop path.
func (a *Alloc) TakeSlot() *Slot {
	s := a.slot
	a.slot = nil
	return s
}

// SetHeapSizes records the accessible prefix after a region-side reset.
func (a *Alloc) SetHeapSizes(accessible uint64) {
	a.heapAccessibleSize = accessible
	a.heapInaccessibleSize = a.slot.Limits().HeapAddressSpaceSize - accessible
}

// ExpandHeap grows the accessible heap by expandBytes, rounded up to the
// host page size. It returns the accessible size before growth. Growth is
// all or nothing: on any failure the accessible size is unchanged.
func (a *Alloc) ExpandHeap(expandBytes uint32, spec module.HeapSpec) (uint32, error) {
	slot := a.Slot()

	if expandBytes == 0 {
		// No expansion takes place, which is not an error.
		return uint32(a.heapAccessibleSize), nil
	}

	page := uint64(platform.PageSize())
	if a.heapAccessibleSize%page != 0 {
		return 0, errors.Internal(nil, "heap is not page-aligned")
	}
	if uint64(expandBytes) > math.MaxUint32-page {
		return 0, errors.LimitsExceeded(errors.PhaseGrow, "expanded heap would overflow address space")
	}

	expandPageAligned := platform.RoundUpToPage(uint64(expandBytes))

	// The inaccessible region is the only thing left to commit; an
	// expansion bigger than it cannot fit in the reservation.
	if expandPageAligned > a.heapInaccessibleSize {
		return 0, errors.LimitsExceeded(errors.PhaseGrow, "expanded heap would overflow addressable memory")
	}

	// The compiler requires at least GuardSize bytes of trapping memory
	// past the accessible region.
	guardRemaining := a.heapInaccessibleSize - expandPageAligned
	if guardRemaining < spec.GuardSize {
		return 0, errors.LimitsExceeded(errors.PhaseGrow, "expansion would leave guard memory too small")
	}

	if spec.HasMaxSize && a.heapAccessibleSize+expandPageAligned > spec.MaxSize {
		return 0, errors.LimitsExceeded(errors.PhaseGrow, "expansion would exceed module-specified heap limit: %d", spec.MaxSize)
	}

	if a.heapAccessibleSize+expandPageAligned > a.heapMemorySizeLimit {
		return 0, errors.LimitsExceeded(errors.PhaseGrow, "expansion would exceed instance heap limit: %d", a.heapMemorySizeLimit)
	}

	newlyAccessible := a.heapAccessibleSize
	if err := a.region.ExpandHeap(slot, newlyAccessible, expandPageAligned); err != nil {
		return 0, err
	}

	a.heapAccessibleSize += expandPageAligned
	a.heapInaccessibleSize -= expandPageAligned
	return uint32(newlyAccessible), nil
}

// ResetHeap rolls the heap back to the module's initial size.
func (a *Alloc) ResetHeap(m module.Module) error {
	return a.region.ResetHeap(a, m)
}

// Drop decommits the Alloc's pages and returns its slot to the region.
func (a *Alloc) Drop() {
	if a.slot == nil {
		return
	}
	a.region.DropAlloc(a)
}

// Heap returns the accessible heap prefix.
func (a *Alloc) Heap() []byte {
	return a.Slot().HeapRegion()[:a.heapAccessibleSize:a.heapAccessibleSize]
}

// HeapU32 returns the accessible heap as 32-bit words.
func (a *Alloc) HeapU32() []uint32 {
	heap := a.Heap()
	if len(heap) == 0 {
		return nil
	}
	return unsafe.Slice((*uint32)(unsafe.Pointer(&heap[0])), len(heap)/4)
}

// HeapU64 returns the accessible heap as 64-bit words.
func (a *Alloc) HeapU64() []uint64 {
	heap := a.Heap()
	if len(heap) == 0 {
		return nil
	}
	return unsafe.Slice((*uint64)(unsafe.Pointer(&heap[0])), len(heap)/8)
}

// Globals returns the globals region as 8-byte slots.
func (a *Alloc) Globals() []int64 {
	g := a.Slot().GlobalsRegion()
	if len(g) == 0 {
		return nil
	}
	return unsafe.Slice((*int64)(unsafe.Pointer(&g[0])), len(g)/8)
}

// Stack returns the guest stack pages. Index 0 is the lowest address; the
// stack grows down from the end of the slice.
func (a *Alloc) Stack() []byte { return a.Slot().StackRegion() }

// MemInHeap reports whether [off, off+length) lies entirely inside the
// accessible heap.
func (a *Alloc) MemInHeap(off, length uint64) bool {
	end := off + length
	return end >= off && end <= a.heapAccessibleSize
}

// AddrLocation classifies an address against this Alloc's layout. The heap
// guard begins where accessible memory ends, so the answer depends on the
// current heap size.
func (a *Alloc) AddrLocation(addr uintptr) AddrLocation {
	slot := a.Slot()
	page := uintptr(platform.PageSize())

	heapStart := slot.HeapStart()
	heapAccessibleEnd := heapStart + uintptr(a.heapAccessibleSize)
	heapRegionEnd := heapStart + uintptr(slot.Limits().HeapAddressSpaceSize)

	switch {
	case addr >= heapStart && addr < heapAccessibleEnd:
		return LocHeap
	case addr >= heapAccessibleEnd && addr < heapRegionEnd:
		return LocInaccessibleHeap
	}

	stackStart := slot.StackStart()
	stackEnd := stackStart + uintptr(slot.Limits().StackSize)
	switch {
	case addr >= stackStart && addr < stackEnd:
		return LocStack
	case addr >= stackEnd && addr < stackEnd+page:
		return LocStackGuard
	}

	globalsStart := slot.GlobalsStart()
	if addr >= globalsStart && addr < globalsStart+uintptr(slot.Limits().GlobalsSize) {
		return LocGlobals
	}

	sigstackStart := slot.SigstackStart()
	switch {
	case addr >= sigstackStart-page && addr < sigstackStart:
		return LocSigStackGuard
	case addr >= sigstackStart && addr < sigstackStart+uintptr(slot.Limits().SignalStackSize):
		return LocSigStack
	}

	return LocUnknown
}

// AddrInHeapGuard reports whether addr is in the reserved-but-inaccessible
// heap range. Used for fault diagnostics only.
func (a *Alloc) AddrInHeapGuard(addr uintptr) bool {
	return a.AddrLocation(addr) == LocInaccessibleHeap
}
