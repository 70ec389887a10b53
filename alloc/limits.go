package alloc

import (
	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/internal/platform"
)

// DefaultSignalStackSize is the default size of the per-instance alternate
// signal stack region.
const DefaultSignalStackSize = 32 * 1024

// Limits are the runtime bounds for the memories backing one instance.
// Every size is in bytes and must be a multiple of the host page size.
type Limits struct {
	// HeapMemorySize is the largest heap that may be backed by real memory.
	HeapMemorySize uint64
	// HeapAddressSpaceSize is the virtual address space reserved for the
	// heap, including its guard region.
	HeapAddressSpaceSize uint64
	// StackSize is the guest stack size.
	StackSize uint64
	// HostcallReservation is how much guest stack must remain available
	// when entering a hostcall.
	HostcallReservation uint64
	// GlobalsSize is the size of the globals region; each global uses 8
	// bytes.
	GlobalsSize uint64
	// SignalStackSize is the size of the alternate signal stack region.
	SignalStackSize uint64
}

// DefaultLimits returns the default runtime limits: 1MiB of backable heap in
// 8GiB of address space, a 128KiB stack with a 32KiB hostcall reservation,
// and one page of globals.
func DefaultLimits() Limits {
	return Limits{
		HeapMemorySize:       16 * 64 * 1024,
		HeapAddressSpaceSize: 0x0002_0000_0000,
		StackSize:            128 * 1024,
		HostcallReservation:  32 * 1024,
		GlobalsSize:          4096,
		SignalStackSize:      DefaultSignalStackSize,
	}
}

func (l Limits) WithHeapMemorySize(size uint64) Limits {
	l.HeapMemorySize = size
	return l
}

func (l Limits) WithHeapAddressSpaceSize(size uint64) Limits {
	l.HeapAddressSpaceSize = size
	return l
}

func (l Limits) WithStackSize(size uint64) Limits {
	l.StackSize = size
	return l
}

func (l Limits) WithHostcallReservation(size uint64) Limits {
	l.HostcallReservation = size
	return l
}

func (l Limits) WithGlobalsSize(size uint64) Limits {
	l.GlobalsSize = size
	return l
}

func (l Limits) WithSignalStackSize(size uint64) Limits {
	l.SignalStackSize = size
	return l
}

// Validate checks alignment and internal consistency of the limits.
func (l Limits) Validate() error {
	if !platform.PageAligned(l.HeapMemorySize) {
		return errors.InvalidArgument(errors.PhaseRegion, "heap memory size must be a multiple of the host page size")
	}
	if !platform.PageAligned(l.HeapAddressSpaceSize) {
		return errors.InvalidArgument(errors.PhaseRegion, "heap address space size must be a multiple of the host page size")
	}
	if l.HeapMemorySize > l.HeapAddressSpaceSize {
		return errors.InvalidArgument(errors.PhaseRegion, "heap address space size must be at least as large as heap memory size")
	}
	if !platform.PageAligned(l.StackSize) {
		return errors.InvalidArgument(errors.PhaseRegion, "stack size must be a multiple of the host page size")
	}
	if l.StackSize == 0 {
		return errors.InvalidArgument(errors.PhaseRegion, "stack size must be greater than 0")
	}
	// HostcallReservation == StackSize is allowed; it guarantees hostcalls
	// fail with a stack overflow rather than being rejected here.
	if l.HostcallReservation > l.StackSize {
		return errors.InvalidArgument(errors.PhaseRegion, "hostcall reservation must not be greater than stack size")
	}
	if !platform.PageAligned(l.GlobalsSize) {
		return errors.InvalidArgument(errors.PhaseRegion, "globals size must be a multiple of the host page size")
	}
	if !platform.PageAligned(l.SignalStackSize) {
		return errors.InvalidArgument(errors.PhaseRegion, "signal stack size must be a multiple of the host page size")
	}
	return nil
}

// TotalMemorySize is the full reservation one slot needs: the runtime-data
// page, the heap address space, the stack, the globals, the signal stack,
// and the guard pages between them.
func (l Limits) TotalMemorySize() uint64 {
	page := uint64(platform.PageSize())
	return runtimeDataSize() +
		l.HeapAddressSpaceSize +
		l.StackSize +
		page + // stack guard
		l.GlobalsSize +
		page + // signal stack guard
		l.SignalStackSize
}

// runtimeDataSize is the committed area at the start of every slot holding
// the guest-visible runtime data. One page keeps the heap page-aligned.
func runtimeDataSize() uint64 {
	return uint64(platform.PageSize())
}
