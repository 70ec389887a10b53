package module

import (
	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/internal/platform"
)

// HeapSpec is the compiler's description of a module's linear heap. All
// sizes are byte counts; ReservedSize and GuardSize must be multiples of the
// host page size.
type HeapSpec struct {
	// ReservedSize is the addressable heap region: only a prefix of it is
	// ever accessible.
	ReservedSize uint64

	// GuardSize is addressable but never accessible memory placed after the
	// reserved region, so that small out-of-bounds offsets fault.
	GuardSize uint64

	// InitialSize is the accessible heap size at instantiation and after a
	// reset.
	InitialSize uint64

	// MaxSize bounds heap growth when HasMaxSize is set. It comes directly
	// from the program's memory declaration.
	MaxSize    uint64
	HasMaxSize bool
}

// Validate checks the internal consistency of the spec. Violations are
// rejected at module load, never at instance creation.
func (h HeapSpec) Validate() error {
	if !platform.PageAligned(h.ReservedSize) {
		return errors.InvalidArgument(errors.PhaseLoad, "heap reserved size (%d) must be a multiple of the host page size", h.ReservedSize)
	}
	if !platform.PageAligned(h.GuardSize) {
		return errors.InvalidArgument(errors.PhaseLoad, "heap guard size (%d) must be a multiple of the host page size", h.GuardSize)
	}
	if h.InitialSize > h.ReservedSize {
		return errors.InvalidArgument(errors.PhaseLoad, "initial heap size (%d) exceeds reserved size (%d)", h.InitialSize, h.ReservedSize)
	}
	if h.HasMaxSize {
		if h.MaxSize < h.InitialSize {
			return errors.InvalidArgument(errors.PhaseLoad, "max heap size (%d) below initial size (%d)", h.MaxSize, h.InitialSize)
		}
		if h.MaxSize > h.ReservedSize {
			return errors.InvalidArgument(errors.PhaseLoad, "max heap size (%d) exceeds reserved size (%d)", h.MaxSize, h.ReservedSize)
		}
	}
	return nil
}

// Limit returns the effective growth bound: MaxSize when declared,
// otherwise the reserved size.
func (h HeapSpec) Limit() uint64 {
	if h.HasMaxSize {
		return h.MaxSize
	}
	return h.ReservedSize
}
