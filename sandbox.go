package sandboxruntime

import (
	"encoding/binary"

	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/instance"
)

// Memory is a bounds-checked view of an instance's linear heap. Offsets are
// guest heap offsets; every access is validated against the currently
// accessible heap size, so a Memory never touches guard pages.
type Memory interface {
	Read(offset uint32, length uint32) ([]byte, error)
	Write(offset uint32, data []byte) error
	ReadU8(offset uint32) (uint8, error)
	ReadU16(offset uint32) (uint16, error)
	ReadU32(offset uint32) (uint32, error)
	ReadU64(offset uint32) (uint64, error)
	WriteU8(offset uint32, value uint8) error
	WriteU16(offset uint32, value uint16) error
	WriteU32(offset uint32, value uint32) error
	WriteU64(offset uint32, value uint64) error
	// Size returns the currently accessible heap size in bytes.
	Size() uint32
}

// NewMemory wraps an instance's heap in a Memory. The view follows heap
// growth; it must only be used while the instance is not running.
func NewMemory(i *instance.Instance) Memory {
	return &heapMemory{inst: i}
}

type heapMemory struct {
	inst *instance.Instance
}

func (h *heapMemory) Size() uint32 {
	return uint32(h.inst.Alloc().HeapAccessibleSize())
}

func (h *heapMemory) span(offset, length uint32) ([]byte, error) {
	if !h.inst.Alloc().MemInHeap(uint64(offset), uint64(length)) {
		return nil, errors.InvalidArgument(errors.PhaseRun,
			"heap access [%d, %d+%d) out of bounds (heap size %d)",
			offset, offset, length, h.Size())
	}
	return h.inst.Heap()[offset : uint64(offset)+uint64(length)], nil
}

func (h *heapMemory) Read(offset uint32, length uint32) ([]byte, error) {
	src, err := h.span(offset, length)
	if err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, src)
	return out, nil
}

func (h *heapMemory) Write(offset uint32, data []byte) error {
	dst, err := h.span(offset, uint32(len(data)))
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}

func (h *heapMemory) ReadU8(offset uint32) (uint8, error) {
	b, err := h.span(offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (h *heapMemory) ReadU16(offset uint32) (uint16, error) {
	b, err := h.span(offset, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (h *heapMemory) ReadU32(offset uint32) (uint32, error) {
	b, err := h.span(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (h *heapMemory) ReadU64(offset uint32) (uint64, error) {
	b, err := h.span(offset, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (h *heapMemory) WriteU8(offset uint32, value uint8) error {
	b, err := h.span(offset, 1)
	if err != nil {
		return err
	}
	b[0] = value
	return nil
}

func (h *heapMemory) WriteU16(offset uint32, value uint16) error {
	b, err := h.span(offset, 2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b, value)
	return nil
}

func (h *heapMemory) WriteU32(offset uint32, value uint32) error {
	b, err := h.span(offset, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, value)
	return nil
}

func (h *heapMemory) WriteU64(offset uint32, value uint64) error {
	b, err := h.span(offset, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, value)
	return nil
}
