//go:build unix

package platform

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// ReserveAddressSpace reserves size bytes of virtual address space with no
// access permissions and no physical backing. The returned slice spans the
// whole reservation; none of it may be touched until pages are committed.
func ReserveAddressSpace(size uint64) ([]byte, error) {
	return unix.Mmap(-1, 0, int(size), unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

// ReleaseAddressSpace unmaps a reservation created by ReserveAddressSpace.
func ReleaseAddressSpace(mem []byte) error {
	return unix.Munmap(mem)
}

// CommitPages makes the given range of a reservation readable and writable.
func CommitPages(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	return unix.Mprotect(mem, unix.PROT_READ|unix.PROT_WRITE)
}

// DecommitPages revokes all access to the given range and tells the kernel
// the backing pages may be reclaimed. The next CommitPages of the same range
// observes zeroed memory.
func DecommitPages(mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	if err := unix.Mprotect(mem, unix.PROT_NONE); err != nil {
		return err
	}
	return madviseDontneed(mem)
}

// Zero clears a committed range.
func Zero(mem []byte) {
	for i := range mem {
		mem[i] = 0
	}
}

// SliceAddr returns the starting address of a mapped slice.
func SliceAddr(mem []byte) uintptr {
	if len(mem) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&mem[0]))
}
