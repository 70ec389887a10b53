//go:build unix && !linux

package platform

import "golang.org/x/sys/unix"

// MADV_DONTNEED is not guaranteed to clear pages off Linux, so zero them by
// hand before revoking access again.
func madviseDontneed(mem []byte) error {
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return err
	}
	Zero(mem)
	if err := unix.Mprotect(mem, unix.PROT_NONE); err != nil {
		return err
	}
	return unix.Madvise(mem, unix.MADV_DONTNEED)
}
