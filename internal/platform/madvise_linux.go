package platform

import "golang.org/x/sys/unix"

// On Linux, MADV_DONTNEED guarantees the next touch of an anonymous private
// page observes zeroes, so decommit needs no explicit clear.
func madviseDontneed(mem []byte) error {
	return unix.Madvise(mem, unix.MADV_DONTNEED)
}
