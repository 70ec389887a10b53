package platform

import (
	"os"

	"golang.org/x/sys/unix"
)

// CurrentThreadID returns the kernel task id of the calling thread. Callers
// must be locked to their OS thread for the value to stay meaningful.
func CurrentThreadID() int {
	return unix.Gettid()
}

// KickThread delivers SIGURG to a specific thread of this process, knocking
// it out of a blocking syscall. SIGURG is already handled (and otherwise
// ignored) by the Go runtime, so delivery has no effect beyond the EINTR.
func KickThread(tid int) error {
	return unix.Tgkill(os.Getpid(), tid, unix.SIGURG)
}
