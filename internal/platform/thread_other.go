//go:build !linux

package platform

// Thread-directed signals need tgkill, which is Linux-only. Elsewhere the
// kill switch still works through checkpoints; a guest blocked in a syscall
// is terminated when the syscall returns.
func CurrentThreadID() int { return 0 }

func KickThread(tid int) error { return nil }
