// Package instance runs guest code inside the memory carved out by an
// allocation. An Instance owns one slot's worth of memory, the lifecycle
// state machine over it, and the rendezvous with the goroutine that
// executes guest functions.
//
// Guest code runs on a dedicated goroutine pinned to its OS thread. The
// embedder drives the instance from its own goroutine: Run and Resume block
// until the guest returns, faults, terminates, yields, or exhausts its
// instruction bound. Cross-thread termination goes through a KillSwitch,
// which stays valid for the lifetime of the instance and is safe to fire
// from any goroutine at any time.
package instance
