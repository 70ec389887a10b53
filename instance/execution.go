package instance

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/internal/platform"
)

// Execution domains. The domain word is the single source of truth for
// whether a run can be terminated and who claimed it; every transition is a
// compare-and-swap, so exactly one kill switch can ever claim one run.
const (
	// domainPending: no guest code is scheduled. Covers a fresh instance,
	// the gap between runs, and a suspended (yielded) instance.
	domainPending int32 = iota
	// domainGuest: guest code is executing.
	domainGuest
	// domainHostcall: guest code is inside a host-provided function.
	domainHostcall
	// domainTerminated: a kill switch claimed the current run. Cleared by
	// Reset.
	domainTerminated
	// domainCancelled: a kill switch fired while no guest code was
	// scheduled; the next scheduling attempt is refused. Cleared by Reset.
	domainCancelled
	// domainDisabled: the instance suffered a fatal fault or was dropped.
	// Never cleared.
	domainDisabled
)

// KillState is the shared word a running instance and its kill switches
// coordinate through.
type KillState struct {
	domain atomic.Int32
	tid    atomic.Int64
}

func newKillState() *KillState {
	return &KillState{}
}

// setThreadID records the OS thread the guest goroutine is pinned to, so a
// kill switch can interrupt a blocking syscall on it.
func (ks *KillState) setThreadID(tid int) {
	ks.tid.Store(int64(tid))
}

// schedule moves the instance into the guest domain. It fails when a kill
// switch already claimed or cancelled the run, or the instance is disabled.
func (ks *KillState) schedule() bool {
	return ks.domain.CompareAndSwap(domainPending, domainGuest)
}

// suspend moves a yielding guest back to the pending domain, keeping the
// instance terminable while it waits for Resume. It fails when a kill
// switch claimed the run first; the guest must then terminate instead of
// suspending.
func (ks *KillState) suspend() bool {
	return ks.domain.CompareAndSwap(domainGuest, domainPending)
}

// exit leaves the guest domain at the end of a run. A run can also end from
// inside a hostcall, when host code traps or panics before its EndHostcall.
// exit reports whether a kill switch claimed the run while it was ending;
// the caller surfaces that run as terminated.
func (ks *KillState) exit() (killed bool) {
	if ks.domain.CompareAndSwap(domainGuest, domainPending) {
		return false
	}
	return !ks.domain.CompareAndSwap(domainHostcall, domainPending)
}

// beginHostcall and endHostcall bracket host-provided functions. Either
// returns false when a kill switch claimed the run; the guest must then
// terminate.
func (ks *KillState) beginHostcall() bool {
	return ks.domain.CompareAndSwap(domainGuest, domainHostcall)
}

func (ks *KillState) endHostcall() bool {
	return ks.domain.CompareAndSwap(domainHostcall, domainGuest)
}

// inHostcall reports whether the run is currently inside a hostcall.
func (ks *KillState) inHostcall() bool {
	return ks.domain.Load() == domainHostcall
}

// terminationPending reports whether a kill switch claimed the current run.
// Guest code polls this at checkpoints.
func (ks *KillState) terminationPending() bool {
	return ks.domain.Load() == domainTerminated
}

// reset rearms the kill state for a fresh run. Disabled instances stay
// disabled.
func (ks *KillState) reset() {
	ks.domain.CompareAndSwap(domainTerminated, domainPending)
	ks.domain.CompareAndSwap(domainCancelled, domainPending)
}

// disable makes every future kill switch firing report not terminable.
func (ks *KillState) disable() {
	ks.domain.Store(domainDisabled)
}

// KillOutcome describes how a successful kill switch firing landed.
type KillOutcome int

const (
	// KillSignalled: guest code was executing; it has been told to stop
	// and will terminate at its next checkpoint, suspension, or hostcall
	// boundary.
	KillSignalled KillOutcome = iota
	// KillPending: the guest was inside a hostcall; termination takes
	// effect when the hostcall returns.
	KillPending
	// KillCancelled: no guest code was scheduled; the next run or resume
	// attempt is refused.
	KillCancelled
)

func (o KillOutcome) String() string {
	switch o {
	case KillSignalled:
		return "signalled"
	case KillPending:
		return "pending"
	case KillCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// A KillSwitch terminates one instance from any goroutine. It stays valid
// for the lifetime of the process: firing one after its instance was
// dropped, or after another switch already claimed the run, fails with a
// not-terminable error rather than touching freed memory.
type KillSwitch struct {
	state *KillState
}

// Terminate ends the instance's current (or next) run. Exactly one
// Terminate call per run succeeds; concurrent and repeated calls fail with
// a not-terminable error.
func (k *KillSwitch) Terminate() (KillOutcome, error) {
	for {
		switch d := k.state.domain.Load(); d {
		case domainPending:
			if k.state.domain.CompareAndSwap(d, domainCancelled) {
				Logger().Debug("kill switch cancelled idle instance")
				return KillCancelled, nil
			}
		case domainGuest:
			if k.state.domain.CompareAndSwap(d, domainTerminated) {
				// Knock the guest out of any blocking syscall so it
				// reaches a checkpoint promptly.
				if tid := int(k.state.tid.Load()); tid != 0 {
					if err := platform.KickThread(tid); err != nil {
						Logger().Debug("kill switch could not kick guest thread",
							zap.Int("tid", tid), zap.Error(err))
					}
				}
				return KillSignalled, nil
			}
		case domainHostcall:
			if k.state.domain.CompareAndSwap(d, domainTerminated) {
				return KillPending, nil
			}
		default:
			// Terminated, cancelled, or disabled: this run is already
			// claimed.
			return 0, errors.NotTerminable()
		}
	}
}
