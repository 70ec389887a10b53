package instance

import (
	"reflect"
	"runtime"
	"runtime/debug"

	"github.com/wippyai/sandbox-runtime/internal/platform"
	"github.com/wippyai/sandbox-runtime/module"
	"github.com/wippyai/sandbox-runtime/val"
)

type eventKind int

const (
	evReturned eventKind = iota
	evFaulted
	evTerminated
	evYielded
	evBoundExpired
)

// guestEvent is how the guest goroutine reports the end or suspension of a
// run to the host goroutine.
type guestEvent struct {
	kind    eventKind
	rv      val.UntypedRetVal
	fault   *FaultDetails
	term    *TerminationDetails
	yielded any
	expect  reflect.Type
}

// resumeMsg wakes a suspended guest. kill unwinds it with a remote
// termination instead of resuming.
type resumeMsg struct {
	val  any
	kill bool
}

// startGuest launches fn on a fresh goroutine pinned to its OS thread. The
// pin keeps the recorded thread id valid so a kill switch can interrupt
// blocking syscalls, and fault panics are scoped to this goroutine only.
func (i *Instance) startGuest(fn module.GuestFunc, args []val.Val) {
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		i.kill.setThreadID(platform.CurrentThreadID())
		old := debug.SetPanicOnFault(true)
		defer debug.SetPanicOnFault(old)

		defer func() {
			if r := recover(); r != nil {
				i.deliver(i.classifyPanic(r))
			}
		}()

		rv := fn(i.vm, args)
		i.deliver(guestEvent{kind: evReturned, rv: rv})
	}()
}

// deliver leaves the guest domain and hands the final event of this run to
// the host. A kill switch that claimed the run while it was ending turns a
// normal return into a remote termination; a fault or a termination that
// raced with the claim stands as-is.
func (i *Instance) deliver(ev guestEvent) {
	killed := i.kill.exit()
	if killed && ev.kind == evReturned {
		ev = guestEvent{kind: evTerminated, term: &TerminationDetails{Remote: true}}
	}
	i.events <- ev
}

// suspendGuest parks the guest goroutine until the host resumes it,
// surfacing ev to the caller of Run or Resume. Called on the guest
// goroutine only; it panics with a remote termination when a kill switch
// claimed the run, either before the suspension or while parked. Suspending
// from inside a hostcall is not allowed and terminates the instance: the
// kill protocol has no way to park a run that is pinned in the hostcall
// domain.
func (i *Instance) suspendGuest(ev guestEvent) any {
	if !i.kill.suspend() {
		if i.kill.inHostcall() {
			panic(&terminatePanic{disallowed: true})
		}
		panic(&terminatePanic{remote: true})
	}
	i.events <- ev
	msg := <-i.resume
	if msg.kill {
		panic(&terminatePanic{remote: true})
	}
	return msg.val
}
