package instance

import (
	"reflect"
	"runtime"

	"github.com/wippyai/sandbox-runtime/trapcode"
)

// Vmctx is the instance's guest-facing surface, handed to every guest
// function and hostcall. All of its methods must be called on the guest
// goroutine.
type Vmctx struct {
	inst *Instance
}

// Heap returns the accessible heap.
func (v *Vmctx) Heap() []byte { return v.inst.alloc.Heap() }

// HeapAddr returns the heap's base address.
func (v *Vmctx) HeapAddr() uintptr { return v.inst.alloc.Slot().HeapStart() }

// Globals returns the global variable slots.
func (v *Vmctx) Globals() []int64 { return v.inst.alloc.Globals() }

// GrowMemory expands the heap by additionalBytes, returning the previous
// accessible size.
func (v *Vmctx) GrowMemory(additionalBytes uint32) (uint32, error) {
	return v.inst.alloc.ExpandHeap(additionalBytes, v.inst.module.HeapSpec())
}

// Checkpoint observes a pending remote termination. It does not return if
// one has arrived.
func (v *Vmctx) Checkpoint() {
	if v.inst.kill.terminationPending() {
		panic(&terminatePanic{remote: true})
	}
}

// Tick consumes n units of the instruction bound and suspends the instance
// when the bound is exhausted. It also acts as a checkpoint.
func (v *Vmctx) Tick(n uint64) {
	v.Checkpoint()
	if !v.inst.bounded {
		return
	}
	if v.inst.boundRemaining.Add(-int64(n)) > 0 {
		return
	}
	v.inst.suspendGuest(guestEvent{kind: evBoundExpired})
}

// Trap ends the run with a fault carrying the given trap kind. It does not
// return.
func (v *Vmctx) Trap(code trapcode.Code, tag uint16) {
	pc, _, _, _ := runtime.Caller(1)
	panic(&trapPanic{code: code, tag: tag, pc: pc})
}

// Terminate ends the run with an embedder-provided payload. It does not
// return.
func (v *Vmctx) Terminate(payload any) {
	panic(&terminatePanic{provided: payload})
}

// YieldVal suspends the instance, surfacing val to the caller of Run or
// Resume, and returns the value the embedder resumes with.
func (v *Vmctx) YieldVal(val any) any {
	return v.inst.suspendGuest(guestEvent{kind: evYielded, yielded: val})
}

// YieldExpecting is YieldVal with a declared resumption type. ResumeWithVal
// calls that do not carry prototype's dynamic type are rejected on the host
// side without waking the guest.
func (v *Vmctx) YieldExpecting(val, prototype any) any {
	return v.inst.suspendGuest(guestEvent{
		kind:    evYielded,
		yielded: val,
		expect:  reflect.TypeOf(prototype),
	})
}

// BeginHostcall moves the run into the hostcall domain. While there, a kill
// switch firing defers the termination to EndHostcall instead of
// interrupting host code.
func (v *Vmctx) BeginHostcall() {
	if !v.inst.kill.beginHostcall() {
		panic(&terminatePanic{remote: true})
	}
}

// EndHostcall leaves the hostcall domain. It does not return if a
// termination arrived during the hostcall.
func (v *Vmctx) EndHostcall() {
	if !v.inst.kill.endHostcall() {
		panic(&terminatePanic{remote: true})
	}
}

// EmbedCtx exposes the owning instance's context map to hostcalls.
func (v *Vmctx) EmbedCtx() *CtxMap { return v.inst.embedCtx }
