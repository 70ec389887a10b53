package instance

import (
	"reflect"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/sandbox-runtime/alloc"
	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/module"
	"github.com/wippyai/sandbox-runtime/val"
)

// FaultHook observes every fault an instance takes, before the error is
// returned to the caller of Run or Resume. It runs on the goroutine driving
// the instance and must not call back into it.
type FaultHook func(i *Instance, f *FaultDetails)

// Instance is one sandboxed execution of a module: a slot's worth of
// memory, the lifecycle state over it, and the guest goroutine rendezvous.
//
// All methods except State and KillSwitch must be called from a single
// goroutine, the instance's driver.
type Instance struct {
	alloc    *alloc.Alloc
	module   module.Module
	vm       *Vmctx
	embedCtx *CtxMap
	kill     *KillState

	mu    sync.Mutex
	state State

	events chan guestEvent
	resume chan resumeMsg

	bounded        bool
	boundRemaining atomic.Int64

	// resumeExpect is the dynamic type the suspended guest declared for
	// ResumeWithVal, when it yielded through YieldExpecting.
	resumeExpect reflect.Type

	fatal     *FaultDetails
	faultHook FaultHook
}

// New wraps an allocation and a module descriptor into a runnable instance.
// The caller (normally a region) has already validated the module against
// the allocation's limits and initialized the heap and globals.
func New(a *alloc.Alloc, m module.Module) *Instance {
	i := &Instance{
		alloc:    a,
		module:   m,
		embedCtx: NewCtxMap(),
		kill:     newKillState(),
		state:    StateNotStarted,
		events:   make(chan guestEvent),
		resume:   make(chan resumeMsg),
	}
	i.vm = &Vmctx{inst: i}
	return i
}

// State returns the instance's current lifecycle state. Safe to call from
// any goroutine.
func (i *Instance) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *Instance) setState(s State) {
	i.mu.Lock()
	i.state = s
	i.mu.Unlock()
}

// KillSwitch returns a handle that can terminate this instance from any
// goroutine. The handle stays safe to fire after the instance is reset or
// dropped.
func (i *Instance) KillSwitch() *KillSwitch {
	return &KillSwitch{state: i.kill}
}

// Module returns the descriptor this instance was created from.
func (i *Instance) Module() module.Module { return i.module }

// Alloc returns the instance's memory allocation.
func (i *Instance) Alloc() *alloc.Alloc { return i.alloc }

// EmbedCtx returns the instance's context map for embedder-owned values.
func (i *Instance) EmbedCtx() *CtxMap { return i.embedCtx }

// SetFaultHook installs a hook observing every fault this instance takes.
func (i *Instance) SetFaultHook(hook FaultHook) { i.faultHook = hook }

// FatalFault returns the fault that disabled this instance, if any.
func (i *Instance) FatalFault() *FaultDetails { return i.fatal }

// Heap returns the accessible heap.
func (i *Instance) Heap() []byte { return i.alloc.Heap() }

// HeapU32 returns the accessible heap as 32-bit words.
func (i *Instance) HeapU32() []uint32 { return i.alloc.HeapU32() }

// HeapU64 returns the accessible heap as 64-bit words.
func (i *Instance) HeapU64() []uint64 { return i.alloc.HeapU64() }

// Globals returns the global variable slots.
func (i *Instance) Globals() []int64 { return i.alloc.Globals() }

// GrowMemory expands the heap by additionalBytes between runs, returning
// the previous accessible size.
func (i *Instance) GrowMemory(additionalBytes uint32) (uint32, error) {
	return i.alloc.ExpandHeap(additionalBytes, i.module.HeapSpec())
}

// SetInstructionBound arms the instruction bound: once guest code has
// consumed n units through its tick checkpoints, the run suspends with a
// bound-expired result. The bound persists across Resume until rearmed or
// cleared.
func (i *Instance) SetInstructionBound(n uint64) {
	i.bounded = true
	i.boundRemaining.Store(int64(n))
}

// ClearInstructionBound disarms the instruction bound.
func (i *Instance) ClearInstructionBound() {
	i.bounded = false
}

// InstructionBoundRemaining returns how much of the bound is left.
func (i *Instance) InstructionBoundRemaining() uint64 {
	if !i.bounded {
		return 0
	}
	if rem := i.boundRemaining.Load(); rem > 0 {
		return uint64(rem)
	}
	return 0
}

// RunResult is the outcome of a Run or Resume that did not fail: either the
// entry point returned a value, or the instance suspended.
type RunResult struct {
	kind    resultKind
	retval  val.UntypedRetVal
	yielded any
}

type resultKind int

const (
	resultReturned resultKind = iota
	resultYielded
	resultBoundExpired
)

// Returned reports whether the run completed, and its return value.
func (r RunResult) Returned() (val.UntypedRetVal, bool) {
	return r.retval, r.kind == resultReturned
}

// Yielded reports whether the run suspended through a yield, and the
// yielded value.
func (r RunResult) Yielded() (any, bool) {
	return r.yielded, r.kind == resultYielded
}

// BoundExpired reports whether the run suspended because the instruction
// bound ran out.
func (r RunResult) BoundExpired() bool {
	return r.kind == resultBoundExpired
}

// RunStart executes the module's start routine, readying the instance for
// Run. Modules without a start routine become ready immediately. The start
// routine must run to completion: a suspension inside it is an error.
func (i *Instance) RunStart() error {
	if i.State() != StateNotStarted {
		return errors.InvalidArgument(errors.PhaseRun, "start routine already ran")
	}
	fh, ok := i.module.GetStartFunc()
	if !ok {
		i.setState(StateReady)
		return nil
	}
	res, err := i.enter(fh, nil, errors.PhaseRun)
	if err != nil {
		return err
	}
	if _, yielded := res.Yielded(); yielded || res.BoundExpired() {
		i.unwindSuspended()
		return errors.StartYielded()
	}
	return nil
}

// Run executes an exported entry point. It blocks until the guest returns,
// suspends, faults, or is terminated.
func (i *Instance) Run(entrypoint string, args []val.Val) (RunResult, error) {
	fh, err := i.module.GetExportFunc(entrypoint)
	if err != nil {
		return RunResult{}, err
	}
	return i.run(fh, args)
}

// RunFuncIdx executes a function reached through the module's indirect
// function table.
func (i *Instance) RunFuncIdx(tableIdx, funcIdx uint32, args []val.Val) (RunResult, error) {
	fh, err := i.module.GetFuncFromIdx(tableIdx, funcIdx)
	if err != nil {
		return RunResult{}, err
	}
	return i.run(fh, args)
}

func (i *Instance) run(fh module.FunctionHandle, args []val.Val) (RunResult, error) {
	switch i.State() {
	case StateReady:
	case StateNotStarted:
		return RunResult{}, errors.InvalidArgument(errors.PhaseRun,
			"instance must be started before running %q", fh.Name)
	default:
		return RunResult{}, errors.InstanceNotReturned()
	}
	if err := val.TypeCheck(fh.Sig.Params, args); err != nil {
		return RunResult{}, errors.Wrap(errors.PhaseRun, errors.KindInvalidArgument, err,
			"arguments do not match the signature of %q", fh.Name)
	}
	return i.enter(fh, args, errors.PhaseRun)
}

// enter schedules the guest domain and launches fh on the guest goroutine.
func (i *Instance) enter(fh module.FunctionHandle, args []val.Val, phase errors.Phase) (RunResult, error) {
	if !i.kill.schedule() {
		i.setState(StateTerminated)
		term := &TerminationDetails{Remote: true}
		return RunResult{}, errors.RuntimeTerminated(term, term.String())
	}
	i.setState(StateRunning)
	Logger().Debug("entering guest", zap.String("entrypoint", fh.Name))
	i.startGuest(fh.Fn, args)
	return i.await(phase)
}

// Resume continues a suspended instance. For a yield, the guest's YieldVal
// call returns nil; use ResumeWithVal to pass a value back.
func (i *Instance) Resume() (RunResult, error) {
	switch i.State() {
	case StateYielded, StateBoundExpired:
	default:
		return RunResult{}, errors.InstanceNotYielded()
	}
	if i.resumeExpect != nil {
		return RunResult{}, errors.InvalidArgument(errors.PhaseResume,
			"guest expects a %s resumption value", i.resumeExpect)
	}
	return i.resumeSuspended(resumeMsg{})
}

// ResumeWithVal continues a yielded instance, handing v to the guest as the
// result of its YieldVal call. If the guest yielded through YieldExpecting,
// v must carry the declared type; a mismatch is rejected and the instance
// stays yielded.
func (i *Instance) ResumeWithVal(v any) (RunResult, error) {
	if i.State() != StateYielded {
		return RunResult{}, errors.InstanceNotYielded()
	}
	if i.resumeExpect != nil && reflect.TypeOf(v) != i.resumeExpect {
		return RunResult{}, errors.InvalidArgument(errors.PhaseResume,
			"guest expects a %s resumption value, not %T", i.resumeExpect, v)
	}
	return i.resumeSuspended(resumeMsg{val: v})
}

func (i *Instance) resumeSuspended(msg resumeMsg) (RunResult, error) {
	if !i.kill.schedule() {
		// A kill switch claimed the run while the guest was suspended.
		i.setState(StateTerminating)
		i.unwindSuspended()
		return RunResult{}, errors.RuntimeTerminated(&TerminationDetails{Remote: true},
			"terminated by kill switch")
	}
	i.setState(StateRunning)
	i.resumeExpect = nil
	i.resume <- msg
	return i.await(errors.PhaseResume)
}

// unwindSuspended tears down a guest goroutine parked in a suspension,
// leaving the instance terminated.
func (i *Instance) unwindSuspended() {
	i.resumeExpect = nil
	i.resume <- resumeMsg{kill: true}
	<-i.events
	i.setState(StateTerminated)
}

// await blocks until the guest goroutine reports the end or suspension of
// the current run, then installs the matching state.
func (i *Instance) await(phase errors.Phase) (RunResult, error) {
	ev := <-i.events
	switch ev.kind {
	case evReturned:
		i.setState(StateTransitioning)
		i.setState(StateReady)
		return RunResult{kind: resultReturned, retval: ev.rv}, nil

	case evYielded:
		i.setState(StateYielding)
		i.resumeExpect = ev.expect
		i.setState(StateYielded)
		return RunResult{kind: resultYielded, yielded: ev.yielded}, nil

	case evBoundExpired:
		i.setState(StateBoundExpired)
		return RunResult{kind: resultBoundExpired}, nil

	case evFaulted:
		i.setState(StateFaulted)
		if ev.fault.Fatal {
			i.fatal = ev.fault
			i.kill.disable()
		}
		Logger().Debug("guest faulted",
			zap.String("fault", ev.fault.String()),
			zap.Bool("fatal", ev.fault.Fatal))
		if i.faultHook != nil {
			i.faultHook(i, ev.fault)
		}
		return RunResult{}, errors.RuntimeFault(ev.fault, ev.fault.String())

	case evTerminated:
		i.setState(StateTerminating)
		i.setState(StateTerminated)
		return RunResult{}, errors.RuntimeTerminated(ev.term, ev.term.String())

	default:
		return RunResult{}, errors.Internal(nil, "unknown guest event %d in phase %s", ev.kind, phase)
	}
}

// Reset rolls the instance back to a freshly created state: the heap
// returns to the module's initial size and contents, globals are
// reinitialized, any pending termination is cleared, and the start routine
// runs again. An instance disabled by a fatal fault cannot be reset.
func (i *Instance) Reset() error {
	switch i.State() {
	case StateRunning, StateTransitioning, StateYielding, StateTerminating:
		return errors.InstanceNotReturned()
	case StateYielded, StateBoundExpired:
		i.unwindSuspended()
	case StateFaulted:
		if i.fatal != nil {
			return errors.InvalidArgument(errors.PhaseReset,
				"instance had a fatal fault; its memory cannot be trusted")
		}
	}

	if err := i.alloc.ResetHeap(i.module); err != nil {
		return err
	}
	globals := i.alloc.Globals()
	for idx := range globals {
		globals[idx] = 0
	}
	for idx, spec := range i.module.Globals() {
		globals[idx] = spec.InitVal
	}

	i.kill.reset()
	i.setState(StateNotStarted)
	return i.RunStart()
}

// Drop tears the instance down: a suspended guest goroutine is unwound,
// every kill switch is permanently disarmed, and the memory allocation is
// returned to its region. The instance must not be used afterwards.
func (i *Instance) Drop() {
	switch i.State() {
	case StateYielded, StateBoundExpired:
		i.unwindSuspended()
	}
	i.kill.disable()
	i.setState(StateTerminated)
	i.alloc.Drop()
}
