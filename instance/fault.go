package instance

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"

	"github.com/wippyai/sandbox-runtime/alloc"
	"github.com/wippyai/sandbox-runtime/module"
	"github.com/wippyai/sandbox-runtime/trapcode"
)

// FaultDetails describes a run that ended in a trap or a memory fault.
type FaultDetails struct {
	// Fatal means the fault could not be attributed to the instance's own
	// memory: the sandbox can no longer vouch for this instance, and Reset
	// is refused.
	Fatal bool
	// Trapcode classifies the fault.
	Trapcode trapcode.Code
	// Tag is the module-defined payload of an explicit trap, when nonzero.
	Tag uint16
	// PC is the guest program counter nearest the fault, best effort.
	PC uintptr
	// Addr is the faulting memory address; zero for explicit traps.
	Addr uintptr
	// Location classifies Addr against the instance's memory layout.
	Location alloc.AddrLocation
	// Symbol resolves PC against the module, when possible.
	Symbol *module.AddrDetails
}

func (f *FaultDetails) String() string {
	switch {
	case f.Addr != 0 && f.Symbol != nil:
		return fmt.Sprintf("%s fault at %#x (%s) in %s", f.Location, f.Addr, f.Trapcode, f.Symbol.SymName)
	case f.Addr != 0:
		return fmt.Sprintf("%s fault at %#x (%s)", f.Location, f.Addr, f.Trapcode)
	case f.Symbol != nil:
		return fmt.Sprintf("%s trap in %s", f.Trapcode, f.Symbol.SymName)
	default:
		return fmt.Sprintf("%s trap", f.Trapcode)
	}
}

// TerminationDetails describes a run ended by Terminate or a kill switch.
type TerminationDetails struct {
	// Remote means a kill switch ended the run.
	Remote bool
	// DisallowedSuspend means the guest tried to yield from inside a
	// hostcall.
	DisallowedSuspend bool
	// Provided is the payload the guest passed to Terminate, when local.
	Provided any
}

func (t *TerminationDetails) String() string {
	switch {
	case t.Remote:
		return "terminated by kill switch"
	case t.DisallowedSuspend:
		return "terminated: suspend inside a hostcall"
	default:
		return fmt.Sprintf("terminated with %v", t.Provided)
	}
}

// trapPanic is thrown by Vmctx.Trap. It never escapes the guest goroutine.
type trapPanic struct {
	code trapcode.Code
	tag  uint16
	pc   uintptr
}

// terminatePanic is thrown by Vmctx.Terminate and by the termination
// checkpoints. It never escapes the guest goroutine.
type terminatePanic struct {
	remote     bool
	disallowed bool
	provided   any
}

// memoryFault is how the runtime surfaces a hardware memory fault once
// fault panics are enabled on the guest goroutine.
type memoryFault interface {
	runtime.Error
	Addr() uintptr
}

// classifyPanic turns a recovered guest panic into the event the host
// observes. Unrecognized panic values are treated as fatal: a panic that is
// neither a sandbox trap nor a memory fault in the instance's own layout
// means something outside the sandbox went wrong.
func (i *Instance) classifyPanic(r any) guestEvent {
	switch p := r.(type) {
	case *trapPanic:
		fd := &FaultDetails{
			Trapcode: p.code,
			Tag:      p.tag,
			PC:       p.pc,
		}
		if det, ok := i.module.AddrDetails(p.pc); ok {
			fd.Symbol = &det
		}
		return guestEvent{kind: evFaulted, fault: fd}

	case *terminatePanic:
		return guestEvent{kind: evTerminated, term: &TerminationDetails{
			Remote:            p.remote,
			DisallowedSuspend: p.disallowed,
			Provided:          p.provided,
		}}

	case memoryFault:
		return guestEvent{kind: evFaulted, fault: i.classifyMemoryFault(p)}

	default:
		Logger().Error("guest goroutine panicked outside the sandbox",
			zap.Any("panic", r))
		return guestEvent{kind: evFaulted, fault: &FaultDetails{
			Fatal:    true,
			Trapcode: trapcode.Unknown,
		}}
	}
}

func (i *Instance) classifyMemoryFault(p memoryFault) *FaultDetails {
	addr := p.Addr()
	loc := i.alloc.AddrLocation(addr)

	fd := &FaultDetails{
		Fatal:    loc.FaultFatal(),
		Trapcode: trapcodeForLocation(loc),
		Addr:     addr,
		Location: loc,
	}

	// Walk the panicking stack for a program counter the module claims, to
	// refine the trap kind and name the faulting function.
	var pcs [64]uintptr
	n := runtime.Callers(2, pcs[:])
	for _, pc := range pcs[:n] {
		if code, ok := i.module.LookupTrapcode(pc); ok {
			fd.PC = pc
			fd.Trapcode = code
			break
		}
		if det, ok := i.module.AddrDetails(pc); ok && det.InModuleCode {
			fd.PC = pc
			fd.Symbol = &det
			break
		}
	}
	if fd.PC != 0 && fd.Symbol == nil {
		if det, ok := i.module.AddrDetails(fd.PC); ok {
			fd.Symbol = &det
		}
	}
	return fd
}

func trapcodeForLocation(loc alloc.AddrLocation) trapcode.Code {
	switch loc {
	case alloc.LocHeap, alloc.LocInaccessibleHeap:
		return trapcode.HeapOutOfBounds
	case alloc.LocStackGuard:
		return trapcode.StackOverflow
	case alloc.LocStack, alloc.LocGlobals, alloc.LocSigStack:
		return trapcode.OutOfBounds
	default:
		return trapcode.Unknown
	}
}
