package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the instance lifecycle the error occurred.
type Phase string

const (
	PhaseRegion   Phase = "region"   // slot reservation and allocation
	PhaseLoad     Phase = "load"     // module descriptor validation
	PhaseRun      Phase = "run"      // guest execution
	PhaseResume   Phase = "resume"   // resuming a yielded instance
	PhaseReset    Phase = "reset"    // rolling an instance back to Ready
	PhaseGrow     Phase = "grow"     // heap expansion
	PhaseKill     Phase = "kill"     // cross-thread termination
	PhaseInternal Phase = "internal" // host-level failure
)

// Kind categorizes the error.
type Kind string

const (
	KindRegionFull          Kind = "region_full"
	KindLimitsExceeded      Kind = "limits_exceeded"
	KindSymbolNotFound      Kind = "symbol_not_found"
	KindFuncNotFound        Kind = "func_not_found"
	KindRuntimeFault        Kind = "runtime_fault"
	KindRuntimeTerminated   Kind = "runtime_terminated"
	KindInstanceNotReturned Kind = "instance_not_returned"
	KindInstanceNotYielded  Kind = "instance_not_yielded"
	KindStartYielded        Kind = "start_yielded"
	KindNotTerminable       Kind = "not_terminable"
	KindUnsupported         Kind = "unsupported"
	KindInvalidArgument     Kind = "invalid_argument"
	KindInternal            Kind = "internal"
)

// Error is the structured error type used throughout the runtime.
type Error struct {
	Phase  Phase
	Kind   Kind
	Detail string
	Cause  error
	// Payload carries the typed fault or termination details when Kind is
	// KindRuntimeFault or KindRuntimeTerminated.
	Payload any
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. Two errors match when their
// Kinds agree; a zero Phase in the target matches any phase.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase != "" && e.Phase != t.Phase {
		return false
	}
	return e.Kind == t.Kind
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// New creates a structured error with a formatted detail message.
func New(phase Phase, kind Kind, detail string, args ...any) *Error {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return &Error{Phase: phase, Kind: kind, Detail: detail}
}

// Wrap creates a structured error around an underlying cause.
func Wrap(phase Phase, kind Kind, cause error, detail string, args ...any) *Error {
	e := New(phase, kind, detail, args...)
	e.Cause = cause
	return e
}

// Convenience constructors for common error patterns.

// RegionFull reports that no instance slot is free in a region of the given
// capacity.
func RegionFull(capacity int) *Error {
	return New(PhaseRegion, KindRegionFull, "region capacity reached: %d instances", capacity)
}

// LimitsExceeded reports a request that would exceed an instance's limits.
func LimitsExceeded(phase Phase, detail string, args ...any) *Error {
	return New(phase, KindLimitsExceeded, detail, args...)
}

// SymbolNotFound reports a failed entry-point lookup by name.
func SymbolNotFound(name string) *Error {
	return New(PhaseRun, KindSymbolNotFound, "symbol not found: %s", name)
}

// FuncNotFound reports a failed entry-point lookup by table index.
func FuncNotFound(tableIdx, funcIdx uint32) *Error {
	return New(PhaseRun, KindFuncNotFound, "function not found: (table %d, func %d)", tableIdx, funcIdx)
}

// RuntimeFault reports a hardware trap attributed to guest code. payload is
// the instance package's FaultDetails.
func RuntimeFault(payload any, detail string) *Error {
	e := New(PhaseRun, KindRuntimeFault, detail)
	e.Payload = payload
	return e
}

// RuntimeTerminated reports a terminated instance. payload is the instance
// package's TerminationDetails.
func RuntimeTerminated(payload any, detail string) *Error {
	e := New(PhaseRun, KindRuntimeTerminated, detail)
	e.Payload = payload
	return e
}

// InstanceNotReturned reports API misuse: an operation that requires a
// returned instance found one mid-run.
func InstanceNotReturned() *Error {
	return New(PhaseRun, KindInstanceNotReturned, "instance not returned")
}

// InstanceNotYielded reports API misuse: resuming an instance that never
// yielded.
func InstanceNotYielded() *Error {
	return New(PhaseResume, KindInstanceNotYielded, "instance not yielded")
}

// StartYielded reports a start routine that attempted to suspend.
func StartYielded() *Error {
	return New(PhaseRun, KindStartYielded, "start function yielded")
}

// NotTerminable reports a kill switch firing against an instance whose
// current run has already been claimed by another kill switch or has
// already ended.
func NotTerminable() *Error {
	return New(PhaseKill, KindNotTerminable, "instance not terminable")
}

// Unsupported reports use of a module feature the runtime does not support.
func Unsupported(detail string, args ...any) *Error {
	return New(PhaseLoad, KindUnsupported, detail, args...)
}

// InvalidArgument reports a caller-supplied value that fails validation.
func InvalidArgument(phase Phase, detail string, args ...any) *Error {
	return New(phase, KindInvalidArgument, detail, args...)
}

// Internal reports an unrecoverable host-level failure such as a failed OS
// call.
func Internal(cause error, detail string, args ...any) *Error {
	return Wrap(PhaseInternal, KindInternal, cause, detail, args...)
}
