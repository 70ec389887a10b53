package module

import (
	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/trapcode"
	"github.com/wippyai/sandbox-runtime/val"
)

// Vmctx is the view of a running instance handed to compiled guest code and
// to hostcalls. The instance package provides the implementation; guest
// functions must not retain it past their own return.
type Vmctx interface {
	// Heap returns the currently accessible prefix of the linear heap.
	Heap() []byte
	// HeapAddr returns the base address of the heap for compiled address
	// arithmetic. Accesses past the accessible prefix fault.
	HeapAddr() uintptr
	// Globals returns the mutable global variable slots.
	Globals() []int64
	// GrowMemory expands the heap by additional bytes, returning the
	// previous accessible size in bytes.
	GrowMemory(additionalBytes uint32) (uint32, error)
	// Checkpoint is emitted by the compiler at loop back-edges and call
	// sites; it observes pending termination and the instruction bound,
	// and does not return if either fires.
	Checkpoint()
	// Tick consumes n units of the instruction bound, if one is set.
	Tick(n uint64)
	// Trap aborts guest execution with the given trap kind; it does not
	// return.
	Trap(code trapcode.Code, tag uint16)
	// Terminate aborts guest execution with an embedder-provided payload;
	// it does not return.
	Terminate(payload any)
	// YieldVal suspends the whole instance, surfacing v to the caller of
	// Run, and blocks until the embedder resumes it. The resumption value
	// is returned.
	YieldVal(v any) any
	// YieldExpecting is YieldVal with a declared resumption type: the
	// embedder's ResumeWithVal is rejected unless its value has the same
	// dynamic type as prototype.
	YieldExpecting(v, prototype any) any
	// BeginHostcall and EndHostcall bracket every call from guest code
	// into a host-provided function. EndHostcall does not return if a
	// termination arrived during the hostcall.
	BeginHostcall()
	EndHostcall()
}

// GuestFunc is the shape of compiled guest code as loaded into a
// descriptor: the guest-visible context plus the entry point's arguments,
// already checked against its signature.
type GuestFunc func(vm Vmctx, args []val.Val) val.UntypedRetVal

// Signature describes an entry point's parameter and return kinds.
type Signature struct {
	Params []val.Kind
	Ret    val.Kind
	// NoRet marks entry points with no return value.
	NoRet bool
}

// FunctionHandle pairs a callable guest function with its metadata.
type FunctionHandle struct {
	Name string
	Fn   GuestFunc
	Sig  Signature
	// Addr and Len delimit the function's code range for trap-manifest and
	// symbolization lookups.
	Addr uintptr
	Len  uintptr
}

// GlobalSpec is one global variable declaration: its initial value, or an
// import reference. Import globals are unsupported.
type GlobalSpec struct {
	InitVal int64
	Import  bool
	// Name of the import module/field, when Import is set. Diagnostic only.
	ImportName string
}

// ValidateGlobals rejects descriptors that use import globals.
func ValidateGlobals(globals []GlobalSpec) error {
	for i, g := range globals {
		if g.Import {
			return errors.Unsupported("global imports are unsupported; found global %d (%s)", i, g.ImportName)
		}
	}
	return nil
}

// AddrDetails describes where a program address falls, best effort. It is
// only used to render fault diagnostics.
type AddrDetails struct {
	InModuleCode bool
	FileName     string
	SymName      string
}

// Module is the read-only descriptor for one compiled program.
//
// Implementations must be safe for concurrent use: a descriptor is shared
// by every instance created from it and is never mutated after load.
type Module interface {
	// HeapSpec returns the module's heap layout requirements.
	HeapSpec() HeapSpec

	// Globals returns the module's global variable declarations in index
	// order.
	Globals() []GlobalSpec

	// SparsePageData returns the initial contents of the page-th heap page,
	// or nil when the page starts zeroed. Pages are host-page sized.
	SparsePageData(page int) []byte

	// GetExportFunc looks up an exported entry point by symbol name.
	GetExportFunc(name string) (FunctionHandle, error)

	// GetFuncFromIdx looks up a function through the indirect function
	// table.
	GetFuncFromIdx(tableIdx, funcIdx uint32) (FunctionHandle, error)

	// GetStartFunc returns the module's start routine, if it has one.
	GetStartFunc() (FunctionHandle, bool)

	// TrapManifest returns the per-function trap site tables.
	TrapManifest() []TrapManifestRecord

	// LookupTrapcode maps a faulting instruction pointer to a trap kind.
	// A miss means the fault is not attributable to this module's code.
	LookupTrapcode(pc uintptr) (trapcode.Code, bool)

	// AddrDetails resolves a program address to symbol information, best
	// effort.
	AddrDetails(pc uintptr) (AddrDetails, bool)
}
