// Package sandboxruntime provides a Go implementation of a native
// sandboxing engine: fixed pools of virtual-memory slots, guard-page
// protected per-instance memory layouts, a supervised guest execution
// lifecycle, and cross-thread termination.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct
// responsibilities:
//
//	sandboxruntime/      Root package with the bounds-checked Memory view
//	├── region/          Slot pools: address-space reservation and reuse
//	├── instance/        Instance lifecycle, guest execution, kill switches
//	├── alloc/           Per-instance memory layout and heap growth
//	├── module/          Module descriptors, trap manifests, mock modules
//	├── val/             Guest value and return-value representations
//	├── trapcode/        Trap classification shared by faults and manifests
//	└── errors/          Structured error types for debugging
//
// # Quick Start
//
// Create a region, instantiate a module, and run an entry point:
//
//	r, err := region.Create(16, alloc.DefaultLimits())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	inst, err := r.NewInstance(mod)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer inst.Drop()
//
//	res, err := inst.Run("main", nil)
//
// A run ends in one of five ways: the entry point returns a value, the
// guest yields or exhausts its instruction bound (resume with
// inst.Resume), it faults (a trap or a guard-page hit, surfaced as a
// runtime fault error), or it is terminated, either by its own Terminate
// call or by a KillSwitch fired from another goroutine.
//
// # Memory Safety
//
// Every instance lives in a fixed slot of reserved address space. Only the
// pages an instance actually uses are committed; everything else, including
// the heap guard, the stack guard, and the dead space between instances,
// stays inaccessible. A guest access outside its accessible heap faults,
// and the fault is classified against the slot layout: faults inside
// guest-addressable regions are recoverable with Reset, anything else
// permanently quarantines the instance.
//
// # Termination
//
// inst.KillSwitch returns a handle that any goroutine may fire, once per
// run: a running guest is stopped at its next checkpoint, a guest inside a
// hostcall is stopped when the hostcall returns, and an idle or suspended
// instance has its next run cancelled. Kill switches stay valid after the
// instance is reset or dropped.
package sandboxruntime
