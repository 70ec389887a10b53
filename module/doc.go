// Package module defines the read-only descriptor contract between the
// external ahead-of-time compiler/loader and the sandbox runtime.
//
// A Module describes already-compiled native code: its exported entry
// points, heap specification, global variable initializers, sparse initial
// heap contents, and the trap manifest that maps faulting instruction
// pointers back to typed trap kinds. Descriptors are immutable after load
// and shared by every instance created from them.
//
// The runtime performs no validation, translation, or code generation; a
// descriptor that lies about its code is outside the sandbox's guarantees.
package module
