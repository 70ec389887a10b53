// Package alloc manages the per-instance memory layout inside a reserved
// slot: linear heap with its guard, guest stack, globals, and the signal
// stack, laid out contiguously in one virtual-address reservation.
//
// An Alloc never moves or resizes its slot. Heap growth is a protection
// change on pages that were reserved up front, so raw heap addresses held
// by guest code stay valid for the life of the instance.
package alloc
