// Package val defines the typed values passed into guest entry points and
// read back from completed runs.
//
// A Val is a tagged union over the primitive numeric kinds the native
// calling convention supports, plus GuestPtr, an offset into the guest's
// linear heap. UntypedRetVal carries the raw return registers of a guest
// function until the embedder interprets them with a typed accessor.
package val
