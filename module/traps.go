package module

import (
	"sort"

	"github.com/wippyai/sandbox-runtime/trapcode"
)

// TrapSite is one potentially-trapping instruction inside a function,
// recorded by the compiler as a byte offset from the function's entry.
type TrapSite struct {
	Offset uint32
	Code   trapcode.Code
	// Tag disambiguates user traps.
	Tag uint16
}

// TrapManifestRecord is the trap site table for one function's code range.
// Sites must be ordered by offset; lookups binary search them.
type TrapManifestRecord struct {
	FuncAddr uintptr
	FuncLen  uintptr
	Sites    []TrapSite
}

// ContainsAddr reports whether pc falls inside this record's code range.
func (r *TrapManifestRecord) ContainsAddr(pc uintptr) bool {
	return pc >= r.FuncAddr && pc < r.FuncAddr+r.FuncLen
}

// LookupAddr finds the trap site at exactly pc, if one is recorded.
func (r *TrapManifestRecord) LookupAddr(pc uintptr) (trapcode.Code, uint16, bool) {
	if !r.ContainsAddr(pc) {
		return 0, 0, false
	}
	off := uint32(pc - r.FuncAddr)
	i := sort.Search(len(r.Sites), func(i int) bool {
		return r.Sites[i].Offset >= off
	})
	if i < len(r.Sites) && r.Sites[i].Offset == off {
		return r.Sites[i].Code, r.Sites[i].Tag, true
	}
	return 0, 0, false
}

// LookupTrapcode walks a manifest for the record containing pc. Only one
// record can ever contain a given address, so the search stops at the first
// range hit whether or not an exact site matched.
func LookupTrapcode(manifest []TrapManifestRecord, pc uintptr) (trapcode.Code, bool) {
	for i := range manifest {
		r := &manifest[i]
		if !r.ContainsAddr(pc) {
			continue
		}
		if code, _, ok := r.LookupAddr(pc); ok {
			return code, true
		}
		break
	}
	return trapcode.Unknown, false
}
