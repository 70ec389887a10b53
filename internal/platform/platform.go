// Package platform wraps the virtual-memory and thread syscalls the sandbox
// needs. Slots are reserved as PROT_NONE mappings and pages are committed or
// decommitted by protection changes only; nothing here ever moves a mapping.
package platform

import "os"

var pageSize = os.Getpagesize()

// PageSize returns the host page size in bytes.
func PageSize() int {
	return pageSize
}

// PageAligned reports whether n is a multiple of the host page size.
func PageAligned(n uint64) bool {
	return n%uint64(pageSize) == 0
}

// RoundUpToPage rounds n up to the next host page boundary.
func RoundUpToPage(n uint64) uint64 {
	p := uint64(pageSize)
	return (n + p - 1) / p * p
}
