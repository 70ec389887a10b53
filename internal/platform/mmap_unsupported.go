//go:build !unix

package platform

import (
	"fmt"
	"runtime"
)

var errUnsupported = fmt.Errorf("sandbox regions are not supported on %s", runtime.GOOS)

func ReserveAddressSpace(size uint64) ([]byte, error) { return nil, errUnsupported }
func ReleaseAddressSpace(mem []byte) error            { return errUnsupported }
func CommitPages(mem []byte) error                    { return errUnsupported }
func DecommitPages(mem []byte) error                  { return errUnsupported }

func Zero(mem []byte) {
	for i := range mem {
		mem[i] = 0
	}
}

func SliceAddr(mem []byte) uintptr { return 0 }
