package module

import (
	"testing"

	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/internal/platform"
)

func TestHeapSpecValidate(t *testing.T) {
	page := uint64(platform.PageSize())

	valid := HeapSpec{
		ReservedSize: 64 * page,
		GuardSize:    16 * page,
		InitialSize:  4 * page,
		MaxSize:      8 * page,
		HasMaxSize:   true,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(h *HeapSpec)
	}{
		{"unaligned reserved", func(h *HeapSpec) { h.ReservedSize++ }},
		{"unaligned guard", func(h *HeapSpec) { h.GuardSize += 100 }},
		{"initial beyond reserved", func(h *HeapSpec) { h.InitialSize = h.ReservedSize + page }},
		{"max below initial", func(h *HeapSpec) { h.MaxSize = h.InitialSize - 1 }},
		{"max beyond reserved", func(h *HeapSpec) { h.MaxSize = h.ReservedSize + page }},
	}
	for _, tt := range tests {
		h := valid
		tt.mutate(&h)
		err := h.Validate()
		if err == nil {
			t.Errorf("%s: not rejected", tt.name)
			continue
		}
		if !errors.IsKind(err, errors.KindInvalidArgument) {
			t.Errorf("%s: kind = %v, want invalid_argument", tt.name, err)
		}
	}

	// Without a declared max, initial may use the whole reservation.
	noMax := HeapSpec{ReservedSize: 4 * page, GuardSize: page, InitialSize: 4 * page}
	if err := noMax.Validate(); err != nil {
		t.Errorf("spec without max rejected: %v", err)
	}
	if got := noMax.Limit(); got != noMax.ReservedSize {
		t.Errorf("Limit() = %d, want reserved size %d", got, noMax.ReservedSize)
	}
	if got := valid.Limit(); got != valid.MaxSize {
		t.Errorf("Limit() = %d, want max size %d", got, valid.MaxSize)
	}
}

func TestValidateGlobals(t *testing.T) {
	if err := ValidateGlobals([]GlobalSpec{{InitVal: 1}, {InitVal: -7}}); err != nil {
		t.Fatalf("defined globals rejected: %v", err)
	}
	err := ValidateGlobals([]GlobalSpec{{InitVal: 1}, {Import: true, ImportName: "env.g"}})
	if !errors.IsKind(err, errors.KindUnsupported) {
		t.Fatalf("import global: err = %v, want unsupported", err)
	}
}
