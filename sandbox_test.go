package sandboxruntime

import (
	"testing"

	"github.com/wippyai/sandbox-runtime/alloc"
	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/module"
	"github.com/wippyai/sandbox-runtime/region"
)

func TestMemoryBoundsCheckedAccess(t *testing.T) {
	r, err := region.Create(1, alloc.DefaultLimits())
	if err != nil {
		t.Fatalf("creating region: %v", err)
	}
	defer r.Close()

	m, err := module.NewMockModuleBuilder().Build()
	if err != nil {
		t.Fatalf("building module: %v", err)
	}
	inst, err := r.NewInstance(m)
	if err != nil {
		t.Fatalf("creating instance: %v", err)
	}
	defer inst.Drop()

	mem := NewMemory(inst)
	if mem.Size() != uint32(m.HeapSpec().InitialSize) {
		t.Fatalf("memory size = %d, want %d", mem.Size(), m.HeapSpec().InitialSize)
	}

	if err := mem.WriteU32(16, 0xdeadbeef); err != nil {
		t.Fatalf("WriteU32: %v", err)
	}
	got, err := mem.ReadU32(16)
	if err != nil {
		t.Fatalf("ReadU32: %v", err)
	}
	if got != 0xdeadbeef {
		t.Errorf("ReadU32 = %#x, want 0xdeadbeef", got)
	}

	if err := mem.Write(mem.Size()-2, []byte{1, 2, 3}); !errors.IsKind(err, errors.KindInvalidArgument) {
		t.Errorf("write past heap end = %v, want invalid argument", err)
	}
	if _, err := mem.ReadU64(mem.Size() - 4); !errors.IsKind(err, errors.KindInvalidArgument) {
		t.Errorf("read straddling heap end = %v, want invalid argument", err)
	}

	data, err := mem.Read(16, 4)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if data[0] != 0xef || data[3] != 0xde {
		t.Errorf("Read bytes = %v, want little-endian 0xdeadbeef", data)
	}
}
