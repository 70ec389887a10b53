package region

import (
	"math/rand/v2"
	"testing"

	"github.com/wippyai/sandbox-runtime/alloc"
	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/instance"
	"github.com/wippyai/sandbox-runtime/module"
	"github.com/wippyai/sandbox-runtime/val"
)

func testLimits() alloc.Limits {
	return alloc.DefaultLimits().WithHeapAddressSpaceSize(16 * 1024 * 1024)
}

func newTestRegion(t *testing.T, capacity int) *MmapRegion {
	t.Helper()
	r, err := Create(capacity, testLimits())
	if err != nil {
		t.Fatalf("creating region: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func mustBuild(t *testing.T, b *module.MockModuleBuilder) module.Module {
	t.Helper()
	m, err := b.Build()
	if err != nil {
		t.Fatalf("building module: %v", err)
	}
	return m
}

func echoModule(t *testing.T) module.Module {
	t.Helper()
	return mustBuild(t, module.NewMockModuleBuilder().
		WithExportFunc("echo", func(vm module.Vmctx, args []val.Val) val.UntypedRetVal {
			return val.RetGp(args[0].AsU64())
		}, module.Signature{Params: []val.Kind{val.KindU64}, Ret: val.KindU64}))
}

func TestZeroGlobalsSize(t *testing.T) {
	r, err := Create(1, testLimits().WithGlobalsSize(0))
	if err != nil {
		t.Fatalf("creating region: %v", err)
	}
	t.Cleanup(func() { r.Close() })

	inst, err := r.NewInstance(echoModule(t))
	if err != nil {
		t.Fatalf("creating instance without globals: %v", err)
	}
	defer inst.Drop()

	if got := len(inst.Globals()); got != 0 {
		t.Errorf("globals slots = %d, want 0", got)
	}

	res, err := inst.Run("echo", []val.Val{val.U64(7)})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if rv, ok := res.Returned(); !ok || rv.AsU64() != 7 {
		t.Errorf("echo result = %+v, want 7", res)
	}
	if err := inst.Reset(); err != nil {
		t.Fatalf("reset: %v", err)
	}
}

func TestRegionCapacityAndReuse(t *testing.T) {
	r := newTestRegion(t, 1)
	m := echoModule(t)

	first, err := r.NewInstance(m)
	if err != nil {
		t.Fatalf("creating first instance: %v", err)
	}
	if free, used := r.FreeSlots(), r.UsedSlots(); free != 0 || used != 1 {
		t.Errorf("slots = %d free %d used, want 0 free 1 used", free, used)
	}

	if _, err := r.NewInstance(m); !errors.IsKind(err, errors.KindRegionFull) {
		t.Fatalf("over-capacity create = %v, want region full", err)
	}

	// Mark the slot so reuse can be observed, then drop it.
	first.Heap()[0] = 0xaa
	firstHeapAddr := first.Alloc().Slot().HeapStart()
	first.Drop()
	if free := r.FreeSlots(); free != 1 {
		t.Fatalf("free slots after drop = %d, want 1", free)
	}

	second, err := r.NewInstance(m)
	if err != nil {
		t.Fatalf("creating instance after drop: %v", err)
	}
	defer second.Drop()

	// Linear strategy hands the same slot back, scrubbed.
	if got := second.Alloc().Slot().HeapStart(); got != firstHeapAddr {
		t.Errorf("reused slot heap at %#x, want %#x", got, firstHeapAddr)
	}
	if second.Heap()[0] != 0 {
		t.Errorf("reused slot heap byte = %#x, want 0", second.Heap()[0])
	}
}

func TestRegionInstancesAreIndependent(t *testing.T) {
	r := newTestRegion(t, 2)
	m := echoModule(t)

	a, err := r.NewInstance(m)
	if err != nil {
		t.Fatalf("creating instance: %v", err)
	}
	defer a.Drop()
	b, err := r.NewInstance(m)
	if err != nil {
		t.Fatalf("creating instance: %v", err)
	}
	defer b.Drop()

	a.Heap()[0] = 1
	if b.Heap()[0] != 0 {
		t.Errorf("write to one instance's heap leaked into another")
	}

	rv, ok := mustRun(t, a, "echo", val.U64(11)).Returned()
	if !ok || rv.AsU64() != 11 {
		t.Errorf("instance a echoed %d, want 11", rv.AsU64())
	}
	rv, ok = mustRun(t, b, "echo", val.U64(22)).Returned()
	if !ok || rv.AsU64() != 22 {
		t.Errorf("instance b echoed %d, want 22", rv.AsU64())
	}
}

func mustRun(t *testing.T, i *instance.Instance, entry string, args ...val.Val) instance.RunResult {
	t.Helper()
	res, err := i.Run(entry, args)
	if err != nil {
		t.Fatalf("running %q: %v", entry, err)
	}
	return res
}

func TestHeapGrowthAgainstRegionLimits(t *testing.T) {
	r := newTestRegion(t, 1)

	// 64KiB initial, module maximum far above what the instance's 128KiB
	// heap cap allows.
	m := mustBuild(t, module.NewMockModuleBuilder().
		WithHeapSpec(module.HeapSpec{
			ReservedSize: 4 * 1024 * 1024,
			GuardSize:    4 * 1024 * 1024,
			InitialSize:  64 * 1024,
			MaxSize:      1024 * 1024,
			HasMaxSize:   true,
		}))
	inst, err := r.NewInstanceBuilder(m).WithHeapSizeLimit(128 * 1024).Build()
	if err != nil {
		t.Fatalf("creating instance: %v", err)
	}
	defer inst.Drop()

	old, err := inst.GrowMemory(64 * 1024)
	if err != nil {
		t.Fatalf("growing 64KiB: %v", err)
	}
	if old != 64*1024 {
		t.Errorf("grow returned previous size %d, want %d", old, 64*1024)
	}

	if _, err := inst.GrowMemory(64 * 1024); !errors.IsKind(err, errors.KindLimitsExceeded) {
		t.Fatalf("grow past instance cap = %v, want limits exceeded", err)
	}
	if got := inst.Alloc().HeapAccessibleSize(); got != 128*1024 {
		t.Errorf("accessible size after failed grow = %d, want %d", got, 128*1024)
	}
}

func TestModuleMustFitLimits(t *testing.T) {
	r := newTestRegion(t, 1)

	tooBigHeap := mustBuild(t, module.NewMockModuleBuilder().
		WithHeapSpec(module.HeapSpec{
			ReservedSize: 16 * 1024 * 1024,
			GuardSize:    4 * 1024 * 1024,
			InitialSize:  64 * 1024,
		}))
	if _, err := r.NewInstance(tooBigHeap); !errors.IsKind(err, errors.KindLimitsExceeded) {
		t.Errorf("oversized heap reservation = %v, want limits exceeded", err)
	}

	b := module.NewMockModuleBuilder()
	for i := 0; i < int(testLimits().GlobalsSize/8)+1; i++ {
		b = b.WithGlobal(int64(i))
	}
	tooManyGlobals := mustBuild(t, b)
	if _, err := r.NewInstance(tooManyGlobals); !errors.IsKind(err, errors.KindLimitsExceeded) {
		t.Errorf("oversized globals = %v, want limits exceeded", err)
	}

	// Failed validation must not leak slots.
	if free := r.FreeSlots(); free != 1 {
		t.Errorf("free slots after refused creates = %d, want 1", free)
	}
}

func TestInstanceBuilderOptions(t *testing.T) {
	r := newTestRegion(t, 1)

	started := false
	m := mustBuild(t, module.NewMockModuleBuilder().
		WithExportFunc("init", func(vm module.Vmctx, args []val.Val) val.UntypedRetVal {
			started = true
			return val.RetGp(0)
		}, module.Signature{NoRet: true}).
		WithStartFunc("init"))

	inst, err := r.NewInstanceBuilder(m).
		WithoutStart().
		WithEmbedCtx("tenant-a").
		WithInstructionBound(1000).
		Build()
	if err != nil {
		t.Fatalf("building instance: %v", err)
	}
	defer inst.Drop()

	if started {
		t.Errorf("start routine ran despite WithoutStart")
	}
	if inst.State() != instance.StateNotStarted {
		t.Errorf("state = %v, want not started", inst.State())
	}
	if s, ok := instance.GetCtx[string](inst); !ok || s != "tenant-a" {
		t.Errorf("embed ctx = (%q, %v), want tenant-a", s, ok)
	}
	if got := inst.InstructionBoundRemaining(); got != 1000 {
		t.Errorf("instruction bound = %d, want 1000", got)
	}

	if err := inst.RunStart(); err != nil {
		t.Fatalf("RunStart: %v", err)
	}
	if !started {
		t.Errorf("start routine did not run")
	}
}

func TestHeapLimitAboveRegionRefused(t *testing.T) {
	r := newTestRegion(t, 1)
	m := echoModule(t)

	limit := testLimits().HeapMemorySize * 2
	if _, err := r.NewInstanceBuilder(m).WithHeapSizeLimit(limit).Build(); !errors.IsKind(err, errors.KindInvalidArgument) {
		t.Fatalf("oversized heap limit = %v, want invalid argument", err)
	}
}

func TestAllocStrategies(t *testing.T) {
	r := newTestRegion(t, 4)
	r.SetAllocStrategy(SeededRandom(rand.New(rand.NewPCG(1, 2))))
	m := echoModule(t)

	insts := make([]*instance.Instance, 0, 4)
	seen := map[uintptr]bool{}
	for i := 0; i < 4; i++ {
		inst, err := r.NewInstance(m)
		if err != nil {
			t.Fatalf("creating instance %d: %v", i, err)
		}
		insts = append(insts, inst)
		addr := inst.Alloc().Slot().Start()
		if seen[addr] {
			t.Fatalf("slot at %#x handed out twice", addr)
		}
		seen[addr] = true
	}
	if _, err := r.NewInstance(m); !errors.IsKind(err, errors.KindRegionFull) {
		t.Errorf("exhausted region = %v, want region full", err)
	}
	for _, inst := range insts {
		inst.Drop()
	}
	if free := r.FreeSlots(); free != 4 {
		t.Errorf("free slots after dropping all = %d, want 4", free)
	}
}

func TestCloseRefusesLiveInstances(t *testing.T) {
	r, err := Create(1, testLimits())
	if err != nil {
		t.Fatalf("creating region: %v", err)
	}
	inst, err := r.NewInstance(echoModule(t))
	if err != nil {
		t.Fatalf("creating instance: %v", err)
	}

	if err := r.Close(); !errors.IsKind(err, errors.KindInvalidArgument) {
		t.Fatalf("close with live instance = %v, want invalid argument", err)
	}
	inst.Drop()
	if err := r.Close(); err != nil {
		t.Fatalf("close after drop: %v", err)
	}
	if _, err := r.NewInstance(echoModule(t)); !errors.IsKind(err, errors.KindInvalidArgument) {
		t.Errorf("create on closed region = %v, want invalid argument", err)
	}
}
