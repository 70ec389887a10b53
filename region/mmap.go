package region

import (
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/sandbox-runtime/alloc"
	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/instance"
	"github.com/wippyai/sandbox-runtime/internal/platform"
	"github.com/wippyai/sandbox-runtime/module"
)

// MmapRegion backs instance slots with one anonymous mapping, reserved with
// no access permissions at creation and carved into fixed slots. Slot
// memory only ever changes protection in place; addresses handed to an
// instance stay valid until the region is closed.
type MmapRegion struct {
	limits   alloc.Limits
	capacity int
	arena    []byte

	mu       sync.Mutex
	freelist []*alloc.Slot
	strategy AllocStrategy
	closed   bool
}

var _ Region = (*MmapRegion)(nil)
var _ alloc.Backing = (*MmapRegion)(nil)

// Create reserves address space for capacity instances under the given
// limits. Nothing is committed until instances are created.
func Create(capacity int, limits alloc.Limits) (*MmapRegion, error) {
	if capacity <= 0 {
		return nil, errors.InvalidArgument(errors.PhaseRegion, "region capacity must be positive, got %d", capacity)
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}

	slotSize := limits.TotalMemorySize()
	arena, err := platform.ReserveAddressSpace(uint64(capacity) * slotSize)
	if err != nil {
		return nil, errors.Internal(err, "reserving region address space")
	}

	r := &MmapRegion{
		limits:   limits,
		capacity: capacity,
		arena:    arena,
		freelist: make([]*alloc.Slot, 0, capacity),
		strategy: Linear(),
	}
	for i := 0; i < capacity; i++ {
		off := uint64(i) * slotSize
		r.freelist = append(r.freelist, alloc.NewSlot(arena[off:off+slotSize:off+slotSize], limits))
	}

	Logger().Debug("region created",
		zap.Int("capacity", capacity),
		zap.Uint64("slot_size", slotSize))
	return r, nil
}

// SetAllocStrategy changes how the region picks free slots. It applies to
// instances created afterwards.
func (r *MmapRegion) SetAllocStrategy(s AllocStrategy) {
	r.mu.Lock()
	r.strategy = s
	r.mu.Unlock()
}

// Capacity returns the number of slots the region was created with.
func (r *MmapRegion) Capacity() int { return r.capacity }

// FreeSlots returns how many slots are currently unclaimed.
func (r *MmapRegion) FreeSlots() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.freelist)
}

// UsedSlots returns how many slots currently back instances.
func (r *MmapRegion) UsedSlots() int {
	return r.capacity - r.FreeSlots()
}

// Close releases the region's reservation. Every instance must be dropped
// first; closing with live instances is refused because their memory would
// be unmapped under them.
func (r *MmapRegion) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	if len(r.freelist) != r.capacity {
		return errors.InvalidArgument(errors.PhaseRegion,
			"region closed with %d live instances", r.capacity-len(r.freelist))
	}
	r.closed = true
	r.freelist = nil
	if err := platform.ReleaseAddressSpace(r.arena); err != nil {
		return errors.Internal(err, "releasing region address space")
	}
	return nil
}

// NewInstance creates an instance of m with default options and runs its
// start routine.
func (r *MmapRegion) NewInstance(m module.Module) (*instance.Instance, error) {
	return r.NewInstanceBuilder(m).Build()
}

// NewInstanceBuilder starts configuring an instance of m.
func (r *MmapRegion) NewInstanceBuilder(m module.Module) *InstanceBuilder {
	return &InstanceBuilder{
		region:    r,
		module:    m,
		heapLimit: r.limits.HeapMemorySize,
	}
}

// validateModule checks that m fits inside one slot under this region's
// limits and the instance's heap cap.
func (r *MmapRegion) validateModule(m module.Module, heapLimit uint64) error {
	spec := m.HeapSpec()
	if err := spec.Validate(); err != nil {
		return err
	}
	if spec.ReservedSize+spec.GuardSize > r.limits.HeapAddressSpaceSize {
		return errors.LimitsExceeded(errors.PhaseRegion,
			"heap reservation %d plus guard %d exceeds the region's heap address space %d",
			spec.ReservedSize, spec.GuardSize, r.limits.HeapAddressSpaceSize)
	}
	if spec.InitialSize > heapLimit {
		return errors.LimitsExceeded(errors.PhaseRegion,
			"initial heap size %d exceeds the instance's heap memory limit %d",
			spec.InitialSize, heapLimit)
	}
	if err := module.ValidateGlobals(m.Globals()); err != nil {
		return err
	}
	if need := uint64(len(m.Globals())) * 8; need > r.limits.GlobalsSize {
		return errors.LimitsExceeded(errors.PhaseRegion,
			"module declares %d globals, more than the %d the region's globals area holds",
			len(m.Globals()), r.limits.GlobalsSize/8)
	}
	return nil
}

func (r *MmapRegion) claimSlot() (*alloc.Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.InvalidArgument(errors.PhaseRegion, "region is closed")
	}
	if len(r.freelist) == 0 {
		return nil, errors.RegionFull(r.capacity)
	}
	idx := r.strategy.next(len(r.freelist))
	slot := r.freelist[idx]
	r.freelist = append(r.freelist[:idx], r.freelist[idx+1:]...)
	return slot, nil
}

func (r *MmapRegion) returnSlot(slot *alloc.Slot) {
	r.mu.Lock()
	if !r.closed {
		r.freelist = append(r.freelist, slot)
	}
	r.mu.Unlock()
}

func (r *MmapRegion) newInstance(b *InstanceBuilder) (*instance.Instance, error) {
	m := b.module
	if err := r.validateModule(m, b.heapLimit); err != nil {
		return nil, err
	}

	slot, err := r.claimSlot()
	if err != nil {
		return nil, err
	}

	err = multierr.Combine(
		platform.CommitPages(slot.RuntimeData()),
		platform.CommitPages(slot.StackRegion()),
		platform.CommitPages(slot.GlobalsRegion()),
		platform.CommitPages(slot.SigstackRegion()),
	)
	if err != nil {
		r.returnSlot(slot)
		return nil, errors.Internal(err, "committing slot pages")
	}

	a := alloc.New(slot, b.heapLimit, r)
	if err := r.ResetHeap(a, m); err != nil {
		r.DropAlloc(a)
		return nil, err
	}

	globals := a.Globals()
	for idx, g := range m.Globals() {
		globals[idx] = g.InitVal
	}

	inst := instance.New(a, m)
	for _, v := range b.embed {
		inst.EmbedCtx().Insert(v)
	}
	if b.faultHook != nil {
		inst.SetFaultHook(b.faultHook)
	}
	if b.hasBound {
		inst.SetInstructionBound(b.bound)
	}

	if !b.withoutStart {
		if err := inst.RunStart(); err != nil {
			inst.Drop()
			return nil, err
		}
	}
	return inst, nil
}

// ExpandHeap commits [start, start+length) of the slot's heap region.
func (r *MmapRegion) ExpandHeap(slot *alloc.Slot, start, length uint64) error {
	heap := slot.HeapRegion()
	if err := platform.CommitPages(heap[start : start+length]); err != nil {
		return errors.Internal(err, "committing heap pages")
	}
	return nil
}

// ResetHeap decommits the heap back to the module's initial size and
// reapplies the module's sparse page data.
func (r *MmapRegion) ResetHeap(a *alloc.Alloc, m module.Module) error {
	heap := a.Slot().HeapRegion()
	if acc := a.HeapAccessibleSize(); acc > 0 {
		if err := platform.DecommitPages(heap[:acc]); err != nil {
			return errors.Internal(err, "decommitting heap pages")
		}
	}

	spec := m.HeapSpec()
	if spec.InitialSize > 0 {
		if err := platform.CommitPages(heap[:spec.InitialSize]); err != nil {
			return errors.Internal(err, "committing initial heap pages")
		}
		page := uint64(platform.PageSize())
		for p := 0; uint64(p)*page < spec.InitialSize; p++ {
			if data := m.SparsePageData(p); data != nil {
				copy(heap[uint64(p)*page:], data)
			}
		}
	}
	a.SetHeapSizes(spec.InitialSize)
	return nil
}

// DropAlloc decommits an allocation's committed pages and returns its slot
// to the pool.
func (r *MmapRegion) DropAlloc(a *alloc.Alloc) {
	acc := a.HeapAccessibleSize()
	slot := a.TakeSlot()
	if slot == nil {
		return
	}

	err := multierr.Combine(
		platform.DecommitPages(slot.RuntimeData()),
		platform.DecommitPages(slot.HeapRegion()[:acc]),
		platform.DecommitPages(slot.StackRegion()),
		platform.DecommitPages(slot.GlobalsRegion()),
		platform.DecommitPages(slot.SigstackRegion()),
	)
	if err != nil {
		// The slot cannot be handed out again with stale protections.
		Logger().Error("slot decommit failed; quarantining slot",
			zap.Uintptr("slot", slot.Start()), zap.Error(err))
		return
	}
	r.returnSlot(slot)
}
