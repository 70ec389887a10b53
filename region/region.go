package region

import (
	"math/rand/v2"

	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/instance"
	"github.com/wippyai/sandbox-runtime/module"
)

// Region is a pool of instance slots. Implementations are safe for
// concurrent use; instances created from the same region are independent.
type Region interface {
	// NewInstance creates an instance of m with default options and runs
	// its start routine.
	NewInstance(m module.Module) (*instance.Instance, error)

	// NewInstanceBuilder starts configuring an instance of m.
	NewInstanceBuilder(m module.Module) *InstanceBuilder

	// Capacity returns the number of slots the region was created with.
	Capacity() int

	// FreeSlots returns how many slots are currently unclaimed.
	FreeSlots() int

	// UsedSlots returns how many slots currently back instances.
	UsedSlots() int
}

// AllocStrategy picks which free slot backs the next instance. next is
// called with the pool lock held and the current free count, always >= 1,
// and returns an index into the free list.
type AllocStrategy interface {
	next(free int) int
}

type linearStrategy struct{}

func (linearStrategy) next(int) int { return 0 }

// Linear always picks the lowest-addressed free slot. Instances reuse the
// hottest slots first, which keeps page table churn down; it is the
// default.
func Linear() AllocStrategy { return linearStrategy{} }

type randomStrategy struct {
	rng *rand.Rand
}

func (s randomStrategy) next(free int) int {
	if s.rng != nil {
		return s.rng.IntN(free)
	}
	return rand.IntN(free)
}

// Random picks a uniformly random free slot, de-correlating instance
// addresses across creations.
func Random() AllocStrategy { return randomStrategy{} }

// SeededRandom is Random driven by a caller-owned source, for reproducible
// slot placement. The source must not be shared with other users.
func SeededRandom(rng *rand.Rand) AllocStrategy { return randomStrategy{rng: rng} }

// InstanceBuilder configures one instance before it claims a slot.
type InstanceBuilder struct {
	region       *MmapRegion
	module       module.Module
	heapLimit    uint64
	embed        []any
	faultHook    instance.FaultHook
	bound        uint64
	hasBound     bool
	withoutStart bool
}

// WithEmbedCtx stores v in the instance's context map, replacing any
// earlier value of the same type.
func (b *InstanceBuilder) WithEmbedCtx(v any) *InstanceBuilder {
	b.embed = append(b.embed, v)
	return b
}

// WithHeapSizeLimit lowers the cap on the instance's backed heap memory
// below the region's limit.
func (b *InstanceBuilder) WithHeapSizeLimit(n uint64) *InstanceBuilder {
	b.heapLimit = n
	return b
}

// WithFaultHook installs a hook observing every fault the instance takes.
func (b *InstanceBuilder) WithFaultHook(h instance.FaultHook) *InstanceBuilder {
	b.faultHook = h
	return b
}

// WithInstructionBound arms the instance's instruction bound before its
// first run.
func (b *InstanceBuilder) WithInstructionBound(n uint64) *InstanceBuilder {
	b.bound = n
	b.hasBound = true
	return b
}

// WithoutStart leaves the start routine to the caller; the instance is
// created in the not-started state.
func (b *InstanceBuilder) WithoutStart() *InstanceBuilder {
	b.withoutStart = true
	return b
}

// Build claims a slot and creates the instance.
func (b *InstanceBuilder) Build() (*instance.Instance, error) {
	if b.heapLimit > b.region.limits.HeapMemorySize {
		return nil, errors.InvalidArgument(errors.PhaseRegion,
			"heap size limit %d exceeds the region's heap memory size %d",
			b.heapLimit, b.region.limits.HeapMemorySize)
	}
	return b.region.newInstance(b)
}
