package module

import (
	"reflect"
	"sort"

	"github.com/wippyai/sandbox-runtime/errors"
	"github.com/wippyai/sandbox-runtime/trapcode"
)

// mockCodeRangeLen is the assumed extent of a mock function's code when the
// builder derives the range from the function value itself. Trap-site
// offsets in tests must stay below it.
const mockCodeRangeLen = 1 << 12

// MockModuleBuilder assembles an in-memory Module descriptor. It stands in
// for the external loader in tests, and lets embedders script guest
// behavior without a compiled artifact.
type MockModuleBuilder struct {
	name      string
	heapSpec  HeapSpec
	globals   []GlobalSpec
	sparse    map[int][]byte
	exports   map[string]FunctionHandle
	table     map[uint64]string
	startName string
	hasStart  bool
	traps     map[string][]TrapSite
}

// NewMockModuleBuilder returns a builder with a small default heap: 4MiB
// reserved, 4MiB guard, one 64KiB page initial and maximum.
func NewMockModuleBuilder() *MockModuleBuilder {
	return &MockModuleBuilder{
		name: "mock",
		heapSpec: HeapSpec{
			ReservedSize: 4 * 1024 * 1024,
			GuardSize:    4 * 1024 * 1024,
			InitialSize:  64 * 1024,
			MaxSize:      64 * 1024,
			HasMaxSize:   true,
		},
		sparse:  map[int][]byte{},
		exports: map[string]FunctionHandle{},
		table:   map[uint64]string{},
		traps:   map[string][]TrapSite{},
	}
}

func (b *MockModuleBuilder) WithName(name string) *MockModuleBuilder {
	b.name = name
	return b
}

func (b *MockModuleBuilder) WithHeapSpec(h HeapSpec) *MockModuleBuilder {
	b.heapSpec = h
	return b
}

// WithGlobal appends a defined global with the given initial value.
func (b *MockModuleBuilder) WithGlobal(initVal int64) *MockModuleBuilder {
	b.globals = append(b.globals, GlobalSpec{InitVal: initVal})
	return b
}

// WithImportGlobal appends an import global. Building a module with one
// fails, which is exactly what tests of that path need.
func (b *MockModuleBuilder) WithImportGlobal(importName string) *MockModuleBuilder {
	b.globals = append(b.globals, GlobalSpec{Import: true, ImportName: importName})
	return b
}

// WithSparsePageData sets the initial contents of one host page of the heap.
func (b *MockModuleBuilder) WithSparsePageData(page int, data []byte) *MockModuleBuilder {
	b.sparse[page] = data
	return b
}

// WithExportFunc registers an exported entry point. The code range is
// derived from the function value's entry PC.
func (b *MockModuleBuilder) WithExportFunc(name string, fn GuestFunc, sig Signature) *MockModuleBuilder {
	b.exports[name] = FunctionHandle{
		Name: name,
		Fn:   fn,
		Sig:  sig,
		Addr: reflect.ValueOf(fn).Pointer(),
		Len:  mockCodeRangeLen,
	}
	return b
}

// WithTableFunc maps an indirect function table entry onto a previously
// registered export.
func (b *MockModuleBuilder) WithTableFunc(tableIdx, funcIdx uint32, exportName string) *MockModuleBuilder {
	b.table[uint64(tableIdx)<<32|uint64(funcIdx)] = exportName
	return b
}

// WithStartFunc designates a previously registered export as the start
// routine.
func (b *MockModuleBuilder) WithStartFunc(exportName string) *MockModuleBuilder {
	b.startName = exportName
	b.hasStart = true
	return b
}

// WithTrapSite records a trap site inside a registered export's code range.
func (b *MockModuleBuilder) WithTrapSite(exportName string, offset uint32, code trapcode.Code) *MockModuleBuilder {
	b.traps[exportName] = append(b.traps[exportName], TrapSite{Offset: offset, Code: code})
	return b
}

// Build validates the descriptor and returns it. Heap spec violations and
// import globals are rejected here, at load time.
func (b *MockModuleBuilder) Build() (Module, error) {
	if err := b.heapSpec.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateGlobals(b.globals); err != nil {
		return nil, err
	}
	if b.hasStart {
		if _, ok := b.exports[b.startName]; !ok {
			return nil, errors.InvalidArgument(errors.PhaseLoad, "start function %q is not an export", b.startName)
		}
	}

	m := &mockModule{
		name:      b.name,
		heapSpec:  b.heapSpec,
		globals:   append([]GlobalSpec(nil), b.globals...),
		sparse:    b.sparse,
		exports:   b.exports,
		table:     b.table,
		startName: b.startName,
		hasStart:  b.hasStart,
	}
	for name, sites := range b.traps {
		fh, ok := b.exports[name]
		if !ok {
			return nil, errors.InvalidArgument(errors.PhaseLoad, "trap sites for unknown export %q", name)
		}
		sorted := append([]TrapSite(nil), sites...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })
		m.manifest = append(m.manifest, TrapManifestRecord{
			FuncAddr: fh.Addr,
			FuncLen:  fh.Len,
			Sites:    sorted,
		})
	}
	return m, nil
}

type mockModule struct {
	name      string
	heapSpec  HeapSpec
	globals   []GlobalSpec
	sparse    map[int][]byte
	exports   map[string]FunctionHandle
	table     map[uint64]string
	startName string
	hasStart  bool
	manifest  []TrapManifestRecord
}

func (m *mockModule) HeapSpec() HeapSpec    { return m.heapSpec }
func (m *mockModule) Globals() []GlobalSpec { return m.globals }

func (m *mockModule) SparsePageData(page int) []byte {
	return m.sparse[page]
}

func (m *mockModule) GetExportFunc(name string) (FunctionHandle, error) {
	fh, ok := m.exports[name]
	if !ok {
		return FunctionHandle{}, errors.SymbolNotFound(name)
	}
	return fh, nil
}

func (m *mockModule) GetFuncFromIdx(tableIdx, funcIdx uint32) (FunctionHandle, error) {
	name, ok := m.table[uint64(tableIdx)<<32|uint64(funcIdx)]
	if !ok {
		return FunctionHandle{}, errors.FuncNotFound(tableIdx, funcIdx)
	}
	return m.GetExportFunc(name)
}

func (m *mockModule) GetStartFunc() (FunctionHandle, bool) {
	if !m.hasStart {
		return FunctionHandle{}, false
	}
	fh := m.exports[m.startName]
	return fh, true
}

func (m *mockModule) TrapManifest() []TrapManifestRecord { return m.manifest }

func (m *mockModule) LookupTrapcode(pc uintptr) (trapcode.Code, bool) {
	return LookupTrapcode(m.manifest, pc)
}

func (m *mockModule) AddrDetails(pc uintptr) (AddrDetails, bool) {
	for name, fh := range m.exports {
		if pc >= fh.Addr && pc < fh.Addr+fh.Len {
			return AddrDetails{InModuleCode: true, FileName: m.name, SymName: name}, true
		}
	}
	return AddrDetails{}, false
}
