package module

import (
	"testing"

	"github.com/wippyai/sandbox-runtime/trapcode"
	"github.com/wippyai/sandbox-runtime/val"
)

func TestTrapManifestLookup(t *testing.T) {
	rec := TrapManifestRecord{
		FuncAddr: 0x10000,
		FuncLen:  0x100,
		Sites: []TrapSite{
			{Offset: 0x10, Code: trapcode.IntegerDivByZero},
			{Offset: 0x40, Code: trapcode.HeapOutOfBounds},
			{Offset: 0xff, Code: trapcode.BadSignature},
		},
	}
	manifest := []TrapManifestRecord{rec}

	if code, ok := LookupTrapcode(manifest, 0x10010); !ok || code != trapcode.IntegerDivByZero {
		t.Errorf("site 0x10: got (%v, %v)", code, ok)
	}
	if code, ok := LookupTrapcode(manifest, 0x100ff); !ok || code != trapcode.BadSignature {
		t.Errorf("last-byte site: got (%v, %v)", code, ok)
	}

	// Inside the range but not a recorded site.
	if _, ok := LookupTrapcode(manifest, 0x10011); ok {
		t.Error("unrecorded offset reported as a site")
	}
	// One past the end of the range.
	if _, ok := LookupTrapcode(manifest, 0x10100); ok {
		t.Error("pc past range end matched")
	}
	// Below the range.
	if _, ok := LookupTrapcode(manifest, 0xffff); ok {
		t.Error("pc below range matched")
	}
}

func TestMockModuleLookups(t *testing.T) {
	fn := func(vm Vmctx, args []val.Val) val.UntypedRetVal { return val.RetGp(0) }

	m, err := NewMockModuleBuilder().
		WithName("lookups").
		WithExportFunc("f", fn, Signature{Ret: val.KindU64}).
		WithTableFunc(0, 3, "f").
		WithTrapSite("f", 0x8, trapcode.Unreachable).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	fh, err := m.GetExportFunc("f")
	if err != nil {
		t.Fatalf("export lookup: %v", err)
	}
	if fh.Addr == 0 {
		t.Error("export has no derived code range")
	}

	if _, err := m.GetExportFunc("missing"); err == nil {
		t.Error("missing export not rejected")
	}
	if _, err := m.GetFuncFromIdx(0, 3); err != nil {
		t.Errorf("table lookup: %v", err)
	}
	if _, err := m.GetFuncFromIdx(0, 4); err == nil {
		t.Error("missing table entry not rejected")
	}

	if code, ok := m.LookupTrapcode(fh.Addr + 0x8); !ok || code != trapcode.Unreachable {
		t.Errorf("trap site lookup: got (%v, %v)", code, ok)
	}
	if details, ok := m.AddrDetails(fh.Addr + 1); !ok || !details.InModuleCode || details.SymName != "f" {
		t.Errorf("addr details: got (%+v, %v)", details, ok)
	}

	if _, err := NewMockModuleBuilder().WithImportGlobal("env.g").Build(); err == nil {
		t.Error("import global accepted at build")
	}
	if _, err := NewMockModuleBuilder().WithStartFunc("nope").Build(); err == nil {
		t.Error("dangling start function accepted")
	}
}
