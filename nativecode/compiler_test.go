package nativecode

import (
	"testing"

	"github.com/chazu/oatwriter/oat"
)

type fakeDex struct{ loc string }

func (f fakeDex) Location() string                          { return f.loc }
func (f fakeDex) LocationChecksum() uint32                   { return 0 }
func (f fakeDex) FileSize() uint32                           { return 0 }
func (f fakeDex) NumClassDefs() int                          { return 0 }
func (f fakeDex) ClassData(int) ([]byte, bool)               { return nil, false }
func (f fakeDex) Methods(int) ([]oat.MethodRef, []oat.MethodRef) { return nil, nil }
func (f fakeDex) MethodShorty(int) string                    { return "V" }
func (f fakeDex) Bytes() []byte                              { return nil }

func TestRegisterMethodAssignsDistinctBlobIDs(t *testing.T) {
	c := NewCompiler(oat.ISAArm64, false)
	dex := fakeDex{loc: "a.dex"}

	id0 := c.RegisterMethod(Method{DexLocation: dex.loc, MethodIdx: 0, Code: []byte{1, 2}})
	id1 := c.RegisterMethod(Method{DexLocation: dex.loc, MethodIdx: 1, Code: []byte{1, 2}})
	if id0 == id1 {
		t.Errorf("methods without a shared ShareID should get distinct BlobIDs, got %d == %d", id0, id1)
	}

	m0, ok := c.CompiledMethod(dex, 0)
	if !ok {
		t.Fatal("expected method 0 to be registered")
	}
	if m0.CodeID != id0 {
		t.Errorf("CodeID = %v, want %v", m0.CodeID, id0)
	}
}

func TestRegisterMethodSharesBlobIDByShareID(t *testing.T) {
	c := NewCompiler(oat.ISAArm64, false)
	dex := fakeDex{loc: "a.dex"}

	id0 := c.RegisterMethod(Method{DexLocation: dex.loc, MethodIdx: 0, Code: []byte{9, 9}, ShareID: "stub:init"})
	id1 := c.RegisterMethod(Method{DexLocation: dex.loc, MethodIdx: 1, Code: []byte{9, 9}, ShareID: "stub:init"})
	if id0 != id1 {
		t.Errorf("methods sharing a ShareID should share a BlobID, got %v != %v", id0, id1)
	}
}

func TestInvokeStubLookup(t *testing.T) {
	c := NewCompiler(oat.ISAArm64, false)
	c.RegisterInvokeStub(true, "V", []byte{0xEE}, "", 0)

	stub, ok := c.InvokeStub(true, "V")
	if !ok {
		t.Fatal("expected invoke stub to be found")
	}
	if len(stub.Code) != 1 || stub.Code[0] != 0xEE {
		t.Errorf("unexpected stub code %v", stub.Code)
	}

	if _, ok := c.InvokeStub(false, "V"); ok {
		t.Errorf("expected no stub for is_static=false")
	}
}
