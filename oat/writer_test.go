package oat

import (
	"bytes"
	"testing"
)

func TestEmptyInput(t *testing.T) {
	compiler := &fakeCompiler{isa: ISAArm64}
	w, err := NewWriter(compiler, nil, nil, "")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if w.FinalOffset() != RoundUp(headerSize, PageSize) {
		t.Errorf("final offset = %d, want %d", w.FinalOffset(), RoundUp(headerSize, PageSize))
	}
	if w.Header().ExecutableOffset != w.FinalOffset() {
		t.Errorf("executable offset = %d, want %d", w.Header().ExecutableOffset, w.FinalOffset())
	}

	stream := NewBufferStream("mem")
	if err := w.Write(stream); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if uint32(len(stream.Bytes())) != w.FinalOffset() {
		t.Errorf("written length = %d, want %d", len(stream.Bytes()), w.FinalOffset())
	}
}

func TestOneEmptyClass(t *testing.T) {
	dex := &fakeDexFile{
		location: "classes.dex",
		checksum: 0xabcd,
		bytes:    []byte{1, 2, 3, 4},
		classes:  []fakeClassDef{{hasData: false}},
	}
	compiler := &fakeCompiler{isa: ISAArm64}
	w, err := NewWriter(compiler, nil, []DexFile{dex}, "")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if len(w.classPlans) != 1 {
		t.Fatalf("expected 1 class plan, got %d", len(w.classPlans))
	}
	cp := w.classPlans[0]
	if cp.oatClass.Status != StatusNotReady {
		t.Errorf("status = %v, want StatusNotReady", cp.oatClass.Status)
	}
	if len(cp.oatClass.Methods) != 0 {
		t.Errorf("expected zero methods, got %d", len(cp.oatClass.Methods))
	}
	if w.oatDexFiles[0].MethodsOffsets[0] == 0 {
		t.Errorf("methods_offsets[0] should be a real table offset, got 0")
	}

	stream := NewBufferStream("mem")
	if err := w.Write(stream); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if uint32(len(stream.Bytes())) != w.FinalOffset() {
		t.Errorf("written length mismatch")
	}
}

func TestOneConcreteMethod(t *testing.T) {
	dex := &fakeDexFile{
		location: "classes.dex",
		checksum: 1,
		bytes:    []byte{0xAA, 0xBB, 0xCC, 0xDD},
		classes: []fakeClassDef{{
			hasData: true,
			direct:  []MethodRef{{MethodIdx: 0, AccessFlags: AccStatic}},
			shorty:  map[int]string{0: "V"},
		}},
	}
	code := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	compiler := &fakeCompiler{
		isa: ISAArm64,
		methods: map[int]*CompiledMethod{
			0: {Code: code, CodeID: 1},
		},
	}
	w, err := NewWriter(compiler, nil, []DexFile{dex}, "")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	mp := w.classPlans[0].methods[0]
	if mp.code.storedOffset != w.Header().ExecutableOffset+4 {
		t.Errorf("code offset = %d, want %d", mp.code.storedOffset, w.Header().ExecutableOffset+4)
	}
	if w.classPlans[0].oatClass.Methods[0].CodeOffset != mp.code.storedOffset {
		t.Errorf("OatMethodOffsets.CodeOffset mismatch")
	}
	for _, off := range []uint32{
		w.classPlans[0].oatClass.Methods[0].MappingTableOffset,
		w.classPlans[0].oatClass.Methods[0].VmapTableOffset,
		w.classPlans[0].oatClass.Methods[0].GCMapOffset,
	} {
		if off != 0 {
			t.Errorf("expected zero table offset, got %d", off)
		}
	}

	stream := NewBufferStream("mem")
	if err := w.Write(stream); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := stream.Bytes()[w.Header().ExecutableOffset+4 : w.Header().ExecutableOffset+4+8]
	if !bytes.Equal(got, code) {
		t.Errorf("code bytes = %v, want %v", got, code)
	}
}

func TestSharedCodeBlobDeduplicates(t *testing.T) {
	dex := &fakeDexFile{
		location: "classes.dex",
		checksum: 1,
		bytes:    []byte{1, 2, 3, 4},
		classes: []fakeClassDef{{
			hasData: true,
			direct: []MethodRef{
				{MethodIdx: 0, AccessFlags: AccStatic},
				{MethodIdx: 1, AccessFlags: AccStatic},
			},
			shorty: map[int]string{0: "V", 1: "V"},
		}},
	}
	code := []byte{9, 9, 9, 9}
	compiler := &fakeCompiler{
		isa: ISAArm64,
		methods: map[int]*CompiledMethod{
			0: {Code: code, CodeID: 42},
			1: {Code: code, CodeID: 42},
		},
	}
	w, err := NewWriter(compiler, nil, []DexFile{dex}, "")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	m0 := w.classPlans[0].methods[0]
	m1 := w.classPlans[0].methods[1]
	if m0.code.storedOffset != m1.code.storedOffset {
		t.Errorf("shared blob offsets differ: %d vs %d", m0.code.storedOffset, m1.code.storedOffset)
	}
	if !m0.code.isNew || m1.code.isNew {
		t.Errorf("expected first occurrence new, second a dedup hit")
	}

	stream := NewBufferStream("mem")
	if err := w.Write(stream); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if uint32(len(stream.Bytes())) != w.FinalOffset() {
		t.Errorf("written length mismatch: only one copy of the code should be emitted")
	}
}

func TestArmThumbCodeDelta(t *testing.T) {
	dex := &fakeDexFile{
		location: "classes.dex",
		checksum: 1,
		bytes:    []byte{1, 2, 3, 4},
		classes: []fakeClassDef{{
			hasData: true,
			direct:  []MethodRef{{MethodIdx: 0, AccessFlags: AccStatic}},
			shorty:  map[int]string{0: "V"},
		}},
	}
	code := []byte{1, 2, 3, 4}
	compiler := &fakeCompiler{
		isa: ISAArm,
		methods: map[int]*CompiledMethod{
			0: {Code: code, CodeID: 7, CodeDelta: 1},
		},
	}
	w, err := NewWriter(compiler, nil, []DexFile{dex}, "")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	mp := w.classPlans[0].methods[0]
	wantStored := mp.alignedOffset + 4 + 1
	if mp.code.storedOffset != wantStored {
		t.Errorf("stored code offset = %d, want %d", mp.code.storedOffset, wantStored)
	}

	stream := NewBufferStream("mem")
	if err := w.Write(stream); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := stream.Bytes()[mp.alignedOffset+4 : mp.alignedOffset+4+4]
	if !bytes.Equal(got, code) {
		t.Errorf("bytes on disk should start at alignedOffset+4, unaffected by code_delta")
	}
}

func TestInvokeStubRealignsAfterOddSizedCode(t *testing.T) {
	dex := &fakeDexFile{
		location: "classes.dex",
		checksum: 1,
		bytes:    []byte{1, 2, 3, 4},
		classes: []fakeClassDef{{
			hasData: true,
			direct:  []MethodRef{{MethodIdx: 0, AccessFlags: AccStatic}},
			shorty:  map[int]string{0: "V"},
		}},
	}
	code := []byte{1, 2, 3, 4, 5, 6, 7, 8} // 8 bytes: leaves the cursor at alignedOffset+4+8, not 16-aligned
	stub := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	compiler := &fakeCompiler{
		isa: ISAArm64,
		methods: map[int]*CompiledMethod{
			0: {Code: code, CodeID: 1},
		},
		invokeStubs: map[string]*Stub{
			"V": {Code: stub, CodeID: 2},
		},
	}
	w, err := NewWriter(compiler, nil, []DexFile{dex}, "")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	mp := w.classPlans[0].methods[0]

	codeEnd := mp.code.physOffset + 4 + uint32(len(code))
	if codeEnd%16 == 0 {
		t.Fatalf("test setup error: code end %d is already 16-aligned", codeEnd)
	}
	if mp.invokeStubOffset%16 != 0 {
		t.Errorf("invoke stub offset %d is not 16-aligned", mp.invokeStubOffset)
	}
	if mp.invokeStubOffset < codeEnd {
		t.Errorf("invoke stub offset %d overlaps the method's code, which ends at %d", mp.invokeStubOffset, codeEnd)
	}

	stream := NewBufferStream("mem")
	if err := w.Write(stream); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got := stream.Bytes()[mp.invokeStubOffset+4 : mp.invokeStubOffset+4+uint32(len(stub))]
	if !bytes.Equal(got, stub) {
		t.Errorf("invoke stub bytes = %v, want %v", got, stub)
	}
}

func TestVerifierRejectedClassReservesSlots(t *testing.T) {
	dex0 := &fakeDexFile{location: "a.dex", checksum: 1, bytes: []byte{1, 2, 3, 4}, classes: []fakeClassDef{{hasData: false}}}
	dex1 := &fakeDexFile{
		location: "b.dex",
		checksum: 2,
		bytes:    []byte{5, 6, 7, 8},
		classes: []fakeClassDef{{
			hasData: true,
			direct:  []MethodRef{{MethodIdx: 0, AccessFlags: AccStatic}},
			shorty:  map[int]string{0: "V"},
		}},
	}
	compiler := &fakeCompiler{isa: ISAArm64}
	verifier := &fakeVerifier{rejected: map[int]bool{0: true}}
	w, err := NewWriter(compiler, verifier, []DexFile{dex0, dex1}, "")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	rejected := w.classPlans[1].oatClass
	if rejected.Status != StatusError {
		t.Errorf("status = %v, want StatusError", rejected.Status)
	}
	if len(rejected.Methods) != 1 {
		t.Errorf("expected reserved method slot despite rejection, got %d", len(rejected.Methods))
	}
}

func TestDeterministicOutput(t *testing.T) {
	dex := &fakeDexFile{
		location: "classes.dex",
		checksum: 99,
		bytes:    []byte{1, 2, 3, 4},
		classes: []fakeClassDef{{
			hasData: true,
			direct:  []MethodRef{{MethodIdx: 0, AccessFlags: AccStatic}},
			shorty:  map[int]string{0: "V"},
		}},
	}
	newCompiler := func() Compiler {
		return &fakeCompiler{isa: ISAArm64, methods: map[int]*CompiledMethod{0: {Code: []byte{1, 2, 3, 4}, CodeID: 1}}}
	}

	w1, err := NewWriter(newCompiler(), nil, []DexFile{dex}, "loc")
	if err != nil {
		t.Fatalf("NewWriter 1: %v", err)
	}
	w2, err := NewWriter(newCompiler(), nil, []DexFile{dex}, "loc")
	if err != nil {
		t.Fatalf("NewWriter 2: %v", err)
	}
	s1, s2 := NewBufferStream("a"), NewBufferStream("b")
	if err := w1.Write(s1); err != nil {
		t.Fatal(err)
	}
	if err := w2.Write(s2); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(s1.Bytes(), s2.Bytes()) {
		t.Errorf("two writes of the same input produced different bytes")
	}
}

func TestDexFileChecksumAggregate(t *testing.T) {
	dex0 := &fakeDexFile{location: "a.dex", checksum: 0x1, bytes: []byte{0}, classes: nil}
	dex1 := &fakeDexFile{location: "b.dex", checksum: 0x2, bytes: []byte{0}, classes: nil}
	compiler := &fakeCompiler{isa: ISAArm64}
	w, err := NewWriter(compiler, nil, []DexFile{dex0, dex1}, "")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if w.Header().DexFileChecksum != (0x1 ^ 0x2) {
		t.Errorf("dex file checksum = %#x, want %#x", w.Header().DexFileChecksum, 0x1^0x2)
	}
}

func TestOatClassCountMatchesClassDefCount(t *testing.T) {
	dex0 := &fakeDexFile{location: "a.dex", checksum: 1, bytes: []byte{0}, classes: []fakeClassDef{{}, {}}}
	dex1 := &fakeDexFile{location: "b.dex", checksum: 2, bytes: []byte{0}, classes: []fakeClassDef{{}}}
	compiler := &fakeCompiler{isa: ISAArm64}
	w, err := NewWriter(compiler, nil, []DexFile{dex0, dex1}, "")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if len(w.classPlans) != 3 {
		t.Errorf("class plan count = %d, want 3 (2 + 1)", len(w.classPlans))
	}
}

func TestSeekMismatchIsFatal(t *testing.T) {
	dex := &fakeDexFile{location: "a.dex", checksum: 1, bytes: []byte{1, 2, 3, 4}, classes: nil}
	compiler := &fakeCompiler{isa: ISAArm64}
	w, err := NewWriter(compiler, nil, []DexFile{dex}, "")
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	stream := &brokenSeekStream{BufferStream: NewBufferStream("broken")}
	err = w.Write(stream)
	if err == nil {
		t.Fatal("expected a seek-mismatch error")
	}
	var writeErr *WriteError
	if !asWriteError(err, &writeErr) {
		t.Fatalf("expected *WriteError, got %T: %v", err, err)
	}
}

// brokenSeekStream always reports landing one byte short of the requested
// absolute offset, simulating a buggy or hostile OutputStream.
type brokenSeekStream struct {
	*BufferStream
}

func (b *brokenSeekStream) Seek(offset int64, whence int) (int64, error) {
	pos, err := b.BufferStream.Seek(offset, whence)
	if err != nil {
		return pos, err
	}
	return pos - 1, nil
}

func asWriteError(err error, target **WriteError) bool {
	we, ok := err.(*WriteError)
	if !ok {
		return false
	}
	*target = we
	return true
}
