package oat

// fakeDexFile is a minimal in-memory DexFile used by the planning/writing
// tests. It does not parse real DEX binaries (see the sibling dexfile
// package for that); it just hands back whatever the test configured.
type fakeDexFile struct {
	location string
	checksum uint32
	bytes    []byte
	classes  []fakeClassDef
}

type fakeClassDef struct {
	hasData bool
	direct  []MethodRef
	virtual []MethodRef
	shorty  map[int]string
}

func (f *fakeDexFile) Location() string         { return f.location }
func (f *fakeDexFile) LocationChecksum() uint32 { return f.checksum }
func (f *fakeDexFile) FileSize() uint32         { return uint32(len(f.bytes)) }
func (f *fakeDexFile) NumClassDefs() int        { return len(f.classes) }
func (f *fakeDexFile) Bytes() []byte            { return f.bytes }

func (f *fakeDexFile) ClassData(classDefIdx int) ([]byte, bool) {
	c := f.classes[classDefIdx]
	if !c.hasData {
		return nil, false
	}
	return []byte{0}, true
}

func (f *fakeDexFile) Methods(classDefIdx int) (direct, virtual []MethodRef) {
	c := f.classes[classDefIdx]
	return c.direct, c.virtual
}

func (f *fakeDexFile) MethodShorty(methodIdx int) string {
	for _, c := range f.classes {
		if s, ok := c.shorty[methodIdx]; ok {
			return s
		}
	}
	return "V"
}

// fakeCompiler hands back pre-configured compiled methods and stubs keyed by
// method index, using slice/map identity (via explicit BlobID fields) for
// dedup rather than content.
type fakeCompiler struct {
	isa         InstructionSet
	isImage     bool
	classStatus map[int]ClassStatus // classDefIdx -> status, absent means "ask verifier"
	methods     map[int]*CompiledMethod
	invokeStubs map[string]*Stub // key: shorty (both static variants share in these tests)
	proxyStubs  map[string]*Stub
}

func (f *fakeCompiler) InstructionSet() InstructionSet { return f.isa }
func (f *fakeCompiler) IsImage() bool                  { return f.isImage }

func (f *fakeCompiler) CompiledClass(dex DexFile, classDefIdx int) (ClassStatus, bool) {
	s, ok := f.classStatus[classDefIdx]
	return s, ok
}

func (f *fakeCompiler) CompiledMethod(dex DexFile, methodIdx int) (*CompiledMethod, bool) {
	m, ok := f.methods[methodIdx]
	return m, ok
}

func (f *fakeCompiler) InvokeStub(isStatic bool, shorty string) (*Stub, bool) {
	s, ok := f.invokeStubs[shorty]
	return s, ok
}

func (f *fakeCompiler) ProxyStub(shorty string) (*Stub, bool) {
	s, ok := f.proxyStubs[shorty]
	return s, ok
}

type fakeVerifier struct {
	rejected map[int]bool
}

func (v *fakeVerifier) IsClassRejected(dex DexFile, classDefIdx int) bool {
	return v.rejected[classDefIdx]
}
