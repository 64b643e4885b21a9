// Package nativecode is a concrete oat.Compiler backed by an explicit
// registry of compiled methods, invoke stubs, and proxy stubs, modeled on
// the compiled-method value shape in vm/compiled_method.go. Unlike that
// file's ContentStore (content_store.go), which addresses methods by a
// SHA-256 of their structure, this registry hands out its own monotonically
// increasing BlobIDs: the OAT writer's dedup tables must key on artifact
// identity, never on content, so two methods that happen to compile to
// identical bytes still get their own ID unless the caller deliberately
// shares one.
package nativecode

import "github.com/chazu/oatwriter/oat"

// Method is one compiled method as handed to the registry. Two Methods
// sharing the same Code slice should also share an explicit ShareID so
// RegisterMethod can intern them under the same BlobID; otherwise each
// registration mints a fresh one.
type Method struct {
	DexLocation string
	MethodIdx   int
	Code        []byte
	ShareID     string // optional: methods with equal ShareID dedup to the same BlobID

	CodeDelta     uint32
	FrameSize     uint32
	CoreSpillMask uint32
	FPSpillMask   uint32
	MappingTable  []uint32
	VMapTable     []uint16
	GCMap         []byte
}

// Compiler implements oat.Compiler over a fixed registry of compiled
// methods, class statuses, and stubs, assembled ahead of time by the build
// driver from an upstream bytecode compiler's output.
type Compiler struct {
	isa     oat.InstructionSet
	isImage bool

	nextBlobID oat.BlobID
	shareIDs   map[string]oat.BlobID

	classStatus map[classKey]oat.ClassStatus
	methods     map[methodKey]*oat.CompiledMethod
	invokeStubs map[stubKey]*oat.Stub
	proxyStubs  map[string]*oat.Stub
}

type classKey struct {
	dexLocation string
	classDefIdx int
}

type methodKey struct {
	dexLocation string
	methodIdx   int
}

type stubKey struct {
	isStatic bool
	shorty   string
}

// NewCompiler creates an empty registry targeting isa. isImage marks whether
// this build is producing a boot image (oat.Compiler.IsImage).
func NewCompiler(isa oat.InstructionSet, isImage bool) *Compiler {
	return &Compiler{
		isa:         isa,
		isImage:     isImage,
		shareIDs:    make(map[string]oat.BlobID),
		classStatus: make(map[classKey]oat.ClassStatus),
		methods:     make(map[methodKey]*oat.CompiledMethod),
		invokeStubs: make(map[stubKey]*oat.Stub),
		proxyStubs:  make(map[string]*oat.Stub),
	}
}

// blobID mints a fresh BlobID, or returns the one already assigned to
// shareID if shareID is non-empty and has been seen before.
func (c *Compiler) blobID(shareID string) oat.BlobID {
	if shareID != "" {
		if id, ok := c.shareIDs[shareID]; ok {
			return id
		}
	}
	c.nextBlobID++
	id := c.nextBlobID
	if shareID != "" {
		c.shareIDs[shareID] = id
	}
	return id
}

// SetClassStatus records a class-def's compiled status so the planning pass
// does not have to fall back to the verifier.
func (c *Compiler) SetClassStatus(dexLocation string, classDefIdx int, status oat.ClassStatus) {
	c.classStatus[classKey{dexLocation, classDefIdx}] = status
}

// RegisterMethod compiles m into the registry, returning the BlobID it was
// assigned for its code (tests and callers that need to assert dedup
// behavior can compare this value across two registrations with the same
// ShareID).
func (c *Compiler) RegisterMethod(m Method) oat.BlobID {
	codeID := c.blobID(m.ShareID)
	tableShareID := func(suffix string) string {
		if m.ShareID == "" {
			return ""
		}
		return m.ShareID + suffix
	}
	var mappingID, vmapID, gcmapID oat.BlobID
	if len(m.MappingTable) > 0 {
		mappingID = c.blobID(tableShareID("#mapping"))
	}
	if len(m.VMapTable) > 0 {
		vmapID = c.blobID(tableShareID("#vmap"))
	}
	if len(m.GCMap) > 0 {
		gcmapID = c.blobID(tableShareID("#gcmap"))
	}

	c.methods[methodKey{m.DexLocation, m.MethodIdx}] = &oat.CompiledMethod{
		Code:           m.Code,
		CodeID:         codeID,
		CodeDelta:      m.CodeDelta,
		FrameSize:      m.FrameSize,
		CoreSpillMask:  m.CoreSpillMask,
		FPSpillMask:    m.FPSpillMask,
		MappingTable:   m.MappingTable,
		MappingTableID: mappingID,
		VMapTable:      m.VMapTable,
		VMapTableID:    vmapID,
		GCMap:          m.GCMap,
		GCMapID:        gcmapID,
	}
	return codeID
}

// RegisterInvokeStub registers a pre-compiled entry trampoline keyed by
// (isStatic, shorty), as looked up during the code phase for every method.
func (c *Compiler) RegisterInvokeStub(isStatic bool, shorty string, code []byte, shareID string, codeDelta uint32) {
	c.invokeStubs[stubKey{isStatic, shorty}] = &oat.Stub{
		Code:      code,
		CodeID:    c.blobID(shareID),
		CodeDelta: codeDelta,
	}
}

// RegisterProxyStub registers a proxy-stub keyed by shorty alone. Only
// consulted when the writer was built WithProxyStubs(true).
func (c *Compiler) RegisterProxyStub(shorty string, code []byte, shareID string, codeDelta uint32) {
	c.proxyStubs[shorty] = &oat.Stub{
		Code:      code,
		CodeID:    c.blobID(shareID),
		CodeDelta: codeDelta,
	}
}

func (c *Compiler) InstructionSet() oat.InstructionSet { return c.isa }
func (c *Compiler) IsImage() bool                      { return c.isImage }

func (c *Compiler) CompiledClass(dex oat.DexFile, classDefIdx int) (oat.ClassStatus, bool) {
	s, ok := c.classStatus[classKey{dex.Location(), classDefIdx}]
	return s, ok
}

func (c *Compiler) CompiledMethod(dex oat.DexFile, methodIdx int) (*oat.CompiledMethod, bool) {
	m, ok := c.methods[methodKey{dex.Location(), methodIdx}]
	return m, ok
}

func (c *Compiler) InvokeStub(isStatic bool, shorty string) (*oat.Stub, bool) {
	s, ok := c.invokeStubs[stubKey{isStatic, shorty}]
	return s, ok
}

func (c *Compiler) ProxyStub(shorty string) (*oat.Stub, bool) {
	s, ok := c.proxyStubs[shorty]
	return s, ok
}
