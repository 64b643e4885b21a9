package oat

// BlobID is an opaque, compiler-assigned handle identifying a compiled
// artifact (code, mapping table, vmap table, or gc map) by identity rather
// than by content. Two calls returning the same BlobID must refer to the
// same artifact; the writer never hashes blob contents to decide sharing.
// Zero is reserved and means "no artifact" (an empty table).
type BlobID uint64

// InvokeType mirrors a DEX method reference's invoke kind.
type InvokeType int

const (
	InvokeDirect InvokeType = iota
	InvokeVirtual
	InvokeStatic
	InvokeSuper
	InvokeInterface
)

// MethodRef is one entry in a class-def's direct or virtual method list, as
// handed out by DexFile's method iteration.
type MethodRef struct {
	MethodIdx   int
	AccessFlags uint32
	InvokeType  InvokeType
}

// AccStatic is the DEX access-flags bit marking a method static.
const AccStatic uint32 = 0x0008

// IsStatic reports whether the method's access flags mark it static.
func (m MethodRef) IsStatic() bool { return m.AccessFlags&AccStatic != 0 }

// DexFile is the narrow view of an input bytecode container the writer
// consumes. Concrete implementations live outside this package (see the
// sibling dexfile package for one backed by real DEX binaries).
type DexFile interface {
	Location() string
	LocationChecksum() uint32
	FileSize() uint32
	NumClassDefs() int
	// ClassData returns the raw class_data_item bytes for a class-def, and
	// false if the class-def has no class data (a marker-interface class).
	ClassData(classDefIdx int) ([]byte, bool)
	// Methods returns the direct and virtual methods declared by a
	// class-def's class data, in DEX iteration order.
	Methods(classDefIdx int) (direct, virtual []MethodRef)
	MethodShorty(methodIdx int) string
	// Bytes returns the FileSize()-byte payload to embed verbatim.
	Bytes() []byte
}

// CompiledMethod is what the compiler hands back for one method. Tables with
// zero length are considered absent and always record a zero offset.
type CompiledMethod struct {
	Code      []byte
	CodeID    BlobID
	CodeDelta uint32

	FrameSize     uint32
	CoreSpillMask uint32
	FPSpillMask   uint32

	MappingTable   []uint32
	MappingTableID BlobID
	VMapTable      []uint16
	VMapTableID    BlobID
	GCMap          []byte
	GCMapID        BlobID
}

// Stub is a pre-compiled entry trampoline: an invoke stub keyed by
// (is_static, shorty), or a proxy stub keyed by shorty alone.
type Stub struct {
	Code      []byte
	CodeID    BlobID
	CodeDelta uint32
}

// Compiler is the source of truth for compiled artifacts and their identity.
// The writer never inspects blob contents for equality: CodeID/TableID values
// are the only dedup key it ever uses.
type Compiler interface {
	InstructionSet() InstructionSet
	IsImage() bool
	CompiledClass(dex DexFile, classDefIdx int) (ClassStatus, bool)
	CompiledMethod(dex DexFile, methodIdx int) (*CompiledMethod, bool)
	InvokeStub(isStatic bool, shorty string) (*Stub, bool)
	// ProxyStub is optional; implementations that never enable proxy stubs
	// should always return (nil, false).
	ProxyStub(shorty string) (*Stub, bool)
}

// Verifier answers whether a class-def failed verification, which the
// planning pass uses to assign StatusError in the absence of a compiled
// class.
type Verifier interface {
	IsClassRejected(dex DexFile, classDefIdx int) bool
}

// OutputStream is the sink the writing pass emits bytes to. whence follows
// io.Seek* semantics. Seek must report back the stream's new absolute
// position so the writer can assert it against the planned offset.
type OutputStream interface {
	WriteFully(p []byte) error
	Seek(offset int64, whence int) (int64, error)
	Location() string
}
