package oat

import "encoding/binary"

// OatMagic identifies an OAT file. OatVersion is bumped whenever the on-disk
// layout changes incompatibly.
var OatMagic = [4]byte{'o', 'a', 't', '\n'}

const OatVersion uint32 = 1

// headerSize is the fixed size of OatHeader on disk: nine little-endian
// uint32 fields (magic packed as one, version, checksum, instruction set,
// dex-file aggregate checksum, image anchor checksum, image anchor begin,
// executable offset, image-location string length).
const headerSize = 9 * 4

// OatHeader is the fixed-size leading record of an OAT file.
type OatHeader struct {
	Magic                         [4]byte
	Version                       uint32
	Checksum                      uint32
	InstructionSet                InstructionSet
	DexFileChecksum               uint32 // XOR of every input dex's location checksum
	ImageFileLocationOatChecksum  uint32 // anchor checksum of a previously produced image, or 0
	ImageFileLocationOatDataBegin uint32 // anchor begin-address, or 0
	ExecutableOffset              uint32 // patched during planning, before the header is emitted
	ImageFileLocationSize         uint32 // length of the image-location string that follows
}

func newOatHeader(isa InstructionSet, dexChecksum uint32, anchorChecksum, anchorBegin uint32, imageLocationLen int) OatHeader {
	return OatHeader{
		Magic:                         OatMagic,
		Version:                       OatVersion,
		InstructionSet:                isa,
		DexFileChecksum:               dexChecksum,
		ImageFileLocationOatChecksum:  anchorChecksum,
		ImageFileLocationOatDataBegin: anchorBegin,
		ImageFileLocationSize:         uint32(imageLocationLen),
	}
}

// encode serializes the header with the given (already finalized) checksum.
func (h OatHeader) encode(checksum uint32) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], h.Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint32(buf[8:12], checksum)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(h.InstructionSet))
	binary.LittleEndian.PutUint32(buf[16:20], h.DexFileChecksum)
	binary.LittleEndian.PutUint32(buf[20:24], h.ImageFileLocationOatChecksum)
	binary.LittleEndian.PutUint32(buf[24:28], h.ImageFileLocationOatDataBegin)
	binary.LittleEndian.PutUint32(buf[28:32], h.ExecutableOffset)
	binary.LittleEndian.PutUint32(buf[32:36], h.ImageFileLocationSize)
	return buf
}

// ClassStatus mirrors the class-load status lattice the spec names.
type ClassStatus uint32

const (
	StatusNotReady ClassStatus = iota
	StatusError
	StatusVerified
	StatusInitialized
)

// OatMethodOffsets is the value record embedded per method inside an
// OatClass's method table.
type OatMethodOffsets struct {
	CodeOffset         uint32
	FrameSize          uint32
	CoreSpillMask      uint32
	FPSpillMask        uint32
	MappingTableOffset uint32
	VmapTableOffset    uint32
	GCMapOffset        uint32
	InvokeStubOffset   uint32
	ProxyStubOffset    uint32 // only present on disk when proxy stubs are enabled
}

func methodOffsetsSize(proxyEnabled bool) uint32 {
	if proxyEnabled {
		return 9 * 4
	}
	return 8 * 4
}

func (m OatMethodOffsets) encode(proxyEnabled bool) []byte {
	buf := make([]byte, methodOffsetsSize(proxyEnabled))
	binary.LittleEndian.PutUint32(buf[0:4], m.CodeOffset)
	binary.LittleEndian.PutUint32(buf[4:8], m.FrameSize)
	binary.LittleEndian.PutUint32(buf[8:12], m.CoreSpillMask)
	binary.LittleEndian.PutUint32(buf[12:16], m.FPSpillMask)
	binary.LittleEndian.PutUint32(buf[16:20], m.MappingTableOffset)
	binary.LittleEndian.PutUint32(buf[20:24], m.VmapTableOffset)
	binary.LittleEndian.PutUint32(buf[24:28], m.GCMapOffset)
	binary.LittleEndian.PutUint32(buf[28:32], m.InvokeStubOffset)
	if proxyEnabled {
		binary.LittleEndian.PutUint32(buf[32:36], m.ProxyStubOffset)
	}
	return buf
}

// OatDexFile is the per-dex record: location, location checksum, the offset
// the embedded dex payload starts at, and a per-class-def table of method
// table offsets.
type OatDexFile struct {
	Location       string
	LocationChecksum uint32
	DexFileOffset  uint32
	MethodsOffsets []uint32 // sized by the dex's class-def count
}

func newOatDexFile(dex DexFile) *OatDexFile {
	return &OatDexFile{
		Location:         dex.Location(),
		LocationChecksum: dex.LocationChecksum(),
		MethodsOffsets:   make([]uint32, dex.NumClassDefs()),
	}
}

// SizeOf is length-of(u32) + location bytes + u32 checksum + u32 dex offset +
// num-class-defs * u32 per-class offset.
func (d *OatDexFile) SizeOf() uint32 {
	return 4 + uint32(len(d.Location)) + 4 + 4 + 4*uint32(len(d.MethodsOffsets))
}

func (d *OatDexFile) encode() []byte {
	buf := make([]byte, d.SizeOf())
	off := 0
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(d.Location)))
	off += 4
	copy(buf[off:off+len(d.Location)], d.Location)
	off += len(d.Location)
	binary.LittleEndian.PutUint32(buf[off:off+4], d.LocationChecksum)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], d.DexFileOffset)
	off += 4
	for _, mo := range d.MethodsOffsets {
		binary.LittleEndian.PutUint32(buf[off:off+4], mo)
		off += 4
	}
	return buf
}

// OatClass is the per-class-def record: load status plus the flattened
// method-offset array for that class's direct+virtual methods.
type OatClass struct {
	Status  ClassStatus
	Methods []OatMethodOffsets
}

func (c *OatClass) SizeOf(proxyEnabled bool) uint32 {
	return 4 + uint32(len(c.Methods))*methodOffsetsSize(proxyEnabled)
}

func (c *OatClass) encode(proxyEnabled bool) []byte {
	buf := make([]byte, 4, c.SizeOf(proxyEnabled))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(c.Status))
	for _, m := range c.Methods {
		buf = append(buf, m.encode(proxyEnabled)...)
	}
	return buf
}
