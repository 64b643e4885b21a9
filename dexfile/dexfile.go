// Package dexfile parses real DEX bytecode containers into the narrow
// oat.DexFile view the OAT writer consumes. The binary layout it decodes
// (header, string/type/method/proto id tables, ULEB128-encoded
// class_data_item records) mirrors the format read by dexread in the
// example pack, adapted to expose oat.DexFile instead of a visitor
// callback.
package dexfile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/chazu/oatwriter/oat"
)

var dexMagic = [8]byte{0x64, 0x65, 0x78, 0x0a, 0x30, 0x33, 0x35, 0x00} // "dex\n035\0"

const (
	headerSize        = 112
	classDefItemSize  = 32
	methodIdItemSize  = 8
	protoIdItemSize   = 12
)

// Sentinel errors mirror the style of vm/image_reader.go's ErrInvalidMagic
// family: package-level vars a caller can match against with errors.Is.
var (
	ErrInvalidMagic    = errors.New("dexfile: bad magic")
	ErrTruncated       = errors.New("dexfile: truncated file")
	ErrCorruptClassDef = errors.New("dexfile: corrupt class_data_item")
)

type classDefItem struct {
	ClassIdx      uint32
	AccessFlags   uint32
	SuperclassIdx uint32
	InterfacesOff uint32
	SourceFileIdx uint32
	AnnotationsOff uint32
	ClassDataOff  uint32
	StaticValuesOff uint32
}

type methodIdItem struct {
	ClassIdx uint16
	ProtoIdx uint16
	NameIdx  uint32
}

type protoIdItem struct {
	ShortyIdx      uint32
	ReturnTypeIdx  uint32
	ParametersOff  uint32
}

// File is a concrete oat.DexFile backed by a parsed, in-memory DEX binary.
type File struct {
	location string
	raw      []byte

	checksum   uint32
	fileSize   uint32
	classDefs  []classDefItem
	methodIds  []methodIdItem
	protoIds   []protoIdItem
	stringIds  []uint32 // offsets into raw where each modified-UTF8 string begins
}

// Open parses the DEX binary in data, labeling it location for diagnostics
// and for the OatDexFile record written into the OAT file.
func Open(location string, data []byte) (*File, error) {
	if len(data) < headerSize {
		return nil, ErrTruncated
	}
	if !bytes.Equal(data[0:8], dexMagic[:]) {
		return nil, ErrInvalidMagic
	}

	f := &File{location: location, raw: data}

	f.checksum = binary.LittleEndian.Uint32(data[8:12])
	f.fileSize = binary.LittleEndian.Uint32(data[32:36])

	stringIdsSize := binary.LittleEndian.Uint32(data[56:60])
	stringIdsOff := binary.LittleEndian.Uint32(data[60:64])
	protoIdsSize := binary.LittleEndian.Uint32(data[72:76])
	protoIdsOff := binary.LittleEndian.Uint32(data[76:80])
	methodIdsSize := binary.LittleEndian.Uint32(data[88:92])
	methodIdsOff := binary.LittleEndian.Uint32(data[92:96])
	classDefsSize := binary.LittleEndian.Uint32(data[96:100])
	classDefsOff := binary.LittleEndian.Uint32(data[100:104])

	f.stringIds = make([]uint32, stringIdsSize)
	for i := uint32(0); i < stringIdsSize; i++ {
		off := stringIdsOff + i*4
		if int(off+4) > len(data) {
			return nil, ErrTruncated
		}
		f.stringIds[i] = binary.LittleEndian.Uint32(data[off : off+4])
	}

	f.protoIds = make([]protoIdItem, protoIdsSize)
	for i := uint32(0); i < protoIdsSize; i++ {
		off := protoIdsOff + i*protoIdItemSize
		if int(off+protoIdItemSize) > len(data) {
			return nil, ErrTruncated
		}
		f.protoIds[i] = protoIdItem{
			ShortyIdx:     binary.LittleEndian.Uint32(data[off : off+4]),
			ReturnTypeIdx: binary.LittleEndian.Uint32(data[off+4 : off+8]),
			ParametersOff: binary.LittleEndian.Uint32(data[off+8 : off+12]),
		}
	}

	f.methodIds = make([]methodIdItem, methodIdsSize)
	for i := uint32(0); i < methodIdsSize; i++ {
		off := methodIdsOff + i*methodIdItemSize
		if int(off+methodIdItemSize) > len(data) {
			return nil, ErrTruncated
		}
		f.methodIds[i] = methodIdItem{
			ClassIdx: binary.LittleEndian.Uint16(data[off : off+2]),
			ProtoIdx: binary.LittleEndian.Uint16(data[off+2 : off+4]),
			NameIdx:  binary.LittleEndian.Uint32(data[off+4 : off+8]),
		}
	}

	f.classDefs = make([]classDefItem, classDefsSize)
	for i := uint32(0); i < classDefsSize; i++ {
		off := classDefsOff + i*classDefItemSize
		if int(off+classDefItemSize) > len(data) {
			return nil, ErrTruncated
		}
		var cd classDefItem
		cd.ClassIdx = binary.LittleEndian.Uint32(data[off : off+4])
		cd.AccessFlags = binary.LittleEndian.Uint32(data[off+4 : off+8])
		cd.SuperclassIdx = binary.LittleEndian.Uint32(data[off+8 : off+12])
		cd.InterfacesOff = binary.LittleEndian.Uint32(data[off+12 : off+16])
		cd.SourceFileIdx = binary.LittleEndian.Uint32(data[off+16 : off+20])
		cd.AnnotationsOff = binary.LittleEndian.Uint32(data[off+20 : off+24])
		cd.ClassDataOff = binary.LittleEndian.Uint32(data[off+24 : off+28])
		cd.StaticValuesOff = binary.LittleEndian.Uint32(data[off+28 : off+32])
		f.classDefs[i] = cd
	}

	return f, nil
}

func (f *File) Location() string         { return f.location }
func (f *File) LocationChecksum() uint32 { return f.checksum }
func (f *File) FileSize() uint32         { return f.fileSize }
func (f *File) NumClassDefs() int        { return len(f.classDefs) }
func (f *File) Bytes() []byte            { return f.raw }

func (f *File) ClassData(classDefIdx int) ([]byte, bool) {
	cd := f.classDefs[classDefIdx]
	if cd.ClassDataOff == 0 {
		return nil, false
	}
	return f.raw[cd.ClassDataOff:], true
}

// Methods decodes a class_data_item's direct and virtual method lists. Both
// lists are delta-encoded against a method index that resets to zero at the
// start of each list, per the DEX class_data_item format.
func (f *File) Methods(classDefIdx int) (direct, virtual []oat.MethodRef) {
	data, ok := f.ClassData(classDefIdx)
	if !ok {
		return nil, nil
	}

	r := &uleb128Reader{data: data}
	numStaticFields := r.next()
	numInstanceFields := r.next()
	numDirectMethods := r.next()
	numVirtualMethods := r.next()

	for i := uint64(0); i < numStaticFields+numInstanceFields; i++ {
		r.next() // field_idx_diff
		r.next() // access_flags
	}

	direct = decodeMethodList(r, numDirectMethods, true)
	virtual = decodeMethodList(r, numVirtualMethods, false)
	return direct, virtual
}

func decodeMethodList(r *uleb128Reader, count uint64, isDirectList bool) []oat.MethodRef {
	if count == 0 {
		return nil
	}
	refs := make([]oat.MethodRef, 0, count)
	methodIdx := uint64(0)
	for i := uint64(0); i < count; i++ {
		methodIdx += r.next() // method_idx_diff
		accessFlags := uint32(r.next())
		r.next() // code_off, unused: code itself comes from the Compiler, not the DEX

		invokeType := oat.InvokeVirtual
		if accessFlags&oat.AccStatic != 0 {
			invokeType = oat.InvokeStatic
		} else if isDirectList {
			invokeType = oat.InvokeDirect
		}
		refs = append(refs, oat.MethodRef{
			MethodIdx:   int(methodIdx),
			AccessFlags: accessFlags,
			InvokeType:  invokeType,
		})
	}
	return refs
}

// MethodShorty returns the proto's shorty string for a method_id, decoded as
// modified UTF-8.
func (f *File) MethodShorty(methodIdx int) string {
	if methodIdx < 0 || methodIdx >= len(f.methodIds) {
		return ""
	}
	proto := f.protoIds[f.methodIds[methodIdx].ProtoIdx]
	return f.decodeModifiedUTF8(proto.ShortyIdx)
}

// decodeModifiedUTF8 reads a DEX string_data_item. It assumes the ASCII
// range (one byte per UTF-16 code unit); multi-byte modified-UTF8 sequences
// are copied through verbatim rather than decoded to runes, since shorty
// strings and class/method names in practice never leave ASCII.
func (f *File) decodeModifiedUTF8(stringIdx uint32) string {
	if int(stringIdx) >= len(f.stringIds) {
		return ""
	}
	off := f.stringIds[stringIdx]
	r := &uleb128Reader{data: f.raw[off:]}
	r.next() // utf16_size, not the byte length: the NUL terminator bounds the copy
	start := off + uint32(r.pos)

	var out []byte
	pos := start
	for int(pos) < len(f.raw) {
		b := f.raw[pos]
		if b == 0 {
			break
		}
		out = append(out, b)
		pos++
	}
	return string(out)
}

// uleb128Reader decodes consecutive ULEB128-encoded unsigned integers from a
// byte slice, the way dexread's ulebHelper wraps binary.Uvarint.
type uleb128Reader struct {
	data []byte
	pos  int
}

func (r *uleb128Reader) next() uint64 {
	v, n := binary.Uvarint(r.data[r.pos:])
	if n <= 0 {
		return 0
	}
	r.pos += n
	return v
}

func (f *File) String() string {
	return fmt.Sprintf("dexfile %s (%d class defs, %d bytes)", f.location, len(f.classDefs), f.fileSize)
}
