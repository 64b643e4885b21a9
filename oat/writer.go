package oat

import "fmt"

type writerState int

const (
	stateBuilt writerState = iota
	stateWriting
	stateDone
	stateFailed
)

// blobPlan is what the planning pass records about one optionally-shared
// artifact (a code blob, a mapping/vmap/gc-map table, or a stub). present is
// false for a zero-length table, which always records offset 0 and is never
// emitted. isNew is false when the artifact deduplicated against one already
// interned; in that case nothing is emitted for it during the writing pass.
type blobPlan struct {
	present      bool
	isNew        bool
	physOffset   uint32 // stream position the bytes physically live at
	storedOffset uint32 // value recorded into the OatMethodOffsets field
	sizePrefixed bool
	payload      []byte
}

// methodPlan captures everything the writing pass needs to replay for one
// method without recomputing any offset arithmetic.
type methodPlan struct {
	classDefIdx      int
	methodIdx        int
	ref              MethodRef
	alignedOffset    uint32
	code             blobPlan
	mapping          blobPlan
	vmap             blobPlan
	gcmap            blobPlan
	invokeStub       blobPlan
	invokeStubOffset uint32 // aligned disk offset the invoke stub is written at
	proxyStub        blobPlan
	proxyStubOffset  uint32 // aligned disk offset the proxy stub is written at
}

// classPlan is one flattened (dex, class-def) entry.
type classPlan struct {
	dexIdx      int
	classDefIdx int
	oatClass    *OatClass
	methods     []*methodPlan
}

// Writer plans and emits a single OAT file. Construct with NewWriter (which
// runs the offset-planning pass); call Write exactly once afterward.
type Writer struct {
	compiler          Compiler
	verifier          Verifier
	dexFiles          []DexFile
	imageLocation     string
	bridge            BootImageBridge
	proxyStubsEnabled bool

	header      OatHeader
	oatDexFiles []*OatDexFile
	classPlans  []*classPlan

	finalOffset   uint32
	executablePad uint32

	state writerState
}

// Option configures a Writer at construction time.
type Option func(*Writer)

// WithBootImage installs a bridge that back-patches a live runtime method
// registry as each method's offsets are planned. The caller must hold the
// runtime's mutator lock for the duration of NewWriter when this option is
// used; the writer does not and cannot enforce that.
func WithBootImage(bridge BootImageBridge) Option {
	return func(w *Writer) { w.bridge = bridge }
}

// WithProxyStubs enables the tagged optional proxy-stub field on every
// OatMethodOffsets record, widening the on-disk record.
func WithProxyStubs(enabled bool) Option {
	return func(w *Writer) { w.proxyStubsEnabled = enabled }
}

// WithImageAnchor records the checksum and begin-address of a previously
// produced image this OAT file is built against. Leave both zero for a
// non-image build.
func WithImageAnchor(checksum, begin uint32) Option {
	return func(w *Writer) {
		w.header.ImageFileLocationOatChecksum = checksum
		w.header.ImageFileLocationOatDataBegin = begin
	}
}

// NewWriter runs the full offset-planning pass (spec §4.F) over dexFiles and
// returns a Writer frozen in the Built state. Any construction-time
// inconsistency aborts with a *PlanError.
func NewWriter(compiler Compiler, verifier Verifier, dexFiles []DexFile, imageLocation string, opts ...Option) (*Writer, error) {
	w := &Writer{
		compiler:      compiler,
		verifier:      verifier,
		dexFiles:      dexFiles,
		imageLocation: imageLocation,
		bridge:        NoopBootImageBridge{},
	}
	for _, opt := range opts {
		opt(w)
	}

	var dexChecksum uint32
	for _, dex := range dexFiles {
		dexChecksum ^= dex.LocationChecksum()
	}
	w.header = newOatHeader(compiler.InstructionSet(), dexChecksum,
		w.header.ImageFileLocationOatChecksum, w.header.ImageFileLocationOatDataBegin, len(imageLocation))

	checksum := &runningChecksum{}

	// Phase 1: header.
	offset := headerSize + uint32(len(imageLocation))
	checksum.foldUint32(uint32(w.header.Magic[0]) | uint32(w.header.Magic[1])<<8 | uint32(w.header.Magic[2])<<16 | uint32(w.header.Magic[3])<<24)
	checksum.foldUint32(w.header.Version)
	checksum.foldUint32(uint32(w.header.InstructionSet))
	checksum.foldUint32(w.header.DexFileChecksum)
	checksum.foldUint32(w.header.ImageFileLocationOatChecksum)
	checksum.foldUint32(w.header.ImageFileLocationOatDataBegin)
	checksum.foldUint32(w.header.ImageFileLocationSize)
	checksum.fold([]byte(imageLocation))

	// Phases 2-4: per-dex OatDexFile, embedded-dex offset, OatClass placeholders.
	w.oatDexFiles = make([]*OatDexFile, len(dexFiles))
	for i, dex := range dexFiles {
		w.oatDexFiles[i] = newOatDexFile(dex)
		offset += w.oatDexFiles[i].SizeOf()
	}
	for i, dex := range dexFiles {
		offset = RoundUp(offset, DexAlignment)
		w.oatDexFiles[i].DexFileOffset = offset
		offset += dex.FileSize()
	}
	for dexIdx, dex := range dexFiles {
		n := dex.NumClassDefs()
		for c := 0; c < n; c++ {
			w.oatDexFiles[dexIdx].MethodsOffsets[c] = offset

			status, methods := w.planClassStatus(dex, dexIdx, c)

			oc := &OatClass{Status: status, Methods: make([]OatMethodOffsets, len(methods))}
			offset += oc.SizeOf(w.proxyStubsEnabled)

			w.classPlans = append(w.classPlans, &classPlan{
				dexIdx:      dexIdx,
				classDefIdx: c,
				oatClass:    oc,
				methods:     w.newMethodPlans(methods),
			})
		}
		// Fold this dex's now-complete OatDexFile record.
		checksum.fold(w.oatDexFiles[dexIdx].encode())
	}

	// Phase 5: executable gap.
	pad := RoundUp(offset, PageSize) - offset
	offset += pad
	w.header.ExecutableOffset = offset
	w.executablePad = pad

	// Phase 6: code phase.
	isa := compiler.InstructionSet()
	codeTable := newDedupTable()
	invokeStubTable := newDedupTable()
	proxyStubTable := newDedupTable()
	mappingTable := newDedupTable()
	vmapTable := newDedupTable()
	gcMapTable := newDedupTable()

	var totalClassDefs int
	for _, dex := range dexFiles {
		totalClassDefs += dex.NumClassDefs()
	}
	if len(w.classPlans) != totalClassDefs {
		return nil, &PlanError{Err: ErrClassDefMismatch}
	}

	for _, cp := range w.classPlans {
		dex := dexFiles[cp.dexIdx]
		for slot, mp := range cp.methods {
			compiled, hasCompiled := compiler.CompiledMethod(dex, mp.methodIdx)
			planErrCtx := func(err error) error {
				return &PlanError{Dex: dex.Location(), ClassDefIdx: cp.classDefIdx, MethodIdx: mp.methodIdx, Err: err}
			}

			offset = AlignCode(offset, isa)
			mp.alignedOffset = offset

			var mo OatMethodOffsets
			if hasCompiled {
				var err error
				offset, err = planCodeBlob(&mp.code, codeTable, checksum, offset, compiled.Code, compiled.CodeID, compiled.CodeDelta)
				if err != nil {
					return nil, planErrCtx(err)
				}
				mo.CodeOffset = mp.code.storedOffset
				mo.FrameSize = compiled.FrameSize
				mo.CoreSpillMask = compiled.CoreSpillMask
				mo.FPSpillMask = compiled.FPSpillMask

				offset, err = planTable32(&mp.mapping, mappingTable, checksum, offset, compiled.MappingTable, compiled.MappingTableID)
				if err != nil {
					return nil, planErrCtx(err)
				}
				mo.MappingTableOffset = mp.mapping.storedOffset

				offset, err = planTable16(&mp.vmap, vmapTable, checksum, offset, compiled.VMapTable, compiled.VMapTableID)
				if err != nil {
					return nil, planErrCtx(err)
				}
				mo.VmapTableOffset = mp.vmap.storedOffset

				offset, err = planTable8(&mp.gcmap, gcMapTable, checksum, offset, compiled.GCMap, compiled.GCMapID)
				if err != nil {
					return nil, planErrCtx(err)
				}
				mo.GCMapOffset = mp.gcmap.storedOffset
			}

			shorty := dex.MethodShorty(mp.ref.MethodIdx)
			if stub, ok := compiler.InvokeStub(mp.ref.IsStatic(), shorty); ok {
				offset = AlignCode(offset, isa)
				mp.invokeStubOffset = offset
				var err error
				offset, err = planCodeBlob(&mp.invokeStub, invokeStubTable, checksum, offset, stub.Code, stub.CodeID, stub.CodeDelta)
				if err != nil {
					return nil, planErrCtx(err)
				}
				mo.InvokeStubOffset = mp.invokeStub.storedOffset
			}

			if w.proxyStubsEnabled {
				if stub, ok := compiler.ProxyStub(shorty); ok {
					offset = AlignCode(offset, isa)
					mp.proxyStubOffset = offset
					var err error
					offset, err = planCodeBlob(&mp.proxyStub, proxyStubTable, checksum, offset, stub.Code, stub.CodeID, stub.CodeDelta)
					if err != nil {
						return nil, planErrCtx(err)
					}
					mo.ProxyStubOffset = mp.proxyStub.storedOffset
				}
			}

			cp.oatClass.Methods[slot] = mo
			w.bridge.Patch(dex, cp.classDefIdx, mp.ref.MethodIdx, mp.ref, mo)
		}
		checksum.fold(cp.oatClass.encode(w.proxyStubsEnabled))
	}

	w.finalOffset = offset
	w.header.Checksum = checksum.value()
	w.state = stateBuilt
	logger.Printf("planned %d dex file(s), %d class(es), final offset %d, executable offset %d",
		len(dexFiles), len(w.classPlans), w.finalOffset, w.header.ExecutableOffset)
	return w, nil
}

func (w *Writer) planClassStatus(dex DexFile, dexIdx, classDefIdx int) (ClassStatus, []MethodRef) {
	var methods []MethodRef
	if _, hasData := dex.ClassData(classDefIdx); hasData {
		direct, virtual := dex.Methods(classDefIdx)
		methods = make([]MethodRef, 0, len(direct)+len(virtual))
		methods = append(methods, direct...)
		methods = append(methods, virtual...)
	}

	if status, ok := w.compiler.CompiledClass(dex, classDefIdx); ok {
		return status, methods
	}
	if w.verifier != nil && w.verifier.IsClassRejected(dex, classDefIdx) {
		return StatusError, methods
	}
	return StatusNotReady, methods
}

func (w *Writer) newMethodPlans(methods []MethodRef) []*methodPlan {
	plans := make([]*methodPlan, len(methods))
	for i, m := range methods {
		plans[i] = &methodPlan{methodIdx: m.MethodIdx, ref: m}
	}
	return plans
}

// planCodeBlob plans a size-prefixed, code-delta-adjusted artifact (method
// code, an invoke stub, or a proxy stub) and returns the advanced offset.
func planCodeBlob(plan *blobPlan, table *dedupTable, checksum *runningChecksum, offset uint32, code []byte, id BlobID, delta uint32) (uint32, error) {
	if len(code) == 0 {
		*plan = blobPlan{present: false}
		return offset, nil
	}
	if id == 0 {
		return offset, ErrBlobIdentityZero
	}
	physOffset := offset
	tentative := physOffset + 4 + delta
	stored, isNew := table.Intern(id, tentative)
	*plan = blobPlan{
		present:      true,
		isNew:        isNew,
		physOffset:   physOffset,
		storedOffset: stored,
		sizePrefixed: true,
		payload:      code,
	}
	if isNew {
		checksum.foldUint32(uint32(len(code)))
		checksum.fold(code)
		offset += 4 + uint32(len(code))
	}
	return offset, nil
}

func planTable32(plan *blobPlan, table *dedupTable, checksum *runningChecksum, offset uint32, words []uint32, id BlobID) (uint32, error) {
	if len(words) == 0 {
		*plan = blobPlan{present: false}
		return offset, nil
	}
	payload := make([]byte, len(words)*4)
	for i, v := range words {
		payload[i*4] = byte(v)
		payload[i*4+1] = byte(v >> 8)
		payload[i*4+2] = byte(v >> 16)
		payload[i*4+3] = byte(v >> 24)
	}
	return planTableBlob(plan, table, checksum, offset, payload, id)
}

func planTable16(plan *blobPlan, table *dedupTable, checksum *runningChecksum, offset uint32, halves []uint16, id BlobID) (uint32, error) {
	if len(halves) == 0 {
		*plan = blobPlan{present: false}
		return offset, nil
	}
	payload := make([]byte, len(halves)*2)
	for i, v := range halves {
		payload[i*2] = byte(v)
		payload[i*2+1] = byte(v >> 8)
	}
	return planTableBlob(plan, table, checksum, offset, payload, id)
}

func planTable8(plan *blobPlan, table *dedupTable, checksum *runningChecksum, offset uint32, bytes []byte, id BlobID) (uint32, error) {
	if len(bytes) == 0 {
		*plan = blobPlan{present: false}
		return offset, nil
	}
	return planTableBlob(plan, table, checksum, offset, bytes, id)
}

// planTableBlob plans a non-size-prefixed, non-delta-adjusted table.
func planTableBlob(plan *blobPlan, table *dedupTable, checksum *runningChecksum, offset uint32, payload []byte, id BlobID) (uint32, error) {
	if id == 0 {
		return offset, ErrBlobIdentityZero
	}
	physOffset := offset
	stored, isNew := table.Intern(id, physOffset)
	*plan = blobPlan{
		present:      true,
		isNew:        isNew,
		physOffset:   physOffset,
		storedOffset: stored,
		sizePrefixed: false,
		payload:      payload,
	}
	if isNew {
		checksum.fold(payload)
		offset += uint32(len(payload))
	}
	return offset, nil
}

// FinalOffset returns the total planned length of the OAT file: the writing
// pass is expected to emit exactly this many bytes.
func (w *Writer) FinalOffset() uint32 { return w.finalOffset }

// Header returns the finalized header (checksum and executable offset both
// already computed).
func (w *Writer) Header() OatHeader { return w.header }

func (w *Writer) requireBuilt() error {
	switch w.state {
	case stateBuilt:
		return nil
	case stateWriting:
		return fmt.Errorf("oat: writer is currently writing")
	case stateDone:
		return ErrWriterAlreadyWrote
	default:
		return ErrWriterNotBuilt
	}
}
