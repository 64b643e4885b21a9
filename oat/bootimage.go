package oat

// DexCache is an opaque, runtime-owned handle returned by Runtime's dex
// cache lookup and threaded back into ResolveMethod.
type DexCache interface{}

// Method is the runtime's live method record the boot-image bridge patches.
// SetCodeOffset is only called under the gating rule in Patch: non-static
// methods, constructors, or methods whose declaring class is already
// initialized. All other methods keep pointing at the runtime's resolution
// trampoline.
type Method interface {
	SetFrameSize(uint32)
	SetCoreSpillMask(uint32)
	SetFPSpillMask(uint32)
	SetMappingTableOffset(uint32)
	SetVmapTableOffset(uint32)
	SetGCMapOffset(uint32)
	SetInvokeStubOffset(uint32)
	SetCodeOffset(uint32)
	IsConstructor() bool
	IsDeclaringClassInitialized() bool
}

// Runtime is the live method registry a boot-image build back-patches.
// Callers must hold the runtime's mutator lock for the whole of NewWriter
// when a bridge is installed with WithBootImage; this is a precondition the
// writer does not and cannot enforce.
type Runtime interface {
	FindDexCache(dex DexFile) (DexCache, bool)
	ResolveMethod(dex DexFile, methodIdx int, cache DexCache, invokeType InvokeType) (Method, bool)
}

// BootImageBridge is the narrow callback the writer calls once per method
// when producing a boot image. Modeling it as a callback keeps the emitter
// pure with respect to the output stream: the non-image case is simply a
// no-op bridge.
type BootImageBridge interface {
	Patch(dex DexFile, classDefIdx, methodIdx int, ref MethodRef, mo OatMethodOffsets)
}

// NoopBootImageBridge is used whenever the writer is not producing a boot
// image.
type NoopBootImageBridge struct{}

func (NoopBootImageBridge) Patch(DexFile, int, int, MethodRef, OatMethodOffsets) {}

// RuntimeBootImageBridge patches a live Runtime's method registry.
type RuntimeBootImageBridge struct {
	Runtime Runtime
}

func (b RuntimeBootImageBridge) Patch(dex DexFile, classDefIdx, methodIdx int, ref MethodRef, mo OatMethodOffsets) {
	cache, ok := b.Runtime.FindDexCache(dex)
	if !ok {
		return
	}
	method, ok := b.Runtime.ResolveMethod(dex, methodIdx, cache, ref.InvokeType)
	if !ok {
		return
	}
	method.SetFrameSize(mo.FrameSize)
	method.SetCoreSpillMask(mo.CoreSpillMask)
	method.SetFPSpillMask(mo.FPSpillMask)
	method.SetMappingTableOffset(mo.MappingTableOffset)
	method.SetVmapTableOffset(mo.VmapTableOffset)
	method.SetGCMapOffset(mo.GCMapOffset)
	method.SetInvokeStubOffset(mo.InvokeStubOffset)

	if !ref.IsStatic() || method.IsConstructor() || method.IsDeclaringClassInitialized() {
		method.SetCodeOffset(mo.CodeOffset)
	}
}
